package api

import "sadhana-metering/pkg/metering"

// Turn is one prior message sent to the model.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []Turn `json:"messages"`
	System   string `json:"system,omitempty"`
}

// IdentifyRequest is the body of POST /api/identify.
type IdentifyRequest struct {
	Image    string `json:"image"`
	MimeType string `json:"mime_type"`
}

// IdentifyResult is the fixed response schema of POST /api/identify.
type IdentifyResult struct {
	Name              string   `json:"name"`
	Type              string   `json:"type"`
	Confidence        float64  `json:"confidence"`
	Description       string   `json:"description"`
	Significance      string   `json:"significance"`
	Attributes        []string `json:"attributes"`
	AssociatedWith    []string `json:"associated_with"`
	Mantras           []string `json:"mantras"`
	BestTimeToWorship string   `json:"best_time_to_worship"`
	InterestingFact   string   `json:"interesting_fact"`
	Location          string   `json:"location"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// UsageResponse is today's metering snapshot for the caller.
type UsageResponse struct {
	Plan       metering.Plan                       `json:"plan"`
	Status     metering.Status                     `json:"status"`
	DateBucket string                              `json:"date_bucket"`
	Timezone   string                              `json:"timezone"`
	Features   map[metering.Feature]metering.Quota `json:"features"`
}

// SetUsageRequest is the body of PUT /api/usage/{feature}.
type SetUsageRequest struct {
	Count int `json:"count"`
}

type CreateConversationRequest struct {
	FirstMessage string `json:"first_message"`
}

type ConversationInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type ConversationsResponse struct {
	Conversations []ConversationInfo `json:"conversations"`
}

type AddMessageRequest struct {
	Role             Role     `json:"role"`
	Content          string   `json:"content"`
	SourceReferences []string `json:"source_references"`
}

type MessageData struct {
	ID               string   `json:"id"`
	ConversationID   string   `json:"conversation_id"`
	Role             Role     `json:"role"`
	Content          string   `json:"content"`
	SourceReferences []string `json:"source_references"`
	CreatedAt        string   `json:"created_at"`
}

type MessagesResponse struct {
	Messages []MessageData `json:"messages"`
}

// ConversationWithMessages is returned by GET /api/conversations/latest.
type ConversationWithMessages struct {
	Conversation ConversationInfo `json:"conversation"`
	Messages     []MessageData    `json:"messages"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
