package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sadhana-metering/pkg/api"
)

type conversationAPI interface {
	CreateConversation(ctx context.Context, firstMessage string) (*api.ConversationInfo, error)
	LatestConversation(ctx context.Context) (*api.ConversationWithMessages, error)
	Messages(ctx context.Context, conversationID string) ([]api.MessageData, error)
	AddMessage(ctx context.Context, conversationID string, req api.AddMessageRequest) (*api.MessageData, error)
	TouchConversation(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// ConversationManager tracks the session's active conversation and an
// optional read-only historical view.
type ConversationManager struct {
	api conversationAPI

	mu       sync.Mutex
	activeID string
	viewing  string
}

func NewConversationManager(api conversationAPI) *ConversationManager {
	return &ConversationManager{api: api}
}

// Ensure returns the active conversation, creating one titled after
// firstMessage when the session has none yet.
func (m *ConversationManager) Ensure(ctx context.Context, firstMessage string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID != "" {
		return m.activeID, nil
	}
	conv, err := m.api.CreateConversation(ctx, firstMessage)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	m.activeID = conv.ID
	return conv.ID, nil
}

// SaveMessage appends an immutable message. Citations are stored as given;
// an empty list is stored as none.
func (m *ConversationManager) SaveMessage(ctx context.Context, conversationID string, role api.Role, text string, citations []string) error {
	refs := citations
	if refs == nil {
		refs = []string{}
	}
	_, err := m.api.AddMessage(ctx, conversationID, api.AddMessageRequest{
		Role:             role,
		Content:          text,
		SourceReferences: refs,
	})
	if err != nil {
		return fmt.Errorf("save %s message: %w", role, err)
	}
	return nil
}

func (m *ConversationManager) Touch(ctx context.Context, conversationID string) error {
	if err := m.api.TouchConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// LoadMostRecent makes the most recently updated conversation active and
// returns its messages. A user without conversations gets an empty
// transcript.
func (m *ConversationManager) LoadMostRecent(ctx context.Context) ([]Message, error) {
	latest, err := m.api.LatestConversation(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest conversation: %w", err)
	}
	if latest == nil {
		return nil, nil
	}

	m.mu.Lock()
	m.activeID = latest.Conversation.ID
	m.viewing = ""
	m.mu.Unlock()

	return toMessages(latest.Messages), nil
}

// Load opens a conversation read-only. The active conversation is kept.
func (m *ConversationManager) Load(ctx context.Context, conversationID string) ([]Message, error) {
	data, err := m.api.Messages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	m.mu.Lock()
	m.viewing = conversationID
	m.mu.Unlock()
	return toMessages(data), nil
}

// BackToLive leaves the historical view and returns the active
// conversation id, empty when a new one will be created on the next send.
func (m *ConversationManager) BackToLive() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewing = ""
	return m.activeID
}

// Viewing returns the conversation open read-only, if any.
func (m *ConversationManager) Viewing() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewing, m.viewing != ""
}

func (m *ConversationManager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// Clear deletes the active conversation and its messages.
func (m *ConversationManager) Clear(ctx context.Context) error {
	m.mu.Lock()
	id := m.activeID
	m.activeID = ""
	m.viewing = ""
	m.mu.Unlock()

	if id == "" {
		return nil
	}
	err := m.api.DeleteConversation(ctx, id)
	var notFound *notFoundError
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func toMessages(data []api.MessageData) []Message {
	messages := make([]Message, 0, len(data))
	for _, d := range data {
		messages = append(messages, messageFromData(d))
	}
	return messages
}
