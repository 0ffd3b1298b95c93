package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/logger"
	"sadhana-metering/internal/repository/db"
	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/validation"

	"github.com/sirupsen/logrus"
)

// MaxTitleRunes is the length a first message is cut to when used as a title.
const MaxTitleRunes = 50

// ConversationService handles the business logic for conversation management
type ConversationService struct {
	db        db.ConversationStore
	validator *validation.ChatRequestValidator
}

// NewConversationService creates a new ConversationService
func NewConversationService(store db.ConversationStore) *ConversationService {
	return &ConversationService{
		db:        store,
		validator: validation.NewChatRequestValidator(),
	}
}

// Title derives a conversation title from its first message.
func Title(firstMessage string) string {
	title := strings.Join(strings.Fields(firstMessage), " ")
	runes := []rune(title)
	if len(runes) > MaxTitleRunes {
		return string(runes[:MaxTitleRunes]) + "..."
	}
	if title == "" {
		return "New conversation"
	}
	return title
}

// CreateConversation creates a conversation titled after firstMessage
func (s *ConversationService) CreateConversation(ctx context.Context, userID, firstMessage string) (*api.ConversationInfo, error) {
	conv, err := s.db.CreateConversation(ctx, userID, Title(firstMessage))
	if err != nil {
		return nil, apperr.Persistence("failed to create conversation", err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "conversation_id": conv.ID}).Info("Created conversation")
	info := toConversationInfo(*conv)
	return &info, nil
}

// GetUserConversations retrieves all conversations for a user, most recent first
func (s *ConversationService) GetUserConversations(ctx context.Context, userID string) ([]api.ConversationInfo, error) {
	conversations, err := s.db.GetConversationsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Persistence("failed to retrieve conversations", err)
	}

	result := make([]api.ConversationInfo, 0, len(conversations))
	for _, conv := range conversations {
		result = append(result, toConversationInfo(conv))
	}
	return result, nil
}

// GetLatestConversation returns the most recently updated conversation with
// its messages.
func (s *ConversationService) GetLatestConversation(ctx context.Context, userID string) (*api.ConversationWithMessages, error) {
	conv, err := s.db.GetLatestConversation(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("no conversations yet", err)
		}
		return nil, apperr.Persistence("failed to retrieve latest conversation", err)
	}

	messages, err := s.messages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return &api.ConversationWithMessages{
		Conversation: toConversationInfo(*conv),
		Messages:     messages,
	}, nil
}

// GetConversationMessages retrieves all messages from a specific conversation
func (s *ConversationService) GetConversationMessages(ctx context.Context, conversationID, userID string) ([]api.MessageData, error) {
	if _, err := s.owned(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.messages(ctx, conversationID)
}

// AddMessage appends an immutable message to a conversation the user owns
func (s *ConversationService) AddMessage(ctx context.Context, conversationID, userID string, req api.AddMessageRequest) (*api.MessageData, error) {
	if err := s.validator.ValidateAddMessage(req); err != nil {
		return nil, apperr.InvalidInput("validation failed", err)
	}
	if _, err := s.owned(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	msg, err := s.db.AddMessage(ctx, db.Message{
		ConversationID:   conversationID,
		UserID:           userID,
		Role:             req.Role,
		Content:          req.Content,
		SourceReferences: req.SourceReferences,
	})
	if err != nil {
		return nil, apperr.Persistence("failed to save message", err)
	}

	data := toMessageData(*msg)
	return &data, nil
}

// TouchConversation bumps updated_at so listings stay in recency order
func (s *ConversationService) TouchConversation(ctx context.Context, conversationID, userID string) error {
	if _, err := s.owned(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.db.TouchConversation(ctx, conversationID); err != nil {
		return apperr.Persistence("failed to touch conversation", err)
	}
	return nil
}

// DeleteConversation deletes a conversation if the user owns it
func (s *ConversationService) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if _, err := s.owned(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.db.DeleteConversation(ctx, conversationID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperr.NotFound("conversation not found", err)
		}
		return apperr.Persistence("failed to delete conversation", err)
	}
	return nil
}

// owned loads a conversation and verifies the user owns it
func (s *ConversationService) owned(ctx context.Context, conversationID, userID string) (*db.Conversation, error) {
	conv, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("conversation not found", err)
		}
		return nil, apperr.Persistence("failed to retrieve conversation", err)
	}
	if conv.UserID != userID {
		logger.Log.WithFields(logrus.Fields{"user_id": userID, "conversation_id": conversationID}).Warn("Conversation access denied")
		return nil, apperr.Forbidden("user does not own this conversation")
	}
	return conv, nil
}

func (s *ConversationService) messages(ctx context.Context, conversationID string) ([]api.MessageData, error) {
	messages, err := s.db.GetConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, apperr.Persistence("failed to retrieve messages", err)
	}

	result := make([]api.MessageData, 0, len(messages))
	for _, msg := range messages {
		result = append(result, toMessageData(msg))
	}
	return result, nil
}

func toConversationInfo(conv db.Conversation) api.ConversationInfo {
	return api.ConversationInfo{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: conv.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toMessageData(msg db.Message) api.MessageData {
	refs := msg.SourceReferences
	if refs == nil {
		refs = []string{}
	}
	return api.MessageData{
		ID:               msg.ID,
		ConversationID:   msg.ConversationID,
		Role:             msg.Role,
		Content:          msg.Content,
		SourceReferences: refs,
		CreatedAt:        msg.CreatedAt.UTC().Format(time.RFC3339),
	}
}
