package postgres

import (
	"context"
	"fmt"

	"sadhana-metering/internal/logger"
	"sadhana-metering/internal/repository/db"
	"sadhana-metering/pkg/api"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// CreateConversation creates a new conversation for a user
func (p *PostgresDB) CreateConversation(ctx context.Context, userID, title string) (*db.Conversation, error) {
	conv := db.Conversation{
		ID:     uuid.New().String(),
		UserID: userID,
		Title:  title,
	}

	query := `
	INSERT INTO conversations (id, user_id, title)
	VALUES ($1, $2, $3)
	RETURNING created_at, updated_at
	`

	err := p.conn.QueryRowContext(ctx, query, conv.ID, userID, title).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("error creating conversation: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"conversation_id": conv.ID, "user_id": userID}).Info("Created new conversation")
	return &conv, nil
}

// GetConversationsByUser lists a user's conversations, most recently updated first.
func (p *PostgresDB) GetConversationsByUser(ctx context.Context, userID string) ([]db.Conversation, error) {
	query := `
	SELECT id, user_id, title, created_at, updated_at
	FROM conversations
	WHERE user_id = $1
	ORDER BY updated_at DESC
	`

	rows, err := p.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []db.Conversation
	for rows.Next() {
		var conv db.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return conversations, nil
}

func (p *PostgresDB) GetConversation(ctx context.Context, id string) (*db.Conversation, error) {
	query := `
	SELECT id, user_id, title, created_at, updated_at
	FROM conversations
	WHERE id = $1
	`

	var conv db.Conversation
	err := p.conn.QueryRowContext(ctx, query, id).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "conversation")
	}
	return &conv, nil
}

// GetLatestConversation returns the user's most recently updated conversation.
func (p *PostgresDB) GetLatestConversation(ctx context.Context, userID string) (*db.Conversation, error) {
	query := `
	SELECT id, user_id, title, created_at, updated_at
	FROM conversations
	WHERE user_id = $1
	ORDER BY updated_at DESC
	LIMIT 1
	`

	var conv db.Conversation
	err := p.conn.QueryRowContext(ctx, query, userID).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "conversation")
	}
	return &conv, nil
}

func (p *PostgresDB) TouchConversation(ctx context.Context, id string) error {
	res, err := p.conn.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error updating conversation timestamp: %w", err)
	}
	return requireAffected(res, "conversation")
}

// DeleteConversation deletes a conversation; its messages go with it.
func (p *PostgresDB) DeleteConversation(ctx context.Context, id string) error {
	res, err := p.conn.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting conversation: %w", err)
	}
	if err := requireAffected(res, "conversation"); err != nil {
		return err
	}

	logger.Log.WithField("conversation_id", id).Info("Deleted conversation")
	return nil
}

// AddMessage appends msg to its conversation. ID and CreatedAt are assigned here.
func (p *PostgresDB) AddMessage(ctx context.Context, msg db.Message) (*db.Message, error) {
	msg.ID = uuid.New().String()
	if msg.SourceReferences == nil {
		msg.SourceReferences = []string{}
	}

	query := `
	INSERT INTO chat_messages (id, conversation_id, user_id, role, content, source_references)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING created_at
	`

	err := p.conn.QueryRowContext(ctx, query,
		msg.ID, msg.ConversationID, msg.UserID, msg.Role.String(), msg.Content, pq.Array(msg.SourceReferences),
	).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("error adding message: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id": msg.ConversationID,
		"role":            msg.Role.String(),
		"references":      len(msg.SourceReferences),
	}).Debug("Added message to conversation")
	return &msg, nil
}

// GetConversationMessages returns messages in append order.
func (p *PostgresDB) GetConversationMessages(ctx context.Context, conversationID string) ([]db.Message, error) {
	query := `
	SELECT id, conversation_id, user_id, role, content, source_references, created_at
	FROM chat_messages
	WHERE conversation_id = $1
	ORDER BY seq ASC
	`

	rows, err := p.conn.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var messages []db.Message
	for rows.Next() {
		var (
			msg  db.Message
			role string
			refs pq.StringArray
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &role, &msg.Content, &refs, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		if msg.Role, err = api.ParseRole(role); err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		msg.SourceReferences = []string(refs)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}
