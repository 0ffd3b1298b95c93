package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/repository/db"
	"sadhana-metering/internal/testutil"
	"sadhana-metering/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2026, 3, 14, 4, 30, 0, 0, time.UTC)

func ownedBy(userID string) func(string) (*db.Conversation, error) {
	return func(id string) (*db.Conversation, error) {
		if id == "missing" {
			return nil, fmt.Errorf("conversation: %w", db.ErrNotFound)
		}
		return &db.Conversation{ID: id, UserID: userID, Title: "Test", CreatedAt: created, UpdatedAt: created}, nil
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short", "What is dharma?", "What is dharma?"},
		{"whitespace collapsed", "  What\n is   karma? ", "What is karma?"},
		{"exactly fifty", strings.Repeat("a", 50), strings.Repeat("a", 50)},
		{"truncated", strings.Repeat("b", 51), strings.Repeat("b", 50) + "..."},
		{"multibyte", strings.Repeat("ॐ", 60), strings.Repeat("ॐ", 50) + "..."},
		{"empty", "   ", "New conversation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.input))
		})
	}
}

func TestCreateConversation(t *testing.T) {
	var gotTitle string
	mockDB := &testutil.MockDatabase{
		CreateConversationFunc: func(userID, title string) (*db.Conversation, error) {
			gotTitle = title
			return &db.Conversation{ID: "conv-1", UserID: userID, Title: title, CreatedAt: created, UpdatedAt: created}, nil
		},
	}
	service := NewConversationService(mockDB)

	info, err := service.CreateConversation(context.Background(), "user-1", strings.Repeat("x", 80))
	require.NoError(t, err)
	assert.Equal(t, "conv-1", info.ID)
	assert.Equal(t, strings.Repeat("x", 50)+"...", gotTitle)
	assert.Equal(t, "2026-03-14T04:30:00Z", info.CreatedAt)
}

func TestCreateConversation_StoreFailure(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		CreateConversationFunc: func(string, string) (*db.Conversation, error) {
			return nil, errors.New("connection reset")
		},
	}
	_, err := NewConversationService(mockDB).CreateConversation(context.Background(), "user-1", "hi")
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
}

func TestGetConversationMessages_Ownership(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		GetConversationFunc: ownedBy("user-1"),
		GetConversationMessagesFunc: func(conversationID string) ([]db.Message, error) {
			return []db.Message{
				{ID: "m1", ConversationID: conversationID, Role: api.RoleUser, Content: "Q", CreatedAt: created},
				{ID: "m2", ConversationID: conversationID, Role: api.RoleAssistant, Content: "A", SourceReferences: []string{"Gita 2.47"}, CreatedAt: created},
			}, nil
		},
	}
	service := NewConversationService(mockDB)
	ctx := context.Background()

	first, err := service.GetConversationMessages(ctx, "conv-1", "user-1")
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, []string{}, first[0].SourceReferences)
	assert.Equal(t, []string{"Gita 2.47"}, first[1].SourceReferences)

	second, err := service.GetConversationMessages(ctx, "conv-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = service.GetConversationMessages(ctx, "conv-1", "user-2")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = service.GetConversationMessages(ctx, "missing", "user-1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGetLatestConversation(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		GetLatestConversationFunc: func(userID string) (*db.Conversation, error) {
			if userID == "new-user" {
				return nil, fmt.Errorf("conversation: %w", db.ErrNotFound)
			}
			return &db.Conversation{ID: "conv-9", UserID: userID, Title: "Latest", CreatedAt: created, UpdatedAt: created}, nil
		},
		GetConversationMessagesFunc: func(string) ([]db.Message, error) {
			return []db.Message{{ID: "m1", Role: api.RoleUser, Content: "Q", CreatedAt: created}}, nil
		},
	}
	service := NewConversationService(mockDB)

	latest, err := service.GetLatestConversation(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-9", latest.Conversation.ID)
	assert.Len(t, latest.Messages, 1)

	_, err = service.GetLatestConversation(context.Background(), "new-user")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAddMessage(t *testing.T) {
	var stored db.Message
	mockDB := &testutil.MockDatabase{
		GetConversationFunc: ownedBy("user-1"),
		AddMessageFunc: func(msg db.Message) (*db.Message, error) {
			stored = msg
			msg.ID = "m-new"
			msg.CreatedAt = created
			return &msg, nil
		},
	}
	service := NewConversationService(mockDB)
	ctx := context.Background()

	data, err := service.AddMessage(ctx, "conv-1", "user-1", api.AddMessageRequest{
		Role:             api.RoleAssistant,
		Content:          "Act without attachment.",
		SourceReferences: []string{"Gita 2.47"},
	})
	require.NoError(t, err)
	assert.Equal(t, "m-new", data.ID)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, "conv-1", stored.ConversationID)
	assert.Equal(t, []string{"Gita 2.47"}, stored.SourceReferences)

	_, err = service.AddMessage(ctx, "conv-1", "user-1", api.AddMessageRequest{Role: api.RoleUser})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, err = service.AddMessage(ctx, "conv-1", "user-2", api.AddMessageRequest{Role: api.RoleUser, Content: "hi"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestTouchAndDeleteConversation(t *testing.T) {
	var touched, deleted []string
	mockDB := &testutil.MockDatabase{
		GetConversationFunc: ownedBy("user-1"),
		TouchConversationFunc: func(id string) error {
			touched = append(touched, id)
			return nil
		},
		DeleteConversationFunc: func(id string) error {
			deleted = append(deleted, id)
			return nil
		},
	}
	service := NewConversationService(mockDB)
	ctx := context.Background()

	require.NoError(t, service.TouchConversation(ctx, "conv-1", "user-1"))
	require.NoError(t, service.DeleteConversation(ctx, "conv-1", "user-1"))
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(service.DeleteConversation(ctx, "conv-1", "user-2")))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(service.TouchConversation(ctx, "missing", "user-1")))

	assert.Equal(t, []string{"conv-1"}, touched)
	assert.Equal(t, []string{"conv-1"}, deleted)
}
