// Package db declares the durable entities and the store interfaces the
// services depend on.
package db

import (
	"context"
	"errors"

	"sadhana-metering/pkg/metering"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type UserStore interface {
	CreateUser(ctx context.Context, username, email, password string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// SubscriptionStore reads subscription records. GetSubscription returns
// (nil, nil) when the user has none.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, userID string) (*metering.Subscription, error)
	UpsertSubscription(ctx context.Context, sub metering.Subscription) error
}

// UsageStore holds per-(user, feature, day bucket) counters. Missing rows
// read as zero.
type UsageStore interface {
	GetUsageCounts(ctx context.Context, userID, bucket string) (map[metering.Feature]int, error)
	GetUsageCount(ctx context.Context, userID string, feature metering.Feature, bucket string) (int, error)
	// SetUsageCount upserts count, last writer wins.
	SetUsageCount(ctx context.Context, userID string, feature metering.Feature, bucket string, count int) error
	// IncrementUsage atomically adds one and returns the new count.
	IncrementUsage(ctx context.Context, userID string, feature metering.Feature, bucket string) (int, error)
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, userID, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationsByUser(ctx context.Context, userID string) ([]Conversation, error)
	GetLatestConversation(ctx context.Context, userID string) (*Conversation, error)
	TouchConversation(ctx context.Context, id string) error
	DeleteConversation(ctx context.Context, id string) error

	AddMessage(ctx context.Context, msg Message) (*Message, error)
	GetConversationMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// Database is everything the API server persists.
type Database interface {
	UserStore
	SubscriptionStore
	UsageStore
	ConversationStore
	Close() error
}
