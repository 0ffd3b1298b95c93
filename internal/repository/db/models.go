package db

import (
	"time"

	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/metering"

	"golang.org/x/crypto/bcrypt"
)

// User represents a user in the database
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// VerifyPassword checks if the provided password matches the user's hashed password
func (u *User) VerifyPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// UsageCounter is one row of usage_logs.
type UsageCounter struct {
	UserID     string
	Feature    metering.Feature
	DateBucket string
	Count      int
	UpdatedAt  time.Time
}

// Conversation represents a conversation in the database
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is an immutable chat message.
type Message struct {
	ID               string
	ConversationID   string
	UserID           string
	Role             api.Role
	Content          string
	SourceReferences []string
	CreatedAt        time.Time
}
