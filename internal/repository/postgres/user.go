package postgres

import (
	"context"
	"errors"
	"fmt"

	"sadhana-metering/internal/logger"
	"sadhana-metering/internal/repository/db"
	"sadhana-metering/pkg/metering"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const uniqueViolation = "23505"

// CreateUser creates a new user with a bcrypt-hashed password.
func (p *PostgresDB) CreateUser(ctx context.Context, username, email, password string) (*db.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := db.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
	}

	query := `
	INSERT INTO users (id, username, email, password_hash)
	VALUES ($1, $2, $3, $4)
	RETURNING created_at
	`

	err = p.conn.QueryRowContext(ctx, query, user.ID, username, email, user.PasswordHash).Scan(&user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("username %q: %w", username, db.ErrConflict)
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"username": username, "user_id": user.ID}).Info("Created new user")
	return &user, nil
}

func (p *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*db.User, error) {
	var user db.User
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE username = $1`

	err := p.conn.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

// SeedDemoUser creates the demo user on a basic trial if it does not exist.
func SeedDemoUser(ctx context.Context, store interface {
	db.UserStore
	db.SubscriptionStore
}) error {
	if _, err := store.GetUserByUsername(ctx, "demo"); err == nil {
		logger.Log.Info("Demo user already exists, skipping seed")
		return nil
	}

	user, err := store.CreateUser(ctx, "demo", "demo@example.com", "demo123")
	if errors.Is(err, db.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error seeding demo user: %w", err)
	}

	err = store.UpsertSubscription(ctx, metering.Subscription{
		UserID: user.ID,
		Plan:   metering.PlanBasic,
		Status: metering.StatusActive,
	})
	if err != nil {
		return fmt.Errorf("error seeding demo subscription: %w", err)
	}

	logger.Log.Info("Demo user seeded successfully")
	return nil
}
