package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"sadhana-metering/internal/repository/db"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser_HashesPassword(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(sqlmock.AnyArg(), "arjuna", "a@example.org", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	user, err := p.CreateUser(context.Background(), "arjuna", "a@example.org", "secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", user.PasswordHash)
	assert.True(t, user.VerifyPassword("secret1"))
	assert.False(t, user.VerifyPassword("wrong"))
}

func TestCreateUser_Duplicate(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := p.CreateUser(context.Background(), "arjuna", "", "secret1")
	assert.ErrorIs(t, err, db.ErrConflict)
}

func TestGetUserByUsername_NotFound(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username")).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "created_at"}))

	_, err := p.GetUserByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, db.ErrNotFound)
}
