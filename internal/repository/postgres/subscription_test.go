package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"sadhana-metering/pkg/metering"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSubscription(t *testing.T) {
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	t.Run("absent", func(t *testing.T) {
		p, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"plan", "status", "trial_ends_at", "current_period_end"}))

		sub, err := p.GetSubscription(context.Background(), "u1")
		require.NoError(t, err)
		assert.Nil(t, sub)
	})

	t.Run("present", func(t *testing.T) {
		p, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"plan", "status", "trial_ends_at", "current_period_end"}).
				AddRow("pro", "active", nil, periodEnd))

		sub, err := p.GetSubscription(context.Background(), "u1")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, metering.PlanPro, sub.Plan)
		assert.Equal(t, metering.StatusActive, sub.Status)
		assert.Nil(t, sub.TrialEndsAt)
		require.NotNil(t, sub.CurrentPeriodEnd)
		assert.True(t, periodEnd.Equal(*sub.CurrentPeriodEnd))
	})
}

func TestUpsertSubscription(t *testing.T) {
	p, mock := newMock(t)
	trialEnd := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id) DO UPDATE")).
		WithArgs("u1", "basic", "trialing", trialEnd, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.UpsertSubscription(context.Background(), metering.Subscription{
		UserID:      "u1",
		Plan:        metering.PlanBasic,
		Status:      metering.StatusTrialing,
		TrialEndsAt: &trialEnd,
	})
	require.NoError(t, err)
}
