package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sadhana-metering/pkg/metering"
)

// GetSubscription returns the stored record, or nil when the user has none.
// Unknown plan or status values are passed through for the resolver to
// downgrade.
func (p *PostgresDB) GetSubscription(ctx context.Context, userID string) (*metering.Subscription, error) {
	query := `
	SELECT plan, status, trial_ends_at, current_period_end
	FROM subscriptions
	WHERE user_id = $1
	`

	var (
		plan, status     string
		trialEnd, period sql.NullTime
	)
	err := p.conn.QueryRowContext(ctx, query, userID).Scan(&plan, &status, &trialEnd, &period)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving subscription: %w", err)
	}

	sub := &metering.Subscription{
		UserID: userID,
		Plan:   metering.Plan(plan),
		Status: metering.Status(status),
	}
	if trialEnd.Valid {
		sub.TrialEndsAt = &trialEnd.Time
	}
	if period.Valid {
		sub.CurrentPeriodEnd = &period.Time
	}
	return sub, nil
}

func (p *PostgresDB) UpsertSubscription(ctx context.Context, sub metering.Subscription) error {
	query := `
	INSERT INTO subscriptions (user_id, plan, status, trial_ends_at, current_period_end)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (user_id) DO UPDATE SET
		plan = EXCLUDED.plan,
		status = EXCLUDED.status,
		trial_ends_at = EXCLUDED.trial_ends_at,
		current_period_end = EXCLUDED.current_period_end,
		updated_at = NOW()
	`

	_, err := p.conn.ExecContext(ctx, query, sub.UserID, string(sub.Plan), string(sub.Status), sub.TrialEndsAt, sub.CurrentPeriodEnd)
	if err != nil {
		return fmt.Errorf("error saving subscription: %w", err)
	}
	return nil
}
