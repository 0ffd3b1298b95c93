package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sadhana-metering/internal/logger"
	"sadhana-metering/pkg/metering"

	"github.com/sirupsen/logrus"
)

// GetUsageCounts returns every feature's count for one day bucket.
// Features without a row are reported as zero.
func (p *PostgresDB) GetUsageCounts(ctx context.Context, userID, bucket string) (map[metering.Feature]int, error) {
	query := `
	SELECT feature, count
	FROM usage_logs
	WHERE user_id = $1 AND date_bucket = $2
	`

	rows, err := p.conn.QueryContext(ctx, query, userID, bucket)
	if err != nil {
		return nil, fmt.Errorf("error querying usage: %w", err)
	}
	defer rows.Close()

	counts := make(map[metering.Feature]int, len(metering.Features))
	for _, f := range metering.Features {
		counts[f] = 0
	}
	for rows.Next() {
		var (
			feature string
			count   int
		)
		if err := rows.Scan(&feature, &count); err != nil {
			return nil, fmt.Errorf("error scanning usage: %w", err)
		}
		f, err := metering.ParseFeature(feature)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{"user_id": userID, "feature": feature}).Warn("Skipping usage row with unknown feature")
			continue
		}
		counts[f] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage: %w", err)
	}
	return counts, nil
}

func (p *PostgresDB) GetUsageCount(ctx context.Context, userID string, feature metering.Feature, bucket string) (int, error) {
	query := `
	SELECT count
	FROM usage_logs
	WHERE user_id = $1 AND feature = $2 AND date_bucket = $3
	`

	var count int
	err := p.conn.QueryRowContext(ctx, query, userID, string(feature), bucket).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error retrieving usage: %w", err)
	}
	return count, nil
}

// SetUsageCount overwrites the counter, creating it on first use.
func (p *PostgresDB) SetUsageCount(ctx context.Context, userID string, feature metering.Feature, bucket string, count int) error {
	if count < 0 {
		return fmt.Errorf("usage count must not be negative, got %d", count)
	}

	query := `
	INSERT INTO usage_logs (user_id, feature, date_bucket, count, updated_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (user_id, feature, date_bucket)
	DO UPDATE SET count = EXCLUDED.count, updated_at = NOW()
	`

	if _, err := p.conn.ExecContext(ctx, query, userID, string(feature), bucket, count); err != nil {
		return fmt.Errorf("error saving usage: %w", err)
	}
	return nil
}

// IncrementUsage adds one in a single statement so concurrent commits
// never lose an update.
func (p *PostgresDB) IncrementUsage(ctx context.Context, userID string, feature metering.Feature, bucket string) (int, error) {
	query := `
	INSERT INTO usage_logs (user_id, feature, date_bucket, count, updated_at)
	VALUES ($1, $2, $3, 1, NOW())
	ON CONFLICT (user_id, feature, date_bucket)
	DO UPDATE SET count = usage_logs.count + 1, updated_at = NOW()
	RETURNING count
	`

	var count int
	if err := p.conn.QueryRowContext(ctx, query, userID, string(feature), bucket).Scan(&count); err != nil {
		return 0, fmt.Errorf("error incrementing usage: %w", err)
	}
	return count, nil
}
