package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"sadhana-metering/pkg/metering"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return New(conn), mock
}

func TestGetUsageCounts_FillsMissingFeatures(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM usage_logs")).
		WithArgs("u1", "2026-03-11").
		WillReturnRows(sqlmock.NewRows([]string{"feature", "count"}).
			AddRow("chat", 2).
			AddRow("horoscope", 9))

	counts, err := p.GetUsageCounts(context.Background(), "u1", "2026-03-11")
	require.NoError(t, err)
	assert.Equal(t, map[metering.Feature]int{metering.FeatureChat: 2, metering.FeatureIdentify: 0}, counts)
}

func TestGetUsageCount_MissingRowIsZero(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count")).
		WithArgs("u1", "identify", "2026-03-11").
		WillReturnRows(sqlmock.NewRows([]string{"count"}))

	count, err := p.GetUsageCount(context.Background(), "u1", metering.FeatureIdentify, "2026-03-11")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetUsageCount_QueryError(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count")).WillReturnError(errors.New("connection reset"))

	_, err := p.GetUsageCount(context.Background(), "u1", metering.FeatureChat, "2026-03-11")
	assert.ErrorContains(t, err, "connection reset")
}

func TestSetUsageCount_Upserts(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DO UPDATE SET count = EXCLUDED.count")).
		WithArgs("u1", "chat", "2026-03-11", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.SetUsageCount(context.Background(), "u1", metering.FeatureChat, "2026-03-11", 3))
}

func TestSetUsageCount_RejectsNegative(t *testing.T) {
	p, _ := newMock(t)
	assert.Error(t, p.SetUsageCount(context.Background(), "u1", metering.FeatureChat, "2026-03-11", -1))
}

func TestIncrementUsage_ReturnsNewCount(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("count = usage_logs.count + 1")).
		WithArgs("u1", "chat", "2026-03-11").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := p.IncrementUsage(context.Background(), "u1", metering.FeatureChat, "2026-03-11")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
