package quota

import (
	"context"
	"fmt"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/logger"
	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/metering"

	"github.com/sirupsen/logrus"
)

// Snapshot reports today's quota for every feature.
func (g *Gate) Snapshot(ctx context.Context, userID string) (*api.UsageResponse, error) {
	if userID == "" {
		return nil, apperr.Authentication("authentication required")
	}

	ent, err := g.Entitlement(ctx, userID)
	if err != nil {
		return nil, err
	}

	bucket := g.calendar.Today()
	counts, err := g.usage.GetUsageCounts(ctx, userID, bucket)
	if err != nil {
		return nil, apperr.Persistence("failed to read usage", err)
	}

	resp := &api.UsageResponse{
		Plan:       ent.Plan,
		Status:     ent.Status,
		DateBucket: bucket,
		Timezone:   g.calendar.Location().String(),
		Features:   make(map[metering.Feature]metering.Quota, len(metering.Features)),
	}
	for _, f := range metering.Features {
		resp.Features[f] = ent.Quota(f, counts[f])
	}
	return resp, nil
}

// SetUsage stores a client-computed counter for today, last writer wins.
// Counters never move backwards through this path, so a client cannot
// grant itself quota.
func (g *Gate) SetUsage(ctx context.Context, userID string, feature metering.Feature, count int) (*metering.Quota, error) {
	if userID == "" {
		return nil, apperr.Authentication("authentication required")
	}
	if count < 0 {
		return nil, apperr.InvalidInput(fmt.Sprintf("count must not be negative, got %d", count), nil)
	}

	bucket := g.calendar.Today()
	current, err := g.usage.GetUsageCount(ctx, userID, feature, bucket)
	if err != nil {
		return nil, apperr.Persistence("failed to read usage", err)
	}
	if count < current {
		return nil, apperr.InvalidInput(fmt.Sprintf("count %d is below the recorded %d", count, current), nil)
	}

	if count > current {
		if err := g.usage.SetUsageCount(ctx, userID, feature, bucket, count); err != nil {
			return nil, apperr.Persistence("failed to save usage", err)
		}
	}
	logger.Log.WithFields(logrus.Fields{
		"user_id": userID,
		"feature": feature,
		"bucket":  bucket,
		"count":   count,
	}).Debug("Client usage stored")

	ent, err := g.Entitlement(ctx, userID)
	if err != nil {
		return nil, err
	}
	q := ent.Quota(feature, count)
	return &q, nil
}
