package client

import (
	"context"
	"sync"

	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/metering"

	"github.com/sirupsen/logrus"
)

type usageAPI interface {
	SetUsage(ctx context.Context, feature metering.Feature, count int) error
}

// UsageTracker is the client's advisory copy of today's counters. It drives
// the UI and the pre-send check; the server gate is the only enforcement.
type UsageTracker struct {
	api usageAPI
	log logrus.FieldLogger

	mu            sync.Mutex
	authenticated bool
	entitlement   metering.Entitlement
	dateBucket    string
	counts        map[metering.Feature]int
}

func NewUsageTracker(api usageAPI, log logrus.FieldLogger) *UsageTracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &UsageTracker{
		api:         api,
		log:         log,
		entitlement: metering.Anonymous(),
		counts:      make(map[metering.Feature]int),
	}
}

// Seed replaces the cache with a server snapshot and marks the user as
// authenticated.
func (t *UsageTracker) Seed(snapshot *api.UsageResponse) {
	limits := make(metering.Limits, len(snapshot.Features))
	counts := make(map[metering.Feature]int, len(snapshot.Features))
	for f, q := range snapshot.Features {
		limits[f] = q.Limit
		counts[f] = q.Used
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.authenticated = true
	t.entitlement = metering.Entitlement{Plan: snapshot.Plan, Status: snapshot.Status, Limits: limits}
	t.dateBucket = snapshot.DateBucket
	t.counts = counts
}

// Reset forgets the user; every feature becomes unusable.
func (t *UsageTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.authenticated = false
	t.entitlement = metering.Anonymous()
	t.dateBucket = ""
	t.counts = make(map[metering.Feature]int)
}

// Increment bumps the cached count and writes the new value to the server.
// A failed write restores the previous value unless another increment has
// changed the count since. Errors are logged, never returned.
func (t *UsageTracker) Increment(ctx context.Context, feature metering.Feature) {
	t.mu.Lock()
	if !t.authenticated {
		t.mu.Unlock()
		return
	}
	var next int
	op := Optimistic[int]{
		Snapshot: func() int { return t.counts[feature] },
		Apply: func() {
			next = t.counts[feature] + 1
			t.counts[feature] = next
		},
		// The write runs without the lock held.
		Persist: func(ctx context.Context) error {
			t.mu.Unlock()
			defer t.mu.Lock()
			return t.api.SetUsage(ctx, feature, next)
		},
		// Only undo our own write; a later increment may have moved on.
		Restore: func(before int) {
			if t.counts[feature] == next {
				t.counts[feature] = before
			}
		},
	}
	err := op.Run(ctx)
	t.mu.Unlock()

	if err != nil {
		t.log.WithError(err).WithFields(logrus.Fields{
			"feature": feature,
			"count":   next,
		}).Warn("Failed to persist usage, rolled back")
	}
}

func (t *UsageTracker) Quota(feature metering.Feature) metering.Quota {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entitlement.Quota(feature, t.counts[feature])
}

func (t *UsageTracker) Used(feature metering.Feature) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[feature]
}

// Remaining is -1 for unlimited features.
func (t *UsageTracker) Remaining(feature metering.Feature) int {
	return t.Quota(feature).Remaining
}

func (t *UsageTracker) CanUse(feature metering.Feature) bool {
	return t.Quota(feature).CanUse
}

func (t *UsageTracker) ShouldWarn(feature metering.Feature) bool {
	return t.Quota(feature).Warn
}

// Entitlement returns the plan from the last seed.
func (t *UsageTracker) Entitlement() metering.Entitlement {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entitlement
}

// blocked builds the error for a send the cache already knows will fail.
func (t *UsageTracker) blocked(feature metering.Feature) *QuotaExceededError {
	q := t.Quota(feature)
	if q.CanUse {
		return nil
	}
	return &QuotaExceededError{
		Feature:      feature,
		PlanRequired: !q.Limit.Unlimited && q.Limit.Max == 0,
		Message:      "blocked by local usage check",
	}
}
