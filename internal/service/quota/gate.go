// Package quota is the server-side authority on metered usage. Every
// metered request is admitted here against durable state and committed
// here only after the expensive work succeeded.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/logger"
	"sadhana-metering/internal/metrics"
	"sadhana-metering/internal/repository/db"
	"sadhana-metering/pkg/metering"

	"github.com/sirupsen/logrus"
)

const commitTimeout = 5 * time.Second

// Gate admits and commits metered operations.
type Gate struct {
	subs     db.SubscriptionStore
	usage    db.UsageStore
	plans    metering.PlanTable
	calendar *metering.Calendar
}

func NewGate(subs db.SubscriptionStore, usage db.UsageStore, plans metering.PlanTable, calendar *metering.Calendar) *Gate {
	return &Gate{subs: subs, usage: usage, plans: plans, calendar: calendar}
}

// Admission is a permit for one metered operation. It records the count
// observed at admission so the commit is tied to the same day bucket even
// if the request straddles midnight.
type Admission struct {
	UserID      string
	Feature     metering.Feature
	Bucket      string
	Entitlement metering.Entitlement
	Before      metering.Quota

	once sync.Once
}

// Entitlement resolves the caller's effective plan from the stored
// subscription. Client-declared plans are never consulted.
func (g *Gate) Entitlement(ctx context.Context, userID string) (metering.Entitlement, error) {
	if userID == "" {
		return metering.Anonymous(), nil
	}
	sub, err := g.subs.GetSubscription(ctx, userID)
	if err != nil {
		return metering.Entitlement{}, apperr.Persistence("failed to load subscription", err)
	}
	return metering.Resolve(sub, g.calendar.Now(), g.plans), nil
}

// Admit checks today's counter against the plan limit. It returns an
// Authentication, PlanRequired or QuotaExceeded error before any expensive
// work starts.
func (g *Gate) Admit(ctx context.Context, userID string, feature metering.Feature) (*Admission, error) {
	if userID == "" {
		return nil, apperr.Authentication("authentication required")
	}

	ent, err := g.Entitlement(ctx, userID)
	if err != nil {
		metrics.RecordQuotaDecision(feature.String(), metrics.OutcomeError)
		return nil, err
	}

	bucket := g.calendar.Today()
	used, err := g.usage.GetUsageCount(ctx, userID, feature, bucket)
	if err != nil {
		metrics.RecordQuotaDecision(feature.String(), metrics.OutcomeError)
		return nil, apperr.Persistence("failed to read usage", err)
	}

	q := ent.Quota(feature, used)
	fields := logrus.Fields{
		"user_id": userID,
		"feature": feature,
		"bucket":  bucket,
		"plan":    ent.Plan,
		"count":   used,
	}

	if !q.CanUse {
		if limit := ent.Limit(feature); !limit.Unlimited && limit.Max == 0 {
			metrics.RecordQuotaDecision(feature.String(), metrics.OutcomePlanRequired)
			logger.Log.WithFields(fields).Info("Feature not included in plan")
			return nil, apperr.PlanRequired(fmt.Sprintf("%s is not included in the %s plan", feature, ent.Plan))
		}
		metrics.RecordQuotaDecision(feature.String(), metrics.OutcomeExceeded)
		logger.Log.WithFields(fields).Info("Daily quota exceeded")
		return nil, apperr.QuotaExceeded(fmt.Sprintf("daily %s limit of %d reached", feature, q.Limit.Max))
	}

	metrics.RecordQuotaDecision(feature.String(), metrics.OutcomeAdmitted)
	logger.Log.WithFields(fields).Debug("Metered request admitted")

	return &Admission{
		UserID:      userID,
		Feature:     feature,
		Bucket:      bucket,
		Entitlement: ent,
		Before:      q,
	}, nil
}

// Commit records one use after the operation succeeded. The increment is
// atomic in storage; failures are logged and swallowed because the user
// already received the result. Commit is safe to call more than once and
// outlives cancellation of ctx.
func (g *Gate) Commit(ctx context.Context, a *Admission) {
	if a == nil {
		return
	}
	a.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		defer cancel()

		count, err := g.usage.IncrementUsage(ctx, a.UserID, a.Feature, a.Bucket)
		metrics.RecordUsageCommit(a.Feature.String(), err)

		fields := logrus.Fields{"user_id": a.UserID, "feature": a.Feature, "bucket": a.Bucket}
		if err != nil {
			logger.Log.WithFields(fields).WithError(err).Error("Failed to record usage")
			return
		}
		fields["count"] = count
		logger.Log.WithFields(fields).Debug("Usage recorded")
	})
}
