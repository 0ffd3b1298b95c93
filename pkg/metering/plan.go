package metering

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanFree        Plan = "free"
	PlanBasic       Plan = "basic"
	PlanBasicAnnual Plan = "basic_annual"
	PlanPro         Plan = "pro"
	PlanProAnnual   Plan = "pro_annual"
	PlanFamily      Plan = "family"
)

// ParsePlan parses a stored plan name.
func ParsePlan(s string) (Plan, error) {
	switch p := Plan(s); p {
	case PlanFree, PlanBasic, PlanBasicAnnual, PlanPro, PlanProAnnual, PlanFamily:
		return p, nil
	default:
		return "", fmt.Errorf("unknown plan: %q", s)
	}
}

// IsPaid reports whether p is a paid tier.
func (p Plan) IsPaid() bool {
	return p != PlanFree
}

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrialing  Status = "trialing"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// ParseStatus parses a stored subscription status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusActive, StatusTrialing, StatusCancelled, StatusExpired:
		return st, nil
	default:
		return "", fmt.Errorf("unknown subscription status: %q", s)
	}
}

// Subscription is the durable subscription record of a user.
type Subscription struct {
	UserID           string
	Plan             Plan
	Status           Status
	TrialEndsAt      *time.Time
	CurrentPeriodEnd *time.Time
}

// Limit is the daily cap for one feature. Max is ignored when Unlimited is set.
type Limit struct {
	Max       int
	Unlimited bool
}

// Unlimited is the limit of a feature with no daily cap.
var Unlimited = Limit{Unlimited: true}

// Max returns a capped limit.
func Max(n int) Limit {
	return Limit{Max: n}
}

// MarshalJSON encodes a limit as an integer or the string "unlimited".
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.Unlimited {
		return []byte(`"unlimited"`), nil
	}
	return json.Marshal(l.Max)
}

// UnmarshalJSON accepts an integer, "unlimited" or null (unlimited).
func (l *Limit) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = Unlimited
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 {
			return fmt.Errorf("limit must not be negative, got %d", n)
		}
		*l = Limit{Max: n}
		return nil
	}
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("limit must be an integer or \"unlimited\": %w", err)
	}
	if s == nil || *s == "unlimited" {
		*l = Unlimited
		return nil
	}
	return fmt.Errorf("limit must be an integer or \"unlimited\", got %q", *s)
}

// Limits maps each feature to its daily cap.
type Limits map[Feature]Limit

// PlanTable is the static per-plan limit table.
type PlanTable map[Plan]Limits

// DefaultPlanTable returns the built-in limits.
func DefaultPlanTable() PlanTable {
	return PlanTable{
		PlanFree:        {FeatureChat: Max(3), FeatureIdentify: Max(0)},
		PlanBasic:       {FeatureChat: Max(20), FeatureIdentify: Max(10)},
		PlanBasicAnnual: {FeatureChat: Max(20), FeatureIdentify: Max(10)},
		PlanPro:         {FeatureChat: Unlimited, FeatureIdentify: Max(50)},
		PlanProAnnual:   {FeatureChat: Unlimited, FeatureIdentify: Max(50)},
		PlanFamily:      {FeatureChat: Unlimited, FeatureIdentify: Unlimited},
	}
}

// Validate checks that every plan defines every feature.
func (t PlanTable) Validate() error {
	for _, p := range []Plan{PlanFree, PlanBasic, PlanBasicAnnual, PlanPro, PlanProAnnual, PlanFamily} {
		limits, ok := t[p]
		if !ok {
			return fmt.Errorf("plan table is missing plan %q", p)
		}
		for _, f := range Features {
			if _, ok := limits[f]; !ok {
				return fmt.Errorf("plan %q is missing a limit for %q", p, f)
			}
		}
	}
	return nil
}

const (
	freeWarnThreshold = 1
	paidWarnThreshold = 3
)

// Entitlement is the effective plan of a caller at one instant.
type Entitlement struct {
	Plan      Plan
	Status    Status
	Limits    Limits
	Anonymous bool
}

// Anonymous is the entitlement of an unauthenticated caller: nothing is usable.
func Anonymous() Entitlement {
	return Entitlement{
		Plan:      PlanFree,
		Status:    StatusActive,
		Limits:    Limits{FeatureChat: Max(0), FeatureIdentify: Max(0)},
		Anonymous: true,
	}
}

// Resolve derives the effective entitlement from a stored subscription.
// A nil subscription is a free, active user. Lapsed subscriptions resolve
// to free with status expired; the stored record is left untouched.
func Resolve(sub *Subscription, now time.Time, table PlanTable) Entitlement {
	plan, status := PlanFree, StatusActive
	if sub != nil {
		plan, status = effectivePlan(sub, now)
	}
	limits, ok := table[plan]
	if !ok {
		limits = table[PlanFree]
	}
	return Entitlement{Plan: plan, Status: status, Limits: limits}
}

func effectivePlan(sub *Subscription, now time.Time) (Plan, Status) {
	if _, err := ParsePlan(string(sub.Plan)); err != nil {
		return PlanFree, StatusActive
	}
	switch sub.Status {
	case StatusActive, StatusCancelled:
		if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.Before(now) {
			return PlanFree, StatusExpired
		}
		if sub.Status == StatusCancelled && sub.CurrentPeriodEnd == nil {
			return PlanFree, StatusCancelled
		}
		return sub.Plan, sub.Status
	case StatusTrialing:
		if sub.TrialEndsAt != nil && sub.TrialEndsAt.Before(now) {
			return PlanFree, StatusExpired
		}
		return sub.Plan, sub.Status
	default:
		return PlanFree, StatusExpired
	}
}

// Limit returns the cap for f. Missing features are not usable.
func (e Entitlement) Limit(f Feature) Limit {
	if l, ok := e.Limits[f]; ok {
		return l
	}
	return Max(0)
}

// WarnThreshold is the remaining count at or below which the UI warns.
func (e Entitlement) WarnThreshold() int {
	if e.Plan.IsPaid() {
		return paidWarnThreshold
	}
	return freeWarnThreshold
}

// Quota is the state of one feature for one day bucket.
type Quota struct {
	Feature   Feature `json:"feature"`
	Limit     Limit   `json:"limit"`
	Used      int     `json:"used"`
	Remaining int     `json:"remaining"`
	CanUse    bool    `json:"can_use"`
	Warn      bool    `json:"warn"`
}

// Quota computes remaining = max(0, limit-used) and canUse = remaining > 0.
// Unlimited features are always usable and report Remaining -1.
func (e Entitlement) Quota(f Feature, used int) Quota {
	if used < 0 {
		used = 0
	}
	l := e.Limit(f)
	q := Quota{Feature: f, Limit: l, Used: used}
	if l.Unlimited && !e.Anonymous {
		q.Remaining = -1
		q.CanUse = true
		return q
	}
	q.Remaining = max(0, l.Max-used)
	q.CanUse = q.Remaining > 0
	q.Warn = l.Max > 0 && q.Remaining <= e.WarnThreshold()
	return q
}

// CanUse reports whether one more operation of f is permitted after used.
func (e Entitlement) CanUse(f Feature, used int) bool {
	return e.Quota(f, used).CanUse
}
