package metering

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(t time.Time) *time.Time { return &t }

func TestResolve(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)
	table := DefaultPlanTable()

	tests := []struct {
		name       string
		sub        *Subscription
		wantPlan   Plan
		wantStatus Status
	}{
		{name: "no record is free", sub: nil, wantPlan: PlanFree, wantStatus: StatusActive},
		{name: "active pro", sub: &Subscription{Plan: PlanPro, Status: StatusActive, CurrentPeriodEnd: ptr(future)}, wantPlan: PlanPro, wantStatus: StatusActive},
		{name: "active without period end", sub: &Subscription{Plan: PlanBasic, Status: StatusActive}, wantPlan: PlanBasic, wantStatus: StatusActive},
		{name: "active but lapsed", sub: &Subscription{Plan: PlanPro, Status: StatusActive, CurrentPeriodEnd: ptr(past)}, wantPlan: PlanFree, wantStatus: StatusExpired},
		{name: "trial running", sub: &Subscription{Plan: PlanFamily, Status: StatusTrialing, TrialEndsAt: ptr(future)}, wantPlan: PlanFamily, wantStatus: StatusTrialing},
		{name: "trial over", sub: &Subscription{Plan: PlanFamily, Status: StatusTrialing, TrialEndsAt: ptr(past)}, wantPlan: PlanFree, wantStatus: StatusExpired},
		{name: "cancelled keeps access until period end", sub: &Subscription{Plan: PlanProAnnual, Status: StatusCancelled, CurrentPeriodEnd: ptr(future)}, wantPlan: PlanProAnnual, wantStatus: StatusCancelled},
		{name: "cancelled after period end", sub: &Subscription{Plan: PlanProAnnual, Status: StatusCancelled, CurrentPeriodEnd: ptr(past)}, wantPlan: PlanFree, wantStatus: StatusExpired},
		{name: "cancelled without period end", sub: &Subscription{Plan: PlanPro, Status: StatusCancelled}, wantPlan: PlanFree, wantStatus: StatusCancelled},
		{name: "expired", sub: &Subscription{Plan: PlanPro, Status: StatusExpired, CurrentPeriodEnd: ptr(future)}, wantPlan: PlanFree, wantStatus: StatusExpired},
		{name: "unknown plan", sub: &Subscription{Plan: "platinum", Status: StatusActive}, wantPlan: PlanFree, wantStatus: StatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := Resolve(tt.sub, now, table)
			assert.Equal(t, tt.wantPlan, ent.Plan)
			assert.Equal(t, tt.wantStatus, ent.Status)
			assert.Equal(t, table[tt.wantPlan], ent.Limits)
		})
	}
}

func TestResolve_DoesNotMutateRecord(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sub := &Subscription{Plan: PlanPro, Status: StatusActive, CurrentPeriodEnd: ptr(now.Add(-time.Minute))}

	ent := Resolve(sub, now, DefaultPlanTable())

	assert.Equal(t, PlanFree, ent.Plan)
	assert.Equal(t, PlanPro, sub.Plan)
	assert.Equal(t, StatusActive, sub.Status)
}

func TestQuota_FreeChatScenario(t *testing.T) {
	ent := Resolve(nil, time.Now(), DefaultPlanTable())

	for used := 0; used < 3; used++ {
		require.True(t, ent.CanUse(FeatureChat, used), "message %d should be allowed", used+1)
	}
	q := ent.Quota(FeatureChat, 3)
	assert.Equal(t, 0, q.Remaining)
	assert.False(t, q.CanUse)
	assert.True(t, q.Warn)
}

func TestQuota_Unlimited(t *testing.T) {
	ent := Resolve(&Subscription{Plan: PlanPro, Status: StatusActive}, time.Now(), DefaultPlanTable())

	for used := 0; used < 50; used++ {
		require.True(t, ent.CanUse(FeatureChat, used))
	}
	q := ent.Quota(FeatureChat, 500)
	assert.Equal(t, -1, q.Remaining)
	assert.False(t, q.Warn)
}

func TestQuota_WarnThresholds(t *testing.T) {
	free := Resolve(nil, time.Now(), DefaultPlanTable())
	assert.False(t, free.Quota(FeatureChat, 1).Warn, "2 remaining on free")
	assert.True(t, free.Quota(FeatureChat, 2).Warn, "1 remaining on free")

	basic := Resolve(&Subscription{Plan: PlanBasic, Status: StatusActive}, time.Now(), DefaultPlanTable())
	assert.False(t, basic.Quota(FeatureChat, 16).Warn, "4 remaining on basic")
	assert.True(t, basic.Quota(FeatureChat, 17).Warn, "3 remaining on basic")
}

func TestQuota_NegativeUsageClamped(t *testing.T) {
	ent := Resolve(nil, time.Now(), DefaultPlanTable())
	q := ent.Quota(FeatureChat, -4)
	assert.Equal(t, 0, q.Used)
	assert.Equal(t, 3, q.Remaining)
}

func TestAnonymous_CannotUseAnything(t *testing.T) {
	ent := Anonymous()
	for _, f := range Features {
		assert.False(t, ent.CanUse(f, 0))
	}
}

func TestLimitJSON(t *testing.T) {
	var limits map[string]Limit
	require.NoError(t, json.Unmarshal([]byte(`{"a": 5, "b": "unlimited", "c": null}`), &limits))
	assert.Equal(t, Max(5), limits["a"])
	assert.Equal(t, Unlimited, limits["b"])
	assert.Equal(t, Unlimited, limits["c"])

	var l Limit
	assert.Error(t, json.Unmarshal([]byte(`-1`), &l))
	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &l))

	out, err := json.Marshal(map[string]Limit{"x": Unlimited, "y": Max(2)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":"unlimited","y":2}`, string(out))
}

func TestDefaultPlanTable_Valid(t *testing.T) {
	require.NoError(t, DefaultPlanTable().Validate())

	broken := DefaultPlanTable()
	delete(broken[PlanBasic], FeatureIdentify)
	assert.Error(t, broken.Validate())
}

func TestParseFeatureAndPlan(t *testing.T) {
	f, err := ParseFeature("identify")
	require.NoError(t, err)
	assert.Equal(t, FeatureIdentify, f)
	_, err = ParseFeature("translate")
	assert.Error(t, err)

	_, err = ParsePlan("pro_annual")
	assert.NoError(t, err)
	_, err = ParseStatus("past_due")
	assert.Error(t, err)
}
