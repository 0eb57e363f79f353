package evaluation

import (
	"testing"
	"time"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
)

var refNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func evaluatedAgo(d time.Duration) *time.Time {
	t := refNow.Add(-d)
	return &t
}

func TestNeedsEvaluation_Stale(t *testing.T) {
	o := NewOracle(DefaultOracleConfig())
	d := decisions.Decision{
		ID:              "d1",
		Health:          70,
		Lifecycle:       decisions.Stable,
		LastEvaluatedAt: evaluatedAgo(25 * time.Hour),
	}

	v := o.NeedsEvaluation(d, refNow)
	if !v.Required || v.Reason != ReasonStale {
		t.Fatalf("Expected required stale verdict, got %+v", v)
	}
	if v.HoursSinceEval == nil || *v.HoursSinceEval != 25 {
		t.Errorf("Expected hoursSinceEval 25, got %v", v.HoursSinceEval)
	}
}

func TestNeedsEvaluation_RetiredWithFlagIsTerminal(t *testing.T) {
	o := NewOracle(DefaultOracleConfig())
	d := decisions.Decision{
		ID:              "d1",
		Lifecycle:       decisions.Retired,
		NeedsEvaluation: true,
	}

	v := o.NeedsEvaluation(d, refNow)
	if v.Required || v.Reason != ReasonTerminalState {
		t.Fatalf("Expected terminal_state, got %+v", v)
	}
	if v.HoursSinceEval != nil {
		t.Errorf("Expected no hoursSinceEval for terminal verdict")
	}
}

func TestNeedsEvaluation_PriorityOrder(t *testing.T) {
	expiry := refNow.Add(10 * 24 * time.Hour)
	farExpiry := refNow.Add(90 * 24 * time.Hour)
	pastExpiry := refNow.Add(-29 * 24 * time.Hour)

	tests := []struct {
		name     string
		decision decisions.Decision
		required bool
		reason   Reason
	}{
		{
			name:     "flag beats recent evaluation",
			decision: decisions.Decision{Lifecycle: decisions.Stable, NeedsEvaluation: true, LastEvaluatedAt: evaluatedAgo(time.Minute)},
			required: true,
			reason:   ReasonExplicitFlag,
		},
		{
			name:     "flag beats never evaluated",
			decision: decisions.Decision{Lifecycle: decisions.AtRisk, NeedsEvaluation: true},
			required: true,
			reason:   ReasonExplicitFlag,
		},
		{
			name:     "never evaluated",
			decision: decisions.Decision{Lifecycle: decisions.Stable},
			required: true,
			reason:   ReasonNeverEvaluated,
		},
		{
			name:     "exactly at stale threshold is fresh",
			decision: decisions.Decision{Lifecycle: decisions.Stable, LastEvaluatedAt: evaluatedAgo(24 * time.Hour)},
			required: false,
			reason:   ReasonFresh,
		},
		{
			name:     "just past stale threshold",
			decision: decisions.Decision{Lifecycle: decisions.UnderReview, LastEvaluatedAt: evaluatedAgo(24*time.Hour + time.Second)},
			required: true,
			reason:   ReasonStale,
		},
		{
			name:     "recent evaluation near expiry is fresh",
			decision: decisions.Decision{Lifecycle: decisions.Stable, LastEvaluatedAt: evaluatedAgo(2 * time.Hour), ExpiryDate: &expiry},
			required: false,
			reason:   ReasonFresh,
		},
		{
			name:     "far from expiry",
			decision: decisions.Decision{Lifecycle: decisions.Stable, LastEvaluatedAt: evaluatedAgo(time.Hour), ExpiryDate: &farExpiry},
			required: false,
			reason:   ReasonFresh,
		},
		{
			name:     "retired never evaluated",
			decision: decisions.Decision{Lifecycle: decisions.Retired},
			required: false,
			reason:   ReasonTerminalState,
		},
	}

	o := NewOracle(DefaultOracleConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := o.NeedsEvaluation(tt.decision, refNow)
			if v.Required != tt.required || v.Reason != tt.reason {
				t.Errorf("Expected {%v %s}, got {%v %s}", tt.required, tt.reason, v.Required, v.Reason)
			}
		})
	}

	// past expiry still inside the window
	d := decisions.Decision{Lifecycle: decisions.Stable, LastEvaluatedAt: evaluatedAgo(2 * time.Hour), ExpiryDate: &pastExpiry}
	if v := o.NeedsEvaluation(d, refNow); v.Reason != ReasonFresh {
		t.Errorf("Expected fresh with recent evaluation past expiry, got %s", v.Reason)
	}
}

// With a long staleness window the daily expiry check becomes visible
func TestNeedsEvaluation_ExpiryWindow(t *testing.T) {
	o := NewOracle(OracleConfig{StaleHours: 24 * 7})
	expiry := refNow.Add(20 * 24 * time.Hour)

	d := decisions.Decision{
		Lifecycle:       decisions.Stable,
		LastEvaluatedAt: evaluatedAgo(30 * time.Hour),
		ExpiryDate:      &expiry,
	}
	v := o.NeedsEvaluation(d, refNow)
	if !v.Required || v.Reason != ReasonExpiryWindow {
		t.Fatalf("Expected expiry_window, got %+v", v)
	}
	if *v.HoursSinceEval != 30 {
		t.Errorf("Expected hoursSinceEval 30, got %d", *v.HoursSinceEval)
	}

	outside := refNow.Add(31 * 24 * time.Hour)
	d.ExpiryDate = &outside
	if v := o.NeedsEvaluation(d, refNow); v.Required {
		t.Errorf("Expected fresh outside the expiry window, got %+v", v)
	}

	edge := refNow.Add(-30 * 24 * time.Hour)
	d.ExpiryDate = &edge
	if v := o.NeedsEvaluation(d, refNow); v.Reason != ReasonExpiryWindow {
		t.Errorf("Expected window bounds to be inclusive, got %s", v.Reason)
	}
}

func TestOracle_SetConfig(t *testing.T) {
	o := NewOracle(OracleConfig{})
	if got := o.Config().StaleHours; got != decisions.DefaultStaleHours {
		t.Fatalf("Expected default stale hours, got %d", got)
	}

	d := decisions.Decision{Lifecycle: decisions.Stable, LastEvaluatedAt: evaluatedAgo(5 * time.Hour)}
	if v := o.NeedsEvaluation(d, refNow); v.Required {
		t.Fatalf("Expected fresh before reconfiguration")
	}

	o.SetConfig(OracleConfig{StaleHours: 4})
	if v := o.NeedsEvaluation(d, refNow); v.Reason != ReasonStale {
		t.Errorf("Expected stale after lowering the threshold, got %s", v.Reason)
	}

	q := o.SweepQuery("t1", refNow, 10)
	if q.StaleHours != 4 || q.TenantID != "t1" || q.Limit != 10 || !q.AsOf.Equal(refNow) {
		t.Errorf("Unexpected sweep query %+v", q)
	}
}
