package evaluation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
)

func TestEvaluateIfNeeded_IdempotentClearing(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "d1", dirty)
	svc := newTestService(store, bandScorer{})
	ctx := context.Background()

	out, err := svc.Orchestrator.EvaluateIfNeeded(ctx, "d1", false, refNow)
	require.NoError(t, err)
	assert.Equal(t, StatusEvaluated, out.Status)

	d := getDecision(t, store, "d1")
	assert.False(t, d.NeedsEvaluation)
	require.NotNil(t, d.LastEvaluatedAt)
	assert.True(t, d.LastEvaluatedAt.Equal(refNow))

	v := svc.Oracle.NeedsEvaluation(d, refNow)
	assert.False(t, v.Required)
	assert.Equal(t, ReasonFresh, v.Reason)

	out, err = svc.Orchestrator.EvaluateIfNeeded(ctx, "d1", false, refNow)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, ReasonFresh, out.Reason)
}

func TestEvaluateIfNeeded_SkipsWithoutScoring(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "d1")
	scorer := &MockScorer{}
	svc := newTestService(store, scorer)

	out, err := svc.Orchestrator.EvaluateIfNeeded(context.Background(), "d1", false, refNow)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, ReasonFresh, out.Reason)
	scorer.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
}

func TestEvaluateIfNeeded_ForceBypassesOracle(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "d1")
	scorer := &MockScorer{}
	scorer.On("Evaluate", mock.Anything, mock.Anything).
		Return(decisions.EvaluationResult{NewHealth: 65, NewLifecycle: decisions.UnderReview}, nil).Once()
	svc := newTestService(store, scorer)

	later := refNow.Add(time.Hour)
	out, err := svc.Orchestrator.EvaluateIfNeeded(context.Background(), "d1", true, later)
	require.NoError(t, err)
	assert.Equal(t, StatusEvaluated, out.Status)
	assert.True(t, out.Result.ChangesDetected)

	d := getDecision(t, store, "d1")
	assert.Equal(t, 65, d.Health)
	assert.Equal(t, decisions.UnderReview, d.Lifecycle)
	assert.True(t, d.LastEvaluatedAt.Equal(later))
	scorer.AssertExpectations(t)
}

func TestEvaluateIfNeeded_ForceNeverRevivesRetired(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "d1", retired, dirty)
	scorer := &MockScorer{}
	svc := newTestService(store, scorer)

	out, err := svc.Orchestrator.EvaluateIfNeeded(context.Background(), "d1", true, refNow)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, ReasonTerminalState, out.Reason)
	scorer.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
}

func TestEvaluateIfNeeded_NotFound(t *testing.T) {
	svc := newTestService(decisions.NewInMemoryStore(), bandScorer{})

	out, err := svc.Orchestrator.EvaluateIfNeeded(context.Background(), "missing", true, refNow)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, decisions.KindNotFound, out.ErrorKind)

	var evalErr *decisions.EvaluationError
	require.True(t, errors.As(err, &evalErr))
	assert.Equal(t, "missing", evalErr.DecisionID)
	assert.ErrorIs(t, err, decisions.ErrNotFound)
}

func TestEvaluateIfNeeded_InvalidResultLeavesDecisionDirty(t *testing.T) {
	tests := []struct {
		name   string
		result decisions.EvaluationResult
	}{
		{"health above range", decisions.EvaluationResult{NewHealth: 101, NewLifecycle: decisions.Stable}},
		{"negative health", decisions.EvaluationResult{NewHealth: -1, NewLifecycle: decisions.AtRisk}},
		{"retired lifecycle", decisions.EvaluationResult{NewHealth: 50, NewLifecycle: decisions.Retired}},
		{"unknown lifecycle", decisions.EvaluationResult{NewHealth: 50, NewLifecycle: "ARCHIVED"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := decisions.NewInMemoryStore()
			seedDecision(t, store, "d1", dirty, func(d *decisions.Decision) { d.Health = 70 })
			scorer := &MockScorer{}
			scorer.On("Evaluate", mock.Anything, mock.Anything).Return(tt.result, nil)
			svc := newTestService(store, scorer)

			out, err := svc.Orchestrator.EvaluateIfNeeded(context.Background(), "d1", false, refNow)
			require.Error(t, err)
			assert.Equal(t, decisions.KindDataIntegrity, out.ErrorKind)

			d := getDecision(t, store, "d1")
			assert.True(t, d.NeedsEvaluation)
			assert.Equal(t, 70, d.Health)
		})
	}
}

func TestEvaluateIfNeeded_StepTimeout(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "d1", dirty)
	svc := NewService(tenant, store, blockingScorer{}, ServiceConfig{
		Orchestrator: OrchestratorConfig{StepTimeout: 20 * time.Millisecond},
	})

	out, err := svc.Orchestrator.EvaluateIfNeeded(context.Background(), "d1", false, refNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, decisions.KindUpstreamFailure, out.ErrorKind)

	d := getDecision(t, store, "d1")
	assert.True(t, d.NeedsEvaluation, "timed out decision stays dirty for retry")
	assert.Equal(t, decisions.MaxHealth, d.Health)
}

func TestEvaluateIfNeeded_ScorerPanicIsFailure(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "d1", dirty)
	scorer := &MockScorer{}
	scorer.On("Evaluate", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
	svc := newTestService(store, scorer)

	out, err := svc.Orchestrator.EvaluateIfNeeded(context.Background(), "d1", false, refNow)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Error, "boom")
}

func TestEvaluateIfNeeded_AssemblesContext(t *testing.T) {
	store := decisions.NewInMemoryStore()
	ctx := context.Background()
	seedDecision(t, store, "d1", dirty)
	seedDecision(t, store, "d2", func(d *decisions.Decision) { d.Health = 55; d.Lifecycle = decisions.AtRisk })
	dependsOn(t, store, "d1", "d2")
	dependsOn(t, store, "d1", "gone")
	seedAssumption(t, store, "a1", decisions.AssumptionValid, decisions.ScopeDecisionSpecific, "d1")
	seedAssumption(t, store, "u1", decisions.AssumptionShaky, decisions.ScopeUniversal, "d1")
	seedAssumption(t, store, "u2", decisions.AssumptionValid, decisions.ScopeUniversal)
	require.NoError(t, store.CreateConstraint(ctx, &decisions.Constraint{ID: "c1", TenantID: tenant, Name: "budget", RuleExpression: "true"}))
	require.NoError(t, store.LinkConstraint(ctx, "d1", "c1"))

	var got decisions.EvaluationContext
	scorer := &MockScorer{}
	scorer.On("Evaluate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(decisions.EvaluationContext) }).
		Return(decisions.EvaluationResult{NewHealth: 100, NewLifecycle: decisions.Stable}, nil)
	svc := newTestService(store, scorer)

	out, err := svc.Orchestrator.EvaluateIfNeeded(ctx, "d1", false, refNow)
	require.NoError(t, err)
	assert.False(t, out.Result.ChangesDetected)

	ids := make([]string, 0, len(got.Assumptions))
	for _, a := range got.Assumptions {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a1", "u1", "u2"}, ids, "linked and universal merged once each")

	require.Len(t, got.Dependencies, 1, "dangling target is skipped")
	assert.Equal(t, "d2", got.Dependencies[0].ID)
	assert.Equal(t, 55, got.Dependencies[0].Health)

	require.Len(t, got.Constraints, 1)
	assert.Equal(t, "c1", got.Constraints[0].ID)
	assert.True(t, got.AsOf.Equal(refNow))
	assert.Equal(t, "d1", got.Decision.ID)
}

func TestEvaluateIfNeeded_PublishesRescored(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "d1", dirty)
	seedAssumption(t, store, "a", decisions.AssumptionBroken, decisions.ScopeDecisionSpecific, "d1")
	svc := newTestService(store, bandScorer{})

	var events []Event
	svc.Bus.Subscribe(EventDecisionRescored, func(_ context.Context, e Event) error {
		events = append(events, e)
		return nil
	})

	_, err := svc.Orchestrator.EvaluateIfNeeded(context.Background(), "d1", false, refNow)
	require.NoError(t, err)

	require.Len(t, events, 1)
	e := events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, tenant, e.TenantID)
	require.NotNil(t, e.DecisionRescored)
	assert.Equal(t, DecisionRescored{
		DecisionID:      "d1",
		ChangesDetected: true,
		OldLifecycle:    decisions.Stable,
		NewLifecycle:    decisions.Stable,
		OldHealth:       100,
		NewHealth:       90,
	}, *e.DecisionRescored)
}

func TestEvaluateIfNeeded_LockedDecisionIsSkipped(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "d1", dirty)
	locker := NewKeyedLocker()
	svc := NewService(tenant, store, bandScorer{}, ServiceConfig{Locker: locker})
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)

	out, err := svc.Orchestrator.EvaluateIfNeeded(ctx, "d1", false, refNow)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, ReasonLocked, out.Reason)
	assert.True(t, getDecision(t, store, "d1").NeedsEvaluation)

	release()
	out, err = svc.Orchestrator.EvaluateIfNeeded(ctx, "d1", false, refNow)
	require.NoError(t, err)
	assert.Equal(t, StatusEvaluated, out.Status)
}

func TestEvaluateBatch_IsolatesFailures(t *testing.T) {
	store := decisions.NewInMemoryStore()
	ids := []string{"d1", "d2", "d3", "d4", "d5"}
	for _, id := range ids {
		seedDecision(t, store, id, dirty)
	}

	ok := decisions.EvaluationResult{NewHealth: 80, NewLifecycle: decisions.Stable}
	scorer := &MockScorer{}
	isDecision := func(id string) interface{} {
		return mock.MatchedBy(func(ec decisions.EvaluationContext) bool { return ec.Decision.ID == id })
	}
	scorer.On("Evaluate", mock.Anything, isDecision("d3")).Return(decisions.EvaluationResult{}, fmt.Errorf("engine crashed"))
	scorer.On("Evaluate", mock.Anything, mock.Anything).Return(ok, nil)
	svc := newTestService(store, scorer)

	res := svc.Orchestrator.EvaluateBatch(context.Background(), ids, false, refNow)

	assert.Equal(t, 4, res.Evaluated)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Outcomes, 5)
	for i, out := range res.Outcomes {
		assert.Equal(t, ids[i], out.DecisionID, "outcomes keep input order")
	}
	assert.Equal(t, StatusFailed, res.Outcomes[2].Status)
	assert.Equal(t, decisions.KindUpstreamFailure, res.Outcomes[2].ErrorKind)
	assert.Equal(t, StatusEvaluated, res.Outcomes[3].Status)
	assert.Equal(t, StatusEvaluated, res.Outcomes[4].Status)

	d3 := getDecision(t, store, "d3")
	assert.True(t, d3.NeedsEvaluation)
	assert.Equal(t, decisions.MaxHealth, d3.Health)
	assert.Equal(t, 80, getDecision(t, store, "d5").Health)
}

func TestEvaluateBatch_MixedOutcomes(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "dirty", dirty)
	seedDecision(t, store, "fresh")
	seedDecision(t, store, "retired", retired)
	svc := newTestService(store, bandScorer{})

	res := svc.Orchestrator.EvaluateBatch(context.Background(), []string{"dirty", "fresh", "retired", "missing"}, false, time.Time{})
	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, ReasonTerminalState, res.Outcomes[2].Reason)
	assert.Equal(t, decisions.KindNotFound, res.Outcomes[3].ErrorKind)
}

// A depends on B, B depends on C. C's change reaches B, but B's verdict is
// unchanged, so the cascade stops before A.
func TestCascade_StopsWhenIntermediateVerdictUnchanged(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "A")
	seedDecision(t, store, "B")
	seedDecision(t, store, "C")
	dependsOn(t, store, "A", "B")
	dependsOn(t, store, "B", "C")
	svc := newTestService(store, bandScorer{})
	ctx := context.Background()

	svc.DependencyChanged(ctx, "C")
	require.True(t, getDecision(t, store, "B").NeedsEvaluation)

	out, err := svc.Orchestrator.EvaluateIfNeeded(ctx, "B", false, refNow)
	require.NoError(t, err)
	require.False(t, out.Result.ChangesDetected)

	assert.False(t, getDecision(t, store, "A").NeedsEvaluation)
}
