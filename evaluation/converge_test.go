package evaluation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
)

func TestConverge_CyclicGraphReachesFixpoint(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "A", dirty)
	seedDecision(t, store, "B")
	dependsOn(t, store, "A", "B")
	dependsOn(t, store, "B", "A")
	seedAssumption(t, store, "x", decisions.AssumptionBroken, decisions.ScopeDecisionSpecific, "A")
	svc := newTestService(store, bandScorer{})

	res, err := svc.Converge(context.Background(), refNow, 10, 100)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	require.Len(t, res.Rounds, 3)

	// A drops, B follows, A is rescored without change
	assert.Equal(t, Round{Candidates: 1, Evaluated: 1, Changed: 1}, res.Rounds[0])
	assert.Equal(t, Round{Candidates: 1, Evaluated: 1, Changed: 1}, res.Rounds[1])
	assert.Equal(t, Round{Candidates: 1, Evaluated: 1, Changed: 0}, res.Rounds[2])

	assert.Equal(t, 90, getDecision(t, store, "A").Health)
	assert.Equal(t, 90, getDecision(t, store, "B").Health)
	assert.False(t, getDecision(t, store, "A").NeedsEvaluation)
	assert.False(t, getDecision(t, store, "B").NeedsEvaluation)
}

func TestConverge_ChainPropagatesOneHopPerRound(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "d1")
	seedDecision(t, store, "d2")
	seedDecision(t, store, "d3", dirty)
	dependsOn(t, store, "d1", "d2")
	dependsOn(t, store, "d2", "d3")
	seedAssumption(t, store, "x", decisions.AssumptionBroken, decisions.ScopeDecisionSpecific, "d3")
	seedAssumption(t, store, "y", decisions.AssumptionBroken, decisions.ScopeDecisionSpecific, "d3")
	svc := newTestService(store, bandScorer{})

	res, err := svc.Converge(context.Background(), refNow, 0, 0)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Len(t, res.Rounds, 3)

	for _, id := range []string{"d1", "d2", "d3"} {
		d := getDecision(t, store, id)
		assert.Equal(t, 80, d.Health, id)
		assert.Equal(t, decisions.Stable, d.Lifecycle, id)
	}
}

func TestConverge_StopsWhenNothingEvaluates(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "d1", dirty)
	svc := newTestService(store, blockingScorer{})
	svc.Orchestrator.config.StepTimeout = 5 * time.Millisecond

	res, err := svc.Converge(context.Background(), refNow, 10, 10)
	require.NoError(t, err)
	assert.False(t, res.Converged)
	require.Len(t, res.Rounds, 1)
	assert.Equal(t, 1, res.Rounds[0].Failed)
	assert.True(t, getDecision(t, store, "d1").NeedsEvaluation)
}

func TestConverge_RespectsMaxRounds(t *testing.T) {
	store := decisions.NewInMemoryStore()
	seedDecision(t, store, "d1")
	seedDecision(t, store, "d2", dirty)
	dependsOn(t, store, "d1", "d2")
	seedAssumption(t, store, "x", decisions.AssumptionBroken, decisions.ScopeDecisionSpecific, "d2")
	svc := newTestService(store, bandScorer{})

	res, err := svc.Converge(context.Background(), refNow, 1, 10)
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Len(t, res.Rounds, 1)
	assert.True(t, getDecision(t, store, "d1").NeedsEvaluation, "next hop left for a later run")
}
