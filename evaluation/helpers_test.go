package evaluation

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

const tenant = "tenant-1"

// MockScorer is a testify double for the scoring engine
type MockScorer struct {
	mock.Mock
}

func (m *MockScorer) Evaluate(ctx context.Context, ec decisions.EvaluationContext) (decisions.EvaluationResult, error) {
	args := m.Called(ctx, ec)
	return args.Get(0).(decisions.EvaluationResult), args.Error(1)
}

// bandScorer deducts 10 per broken assumption and caps health at the lowest
// dependency, so verdicts only move down and cascades settle
type bandScorer struct{}

func (bandScorer) Evaluate(_ context.Context, ec decisions.EvaluationContext) (decisions.EvaluationResult, error) {
	health := decisions.MaxHealth
	for _, a := range ec.Assumptions {
		if a.Status == decisions.AssumptionBroken {
			health -= 10
		}
	}
	for _, d := range ec.Dependencies {
		if d.Health < health {
			health = d.Health
		}
	}
	return decisions.EvaluationResult{NewHealth: health, NewLifecycle: band(health)}, nil
}

func band(health int) decisions.Lifecycle {
	switch {
	case health >= 80:
		return decisions.Stable
	case health >= 60:
		return decisions.UnderReview
	case health >= 40:
		return decisions.AtRisk
	default:
		return decisions.Invalidated
	}
}

// blockingScorer waits for ctx to end
type blockingScorer struct{}

func (blockingScorer) Evaluate(ctx context.Context, _ decisions.EvaluationContext) (decisions.EvaluationResult, error) {
	<-ctx.Done()
	return decisions.EvaluationResult{}, ctx.Err()
}

// faultyGateway fails selected lookups on top of an in-memory store
type faultyGateway struct {
	*decisions.InMemoryStore
	failLinked     bool
	failDependents bool

	// failMarks is the number of MarkDirty calls left to fail
	failMarks int
}

var errStorage = errors.New("storage unavailable")

func (g *faultyGateway) ListDecisionsLinkedToAssumption(ctx context.Context, id string) ([]string, error) {
	if g.failLinked {
		return nil, errStorage
	}
	return g.InMemoryStore.ListDecisionsLinkedToAssumption(ctx, id)
}

func (g *faultyGateway) ListDependents(ctx context.Context, id string) ([]string, error) {
	if g.failDependents {
		return nil, errStorage
	}
	return g.InMemoryStore.ListDependents(ctx, id)
}

func (g *faultyGateway) MarkDirty(ctx context.Context, ids []string) (int, error) {
	if g.failMarks > 0 {
		g.failMarks--
		return 0, errStorage
	}
	return g.InMemoryStore.MarkDirty(ctx, ids)
}

// seedDecision stores a decision evaluated at refNow so it reads as fresh
func seedDecision(t *testing.T, s *decisions.InMemoryStore, id string, mutate ...func(*decisions.Decision)) {
	t.Helper()
	d := decisions.NewDecision(id, tenant, "decision "+id, refNow.Add(-48*time.Hour))
	at := refNow
	d.LastEvaluatedAt = &at
	for _, m := range mutate {
		m(d)
	}
	require.NoError(t, s.CreateDecision(context.Background(), d))
}

func dirty(d *decisions.Decision)   { d.NeedsEvaluation = true }
func retired(d *decisions.Decision) { d.Lifecycle = decisions.Retired }

func seedAssumption(t *testing.T, s *decisions.InMemoryStore, id string, status decisions.AssumptionStatus, scope decisions.AssumptionScope, linkTo ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateAssumption(ctx, &decisions.Assumption{
		ID:          id,
		TenantID:    tenant,
		Description: "assumption " + id,
		Status:      status,
		Scope:       scope,
	}))
	for _, d := range linkTo {
		require.NoError(t, s.LinkAssumption(ctx, d, id))
	}
}

func dependsOn(t *testing.T, s *decisions.InMemoryStore, source, target string) {
	t.Helper()
	require.NoError(t, s.AddDependency(context.Background(), decisions.DependencyEdge{
		SourceDecisionID: source,
		TargetDecisionID: target,
	}))
}

func getDecision(t *testing.T, s *decisions.InMemoryStore, id string) decisions.Decision {
	t.Helper()
	d, err := s.GetDecision(context.Background(), id)
	require.NoError(t, err)
	return *d
}

func newTestService(s decisions.Gateway, scorer Scorer) *Service {
	return NewService(tenant, s, scorer, ServiceConfig{
		Orchestrator: OrchestratorConfig{Now: func() time.Time { return refNow }},
	})
}
