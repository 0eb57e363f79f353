package evaluation

import (
	"context"
	"time"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
)

// ServiceConfig configures one tenant's evaluation service
type ServiceConfig struct {
	Oracle       OracleConfig
	Orchestrator OrchestratorConfig

	// Locker is shared across tenants; nil disables per-decision locking
	Locker Locker

	// SweepLimit overrides the sweeper's per-tenant limit when positive
	SweepLimit int
}

// Service bundles the oracle, bus, propagator and orchestrator of a tenant.
// Events published on Bus are consumed by Propagator; Orchestrator publishes
// its rescores on the same Bus, which closes the cascade loop.
type Service struct {
	TenantID     string
	Gateway      decisions.Gateway
	Oracle       *Oracle
	Bus          *Bus
	Propagator   *Propagator
	Orchestrator *Orchestrator
	SweepLimit   int

	now func() time.Time
}

// NewService wires a tenant's evaluation service over gateway and scorer
func NewService(tenantID string, gateway decisions.Gateway, scorer Scorer, config ServiceConfig) *Service {
	if config.Orchestrator.Now == nil {
		config.Orchestrator.Now = time.Now
	}

	bus := NewBus()
	oracle := NewOracle(config.Oracle)
	prop := NewPropagator(gateway)
	prop.Register(bus)

	return &Service{
		TenantID:     tenantID,
		Gateway:      gateway,
		Oracle:       oracle,
		Bus:          bus,
		Propagator:   prop,
		Orchestrator: NewOrchestrator(gateway, oracle, scorer, bus, config.Locker, config.Orchestrator),
		SweepLimit:   config.SweepLimit,
		now:          config.Orchestrator.Now,
	}
}

// EvaluateDue evaluates up to limit decisions the sweep pre-filter reports as
// due. It is the time-decay fallback to event-driven marking.
func (s *Service) EvaluateDue(ctx context.Context, asOf time.Time, limit int) (BatchResult, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	ids, err := s.dueDecisions(ctx, asOf, limit)
	if err != nil {
		return BatchResult{}, err
	}
	return s.Orchestrator.EvaluateBatch(ctx, ids, false, asOf), nil
}

// AssumptionChanged publishes an assumption change for this tenant
func (s *Service) AssumptionChanged(ctx context.Context, change AssumptionChanged) {
	s.Bus.Publish(ctx, NewAssumptionChanged(s.TenantID, change, s.now()))
}

// DependencyChanged publishes a change of decisionID for its dependents
func (s *Service) DependencyChanged(ctx context.Context, decisionID string) {
	s.Bus.Publish(ctx, NewDependencyChanged(s.TenantID, decisionID, s.now()))
}
