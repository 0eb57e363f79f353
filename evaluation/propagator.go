package evaluation

import (
	"context"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

// Propagator turns change events into dirty marks, one hop at a time. It never
// evaluates anything; the next orchestrator run picks the marks up.
// Every event ends in an unconditional MarkDirty, so a flag cleared by any
// other evaluator is set again by the next change.
type Propagator struct {
	gateway decisions.Gateway
}

// tenantInvalidator is implemented by gateways caching tenant-wide reads
type tenantInvalidator interface {
	InvalidateTenant(tenantID string)
}

// NewPropagator creates a Propagator writing through gateway
func NewPropagator(gateway decisions.Gateway) *Propagator {
	return &Propagator{gateway: gateway}
}

// Register subscribes the propagator's handlers to bus
func (p *Propagator) Register(bus *Bus) {
	bus.Subscribe(EventAssumptionChanged, func(ctx context.Context, e Event) error {
		if e.AssumptionChanged == nil {
			return nil
		}
		if e.AssumptionChanged.Scope == decisions.ScopeUniversal {
			p.OnUniversalAssumptionChanged(ctx, e.TenantID)
			return nil
		}
		p.OnAssumptionChanged(ctx, e.AssumptionChanged.AssumptionID)
		return nil
	})
	bus.Subscribe(EventDependencyChanged, func(ctx context.Context, e Event) error {
		if e.DependencyChanged != nil {
			p.OnDependencyChanged(ctx, e.DependencyChanged.DecisionID)
		}
		return nil
	})
	bus.Subscribe(EventDecisionRescored, func(ctx context.Context, e Event) error {
		if e.DecisionRescored != nil {
			p.OnDecisionRescored(ctx, e.DecisionRescored.DecisionID, e.DecisionRescored.ChangesDetected)
		}
		return nil
	})
}

// OnAssumptionChanged marks every decision linked to assumptionID.
// Returns how many were marked; lookup failures count as zero.
func (p *Propagator) OnAssumptionChanged(ctx context.Context, assumptionID string) int {
	ids, err := p.gateway.ListDecisionsLinkedToAssumption(ctx, assumptionID)
	if err != nil {
		p.failed("list linked decisions", "assumption_id", assumptionID, err)
		return 0
	}
	return p.mark(ctx, ids, "assumption_id", assumptionID)
}

// OnUniversalAssumptionChanged marks every non-retired decision of the
// tenant, since a universal assumption applies to all of them
func (p *Propagator) OnUniversalAssumptionChanged(ctx context.Context, tenantID string) int {
	if inv, ok := p.gateway.(tenantInvalidator); ok {
		inv.InvalidateTenant(tenantID)
	}
	n, err := p.gateway.MarkTenantDirty(ctx, tenantID)
	if err != nil {
		p.failed("mark tenant dirty", "tenant_id", tenantID, err)
		return 0
	}
	logger.DecisionsMarked.Add(int64(n))
	logger.Debug("marked tenant for evaluation", "tenant_id", tenantID, "marked", n)
	return n
}

// OnDependencyChanged marks the direct dependents of decisionID
func (p *Propagator) OnDependencyChanged(ctx context.Context, decisionID string) int {
	ids, err := p.gateway.ListDependents(ctx, decisionID)
	if err != nil {
		p.failed("list dependents", "decision_id", decisionID, err)
		return 0
	}
	return p.mark(ctx, ids, "decision_id", decisionID)
}

// OnDecisionRescored marks the direct dependents of decisionID only when its
// verdict changed. An unchanged verdict stops the cascade.
func (p *Propagator) OnDecisionRescored(ctx context.Context, decisionID string, changesDetected bool) int {
	if !changesDetected {
		return 0
	}
	return p.OnDependencyChanged(ctx, decisionID)
}

func (p *Propagator) mark(ctx context.Context, ids []string, key, source string) int {
	if len(ids) == 0 {
		return 0
	}
	n, err := p.gateway.MarkDirty(ctx, ids)
	if err != nil {
		p.failed("mark dirty", key, source, err)
		return 0
	}
	logger.DecisionsMarked.Add(int64(n))
	logger.Debug("marked decisions for evaluation", key, source, "candidates", len(ids), "marked", n)
	return n
}

func (p *Propagator) failed(op, key, source string, err error) {
	logger.PropagationFailures.Add(1)
	logger.Warn("propagation failed", "op", op, key, source, "err", err)
}
