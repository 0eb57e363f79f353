package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

// Scorer is the scoring engine contract. Implementations must be
// deterministic for a given context and free of side effects; ctx only
// carries the caller's deadline.
type Scorer interface {
	Evaluate(ctx context.Context, ec decisions.EvaluationContext) (decisions.EvaluationResult, error)
}

// Status classifies one decision's outcome
type Status string

const (
	StatusEvaluated Status = "evaluated"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome is the per-decision record returned by the orchestrator
type Outcome struct {
	DecisionID string                      `json:"decisionId"`
	Status     Status                      `json:"status"`
	Reason     Reason                      `json:"reason,omitempty"`
	Result     *decisions.EvaluationResult `json:"result,omitempty"`
	ErrorKind  decisions.ErrorKind         `json:"errorKind,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

// BatchResult aggregates a batch run. Outcomes are in input order.
type BatchResult struct {
	Evaluated int       `json:"evaluated"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Outcomes  []Outcome `json:"outcomes"`
}

// OrchestratorConfig configures an Orchestrator
type OrchestratorConfig struct {
	// StepTimeout bounds each I/O step (load, score, persist). Zero means
	// only the caller's deadline applies.
	StepTimeout time.Duration

	// Now supplies the as-of time when the caller passes a zero time
	Now func() time.Time
}

// Orchestrator drives single and batch evaluations
type Orchestrator struct {
	gateway   decisions.Gateway
	oracle    *Oracle
	scorer    Scorer
	publisher Publisher
	locker    Locker
	config    OrchestratorConfig
}

// NewOrchestrator wires an Orchestrator. publisher and locker may be nil.
func NewOrchestrator(gateway decisions.Gateway, oracle *Oracle, scorer Scorer, publisher Publisher, locker Locker, config OrchestratorConfig) *Orchestrator {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Orchestrator{
		gateway:   gateway,
		oracle:    oracle,
		scorer:    scorer,
		publisher: publisher,
		locker:    locker,
		config:    config,
	}
}

func (o *Orchestrator) step(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.config.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.config.StepTimeout)
}

// EvaluateIfNeeded evaluates one decision unless the oracle says it is not
// needed. force bypasses the oracle but never revives a RETIRED decision.
// A zero asOf means now. The returned error is the *decisions.EvaluationError
// of a failed outcome.
func (o *Orchestrator) EvaluateIfNeeded(ctx context.Context, id string, force bool, asOf time.Time) (Outcome, error) {
	if asOf.IsZero() {
		asOf = o.config.Now()
	}
	asOf = asOf.UTC()

	out, err := o.evaluate(ctx, id, force, asOf)
	switch out.Status {
	case StatusEvaluated:
		logger.DecisionsEvaluated.Add(1)
	case StatusSkipped:
		logger.DecisionsSkipped.Add(1)
	case StatusFailed:
		logger.DecisionsFailed.Add(1)
		logger.Error("evaluation failed", "decision_id", id, "kind", out.ErrorKind, "err", err)
	}
	return out, err
}

func (o *Orchestrator) evaluate(ctx context.Context, id string, force bool, asOf time.Time) (Outcome, error) {
	if o.locker != nil {
		release, ok, err := o.locker.TryLock(ctx, id)
		if err != nil {
			return failed(id, "lock", err)
		}
		if !ok {
			logger.Debug("decision locked by another run", "decision_id", id)
			return skipped(id, ReasonLocked), nil
		}
		defer release()
	}

	d, err := o.loadDecision(ctx, id)
	if err != nil {
		return failed(id, "load decision", err)
	}

	if d.Lifecycle.IsTerminal() {
		return skipped(id, ReasonTerminalState), nil
	}
	if !force {
		if v := o.oracle.NeedsEvaluation(*d, asOf); !v.Required {
			return skipped(id, v.Reason), nil
		}
	}

	ec, err := o.assemble(ctx, *d, asOf)
	if err != nil {
		return failed(id, "assemble context", err)
	}

	result, err := o.score(ctx, ec)
	if err != nil {
		return failed(id, "score", err)
	}
	if err := validateResult(result); err != nil {
		return failed(id, "validate result", err)
	}
	result.DetectChanges(*d)

	if err := o.persist(ctx, id, result, asOf); err != nil {
		return failed(id, "persist", err)
	}

	logger.Debug("decision evaluated",
		"decision_id", id,
		"tenant_id", d.TenantID,
		"health", result.NewHealth,
		"lifecycle", result.NewLifecycle,
		"changes_detected", result.ChangesDetected,
	)

	if o.publisher != nil {
		o.publisher.Publish(ctx, NewDecisionRescored(d.TenantID, DecisionRescored{
			DecisionID:      id,
			ChangesDetected: result.ChangesDetected,
			OldLifecycle:    d.Lifecycle,
			NewLifecycle:    result.NewLifecycle,
			OldHealth:       d.Health,
			NewHealth:       result.NewHealth,
		}, asOf))
	}

	return Outcome{DecisionID: id, Status: StatusEvaluated, Result: &result}, nil
}

func (o *Orchestrator) loadDecision(ctx context.Context, id string) (*decisions.Decision, error) {
	ctx, cancel := o.step(ctx)
	defer cancel()
	return o.gateway.GetDecision(ctx, id)
}

// assemble builds the evaluation context. Linked and universal assumptions
// are merged by id. Dependency targets that no longer resolve are left out.
func (o *Orchestrator) assemble(ctx context.Context, d decisions.Decision, asOf time.Time) (decisions.EvaluationContext, error) {
	ctx, cancel := o.step(ctx)
	defer cancel()

	linked, err := o.gateway.GetLinkedAssumptions(ctx, d.ID)
	if err != nil {
		return decisions.EvaluationContext{}, fmt.Errorf("failed to load linked assumptions: %w", err)
	}
	universal, err := o.gateway.GetUniversalAssumptions(ctx, d.TenantID)
	if err != nil {
		return decisions.EvaluationContext{}, fmt.Errorf("failed to load universal assumptions: %w", err)
	}
	constraints, err := o.gateway.GetLinkedConstraints(ctx, d.ID)
	if err != nil {
		return decisions.EvaluationContext{}, fmt.Errorf("failed to load constraints: %w", err)
	}
	edges, err := o.gateway.GetDependencyTargets(ctx, d.ID)
	if err != nil {
		return decisions.EvaluationContext{}, fmt.Errorf("failed to load dependencies: %w", err)
	}

	deps := make([]decisions.Decision, 0, len(edges))
	for _, e := range edges {
		target, err := o.gateway.GetDecision(ctx, e.TargetDecisionID)
		if errors.Is(err, decisions.ErrNotFound) {
			logger.Warn("skipping dangling dependency",
				"decision_id", d.ID,
				"target_id", e.TargetDecisionID,
				"kind", decisions.KindDataIntegrity,
			)
			continue
		}
		if err != nil {
			return decisions.EvaluationContext{}, fmt.Errorf("failed to load dependency %s: %w", e.TargetDecisionID, err)
		}
		deps = append(deps, *target)
	}

	return decisions.EvaluationContext{
		Decision:     d,
		Assumptions:  mergeAssumptions(linked, universal),
		Constraints:  constraints,
		Dependencies: deps,
		AsOf:         asOf,
	}, nil
}

func mergeAssumptions(linked, universal []decisions.Assumption) []decisions.Assumption {
	seen := make(map[string]struct{}, len(linked)+len(universal))
	out := make([]decisions.Assumption, 0, len(linked)+len(universal))
	for _, list := range [][]decisions.Assumption{linked, universal} {
		for _, a := range list {
			if _, dup := seen[a.ID]; dup {
				continue
			}
			seen[a.ID] = struct{}{}
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (o *Orchestrator) score(ctx context.Context, ec decisions.EvaluationContext) (result decisions.EvaluationResult, err error) {
	ctx, cancel := o.step(ctx)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring engine panicked: %v", r)
		}
	}()

	result, err = o.scorer.Evaluate(ctx, ec)
	if err != nil {
		return result, err
	}
	// an engine that ignores ctx must not outlive the step deadline
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	return result, nil
}

func (o *Orchestrator) persist(ctx context.Context, id string, result decisions.EvaluationResult, at time.Time) error {
	ctx, cancel := o.step(ctx)
	defer cancel()
	return o.gateway.UpdateDecisionAfterEvaluation(ctx, id, result, at)
}

func validateResult(r decisions.EvaluationResult) error {
	if r.NewHealth < decisions.MinHealth || r.NewHealth > decisions.MaxHealth {
		return fmt.Errorf("health %d out of range: %w", r.NewHealth, decisions.ErrInvalidResult)
	}
	if !r.NewLifecycle.Valid() || r.NewLifecycle.IsTerminal() {
		return fmt.Errorf("lifecycle %q not assignable by scoring: %w", r.NewLifecycle, decisions.ErrInvalidResult)
	}
	return nil
}

// EvaluateBatch evaluates ids sequentially in order. A failure is recorded in
// its outcome and never stops the remaining ids.
func (o *Orchestrator) EvaluateBatch(ctx context.Context, ids []string, force bool, asOf time.Time) BatchResult {
	if asOf.IsZero() {
		asOf = o.config.Now()
	}

	res := BatchResult{Outcomes: make([]Outcome, 0, len(ids))}
	for _, id := range ids {
		out, _ := o.EvaluateIfNeeded(ctx, id, force, asOf)
		switch out.Status {
		case StatusEvaluated:
			res.Evaluated++
		case StatusSkipped:
			res.Skipped++
		case StatusFailed:
			res.Failed++
		}
		res.Outcomes = append(res.Outcomes, out)
	}
	return res
}

func skipped(id string, reason Reason) Outcome {
	return Outcome{DecisionID: id, Status: StatusSkipped, Reason: reason}
}

func failed(id, op string, err error) (Outcome, error) {
	evalErr := decisions.NewEvaluationError(id, op, err)
	return Outcome{
		DecisionID: id,
		Status:     StatusFailed,
		ErrorKind:  evalErr.Kind,
		Error:      evalErr.Error(),
	}, evalErr
}
