package scoring

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
)

// Weights are the health deductions applied per finding
type Weights struct {
	BrokenAssumption      int
	ShakyAssumption       int
	ViolatedConstraint    int
	ViolatedImmutable     int
	InvalidatedDependency int
	AtRiskDependency      int
	PastExpiry            int
}

// DefaultWeights returns the standard deduction table
func DefaultWeights() Weights {
	return Weights{
		BrokenAssumption:      30,
		ShakyAssumption:       10,
		ViolatedConstraint:    15,
		ViolatedImmutable:     40,
		InvalidatedDependency: 25,
		AtRiskDependency:      10,
		PastExpiry:            20,
	}
}

// Lower bounds of the lifecycle bands. Health below AtRiskFloor is INVALIDATED.
const (
	StableFloor      = 80
	UnderReviewFloor = 60
	AtRiskFloor      = 40
)

// costLimit caps runaway constraint expressions
const costLimit = 1000000

// Engine is the default scoring engine. Constraint expressions are CEL
// programs, compiled once per distinct expression and cached.
//
// Engine is deterministic: the only time it reads is the context's AsOf.
type Engine struct {
	env      *cel.Env
	weights  Weights
	programs map[string]cel.Program // expression -> compiled program
	mu       sync.RWMutex
}

// NewEngine creates an engine with the default weights
func NewEngine() (*Engine, error) {
	return NewEngineWithWeights(DefaultWeights())
}

// NewEngineWithWeights creates an engine with a custom deduction table
func NewEngineWithWeights(weights Weights) (*Engine, error) {
	env, err := NewEnv()
	if err != nil {
		return nil, err
	}
	return &Engine{
		env:      env,
		weights:  weights,
		programs: make(map[string]cel.Program),
	}, nil
}

// NewEnv declares the facts a constraint expression can reference
func NewEnv() (*cel.Env, error) {
	fact := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable("decision", fact),
		cel.Variable("assumptions", cel.ListType(fact)),
		cel.Variable("dependencies", cel.ListType(fact)),
		cel.Variable("asOf", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// Compile returns the cached program for expression, compiling it on first use
func (en *Engine) Compile(expression string) (cel.Program, error) {
	en.mu.RLock()
	prog, ok := en.programs[expression]
	en.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := en.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", out)
	}

	prog, err := en.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	en.mu.Lock()
	en.programs[expression] = prog
	en.mu.Unlock()
	return prog, nil
}

// ValidateExpression reports whether expression compiles to a boolean program
func (en *Engine) ValidateExpression(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return fmt.Errorf("expression cannot be empty")
	}
	_, err := en.Compile(expression)
	return err
}

// finding is one cause of a health deduction
type finding struct {
	penalty    int
	reason     string
	invalidate bool
}

// Evaluate scores ec. Constraint failures of any kind (compile error,
// runtime error, non-boolean result) count as violations. Only a cancelled
// ctx makes Evaluate return an error.
func (en *Engine) Evaluate(ctx context.Context, ec decisions.EvaluationContext) (decisions.EvaluationResult, error) {
	facts := Facts(ec)
	var findings []finding

	for _, a := range ec.Assumptions {
		switch a.Status {
		case decisions.AssumptionBroken:
			findings = append(findings, finding{penalty: en.weights.BrokenAssumption, reason: fmt.Sprintf("assumption %s is broken", a.ID)})
		case decisions.AssumptionShaky:
			findings = append(findings, finding{penalty: en.weights.ShakyAssumption, reason: fmt.Sprintf("assumption %s is shaky", a.ID)})
		}
	}

	constraints := append([]decisions.Constraint(nil), ec.Constraints...)
	sort.Slice(constraints, func(i, j int) bool { return constraints[i].ID < constraints[j].ID })
	for _, c := range constraints {
		ok, err := en.check(ctx, c, facts)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return decisions.EvaluationResult{}, ctxErr
		}
		if ok {
			continue
		}
		f := finding{penalty: en.weights.ViolatedConstraint, reason: fmt.Sprintf("constraint %s violated", c.Name)}
		if c.IsImmutable {
			f = finding{penalty: en.weights.ViolatedImmutable, reason: fmt.Sprintf("immutable constraint %s violated", c.Name), invalidate: true}
		}
		if err != nil {
			f.reason += ": " + err.Error()
		}
		findings = append(findings, f)
	}

	for _, d := range ec.Dependencies {
		switch d.Lifecycle {
		case decisions.Invalidated:
			findings = append(findings, finding{penalty: en.weights.InvalidatedDependency, reason: fmt.Sprintf("dependency %s is invalidated", d.ID)})
		case decisions.AtRisk:
			findings = append(findings, finding{penalty: en.weights.AtRiskDependency, reason: fmt.Sprintf("dependency %s is at risk", d.ID)})
		}
	}

	if exp := ec.Decision.ExpiryDate; exp != nil && exp.Before(ec.AsOf) {
		findings = append(findings, finding{penalty: en.weights.PastExpiry, reason: "decision is past its expiry date"})
	}

	return en.verdict(ec.Decision, findings), nil
}

func (en *Engine) check(ctx context.Context, c decisions.Constraint, facts map[string]any) (bool, error) {
	prog, err := en.Compile(c.RuleExpression)
	if err != nil {
		return false, err
	}
	out, _, err := prog.ContextEval(ctx, facts)
	if err != nil {
		return false, err
	}
	matched, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("non-boolean result %v", out.Value())
	}
	return matched, nil
}

func (en *Engine) verdict(old decisions.Decision, findings []finding) decisions.EvaluationResult {
	health := decisions.MaxHealth
	for _, f := range findings {
		health -= f.penalty
	}
	if health < decisions.MinHealth {
		health = decisions.MinHealth
	}

	result := decisions.EvaluationResult{NewHealth: health, NewLifecycle: Band(health)}

	for _, f := range findings {
		if f.invalidate {
			result.NewLifecycle = decisions.Invalidated
			reason := f.reason
			result.InvalidatedReason = &reason
			break
		}
	}
	if result.NewLifecycle == decisions.Invalidated && result.InvalidatedReason == nil {
		reason := "health fell below the invalidation threshold"
		if len(findings) > 0 {
			reason = findings[0].reason
		}
		result.InvalidatedReason = &reason
	}

	result.DetectChanges(old)
	return result
}

// Band maps a health value onto its lifecycle
func Band(health int) decisions.Lifecycle {
	switch {
	case health >= StableFloor:
		return decisions.Stable
	case health >= UnderReviewFloor:
		return decisions.UnderReview
	case health >= AtRiskFloor:
		return decisions.AtRisk
	default:
		return decisions.Invalidated
	}
}
