package decisions

import "time"

// Lifecycle is the state machine value of a decision
type Lifecycle string

const (
	Stable      Lifecycle = "STABLE"
	UnderReview Lifecycle = "UNDER_REVIEW"
	AtRisk      Lifecycle = "AT_RISK"
	Invalidated Lifecycle = "INVALIDATED"
	Retired     Lifecycle = "RETIRED"
)

// Valid reports whether l is one of the known lifecycle values
func (l Lifecycle) Valid() bool {
	switch l {
	case Stable, UnderReview, AtRisk, Invalidated, Retired:
		return true
	}
	return false
}

// IsTerminal reports whether no further evaluation may ever happen in l
func (l Lifecycle) IsTerminal() bool {
	return l == Retired
}

// AssumptionStatus is the current standing of an assumption
type AssumptionStatus string

const (
	AssumptionValid  AssumptionStatus = "VALID"
	AssumptionShaky  AssumptionStatus = "SHAKY"
	AssumptionBroken AssumptionStatus = "BROKEN"
)

func (s AssumptionStatus) Valid() bool {
	return s == AssumptionValid || s == AssumptionShaky || s == AssumptionBroken
}

// AssumptionScope controls whether an assumption needs an explicit link
type AssumptionScope string

const (
	// ScopeUniversal assumptions apply to every decision of the tenant
	ScopeUniversal        AssumptionScope = "UNIVERSAL"
	ScopeDecisionSpecific AssumptionScope = "DECISION_SPECIFIC"
)

func (s AssumptionScope) Valid() bool {
	return s == ScopeUniversal || s == ScopeDecisionSpecific
}

const (
	// MaxHealth is the health of a freshly created decision
	MaxHealth = 100
	MinHealth = 0
)

// Decision is the unit of evaluation
type Decision struct {
	ID              string     `json:"id" db:"id"`
	TenantID        string     `json:"tenantId" db:"tenant_id"`
	Title           string     `json:"title" db:"title"`
	Health          int        `json:"health" db:"health"`
	Lifecycle       Lifecycle  `json:"lifecycle" db:"lifecycle"`
	NeedsEvaluation bool       `json:"needsEvaluation" db:"needs_evaluation"`
	InvalidReason   *string    `json:"invalidatedReason,omitempty" db:"invalidated_reason"`
	LastEvaluatedAt *time.Time `json:"lastEvaluatedAt,omitempty" db:"last_evaluated_at"`
	LastReviewedAt  time.Time  `json:"lastReviewedAt" db:"last_reviewed_at"`
	ExpiryDate      *time.Time `json:"expiryDate,omitempty" db:"expiry_date"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
}

// NewDecision returns a decision in its creation state: STABLE, full health,
// clean and never evaluated.
func NewDecision(id, tenantID, title string, createdAt time.Time) *Decision {
	return &Decision{
		ID:             id,
		TenantID:       tenantID,
		Title:          title,
		Health:         MaxHealth,
		Lifecycle:      Stable,
		LastReviewedAt: createdAt,
		CreatedAt:      createdAt,
	}
}

// Assumption is a premise one or more decisions rest on
type Assumption struct {
	ID          string           `json:"id" db:"id"`
	TenantID    string           `json:"tenantId" db:"tenant_id"`
	Description string           `json:"description" db:"description"`
	Status      AssumptionStatus `json:"status" db:"status"`
	Scope       AssumptionScope  `json:"scope" db:"scope"`
	ValidatedAt *time.Time       `json:"validatedAt,omitempty" db:"validated_at"`
}

// Constraint is a read-only rule a decision must satisfy. RuleExpression is
// a CEL expression evaluated by the scoring engine.
type Constraint struct {
	ID             string `json:"id" db:"id"`
	TenantID       string `json:"tenantId" db:"tenant_id"`
	Name           string `json:"name" db:"name"`
	RuleExpression string `json:"ruleExpression" db:"rule_expression"`
	IsImmutable    bool   `json:"isImmutable" db:"is_immutable"`
}

// DependencyEdge means Source depends on Target. The graph may contain cycles.
type DependencyEdge struct {
	SourceDecisionID string `json:"sourceDecisionId" db:"source_decision_id"`
	TargetDecisionID string `json:"targetDecisionId" db:"target_decision_id"`
}

// EvaluationContext is assembled fresh for every evaluation run and never
// persisted as-is
type EvaluationContext struct {
	Decision     Decision
	Assumptions  []Assumption // linked ∪ universal, deduplicated by ID
	Constraints  []Constraint
	Dependencies []Decision // current stored state of dependency targets
	AsOf         time.Time
}

// EvaluationResult is the verdict of the scoring engine
type EvaluationResult struct {
	NewHealth         int       `json:"newHealth"`
	NewLifecycle      Lifecycle `json:"newLifecycle"`
	InvalidatedReason *string   `json:"invalidatedReason,omitempty"`
	ChangesDetected   bool      `json:"changesDetected"`
}

// DetectChanges sets ChangesDetected from the difference against the
// decision's previous verdict
func (r *EvaluationResult) DetectChanges(old Decision) {
	r.ChangesDetected = r.NewHealth != old.Health || r.NewLifecycle != old.Lifecycle
}
