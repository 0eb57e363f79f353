package decisions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultStaleHours is how long a verdict stays fresh without any event
	DefaultStaleHours = 24

	// DefaultExpiryWindow is the distance from the expiry date within which
	// decisions are rechecked daily
	DefaultExpiryWindow = 30 * 24 * time.Hour

	// DefaultExpiryCheckHours is the recheck interval inside the expiry window
	DefaultExpiryCheckHours = 24
)

// SweepQuery selects decisions whose verdict is presumed outdated, either
// because they are flagged dirty or because their staleness window elapsed.
type SweepQuery struct {
	TenantID         string
	StaleHours       int
	ExpiryWindow     time.Duration
	ExpiryCheckHours int
	AsOf             time.Time
	Limit            int
}

// Gateway is the persistence surface the evaluation core consumes
type Gateway interface {
	GetDecision(ctx context.Context, id string) (*Decision, error)
	GetAssumption(ctx context.Context, id string) (*Assumption, error)
	GetLinkedAssumptions(ctx context.Context, decisionID string) ([]Assumption, error)
	GetUniversalAssumptions(ctx context.Context, tenantID string) ([]Assumption, error)
	GetLinkedConstraints(ctx context.Context, decisionID string) ([]Constraint, error)

	// GetDependencyTargets returns the edges whose source is decisionID. The
	// targets are not resolved, so dangling edges are visible to the caller.
	GetDependencyTargets(ctx context.Context, decisionID string) ([]DependencyEdge, error)

	// UpdateDecisionAfterEvaluation writes the verdict, the evaluation time
	// and clears the dirty flag in one write. RETIRED decisions are refused.
	UpdateDecisionAfterEvaluation(ctx context.Context, id string, result EvaluationResult, evaluatedAt time.Time) error

	// MarkDirty sets the dirty flag on every non-retired decision in ids and
	// returns how many rows were marked.
	MarkDirty(ctx context.Context, ids []string) (int, error)

	// MarkTenantDirty flags every non-retired decision of a tenant
	MarkTenantDirty(ctx context.Context, tenantID string) (int, error)

	ListDecisionsNeedingEvaluation(ctx context.Context, q SweepQuery) ([]string, error)
	ListDecisionsLinkedToAssumption(ctx context.Context, assumptionID string) ([]string, error)
	ListDependents(ctx context.Context, decisionID string) ([]string, error)
}

// Writer holds the record-management operations used by the API and tests.
// The evaluation core never calls it.
type Writer interface {
	CreateDecision(ctx context.Context, d *Decision) error
	RetireDecision(ctx context.Context, id string) error
	CreateAssumption(ctx context.Context, a *Assumption) error
	SetAssumptionStatus(ctx context.Context, id string, status AssumptionStatus, validatedAt time.Time) error
	CreateConstraint(ctx context.Context, c *Constraint) error
	LinkAssumption(ctx context.Context, decisionID, assumptionID string) error
	LinkConstraint(ctx context.Context, decisionID, constraintID string) error
	AddDependency(ctx context.Context, edge DependencyEdge) error
}

// Store is a Gateway that can also manage records
type Store interface {
	Gateway
	Writer
}

type link struct {
	decisionID string
	otherID    string
}

// InMemoryStore implements Store using in-memory maps.
// Thread-safe with RWMutex; every returned value is a copy.
type InMemoryStore struct {
	decisions   map[string]Decision
	assumptions map[string]Assumption
	constraints map[string]Constraint
	assumpLinks map[link]struct{}
	constLinks  map[link]struct{}
	edges       map[DependencyEdge]struct{}
	mu          sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		decisions:   make(map[string]Decision),
		assumptions: make(map[string]Assumption),
		constraints: make(map[string]Constraint),
		assumpLinks: make(map[link]struct{}),
		constLinks:  make(map[link]struct{}),
		edges:       make(map[DependencyEdge]struct{}),
	}
}

func (s *InMemoryStore) GetDecision(ctx context.Context, id string) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.decisions[id]
	if !ok {
		return nil, notFound("decision", id)
	}
	return &d, nil
}

func (s *InMemoryStore) GetAssumption(ctx context.Context, id string) (*Assumption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assumptions[id]
	if !ok {
		return nil, notFound("assumption", id)
	}
	return &a, nil
}

func (s *InMemoryStore) GetLinkedAssumptions(ctx context.Context, decisionID string) ([]Assumption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Assumption
	for l := range s.assumpLinks {
		if l.decisionID != decisionID {
			continue
		}
		if a, ok := s.assumptions[l.otherID]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) GetUniversalAssumptions(ctx context.Context, tenantID string) ([]Assumption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Assumption
	for _, a := range s.assumptions {
		if a.TenantID == tenantID && a.Scope == ScopeUniversal {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) GetLinkedConstraints(ctx context.Context, decisionID string) ([]Constraint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Constraint
	for l := range s.constLinks {
		if l.decisionID != decisionID {
			continue
		}
		if c, ok := s.constraints[l.otherID]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) GetDependencyTargets(ctx context.Context, decisionID string) ([]DependencyEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DependencyEdge
	for e := range s.edges {
		if e.SourceDecisionID == decisionID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetDecisionID < out[j].TargetDecisionID })
	return out, nil
}

func (s *InMemoryStore) UpdateDecisionAfterEvaluation(ctx context.Context, id string, result EvaluationResult, evaluatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.decisions[id]
	if !ok {
		return notFound("decision", id)
	}
	if d.Lifecycle.IsTerminal() {
		return fmt.Errorf("decision %s: %w", id, ErrTerminal)
	}

	at := evaluatedAt
	d.Health = result.NewHealth
	d.Lifecycle = result.NewLifecycle
	d.InvalidReason = result.InvalidatedReason
	d.LastEvaluatedAt = &at
	d.NeedsEvaluation = false
	s.decisions[id] = d
	return nil
}

func (s *InMemoryStore) MarkDirty(ctx context.Context, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		d, ok := s.decisions[id]
		if !ok || d.Lifecycle.IsTerminal() {
			continue
		}
		d.NeedsEvaluation = true
		s.decisions[id] = d
		marked++
	}
	return marked, nil
}

func (s *InMemoryStore) MarkTenantDirty(ctx context.Context, tenantID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for id, d := range s.decisions {
		if d.TenantID != tenantID || d.Lifecycle.IsTerminal() {
			continue
		}
		d.NeedsEvaluation = true
		s.decisions[id] = d
		marked++
	}
	return marked, nil
}

// ListDecisionsNeedingEvaluation mirrors the SQL pre-filter of the postgres
// store: dirty first, then never evaluated, then oldest evaluation.
func (s *InMemoryStore) ListDecisionsNeedingEvaluation(ctx context.Context, q SweepQuery) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	staleBefore := q.AsOf.Add(-time.Duration(q.StaleHours) * time.Hour)
	checkBefore := q.AsOf.Add(-time.Duration(q.ExpiryCheckHours) * time.Hour)

	var due []Decision
	for _, d := range s.decisions {
		if d.TenantID != q.TenantID || d.Lifecycle.IsTerminal() {
			continue
		}
		switch {
		case d.NeedsEvaluation, d.LastEvaluatedAt == nil:
		case d.LastEvaluatedAt.Before(staleBefore):
		case d.ExpiryDate != nil &&
			!q.AsOf.Before(d.ExpiryDate.Add(-q.ExpiryWindow)) &&
			!q.AsOf.After(d.ExpiryDate.Add(q.ExpiryWindow)) &&
			d.LastEvaluatedAt.Before(checkBefore):
		default:
			continue
		}
		due = append(due, d)
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.NeedsEvaluation != b.NeedsEvaluation {
			return a.NeedsEvaluation
		}
		if (a.LastEvaluatedAt == nil) != (b.LastEvaluatedAt == nil) {
			return a.LastEvaluatedAt == nil
		}
		if a.LastEvaluatedAt != nil && !a.LastEvaluatedAt.Equal(*b.LastEvaluatedAt) {
			return a.LastEvaluatedAt.Before(*b.LastEvaluatedAt)
		}
		return a.ID < b.ID
	})

	if q.Limit > 0 && len(due) > q.Limit {
		due = due[:q.Limit]
	}
	ids := make([]string, len(due))
	for i, d := range due {
		ids[i] = d.ID
	}
	return ids, nil
}

func (s *InMemoryStore) ListDecisionsLinkedToAssumption(ctx context.Context, assumptionID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for l := range s.assumpLinks {
		if l.otherID == assumptionID {
			ids = append(ids, l.decisionID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) ListDependents(ctx context.Context, decisionID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for e := range s.edges {
		if e.TargetDecisionID == decisionID {
			ids = append(ids, e.SourceDecisionID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CreateDecision adds a decision. The record is stored as given so tests can
// seed arbitrary states; use NewDecision for creation defaults.
func (s *InMemoryStore) CreateDecision(ctx context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.decisions[d.ID]; exists {
		return alreadyExists("decision", d.ID)
	}
	s.decisions[d.ID] = *d
	return nil
}

// RetireDecision moves a decision into the terminal state and clears its flag
func (s *InMemoryStore) RetireDecision(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.decisions[id]
	if !ok {
		return notFound("decision", id)
	}
	d.Lifecycle = Retired
	d.NeedsEvaluation = false
	s.decisions[id] = d
	return nil
}

func (s *InMemoryStore) CreateAssumption(ctx context.Context, a *Assumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assumptions[a.ID]; exists {
		return alreadyExists("assumption", a.ID)
	}
	s.assumptions[a.ID] = *a
	return nil
}

func (s *InMemoryStore) SetAssumptionStatus(ctx context.Context, id string, status AssumptionStatus, validatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assumptions[id]
	if !ok {
		return notFound("assumption", id)
	}
	at := validatedAt
	a.Status = status
	a.ValidatedAt = &at
	s.assumptions[id] = a
	return nil
}

func (s *InMemoryStore) CreateConstraint(ctx context.Context, c *Constraint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.constraints[c.ID]; exists {
		return alreadyExists("constraint", c.ID)
	}
	s.constraints[c.ID] = *c
	return nil
}

func (s *InMemoryStore) LinkAssumption(ctx context.Context, decisionID, assumptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.decisions[decisionID]; !ok {
		return notFound("decision", decisionID)
	}
	if _, ok := s.assumptions[assumptionID]; !ok {
		return notFound("assumption", assumptionID)
	}
	s.assumpLinks[link{decisionID: decisionID, otherID: assumptionID}] = struct{}{}
	return nil
}

func (s *InMemoryStore) LinkConstraint(ctx context.Context, decisionID, constraintID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.decisions[decisionID]; !ok {
		return notFound("decision", decisionID)
	}
	if _, ok := s.constraints[constraintID]; !ok {
		return notFound("constraint", constraintID)
	}
	s.constLinks[link{decisionID: decisionID, otherID: constraintID}] = struct{}{}
	return nil
}

// AddDependency records that edge.Source depends on edge.Target. The target
// is not required to exist, mirroring a dangling edge left behind by an
// external delete.
func (s *InMemoryStore) AddDependency(ctx context.Context, edge DependencyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.decisions[edge.SourceDecisionID]; !ok {
		return notFound("decision", edge.SourceDecisionID)
	}
	s.edges[edge] = struct{}{}
	return nil
}
