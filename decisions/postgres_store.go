package decisions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const decisionColumns = `id, tenant_id, title, health, lifecycle, needs_evaluation, invalidated_reason,
	last_evaluated_at, last_reviewed_at, expiry_date, created_at`

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgreSQL-backed Store
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetDecision(ctx context.Context, id string) (*Decision, error) {
	var d Decision
	err := s.db.GetContext(ctx, &d, `SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("decision", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) GetAssumption(ctx context.Context, id string) (*Assumption, error) {
	var a Assumption
	err := s.db.GetContext(ctx, &a, `
		SELECT id, tenant_id, description, status, scope, validated_at
		FROM assumptions
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("assumption", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assumption: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) GetLinkedAssumptions(ctx context.Context, decisionID string) ([]Assumption, error) {
	var out []Assumption
	err := s.db.SelectContext(ctx, &out, `
		SELECT a.id, a.tenant_id, a.description, a.status, a.scope, a.validated_at
		FROM assumptions a
		JOIN decision_assumptions da ON da.assumption_id = a.id
		WHERE da.decision_id = $1
		ORDER BY a.id
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked assumptions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetUniversalAssumptions(ctx context.Context, tenantID string) ([]Assumption, error) {
	var out []Assumption
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, tenant_id, description, status, scope, validated_at
		FROM assumptions
		WHERE tenant_id = $1 AND scope = $2
		ORDER BY id
	`, tenantID, ScopeUniversal)
	if err != nil {
		return nil, fmt.Errorf("failed to list universal assumptions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetLinkedConstraints(ctx context.Context, decisionID string) ([]Constraint, error) {
	var out []Constraint
	err := s.db.SelectContext(ctx, &out, `
		SELECT c.id, c.tenant_id, c.name, c.rule_expression, c.is_immutable
		FROM constraints c
		JOIN decision_constraints dc ON dc.constraint_id = c.id
		WHERE dc.decision_id = $1
		ORDER BY c.id
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked constraints: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetDependencyTargets(ctx context.Context, decisionID string) ([]DependencyEdge, error) {
	var out []DependencyEdge
	err := s.db.SelectContext(ctx, &out, `
		SELECT source_decision_id, target_decision_id
		FROM decision_dependencies
		WHERE source_decision_id = $1
		ORDER BY target_decision_id
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependency targets: %w", err)
	}
	return out, nil
}

// UpdateDecisionAfterEvaluation is a single UPDATE so the verdict and the
// cleared flag become visible together
func (s *PostgresStore) UpdateDecisionAfterEvaluation(ctx context.Context, id string, result EvaluationResult, evaluatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions
		SET health = $1, lifecycle = $2, invalidated_reason = $3,
		    last_evaluated_at = $4, needs_evaluation = false
		WHERE id = $5 AND lifecycle <> $6
	`, result.NewHealth, result.NewLifecycle, result.InvalidatedReason, evaluatedAt, id, Retired)
	if err != nil {
		return fmt.Errorf("failed to update decision: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetDecision(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("decision %s: %w", id, ErrTerminal)
	}
	return nil
}

// MarkDirty is one conditional bulk write; concurrent callers commute
func (s *PostgresStore) MarkDirty(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions
		SET needs_evaluation = true
		WHERE id = ANY($1) AND lifecycle <> $2
	`, pq.Array(ids), Retired)
	if err != nil {
		return 0, fmt.Errorf("failed to mark decisions dirty: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

func (s *PostgresStore) MarkTenantDirty(ctx context.Context, tenantID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions
		SET needs_evaluation = true
		WHERE tenant_id = $1 AND lifecycle <> $2
	`, tenantID, Retired)
	if err != nil {
		return 0, fmt.Errorf("failed to mark tenant decisions dirty: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

func (s *PostgresStore) ListDecisionsNeedingEvaluation(ctx context.Context, q SweepQuery) ([]string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	staleBefore := q.AsOf.Add(-time.Duration(q.StaleHours) * time.Hour)
	checkBefore := q.AsOf.Add(-time.Duration(q.ExpiryCheckHours) * time.Hour)

	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id
		FROM decisions
		WHERE tenant_id = $1
		  AND lifecycle <> $2
		  AND (
		        needs_evaluation
		     OR last_evaluated_at IS NULL
		     OR last_evaluated_at < $3
		     OR (expiry_date IS NOT NULL
		         AND $4 BETWEEN expiry_date - make_interval(secs => $5) AND expiry_date + make_interval(secs => $5)
		         AND last_evaluated_at < $6)
		  )
		ORDER BY needs_evaluation DESC, last_evaluated_at ASC NULLS FIRST, id
		LIMIT $7
	`, q.TenantID, Retired, staleBefore, q.AsOf, q.ExpiryWindow.Seconds(), checkBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions needing evaluation: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListDecisionsLinkedToAssumption(ctx context.Context, assumptionID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT decision_id FROM decision_assumptions WHERE assumption_id = $1 ORDER BY decision_id
	`, assumptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions linked to assumption: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListDependents(ctx context.Context, decisionID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT source_decision_id FROM decision_dependencies WHERE target_decision_id = $1 ORDER BY source_decision_id
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependents: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) CreateDecision(ctx context.Context, d *Decision) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO decisions (`+decisionColumns+`)
		VALUES (:id, :tenant_id, :title, :health, :lifecycle, :needs_evaluation, :invalidated_reason,
		        :last_evaluated_at, :last_reviewed_at, :expiry_date, :created_at)
	`, d)
	if err != nil {
		return insertError("decision", d.ID, err)
	}
	return nil
}

func (s *PostgresStore) RetireDecision(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET lifecycle = $1, needs_evaluation = false WHERE id = $2
	`, Retired, id)
	if err != nil {
		return fmt.Errorf("failed to retire decision: %w", err)
	}
	return expectRow(res, "decision", id)
}

func (s *PostgresStore) CreateAssumption(ctx context.Context, a *Assumption) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO assumptions (id, tenant_id, description, status, scope, validated_at)
		VALUES (:id, :tenant_id, :description, :status, :scope, :validated_at)
	`, a)
	if err != nil {
		return insertError("assumption", a.ID, err)
	}
	return nil
}

func (s *PostgresStore) SetAssumptionStatus(ctx context.Context, id string, status AssumptionStatus, validatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE assumptions SET status = $1, validated_at = $2 WHERE id = $3
	`, status, validatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update assumption: %w", err)
	}
	return expectRow(res, "assumption", id)
}

func (s *PostgresStore) CreateConstraint(ctx context.Context, c *Constraint) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO constraints (id, tenant_id, name, rule_expression, is_immutable)
		VALUES (:id, :tenant_id, :name, :rule_expression, :is_immutable)
	`, c)
	if err != nil {
		return insertError("constraint", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) LinkAssumption(ctx context.Context, decisionID, assumptionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_assumptions (decision_id, assumption_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, decisionID, assumptionID)
	if err != nil {
		return linkError("failed to link assumption", err)
	}
	return nil
}

func (s *PostgresStore) LinkConstraint(ctx context.Context, decisionID, constraintID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_constraints (decision_id, constraint_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, decisionID, constraintID)
	if err != nil {
		return linkError("failed to link constraint", err)
	}
	return nil
}

func (s *PostgresStore) AddDependency(ctx context.Context, edge DependencyEdge) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO decision_dependencies (source_decision_id, target_decision_id)
		VALUES (:source_decision_id, :target_decision_id)
		ON CONFLICT DO NOTHING
	`, edge)
	if err != nil {
		return linkError("failed to add dependency", err)
	}
	return nil
}

func expectRow(res sql.Result, kind, id string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound(kind, id)
	}
	return nil
}

// insertError maps a unique violation onto ErrAlreadyExists and a missing
// tenant onto ErrNotFound
func insertError(kind, id string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return alreadyExists(kind, id)
		case "23503":
			return fmt.Errorf("failed to insert %s %s: %s: %w", kind, id, pqErr.Constraint, ErrNotFound)
		}
	}
	return fmt.Errorf("failed to insert %s: %w", kind, err)
}

// linkError maps a foreign key violation onto ErrNotFound
func linkError(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return fmt.Errorf("%s: %s: %w", msg, pqErr.Constraint, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
