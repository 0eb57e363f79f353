package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
)

// ErrTenantNotFound is returned for an unknown tenant id
var ErrTenantNotFound = errors.New("tenant not found")

// Settings are the per-tenant overrides of the evaluation defaults.
// Zero values mean "use the server default".
type Settings struct {
	StaleHours int `json:"staleHours" db:"stale_hours"`
	SweepLimit int `json:"sweepLimit" db:"sweep_limit"`
}

// Tenant is one isolated set of decisions
type Tenant struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	Settings
}

// Store persists tenants
type Store interface {
	List(ctx context.Context) ([]Tenant, error)
	Get(ctx context.Context, id string) (*Tenant, error)
	Save(ctx context.Context, t Tenant) error
}

// InMemoryStore implements Store using an in-memory map
type InMemoryStore struct {
	tenants map[string]Tenant
	mu      sync.RWMutex
}

// NewInMemoryStore creates an empty tenant store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tenants: make(map[string]Tenant)}
}

func (s *InMemoryStore) List(ctx context.Context) ([]Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrTenantNotFound)
	}
	return &t, nil
}

// Save inserts or replaces a tenant
func (s *InMemoryStore) Save(ctx context.Context, t Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
	return nil
}

// PostgresStore implements Store over the tenants table
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a tenant store over db
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) List(ctx context.Context) ([]Tenant, error) {
	var out []Tenant
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, name, stale_hours, sweep_limit
		FROM tenants
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	err := s.db.GetContext(ctx, &t, `
		SELECT id, name, stale_hours, sweep_limit
		FROM tenants
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrTenantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

// Save upserts a tenant. Zero settings fall back to the column defaults.
func (s *PostgresStore) Save(ctx context.Context, t Tenant) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tenants (id, name, stale_hours, sweep_limit)
		VALUES (:id, :name,
		        COALESCE(NULLIF(:stale_hours, 0), 24),
		        COALESCE(NULLIF(:sweep_limit, 0), 100))
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    stale_hours = EXCLUDED.stale_hours,
		    sweep_limit = EXCLUDED.sweep_limit,
		    updated_at = NOW()
	`, t)
	if err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	return nil
}
