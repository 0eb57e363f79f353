package tenants

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
	"github.com/adityaaa08012006/decivue-sub006/evaluation"
	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

// tenantService pairs a tenant record with its evaluation service
type tenantService struct {
	Tenant  Tenant
	Service *evaluation.Service
}

// Manager owns one evaluation service per tenant. Services share the
// gateway, scorer and locker; each has its own oracle thresholds and bus.
type Manager struct {
	store   Store
	gateway decisions.Gateway
	scorer  evaluation.Scorer
	base    evaluation.ServiceConfig
	hooks   []func(*evaluation.Service)

	services map[string]*tenantService
	mu       sync.RWMutex
}

// NewManager creates a manager. base supplies the defaults a tenant's
// settings override.
func NewManager(store Store, gateway decisions.Gateway, scorer evaluation.Scorer, base evaluation.ServiceConfig) *Manager {
	return &Manager{
		store:    store,
		gateway:  gateway,
		scorer:   scorer,
		base:     base,
		services: make(map[string]*tenantService),
	}
}

// OnServiceCreated registers fn to run for every service the manager builds,
// including rebuilt ones. Register hooks before LoadAll.
func (m *Manager) OnServiceCreated(fn func(*evaluation.Service)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *Manager) build(t Tenant) *evaluation.Service {
	cfg := m.base
	if t.StaleHours > 0 {
		cfg.Oracle.StaleHours = t.StaleHours
	}
	if t.SweepLimit > 0 {
		cfg.SweepLimit = t.SweepLimit
	}
	svc := evaluation.NewService(t.ID, m.gateway, m.scorer, cfg)
	for _, fn := range m.hooks {
		fn(svc)
	}
	return svc
}

// LoadAll loads every tenant from the store and builds its service
func (m *Manager) LoadAll(ctx context.Context) error {
	list, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch tenants: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*tenantService, len(list))
	for _, t := range list {
		if err := ValidateTenant(t); err != nil {
			return fmt.Errorf("invalid settings for tenant %s: %w", t.ID, err)
		}
		next[t.ID] = &tenantService{Tenant: t, Service: m.build(t)}
	}
	m.services = next

	logger.Info("tenants loaded", "count", len(next))
	return nil
}

// CreateTenant validates and stores t, then builds its service. An existing
// tenant is replaced with the new settings.
func (m *Manager) CreateTenant(ctx context.Context, t Tenant) (*evaluation.Service, error) {
	if err := ValidateTenant(t); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, t); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	svc := m.build(t)
	m.services[t.ID] = &tenantService{Tenant: t, Service: svc}
	return svc, nil
}

// Get returns the evaluation service of tenantID
func (m *Manager) Get(tenantID string) (*evaluation.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ts, ok := m.services[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	return ts.Service, nil
}

// Tenant returns the loaded record of tenantID
func (m *Manager) Tenant(tenantID string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ts, ok := m.services[tenantID]
	if !ok {
		return Tenant{}, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	return ts.Tenant, nil
}

// List returns the loaded tenant ids in order
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.services))
	for id := range m.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Services returns every loaded service ordered by tenant id; it lets the
// manager feed a Sweeper
func (m *Manager) Services() []*evaluation.Service {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*evaluation.Service, 0, len(m.services))
	for _, ts := range m.services {
		out = append(out, ts.Service)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// SetDefaults replaces the base configuration and rebuilds every service.
// Callers holding an old service keep using it until they call Get again.
func (m *Manager) SetDefaults(base evaluation.ServiceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.base = base
	for id, ts := range m.services {
		m.services[id] = &tenantService{Tenant: ts.Tenant, Service: m.build(ts.Tenant)}
	}
	logger.Info("tenant services rebuilt", "count", len(m.services))
}

// Reload re-reads the tenant table, rebuilding services whose settings
// changed and adding new tenants
func (m *Manager) Reload(ctx context.Context) error {
	list, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch tenants: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rebuilt := 0
	for _, t := range list {
		if err := ValidateTenant(t); err != nil {
			logger.Warn("skipping tenant with invalid settings", "tenant_id", t.ID, "err", err)
			continue
		}
		if ts, ok := m.services[t.ID]; ok && ts.Tenant == t {
			continue
		}
		m.services[t.ID] = &tenantService{Tenant: t, Service: m.build(t)}
		rebuilt++
	}

	logger.Info("tenants reloaded", "total", len(m.services), "rebuilt", rebuilt)
	return nil
}
