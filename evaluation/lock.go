package evaluation

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

// Locker grants at most one in-flight evaluation per decision id. TryLock
// never blocks on contention: ok is false when another run holds the id.
type Locker interface {
	TryLock(ctx context.Context, decisionID string) (release func(), ok bool, err error)
}

// KeyedLocker is an in-process Locker
type KeyedLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedLocker creates an empty KeyedLocker
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{held: make(map[string]struct{})}
}

func (l *KeyedLocker) TryLock(ctx context.Context, decisionID string) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[decisionID]; busy {
		return nil, false, nil
	}
	l.held[decisionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, decisionID)
			l.mu.Unlock()
		})
	}, true, nil
}

// AdvisoryLocker uses postgres session advisory locks keyed by the hash of
// the decision id, so several server processes share one lock space. The
// lock is held on a dedicated pool connection until released.
type AdvisoryLocker struct {
	db *sqlx.DB
}

// NewAdvisoryLocker creates an AdvisoryLocker over db
func NewAdvisoryLocker(db *sqlx.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

func (l *AdvisoryLocker) TryLock(ctx context.Context, decisionID string) (func(), bool, error) {
	conn, err := l.db.Connx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection: %w", err)
	}

	var ok bool
	if err := conn.GetContext(ctx, &ok, `SELECT pg_try_advisory_lock(hashtext($1))`, decisionID); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be done; unlock must still run
			if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, decisionID); err != nil {
				logger.Warn("failed to release advisory lock", "decision_id", decisionID, "err", err)
			}
			conn.Close()
		})
	}, true, nil
}
