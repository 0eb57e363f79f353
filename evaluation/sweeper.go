package evaluation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

// ServiceSource lists the tenant services a Sweeper visits
type ServiceSource interface {
	Services() []*Service
}

// SweepConfig configures a Sweeper
type SweepConfig struct {
	Interval time.Duration
	Limit    int
}

// DefaultSweepConfig sweeps every 15 minutes, 100 decisions per tenant
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{Interval: 15 * time.Minute, Limit: 100}
}

// Sweeper periodically evaluates decisions whose staleness window elapsed
// without any event marking them
type Sweeper struct {
	source ServiceSource
	config atomic.Pointer[SweepConfig]
	reset  chan struct{}
}

// NewSweeper creates a Sweeper over source
func NewSweeper(source ServiceSource, config SweepConfig) *Sweeper {
	s := &Sweeper{source: source, reset: make(chan struct{}, 1)}
	s.SetConfig(config)
	return s
}

// SetConfig replaces the sweep settings; a running loop picks up the new
// interval on its next tick
func (s *Sweeper) SetConfig(config SweepConfig) {
	d := DefaultSweepConfig()
	if config.Interval <= 0 {
		config.Interval = d.Interval
	}
	if config.Limit <= 0 {
		config.Limit = d.Limit
	}
	s.config.Store(&config)

	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// SweepOnce runs one pass over every tenant and returns the merged counts.
// A failing tenant is logged and does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context, asOf time.Time) BatchResult {
	cfg := s.config.Load()

	var total BatchResult
	for _, svc := range s.source.Services() {
		if ctx.Err() != nil {
			break
		}
		limit := cfg.Limit
		if svc.SweepLimit > 0 {
			limit = svc.SweepLimit
		}
		res, err := svc.EvaluateDue(ctx, asOf, limit)
		if err != nil {
			logger.Warn("sweep failed", "tenant_id", svc.TenantID, "err", err)
			continue
		}
		total.Evaluated += res.Evaluated
		total.Skipped += res.Skipped
		total.Failed += res.Failed
		total.Outcomes = append(total.Outcomes, res.Outcomes...)
	}

	logger.SweepsCompleted.Add(1)
	logger.Info("sweep completed",
		"evaluated", total.Evaluated,
		"skipped", total.Skipped,
		"failed", total.Failed,
	)
	return total
}

// Run sweeps on every tick. Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.config.Load().Interval
	t := time.NewTicker(interval)
	defer t.Stop()

	logger.Info("sweeper started", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reset:
			if next := s.config.Load().Interval; next != interval {
				interval = next
				t.Reset(interval)
				logger.Info("sweep interval changed", "interval", interval.String())
			}
		case <-t.C:
			// a zero asOf lets each tenant use its own clock
			s.SweepOnce(ctx, time.Time{})
		}
	}
}
