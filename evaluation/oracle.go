package evaluation

import (
	"sync/atomic"
	"time"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
)

// Reason explains a staleness verdict
type Reason string

const (
	ReasonTerminalState  Reason = "terminal_state"
	ReasonExplicitFlag   Reason = "explicit_flag"
	ReasonNeverEvaluated Reason = "never_evaluated"
	ReasonStale          Reason = "stale"
	ReasonExpiryWindow   Reason = "expiry_window"
	ReasonFresh          Reason = "fresh"

	// ReasonLocked is reported by the orchestrator, never by the oracle,
	// when another run holds the decision
	ReasonLocked Reason = "locked"
)

// Verdict is the oracle's answer for one decision
type Verdict struct {
	Required       bool   `json:"required"`
	Reason         Reason `json:"reason"`
	HoursSinceEval *int   `json:"hoursSinceEval,omitempty"`
}

// OracleConfig holds the staleness thresholds
type OracleConfig struct {
	StaleHours       int
	ExpiryWindow     time.Duration
	ExpiryCheckHours int
}

// DefaultOracleConfig returns the 24h staleness window and a daily check
// within 30 days either side of expiry
func DefaultOracleConfig() OracleConfig {
	return OracleConfig{
		StaleHours:       decisions.DefaultStaleHours,
		ExpiryWindow:     decisions.DefaultExpiryWindow,
		ExpiryCheckHours: decisions.DefaultExpiryCheckHours,
	}
}

func (c OracleConfig) withDefaults() OracleConfig {
	d := DefaultOracleConfig()
	if c.StaleHours <= 0 {
		c.StaleHours = d.StaleHours
	}
	if c.ExpiryWindow <= 0 {
		c.ExpiryWindow = d.ExpiryWindow
	}
	if c.ExpiryCheckHours <= 0 {
		c.ExpiryCheckHours = d.ExpiryCheckHours
	}
	return c
}

// Oracle decides whether a decision needs rescoring. It holds no state but
// its thresholds, which can be swapped at runtime.
type Oracle struct {
	config atomic.Pointer[OracleConfig]
}

// NewOracle creates an Oracle; zero fields of config take their defaults
func NewOracle(config OracleConfig) *Oracle {
	o := &Oracle{}
	o.SetConfig(config)
	return o
}

// SetConfig replaces the thresholds
func (o *Oracle) SetConfig(config OracleConfig) {
	c := config.withDefaults()
	o.config.Store(&c)
}

// Config returns the thresholds in effect
func (o *Oracle) Config() OracleConfig {
	return *o.config.Load()
}

// NeedsEvaluation applies the rules in priority order, first match wins:
// terminal state, explicit flag, never evaluated, stale, expiry window, fresh.
// The explicit flag is checked before any time rule so a cascaded change is
// never shadowed by a recent evaluation.
func (o *Oracle) NeedsEvaluation(d decisions.Decision, now time.Time) Verdict {
	cfg := o.Config()

	if d.Lifecycle.IsTerminal() {
		return Verdict{Required: false, Reason: ReasonTerminalState}
	}
	if d.NeedsEvaluation {
		return Verdict{Required: true, Reason: ReasonExplicitFlag}
	}
	if d.LastEvaluatedAt == nil {
		return Verdict{Required: true, Reason: ReasonNeverEvaluated}
	}

	elapsed := now.Sub(*d.LastEvaluatedAt)
	hours := int(elapsed / time.Hour)

	if elapsed > time.Duration(cfg.StaleHours)*time.Hour {
		return Verdict{Required: true, Reason: ReasonStale, HoursSinceEval: &hours}
	}

	if d.ExpiryDate != nil && inExpiryWindow(*d.ExpiryDate, now, cfg.ExpiryWindow) &&
		elapsed > time.Duration(cfg.ExpiryCheckHours)*time.Hour {
		return Verdict{Required: true, Reason: ReasonExpiryWindow, HoursSinceEval: &hours}
	}

	return Verdict{Required: false, Reason: ReasonFresh, HoursSinceEval: &hours}
}

// SweepQuery builds the gateway pre-filter matching this oracle's thresholds
func (o *Oracle) SweepQuery(tenantID string, asOf time.Time, limit int) decisions.SweepQuery {
	cfg := o.Config()
	return decisions.SweepQuery{
		TenantID:         tenantID,
		StaleHours:       cfg.StaleHours,
		ExpiryWindow:     cfg.ExpiryWindow,
		ExpiryCheckHours: cfg.ExpiryCheckHours,
		AsOf:             asOf,
		Limit:            limit,
	}
}

func inExpiryWindow(expiry, now time.Time, window time.Duration) bool {
	return !now.Before(expiry.Add(-window)) && !now.After(expiry.Add(window))
}
