// Package notify posts lifecycle alerts to webhooks when a re-evaluation
// moves a decision into a different lifecycle state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
	"github.com/adityaaa08012006/decivue-sub006/evaluation"
	"github.com/adityaaa08012006/decivue-sub006/internal/config"
	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

const (
	DefaultQueueSize = 256
	defaultTimeout   = 10 * time.Second
)

// Alert is the payload delivered for one lifecycle transition
type Alert struct {
	TenantID     string              `json:"tenantId"`
	DecisionID   string              `json:"decisionId"`
	OldLifecycle decisions.Lifecycle `json:"oldLifecycle"`
	NewLifecycle decisions.Lifecycle `json:"newLifecycle"`
	OldHealth    int                 `json:"oldHealth"`
	NewHealth    int                 `json:"newHealth"`
	OccurredAt   time.Time           `json:"occurredAt"`
}

func (a Alert) message() string {
	return fmt.Sprintf("Decision %s (%s) moved from %s to %s, health %d -> %d",
		a.DecisionID, a.TenantID, a.OldLifecycle, a.NewLifecycle, a.OldHealth, a.NewHealth)
}

// Notifier queues alerts and delivers them from a single background worker.
// When the queue is full new alerts are dropped and logged.
type Notifier struct {
	webhooks []config.WebhookConfig
	client   *http.Client
	queue    chan Alert

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New starts a Notifier delivering to webhooks. queueSize <= 0 uses
// DefaultQueueSize. Call Close to drain and stop it.
func New(webhooks []config.WebhookConfig, client *http.Client, queueSize int) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	n := &Notifier{
		webhooks: webhooks,
		client:   client,
		queue:    make(chan Alert, queueSize),
		done:     make(chan struct{}),
	}
	go n.run()
	return n
}

// Subscribe registers the notifier on a tenant's event bus
func (n *Notifier) Subscribe(bus *evaluation.Bus) {
	bus.Subscribe(evaluation.EventDecisionRescored, n.handle)
}

// SetWebhooks replaces the delivery targets, for config reloads
func (n *Notifier) SetWebhooks(webhooks []config.WebhookConfig) {
	n.mu.Lock()
	n.webhooks = webhooks
	n.mu.Unlock()
}

func (n *Notifier) handle(_ context.Context, e evaluation.Event) error {
	p := e.DecisionRescored
	if p == nil || p.OldLifecycle == p.NewLifecycle {
		return nil
	}
	n.Enqueue(Alert{
		TenantID:     e.TenantID,
		DecisionID:   p.DecisionID,
		OldLifecycle: p.OldLifecycle,
		NewLifecycle: p.NewLifecycle,
		OldHealth:    p.OldHealth,
		NewHealth:    p.NewHealth,
		OccurredAt:   e.OccurredAt,
	})
	return nil
}

// Enqueue schedules a for delivery without blocking. It reports whether the
// alert was accepted.
func (n *Notifier) Enqueue(a Alert) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return false
	}
	select {
	case n.queue <- a:
		return true
	default:
		logger.WebhooksFailed.Add(1)
		logger.Warn("notify: queue full, dropping alert", "decision_id", a.DecisionID, "tenant_id", a.TenantID)
		return false
	}
}

// Close stops accepting alerts and waits until the queue is drained or ctx
// is done.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for a := range n.queue {
		n.deliver(a)
	}
}

// deliver sends a to all configured targets. Errors are logged only.
func (n *Notifier) deliver(a Alert) {
	n.mu.RLock()
	webhooks := n.webhooks
	n.mu.RUnlock()

	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = n.sendSlack(url, a)
		case "teams":
			err = n.sendTeams(url, a)
		case "http":
			err = n.sendHTTP(url, a)
		default:
			logger.Warn("notify: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			logger.WebhooksFailed.Add(1)
			logger.Error("notify: webhook delivery failed",
				"type", wh.Type,
				"decision_id", a.DecisionID,
				"err", err,
			)
		} else {
			logger.Debug("notify: webhook delivered",
				"type", wh.Type,
				"decision_id", a.DecisionID,
				"lifecycle", a.NewLifecycle,
			)
		}
	}
}

func (n *Notifier) sendSlack(url string, a Alert) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", lifecycleLabel(a.NewLifecycle), a.message()),
	})
	return n.post(url, body)
}

func (n *Notifier) sendTeams(url string, a Alert) error {
	payload := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": lifecycleColor(a.NewLifecycle),
		"summary":    a.DecisionID,
		"title":      fmt.Sprintf("Decision %s is %s", a.DecisionID, a.NewLifecycle),
		"text":       a.message(),
	}
	body, _ := json.Marshal(payload)
	return n.post(url, body)
}

func (n *Notifier) sendHTTP(url string, a Alert) error {
	body, _ := json.Marshal(map[string]any{"alert": a})
	return n.post(url, body)
}

func (n *Notifier) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func lifecycleLabel(l decisions.Lifecycle) string {
	switch l {
	case decisions.Invalidated:
		return "[INVALIDATED]"
	case decisions.AtRisk:
		return "[AT RISK]"
	case decisions.UnderReview:
		return "[UNDER REVIEW]"
	default:
		return "[" + string(l) + "]"
	}
}

func lifecycleColor(l decisions.Lifecycle) string {
	switch l {
	case decisions.Invalidated:
		return "FF4F6A"
	case decisions.AtRisk, decisions.UnderReview:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
