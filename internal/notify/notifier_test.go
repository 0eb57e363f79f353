package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
	"github.com/adityaaa08012006/decivue-sub006/evaluation"
	"github.com/adityaaa08012006/decivue-sub006/internal/config"
	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
}

func (c *capture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	c.mu.Lock()
	c.bodies = append(c.bodies, body)
	status := c.status
	c.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (c *capture) received() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.bodies...)
}

func rescored(oldL, newL decisions.Lifecycle) evaluation.Event {
	return evaluation.NewDecisionRescored("acme", evaluation.DecisionRescored{
		DecisionID:      "d1",
		ChangesDetected: true,
		OldLifecycle:    oldL,
		NewLifecycle:    newL,
		OldHealth:       90,
		NewHealth:       30,
	}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func closeNotifier(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))
}

func TestNotifier_DeliversLifecycleChanges(t *testing.T) {
	slack, teams, hook := &capture{}, &capture{}, &capture{}
	slackSrv, teamsSrv, hookSrv := httptest.NewServer(slack), httptest.NewServer(teams), httptest.NewServer(hook)
	defer slackSrv.Close()
	defer teamsSrv.Close()
	defer hookSrv.Close()

	t.Setenv("SLACK_URL", slackSrv.URL)
	t.Setenv("TEAMS_URL", teamsSrv.URL)
	t.Setenv("HOOK_URL", hookSrv.URL)

	n := New([]config.WebhookConfig{
		{Type: "slack", URLEnv: "SLACK_URL"},
		{Type: "teams", URLEnv: "TEAMS_URL"},
		{Type: "http", URLEnv: "HOOK_URL"},
	}, nil, 0)

	bus := evaluation.NewBus()
	n.Subscribe(bus)
	bus.Publish(context.Background(), rescored(decisions.Stable, decisions.Invalidated))
	closeNotifier(t, n)

	require.Len(t, slack.received(), 1)
	assert.Contains(t, slack.received()[0]["text"], "[INVALIDATED]")
	assert.Contains(t, slack.received()[0]["text"], "health 90 -> 30")

	require.Len(t, teams.received(), 1)
	assert.Equal(t, "MessageCard", teams.received()[0]["@type"])
	assert.Equal(t, "FF4F6A", teams.received()[0]["themeColor"])

	require.Len(t, hook.received(), 1)
	alert, ok := hook.received()[0]["alert"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "d1", alert["decisionId"])
	assert.Equal(t, "acme", alert["tenantId"])
	assert.Equal(t, "INVALIDATED", alert["newLifecycle"])
}

func TestNotifier_IgnoresUnchangedLifecycle(t *testing.T) {
	hook := &capture{}
	srv := httptest.NewServer(hook)
	defer srv.Close()
	t.Setenv("HOOK_URL", srv.URL)

	n := New([]config.WebhookConfig{{Type: "http", URLEnv: "HOOK_URL"}}, nil, 0)
	bus := evaluation.NewBus()
	n.Subscribe(bus)

	bus.Publish(context.Background(), rescored(decisions.AtRisk, decisions.AtRisk))
	closeNotifier(t, n)

	assert.Empty(t, hook.received())
}

func TestNotifier_FailedDeliveryIsCounted(t *testing.T) {
	hook := &capture{status: http.StatusInternalServerError}
	srv := httptest.NewServer(hook)
	defer srv.Close()
	t.Setenv("HOOK_URL", srv.URL)

	before := logger.WebhooksFailed.Load()
	n := New([]config.WebhookConfig{
		{Type: "http", URLEnv: "HOOK_URL"},
		{Type: "http", URLEnv: "UNSET_HOOK_URL"},
	}, nil, 0)
	assert.True(t, n.Enqueue(Alert{DecisionID: "d1", NewLifecycle: decisions.AtRisk}))
	closeNotifier(t, n)

	assert.Len(t, hook.received(), 1)
	assert.Equal(t, before+1, logger.WebhooksFailed.Load())
}

func TestNotifier_RejectsAfterClose(t *testing.T) {
	n := New(nil, nil, 1)
	closeNotifier(t, n)
	assert.False(t, n.Enqueue(Alert{DecisionID: "d1"}))
	// closing twice is harmless
	closeNotifier(t, n)
}
