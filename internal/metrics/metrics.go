// Package metrics exposes the process counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

type counter struct {
	name  string
	help  string
	value *atomic.Int64
}

var counters = []counter{
	{"decivue_decisions_evaluated_total", "Decisions re-scored and persisted.", &logger.DecisionsEvaluated},
	{"decivue_decisions_skipped_total", "Evaluation requests that found nothing to do.", &logger.DecisionsSkipped},
	{"decivue_decisions_failed_total", "Evaluations that failed and left the decision dirty.", &logger.DecisionsFailed},
	{"decivue_decisions_marked_total", "Dirty flags set by invalidation propagation.", &logger.DecisionsMarked},
	{"decivue_propagation_failures_total", "Propagation lookups or writes that failed.", &logger.PropagationFailures},
	{"decivue_sweeps_completed_total", "Completed staleness sweeps.", &logger.SweepsCompleted},
	{"decivue_webhooks_failed_total", "Webhook alerts that were dropped or not delivered.", &logger.WebhooksFailed},
	{"decivue_log_errors_total", "Error log events, counted before sampling.", &logger.TotalErrors},
	{"decivue_log_warnings_total", "Warning log events, counted before sampling.", &logger.TotalWarnings},
	{"decivue_http_5xx_total", "HTTP responses with a 5xx status.", &logger.Total5xxErrors},
	{"decivue_http_4xx_total", "HTTP responses with a 4xx status.", &logger.Total4xxErrors},
	{"decivue_http_404_total", "HTTP responses with a 404 status.", &logger.Total404Errors},
}

// Families snapshots every counter as a metric family
func Families() []*dto.MetricFamily {
	families := make([]*dto.MetricFamily, 0, len(counters))
	for _, c := range counters {
		v := float64(c.value.Load())
		families = append(families, &dto.MetricFamily{
			Name: stringPtr(c.name),
			Help: stringPtr(c.help),
			Type: dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{
				{Counter: &dto.Counter{Value: &v}},
			},
		})
	}
	return families
}

// Handler serves the counters for a Prometheus scrape
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))

		enc := expfmt.NewEncoder(w, format)
		for _, mf := range Families() {
			if err := enc.Encode(mf); err != nil {
				logger.Error("metrics: encode failed", "metric", mf.GetName(), "err", err)
				return
			}
		}
	})
}

func stringPtr(s string) *string {
	return &s
}
