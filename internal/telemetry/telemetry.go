package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry tracks request volume and error counts for the /stats endpoint
// and exports prometheus series for /metrics.
type Telemetry struct {
	startedAt time.Time

	totalRequests atomic.Int64
	errorCount    atomic.Int64

	httpRequests     *prometheus.CounterVec
	adviceRequests   prometheus.Counter
	generationErrors prometheus.Counter
	contributions    prometheus.Counter
}

// Stats is the JSON payload served by /stats.
type Stats struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	TotalRequests int64   `json:"total_requests"`
	ErrorCount    int64   `json:"error_count"`
}

// New registers the taxpilot metric series on the default registry.
func New() *Telemetry {
	return &Telemetry{
		startedAt: time.Now(),
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taxpilot_http_requests_total",
			Help: "HTTP requests by method and status class.",
		}, []string{"method", "status"}),
		adviceRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taxpilot_advice_requests_total",
			Help: "Advice generation requests.",
		}),
		generationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taxpilot_generation_errors_total",
			Help: "Failed or timed-out generation calls.",
		}),
		contributions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taxpilot_outcome_contributions_total",
			Help: "Outcome contributions folded into cohort patterns.",
		}),
	}
}

// RecordRequest counts one finished HTTP request.
func (t *Telemetry) RecordRequest(method, status string, failed bool) {
	t.totalRequests.Add(1)
	if failed {
		t.errorCount.Add(1)
	}
	t.httpRequests.WithLabelValues(method, status).Inc()
}

// RecordAdviceRequest counts one advice request, failed or not.
func (t *Telemetry) RecordAdviceRequest(generationFailed bool) {
	t.adviceRequests.Inc()
	if generationFailed {
		t.generationErrors.Inc()
	}
}

// RecordContribution counts one successful outcome contribution.
func (t *Telemetry) RecordContribution() {
	t.contributions.Inc()
}

// Snapshot returns the current /stats payload.
func (t *Telemetry) Snapshot() Stats {
	return Stats{
		UptimeSeconds: time.Since(t.startedAt).Seconds(),
		TotalRequests: t.totalRequests.Load(),
		ErrorCount:    t.errorCount.Load(),
	}
}
