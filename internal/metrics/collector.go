// internal/metrics/collector.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptgate_http_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cryptgate_http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Routing metrics
	selectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptgate_scheduler_selections_total",
			Help: "Instance selections by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptgate_health_probes_total",
			Help: "Health probe results per instance",
		},
		[]string{"instance", "state"},
	)

	instanceHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryptgate_instance_healthy",
			Help: "1 when the instance passed its last probe",
		},
		[]string{"instance"},
	)

	backendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptgate_backend_calls_total",
			Help: "Calls to CRUD API instances",
		},
		[]string{"op", "outcome"},
	)

	// Degraded-mode metrics
	cacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptgate_cache_writes_total",
			Help: "Write-behind cache appends by record kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	cacheFilesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptgate_cache_files_expired_total",
			Help: "Cache bucket files removed by the expiry sweep",
		},
	)

	fallbackCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptgate_fallback_instances_created_total",
			Help: "Fallback instances provisioned",
		},
	)

	fallbackReplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptgate_fallback_replayed_entries_total",
			Help: "Cache entries replayed into the fallback instance",
		},
		[]string{"outcome"},
	)
)

// Collector records gateway metrics. A nil *Collector is valid and
// records nothing, so components can run without metrics in tests.
type Collector struct {
	startTime time.Time
}

// NewCollector creates a metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
	}
}

// RecordRequest records metrics for a request
func (c *Collector) RecordRequest(method, endpoint string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	requestsTotal.WithLabelValues(method, endpoint, statusClass(status)).Inc()
	requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSelection records a scheduler decision
func (c *Collector) RecordSelection(write bool, ok bool) {
	if c == nil {
		return
	}
	selectionsTotal.WithLabelValues(direction(write), outcome(ok)).Inc()
}

// RecordProbe records one health probe result
func (c *Collector) RecordProbe(instanceID string, healthy bool) {
	if c == nil {
		return
	}
	state := "unhealthy"
	value := 0.0
	if healthy {
		state = "healthy"
		value = 1
	}
	probesTotal.WithLabelValues(instanceID, state).Inc()
	instanceHealthy.WithLabelValues(instanceID).Set(value)
}

// RecordBackendCall records a call against a CRUD API instance
func (c *Collector) RecordBackendCall(op string, ok bool) {
	if c == nil {
		return
	}
	backendCalls.WithLabelValues(op, outcome(ok)).Inc()
}

// RecordCacheWrite records a write-behind cache append
func (c *Collector) RecordCacheWrite(kind string, ok bool) {
	if c == nil {
		return
	}
	cacheWrites.WithLabelValues(kind, outcome(ok)).Inc()
}

// RecordCacheExpired records removed bucket files
func (c *Collector) RecordCacheExpired(n int) {
	if c == nil || n <= 0 {
		return
	}
	cacheFilesExpired.Add(float64(n))
}

// RecordFallbackCreated records a newly provisioned fallback instance
func (c *Collector) RecordFallbackCreated() {
	if c == nil {
		return
	}
	fallbackCreated.Inc()
}

// RecordReplay records replay results for one import run
func (c *Collector) RecordReplay(imported, failed int) {
	if c == nil {
		return
	}
	fallbackReplayed.WithLabelValues("success").Add(float64(imported))
	fallbackReplayed.WithLabelValues("failure").Add(float64(failed))
}

// Uptime returns the uptime duration
func (c *Collector) Uptime() time.Duration {
	if c == nil {
		return 0
	}
	return time.Since(c.startTime)
}

func direction(write bool) string {
	if write {
		return "write"
	}
	return "read"
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
