package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spectre",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spectre",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	dispatchCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spectre",
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Collective calls issued by the head, by tag and result.",
		},
		[]string{"tag", "result"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spectre",
			Subsystem: "dispatch",
			Name:      "call_duration_seconds",
			Help:      "Round trip of one collective call in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"tag"},
	)
	liveObjects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "spectre",
			Subsystem: "objects",
			Name:      "live",
			Help:      "Live objects in the local table.",
		},
		[]string{"rank"},
	)
	groupSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spectre",
			Subsystem: "group",
			Name:      "sessions",
			Help:      "Registered participant sessions on the head.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, dispatchCalls, dispatchDuration, liveObjects, groupSessions)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDispatch(tag, result string, duration time.Duration) {
	RegisterMetrics()
	dispatchCalls.WithLabelValues(tag, result).Inc()
	dispatchDuration.WithLabelValues(tag).Observe(duration.Seconds())
}

func SetLiveObjects(rank, n int) {
	LiveObjects(rank).Set(float64(n))
}

// LiveObjects is the live-object gauge of rank.
func LiveObjects(rank int) prometheus.Gauge {
	RegisterMetrics()
	return liveObjects.WithLabelValues(strconv.Itoa(rank))
}

func SetGroupSessions(n int) {
	RegisterMetrics()
	groupSessions.Set(float64(n))
}
