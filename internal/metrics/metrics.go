package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Module registers the metering metrics with the default registry.
var Module = fx.Provide(NewMetrics)

// Metrics exposes Prometheus observability primitives for the metering core.
type Metrics struct {
	charges           *prometheus.CounterVec
	deposits          *prometheus.CounterVec
	duplicateCharges  prometheus.Counter
	insufficientFunds prometheus.Counter
	quotaResets       *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics registers and returns Prometheus metrics.
func NewMetrics() *Metrics {
	charges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metering_charges_total",
		Help: "Charge attempts by result (success, insufficient_funds, not_found, error) and kind (free, paid).",
	}, []string{"result", "kind"})

	deposits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metering_deposits_total",
		Help: "Deposit operations by resulting ledger status.",
	}, []string{"status"})

	duplicateCharges := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metering_duplicate_charges_total",
		Help: "Charge requests answered from an existing idempotency marker.",
	})

	insufficientFunds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metering_insufficient_funds_total",
		Help: "Charge attempts rejected for insufficient balance.",
	})

	quotaResets := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metering_quota_resets_total",
		Help: "Monthly quota resets by path (lazy, sweep).",
	}, []string{"path"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metering_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metering_http_request_duration_seconds",
		Help:    "HTTP request latency per method/route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	prometheus.MustRegister(
		charges,
		deposits,
		duplicateCharges,
		insufficientFunds,
		quotaResets,
		httpRequests,
		httpDuration,
	)

	return &Metrics{
		charges:           charges,
		deposits:          deposits,
		duplicateCharges:  duplicateCharges,
		insufficientFunds: insufficientFunds,
		quotaResets:       quotaResets,
		httpRequests:      httpRequests,
		httpDuration:      httpDuration,
	}
}

// ObserveCharge records a charge attempt outcome.
func (m *Metrics) ObserveCharge(result, kind string) {
	if m == nil {
		return
	}
	m.charges.WithLabelValues(sanitizeLabel(result), sanitizeLabel(kind)).Inc()
}

// ObserveDeposit records a deposit by resulting ledger status.
func (m *Metrics) ObserveDeposit(status string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(sanitizeLabel(status)).Inc()
}

// ObserveDuplicateCharge counts a request deduplicated by the guard.
func (m *Metrics) ObserveDuplicateCharge() {
	if m == nil {
		return
	}
	m.duplicateCharges.Inc()
}

// ObserveInsufficientFunds counts a rejected paid charge.
func (m *Metrics) ObserveInsufficientFunds() {
	if m == nil {
		return
	}
	m.insufficientFunds.Inc()
}

// ObserveQuotaReset counts a quota reset by path.
func (m *Metrics) ObserveQuotaReset(path string) {
	if m == nil {
		return
	}
	m.quotaResets.WithLabelValues(sanitizeLabel(path)).Inc()
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
