package observability

import (
	"strconv"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// OwnerCache is the cache label used for owner-existence lookups.
const OwnerCache = "owner"

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	numberCollisions  prometheus.Counter
	amountMoved       *prometheus.CounterVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Ledger operations by outcome (ok or error kind).",
			},
			[]string{"operation", "result"},
		),
		numberCollisions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_account_number_collisions_total",
				Help: "Generated account numbers rejected as duplicates.",
			},
		),
		amountMoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_amount_moved_total",
				Help: "Sum of committed transaction amounts by kind.",
			},
			[]string{"kind"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_http_requests_total",
				Help: "HTTP requests by method, route pattern and status code.",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// RecordOperation records the duration and outcome of a ledger operation.
func (m *Metrics) RecordOperation(operation string, d time.Duration, err error) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
	m.operationsTotal.WithLabelValues(operation, domain.ErrorKind(err)).Inc()
}

// IncrNumberCollision counts one duplicate account number.
func (m *Metrics) IncrNumberCollision() {
	m.numberCollisions.Inc()
}

// AddAmountMoved adds a committed amount for a transaction kind.
func (m *Metrics) AddAmountMoved(kind domain.TransactionKind, amount float64) {
	m.amountMoved.WithLabelValues(string(kind)).Add(amount)
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrHTTPRequest counts one served HTTP request.
func (m *Metrics) IncrHTTPRequest(method, route string, status int) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// OpTotalBalance is the operation label of owner balance lookups.
const OpTotalBalance = "total_balance"

// readOperations are timed and counted like mutations but never commit.
var readOperations = map[string]bool{OpTotalBalance: true}

// GetLedgerSnapshot returns a snapshot of ledger metrics suitable for the
// GET /v1/metrics/ledger endpoint.
func (m *Metrics) GetLedgerSnapshot() *domain.LedgerMetrics {
	snap := &domain.LedgerMetrics{
		RejectionsByKind:  make(map[string]int64),
		AmountMovedByKind: make(map[string]float64),
		Period:            "all_time",
	}

	families, err := m.Registry.Gather()
	if err != nil {
		return snap
	}
	for _, f := range families {
		switch f.GetName() {
		case "ledger_operations_total":
			for _, metric := range f.GetMetric() {
				n := int64(metric.GetCounter().GetValue())
				switch result := labelValue(metric, "result"); result {
				case "ok":
					if !readOperations[labelValue(metric, "operation")] {
						snap.Committed += n
					}
				case "internal", "external", "circuit_open":
					snap.Failed += n
				default:
					snap.Rejected += n
					snap.RejectionsByKind[result] += n
				}
			}
		case "ledger_amount_moved_total":
			for _, metric := range f.GetMetric() {
				snap.AmountMovedByKind[labelValue(metric, "kind")] = metric.GetCounter().GetValue()
			}
		}
	}

	snap.NumberCollisions = int64(counterValue(m.numberCollisions))
	hits := counterValue(m.cacheHits.WithLabelValues(OwnerCache))
	misses := counterValue(m.cacheMisses.WithLabelValues(OwnerCache))
	if hits+misses > 0 {
		snap.OwnerCacheHitRate = hits / (hits + misses)
	}
	return snap
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// counterValue extracts the current float64 value from a counter.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
