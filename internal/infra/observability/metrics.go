package observability

import (
	"time"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Outcome labels for ledger operations.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
)

var entryTypes = []domain.EntryType{
	domain.EntryWithdrawal, domain.EntryDeposit, domain.EntryTransferOut, domain.EntryTransferIn,
}

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration  *prometheus.HistogramVec
	operationsTotal    *prometheus.CounterVec
	rejectionsTotal    *prometheus.CounterVec
	retriesTotal       *prometheus.CounterVec
	storeErrors        *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	reconcileMismatch  prometheus.Counter
	commissionsCharged *prometheus.CounterVec
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
				Help:    "Duration of ledger operations by entry type.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Ledger operations by entry type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		rejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rejections_total",
				Help: "Rejected ledger operations by reason.",
			},
			[]string{"reason"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_retries_total",
				Help: "Operation restarts after a version conflict or reference collision.",
			},
			[]string{"type"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_store_errors_total",
				Help: "Total infrastructure errors from the store.",
			},
			[]string{"store"},
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
		reconcileMismatch: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_reconcile_mismatches_total",
				Help: "Accounts whose balance did not match their entries.",
			},
		),
		commissionsCharged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_commissions_cents_total",
				Help: "Commission charged, in cents, by entry type.",
			},
			[]string{"type"},
		),
	}
}

// RecordOperation records the outcome and duration of one ledger operation.
func (m *Metrics) RecordOperation(entryType domain.EntryType, outcome string, d time.Duration) {
	m.operationDuration.WithLabelValues(string(entryType)).Observe(d.Seconds())
	m.operationsTotal.WithLabelValues(string(entryType), outcome).Inc()
}

// IncrRejection counts a rejection reason such as "insufficient_funds".
func (m *Metrics) IncrRejection(reason string) {
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

// IncrRetry counts one restart of an operation.
func (m *Metrics) IncrRetry(entryType domain.EntryType) {
	m.retriesTotal.WithLabelValues(string(entryType)).Inc()
}

// IncrStoreError increments the store error counter.
func (m *Metrics) IncrStoreError(store string) {
	m.storeErrors.WithLabelValues(store).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrReconcileMismatch counts an account that failed reconciliation.
func (m *Metrics) IncrReconcileMismatch() {
	m.reconcileMismatch.Inc()
}

// AddCommission records commission charged on an entry.
func (m *Metrics) AddCommission(entryType domain.EntryType, commission domain.Money) {
	if commission.IsPositive() {
		m.commissionsCharged.WithLabelValues(string(entryType)).Add(float64(commission.Cents()))
	}
}

// GetLedgerSnapshot returns a snapshot suitable for GET /v1/metrics/ledger.
func (m *Metrics) GetLedgerSnapshot() *domain.LedgerMetrics {
	snap := &domain.LedgerMetrics{
		Committed: make(map[string]float64, len(entryTypes)),
		Rejected:  make(map[string]float64, len(entryTypes)),
	}

	var count, sum float64
	for _, t := range entryTypes {
		snap.Committed[string(t)] = getCounterValue(m.operationsTotal, string(t), OutcomeCommitted)
		snap.Rejected[string(t)] = getCounterValue(m.operationsTotal, string(t), OutcomeRejected)
		snap.Retries += getCounterValue(m.retriesTotal, string(t))

		c, s := getHistogramTotals(m.operationDuration, string(t))
		count += c
		sum += s
	}
	if count > 0 {
		snap.AvgLatencyMs = sum / count * 1000
	}

	snap.ReconcileFailures = counterValue(m.reconcileMismatch)

	hits := getCounterValue(m.cacheHits, "entries")
	misses := getCounterValue(m.cacheMisses, "entries")
	if hits+misses > 0 {
		snap.CacheHitRate = hits / (hits + misses)
	}
	return snap
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	return counterValue(cv.WithLabelValues(labels...))
}

func counterValue(counter prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getHistogramTotals(hv *prometheus.HistogramVec, label string) (count, sum float64) {
	obs, err := hv.GetMetricWithLabelValues(label)
	if err != nil {
		return 0, 0
	}
	m := &dto.Metric{}
	if err := obs.(prometheus.Metric).Write(m); err != nil {
		return 0, 0
	}
	if h := m.Histogram; h != nil {
		return float64(h.GetSampleCount()), h.GetSampleSum()
	}
	return 0, 0
}
