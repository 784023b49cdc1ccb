package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	ledgerImbalanceCounter *prometheus.CounterVec
	idempotencyCounter     *prometheus.CounterVec
	addressPoolGauge       *prometheus.GaugeVec
	transitionCounter      *prometheus.CounterVec
	workerRunCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Number of times double-entry balances diverged",
		}, []string{"asset"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		addressPoolGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crypto_address_pool_unbound",
			Help: "Unbound deposit addresses remaining per asset",
		}, []string{"asset"})

		transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operation_transitions_total",
			Help: "Operation lifecycle transitions by type and resulting status",
		}, []string{"type", "status"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			idempotencyCounter,
			addressPoolGauge,
			transitionCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(asset string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(asset).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func SetAddressPoolSize(asset string, size int64) {
	if addressPoolGauge == nil {
		return
	}
	addressPoolGauge.WithLabelValues(asset).Set(float64(size))
}

func IncrementOperationTransition(opType, status string) {
	if transitionCounter == nil {
		return
	}
	transitionCounter.WithLabelValues(opType, status).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
