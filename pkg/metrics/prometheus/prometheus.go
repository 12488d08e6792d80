package prometheus

import (
	"strconv"
	"time"

	"accounts-ledger/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements metrics.Collector for Prometheus.
type Collector struct {
	namespace string

	operations        *prometheus.CounterVec
	operationLatency  *prometheus.HistogramVec
	storeCalls        *prometheus.CounterVec
	storeLatency      *prometheus.HistogramVec
	retries           *prometheus.CounterVec
	retriesExhausted  *prometheus.CounterVec
	circuitState      *prometheus.GaugeVec
	circuitOpens      *prometheus.CounterVec
	withdrawals       *prometheus.CounterVec
	compensations     *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
	droppedCompensate *prometheus.CounterVec
	reconciled        *prometheus.CounterVec
}

// NewCollector creates a new Prometheus collector. Call Register or pass it
// to prometheus.MustRegister before use.
func NewCollector(namespace string) *Collector {
	latencyBuckets := prometheus.ExponentialBuckets(0.0001, 2, 15) // 0.1ms to ~3s

	return &Collector{
		namespace: namespace,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of ledger operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Ledger operation latency",
				Buckets:   latencyBuckets,
			},
			[]string{"operation"},
		),
		storeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_calls_total",
				Help:      "Total number of account store calls",
			},
			[]string{"backend", "operation", "status"},
		),
		storeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_call_duration_seconds",
				Help:      "Account store call latency",
				Buckets:   latencyBuckets,
			},
			[]string{"backend", "operation"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried attempts",
			},
			[]string{"operation", "attempt"},
		),
		retriesExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_exhausted_total",
				Help:      "Total number of operations that exhausted their retry budget",
			},
			[]string{"operation"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"name"},
		),
		withdrawals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "withdrawals_total",
				Help:      "Total number of withdrawals by terminal state",
			},
			[]string{"state"},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compensations_total",
				Help:      "Total number of compensation hook invocations",
			},
			[]string{"mode", "status"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "compensation_queue_depth",
				Help:      "Current compensation dispatcher queue depth",
			},
			[]string{"name"},
		),
		droppedCompensate: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compensations_dropped_total",
				Help:      "Total number of compensation events dropped by backpressure",
			},
			[]string{"name"},
		),
		reconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciled_transfers_total",
				Help:      "Total number of transfer intents resolved by the reconciler",
			},
			[]string{"outcome"},
		),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.operations,
		c.operationLatency,
		c.storeCalls,
		c.storeLatency,
		c.retries,
		c.retriesExhausted,
		c.circuitState,
		c.circuitOpens,
		c.withdrawals,
		c.compensations,
		c.queueDepth,
		c.droppedCompensate,
		c.reconciled,
	}
}

// Register registers all metrics with the given registerer.
func (c *Collector) Register(registry prometheus.Registerer) error {
	for _, collector := range c.collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range c.collectors() {
		collector.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range c.collectors() {
		collector.Collect(ch)
	}
}

// RecordOperation records a ledger operation.
func (c *Collector) RecordOperation(operation string, outcome string, duration time.Duration) {
	c.operations.WithLabelValues(operation, outcome).Inc()
	c.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStoreCall records an account store call.
func (c *Collector) RecordStoreCall(backend string, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	c.storeCalls.WithLabelValues(backend, operation, status).Inc()
	c.storeLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordRetry records a retried attempt.
func (c *Collector) RecordRetry(operation string, attempt int) {
	c.retries.WithLabelValues(operation, strconv.Itoa(attempt)).Inc()
}

// RecordRetryExhausted records an exhausted retry budget.
func (c *Collector) RecordRetryExhausted(operation string) {
	c.retriesExhausted.WithLabelValues(operation).Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (c *Collector) RecordCircuitState(name string, state metrics.CircuitState) {
	c.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		c.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordWithdrawal records a withdrawal terminal state.
func (c *Collector) RecordWithdrawal(state string) {
	c.withdrawals.WithLabelValues(state).Inc()
}

// RecordCompensation records a compensation hook invocation.
func (c *Collector) RecordCompensation(mode string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	c.compensations.WithLabelValues(mode, status).Inc()
}

// RecordQueueDepth records the compensation dispatcher queue depth.
func (c *Collector) RecordQueueDepth(name string, depth int) {
	c.queueDepth.WithLabelValues(name).Set(float64(depth))
}

// RecordCompensationDropped records a dropped compensation event.
func (c *Collector) RecordCompensationDropped(name string) {
	c.droppedCompensate.WithLabelValues(name).Inc()
}

// RecordReconciled records a reconciled transfer intent.
func (c *Collector) RecordReconciled(outcome string) {
	c.reconciled.WithLabelValues(outcome).Inc()
}
