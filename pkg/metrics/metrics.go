package metrics

import (
	"time"
)

// Collector defines the interface for collecting ledger metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type Collector interface {
	// Ledger operations (create_account, get_account, deposit, withdrawal)
	RecordOperation(operation string, outcome string, duration time.Duration)

	// Account store calls as seen by the resilience layer
	RecordStoreCall(backend string, operation string, success bool, duration time.Duration)

	// Retry policy
	RecordRetry(operation string, attempt int)
	RecordRetryExhausted(operation string)

	// Circuit breaker
	RecordCircuitState(name string, state CircuitState)

	// Withdrawal terminal states (Completed, Aborted, Inconsistent)
	RecordWithdrawal(state string)

	// Compensation
	RecordCompensation(mode string, success bool)
	RecordQueueDepth(name string, depth int)
	RecordCompensationDropped(name string)

	// Reconciler
	RecordReconciled(outcome string)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the backend has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is the default collector when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordOperation(operation string, outcome string, duration time.Duration) {}

func (NoOpCollector) RecordStoreCall(backend string, operation string, success bool, duration time.Duration) {
}

func (NoOpCollector) RecordRetry(operation string, attempt int) {}

func (NoOpCollector) RecordRetryExhausted(operation string) {}

func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}

func (NoOpCollector) RecordWithdrawal(state string) {}

func (NoOpCollector) RecordCompensation(mode string, success bool) {}

func (NoOpCollector) RecordQueueDepth(name string, depth int) {}

func (NoOpCollector) RecordCompensationDropped(name string) {}

func (NoOpCollector) RecordReconciled(outcome string) {}
