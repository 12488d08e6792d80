package memory

import (
	"sync"
	"time"

	"accounts-ledger/pkg/metrics"
)

// Collector implements metrics.Collector in memory, for tests and the JSON
// metrics endpoint.
type Collector struct {
	mu sync.RWMutex

	operations       map[string]map[string]int64 // operation -> outcome -> count
	storeCalls       map[string]int64            // backend/operation -> count
	storeErrors      map[string]int64
	retries          map[string]int64
	retriesExhausted map[string]int64
	circuitStates    map[string]metrics.CircuitState
	circuitOpens     map[string]int64
	withdrawals      map[string]int64
	compensations    map[string]int64
	compensationErrs map[string]int64
	queueDepth       map[string]int
	dropped          map[string]int64
	reconciled       map[string]int64
}

// NewCollector creates an empty in-memory collector.
func NewCollector() *Collector {
	c := &Collector{}
	c.reset()
	return c
}

func (c *Collector) reset() {
	c.operations = make(map[string]map[string]int64)
	c.storeCalls = make(map[string]int64)
	c.storeErrors = make(map[string]int64)
	c.retries = make(map[string]int64)
	c.retriesExhausted = make(map[string]int64)
	c.circuitStates = make(map[string]metrics.CircuitState)
	c.circuitOpens = make(map[string]int64)
	c.withdrawals = make(map[string]int64)
	c.compensations = make(map[string]int64)
	c.compensationErrs = make(map[string]int64)
	c.queueDepth = make(map[string]int)
	c.dropped = make(map[string]int64)
	c.reconciled = make(map[string]int64)
}

// RecordOperation records a ledger operation.
func (c *Collector) RecordOperation(operation string, outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.operations[operation] == nil {
		c.operations[operation] = make(map[string]int64)
	}
	c.operations[operation][outcome]++
}

// RecordStoreCall records an account store call.
func (c *Collector) RecordStoreCall(backend string, operation string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := backend + "/" + operation
	c.storeCalls[key]++
	if !success {
		c.storeErrors[key]++
	}
}

// RecordRetry records a retried attempt.
func (c *Collector) RecordRetry(operation string, attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[operation]++
}

// RecordRetryExhausted records an exhausted retry budget.
func (c *Collector) RecordRetryExhausted(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retriesExhausted[operation]++
}

// RecordCircuitState records the current circuit breaker state.
func (c *Collector) RecordCircuitState(name string, state metrics.CircuitState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.circuitStates[name]
	c.circuitStates[name] = state

	// Count transitions to open
	if old != metrics.CircuitOpen && state == metrics.CircuitOpen {
		c.circuitOpens[name]++
	}
}

// RecordWithdrawal records a withdrawal terminal state.
func (c *Collector) RecordWithdrawal(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.withdrawals[state]++
}

// RecordCompensation records a compensation hook invocation.
func (c *Collector) RecordCompensation(mode string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.compensations[mode]++
	if !success {
		c.compensationErrs[mode]++
	}
}

// RecordQueueDepth records the compensation dispatcher queue depth.
func (c *Collector) RecordQueueDepth(name string, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepth[name] = depth
}

// RecordCompensationDropped records a dropped compensation event.
func (c *Collector) RecordCompensationDropped(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped[name]++
}

// RecordReconciled records a reconciled transfer intent.
func (c *Collector) RecordReconciled(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconciled[outcome]++
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Operations       map[string]map[string]int64     `json:"operations"`
	StoreCalls       map[string]int64                `json:"store_calls"`
	StoreErrors      map[string]int64                `json:"store_errors"`
	Retries          map[string]int64                `json:"retries"`
	RetriesExhausted map[string]int64                `json:"retries_exhausted"`
	CircuitStates    map[string]metrics.CircuitState `json:"circuit_states"`
	CircuitOpens     map[string]int64                `json:"circuit_opens"`
	Withdrawals      map[string]int64                `json:"withdrawals"`
	Compensations    map[string]int64                `json:"compensations"`
	CompensationErrs map[string]int64                `json:"compensation_errors"`
	QueueDepth       map[string]int                  `json:"queue_depth"`
	Dropped          map[string]int64                `json:"dropped"`
	Reconciled       map[string]int64                `json:"reconciled"`
}

// Snapshot returns a deep copy of the current metrics state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := make(map[string]map[string]int64, len(c.operations))
	for op, outcomes := range c.operations {
		ops[op] = copyMap(outcomes)
	}

	states := make(map[string]metrics.CircuitState, len(c.circuitStates))
	for k, v := range c.circuitStates {
		states[k] = v
	}

	depth := make(map[string]int, len(c.queueDepth))
	for k, v := range c.queueDepth {
		depth[k] = v
	}

	return Snapshot{
		Operations:       ops,
		StoreCalls:       copyMap(c.storeCalls),
		StoreErrors:      copyMap(c.storeErrors),
		Retries:          copyMap(c.retries),
		RetriesExhausted: copyMap(c.retriesExhausted),
		CircuitStates:    states,
		CircuitOpens:     copyMap(c.circuitOpens),
		Withdrawals:      copyMap(c.withdrawals),
		Compensations:    copyMap(c.compensations),
		CompensationErrs: copyMap(c.compensationErrs),
		QueueDepth:       depth,
		Dropped:          copyMap(c.dropped),
		Reconciled:       copyMap(c.reconciled),
	}
}

// Reset clears all collected metrics.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
