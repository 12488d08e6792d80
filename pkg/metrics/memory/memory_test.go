package memory

import (
	"testing"
	"time"

	"accounts-ledger/pkg/metrics"
)

func TestCollector_Operations(t *testing.T) {
	c := NewCollector()

	c.RecordOperation("deposit", "success", time.Millisecond)
	c.RecordOperation("deposit", "success", time.Millisecond)
	c.RecordOperation("deposit", "invalid_request", time.Millisecond)

	snap := c.Snapshot()
	if snap.Operations["deposit"]["success"] != 2 {
		t.Errorf("Expected 2 successful deposits, got %d", snap.Operations["deposit"]["success"])
	}
	if snap.Operations["deposit"]["invalid_request"] != 1 {
		t.Errorf("Expected 1 invalid deposit, got %d", snap.Operations["deposit"]["invalid_request"])
	}
}

func TestCollector_CircuitOpensCountTransitions(t *testing.T) {
	c := NewCollector()

	c.RecordCircuitState("store", metrics.CircuitOpen)
	c.RecordCircuitState("store", metrics.CircuitOpen)
	c.RecordCircuitState("store", metrics.CircuitHalfOpen)
	c.RecordCircuitState("store", metrics.CircuitOpen)

	snap := c.Snapshot()
	if snap.CircuitOpens["store"] != 2 {
		t.Errorf("Expected 2 opens, got %d", snap.CircuitOpens["store"])
	}
	if snap.CircuitStates["store"] != metrics.CircuitOpen {
		t.Errorf("Expected open state, got %v", snap.CircuitStates["store"])
	}
}

func TestCollector_SnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.RecordRetry("set_balance", 1)

	snap := c.Snapshot()
	snap.Retries["set_balance"] = 100

	if c.Snapshot().Retries["set_balance"] != 1 {
		t.Error("Snapshot shares state with the collector")
	}
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector()
	c.RecordWithdrawal("Completed")
	c.RecordStoreCall("memory", "get", false, time.Millisecond)
	c.Reset()

	snap := c.Snapshot()
	if len(snap.Withdrawals) != 0 || len(snap.StoreCalls) != 0 {
		t.Errorf("Expected empty snapshot after reset, got %+v", snap)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := map[metrics.CircuitState]string{
		metrics.CircuitClosed:   "closed",
		metrics.CircuitOpen:     "open",
		metrics.CircuitHalfOpen: "half-open",
		metrics.CircuitState(9): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
