package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"accounts-ledger/pkg/account"
	"accounts-ledger/pkg/account/memory"
	"accounts-ledger/pkg/account/mock"
	"accounts-ledger/pkg/metrics"
	memorycollector "accounts-ledger/pkg/metrics/memory"

	"github.com/shopspring/decimal"
)

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.NewStore(memory.Config{Name: "test"})
	_, err := s.Insert(context.Background(), &account.Account{
		AccountNumber: 2,
		Balance:       decimal.NewFromInt(500),
		OwnerIDs:      []string{"a"},
		Type:          account.TypePrivate,
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return s
}

func TestStore_PassesThrough(t *testing.T) {
	collector := memorycollector.NewCollector()
	rs := NewStoreWithMetrics(seeded(t), DefaultConfig(), collector)
	defer rs.Close()
	ctx := context.Background()

	if rs.Name() != "test" {
		t.Errorf("Expected name 'test', got '%s'", rs.Name())
	}

	acc, err := rs.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	version, err := rs.SetBalance(ctx, 2, decimal.NewFromInt(600), acc.Version)
	if err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}
	if version != acc.Version+1 {
		t.Errorf("Expected version %d, got %d", acc.Version+1, version)
	}

	snap := collector.Snapshot()
	if snap.StoreCalls["test/get"] != 1 || snap.StoreCalls["test/set_balance"] != 1 {
		t.Errorf("Unexpected store call metrics: %v", snap.StoreCalls)
	}
}

func TestStore_BusinessErrorsDoNotTrip(t *testing.T) {
	config := DefaultConfig()
	config.CircuitBreakerConfig.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 2 }
	rs := NewStore(seeded(t), config)
	defer rs.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := rs.Get(ctx, 404); !account.IsNotFound(err) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
	}
	if rs.CircuitState() != metrics.CircuitClosed {
		t.Errorf("Expected closed breaker, got %v", rs.CircuitState())
	}
}

func TestStore_TripsOnBackendFailures(t *testing.T) {
	m := mock.NewStore(nil)
	m.GetFunc = func(ctx context.Context, number int64) (*account.Account, error) {
		return nil, account.Unavailable("mock", "get", errors.New("connection reset"))
	}

	config := DefaultConfig()
	config.CircuitBreakerConfig.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 3 }
	collector := memorycollector.NewCollector()
	rs := NewStoreWithMetrics(m, config, collector)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := rs.Get(ctx, 1)
		if !errors.Is(err, account.ErrStorageUnavailable) {
			t.Fatalf("attempt %d: expected ErrStorageUnavailable, got %v", i, err)
		}
	}

	_, err := rs.Get(ctx, 1)
	if !errors.Is(err, account.ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
	if !account.IsTransient(err) {
		t.Error("circuit-open must be transient")
	}
	if m.GetCalls() != 3 {
		t.Errorf("Expected the open breaker to short-circuit, backend saw %d calls", m.GetCalls())
	}
	if rs.CircuitState() != metrics.CircuitOpen {
		t.Errorf("Expected open circuit, got %s", rs.CircuitState())
	}
	if collector.Snapshot().CircuitOpens["store-mock"] != 1 {
		t.Errorf("Expected one recorded circuit open, got %v", collector.Snapshot().CircuitOpens)
	}
}

func TestStore_Timeout(t *testing.T) {
	m := mock.NewStore(nil)
	m.SetBalanceFunc = func(ctx context.Context, number int64, balance decimal.Decimal, v int64) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}

	rs := NewStore(m, DefaultConfig().WithTimeout(10*time.Millisecond))

	start := time.Now()
	_, err := rs.SetBalance(context.Background(), 2, decimal.NewFromInt(1), 1)
	if !errors.Is(err, account.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout was not enforced")
	}
}

func TestConfig_Modifiers(t *testing.T) {
	c := DefaultConfig().WithTimeout(time.Second).WithCircuitBreakerTimeout(time.Minute)
	if c.Timeout != time.Second || c.CircuitBreakerConfig.Timeout != time.Minute {
		t.Errorf("Unexpected config: %+v", c)
	}
	if DefaultConfig().Timeout != 2*time.Second {
		t.Error("modifiers must not change the defaults")
	}
}
