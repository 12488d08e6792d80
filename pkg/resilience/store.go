package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accounts-ledger/pkg/account"
	"accounts-ledger/pkg/logging"
	"accounts-ledger/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store wraps an account.Store with timeout and circuit breaker protection.
// Breaker rejections and timeouts surface as account.ErrCircuitOpen and
// account.ErrTimeout so the retry policy treats them as transient.
type Store struct {
	store   account.Store
	breaker *Breaker
	metrics metrics.Collector
	logger  *logging.Logger
}

// NewStore wraps store with the default collector.
func NewStore(store account.Store, config Config) *Store {
	return NewStoreWithMetrics(store, config, metrics.NoOpCollector{})
}

// NewStoreWithMetrics wraps store and reports calls to collector.
func NewStoreWithMetrics(store account.Store, config Config, collector metrics.Collector) *Store {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Store{
		store:   store,
		breaker: NewBreaker("store-"+store.Name(), config, collector, isStoreFailure),
		metrics: collector,
		logger:  logging.Global().Named("resilience").Named(store.Name()),
	}
}

// isStoreFailure counts only backend trouble against the breaker.
func isStoreFailure(err error) bool {
	switch {
	case account.IsNotFound(err), account.IsConflict(err),
		account.IsValidation(err), account.IsVersionConflict(err):
		return false
	default:
		return true
	}
}

func (s *Store) guard(ctx context.Context, operation string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	result, err := s.breaker.Execute(ctx, operation, fn)
	duration := time.Since(start)

	s.metrics.RecordStoreCall(s.store.Name(), operation, err == nil || !isStoreFailure(err), duration)

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, ErrCircuitOpen):
		return nil, fmt.Errorf("%s %s: %w", s.store.Name(), operation, account.ErrCircuitOpen)
	case errors.Is(err, ErrTimeout):
		return nil, fmt.Errorf("%s %s: %w", s.store.Name(), operation, account.ErrTimeout)
	}

	if isStoreFailure(err) {
		s.logger.Error("store operation failed",
			zap.String("operation", operation),
			zap.String("error_type", account.ClassifyError(err)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
	return nil, err
}

// Get implements account.Store.
func (s *Store) Get(ctx context.Context, number int64) (*account.Account, error) {
	result, err := s.guard(ctx, "get", func(ctx context.Context) (interface{}, error) {
		return s.store.Get(ctx, number)
	})
	if err != nil {
		return nil, err
	}
	return result.(*account.Account), nil
}

// Insert implements account.Store.
func (s *Store) Insert(ctx context.Context, acc *account.Account) (*account.Account, error) {
	result, err := s.guard(ctx, "insert", func(ctx context.Context) (interface{}, error) {
		return s.store.Insert(ctx, acc)
	})
	if err != nil {
		return nil, err
	}
	return result.(*account.Account), nil
}

// SetBalance implements account.Store.
func (s *Store) SetBalance(ctx context.Context, number int64, balance decimal.Decimal, expectedVersion int64) (int64, error) {
	result, err := s.guard(ctx, "set_balance", func(ctx context.Context) (interface{}, error) {
		return s.store.SetBalance(ctx, number, balance, expectedVersion)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// EnsureMaster implements account.Store.
func (s *Store) EnsureMaster(ctx context.Context, number int64) (*account.Account, error) {
	result, err := s.guard(ctx, "ensure_master", func(ctx context.Context) (interface{}, error) {
		return s.store.EnsureMaster(ctx, number)
	})
	if err != nil {
		return nil, err
	}
	return result.(*account.Account), nil
}

// Ping implements account.Store. It bypasses the breaker so health checks
// report the backend, not the breaker.
func (s *Store) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Name returns the name of the underlying store.
func (s *Store) Name() string {
	return s.store.Name()
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.store.Close()
}

// CircuitState reports the breaker state for health output.
func (s *Store) CircuitState() metrics.CircuitState {
	return s.breaker.State()
}
