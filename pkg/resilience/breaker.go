package resilience

import (
	"context"
	"errors"
	"time"

	"accounts-ledger/pkg/logging"
	"accounts-ledger/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a call
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")

	// ErrTimeout is returned when a guarded call exceeds the configured timeout
	ErrTimeout = errors.New("resilience: operation timeout")
)

// Breaker guards calls to one backend with a timeout and a circuit breaker.
type Breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.Collector
	logger  *logging.Logger
}

// NewBreaker creates a breaker. isFailure decides which errors count against
// the breaker; nil counts every error. Business outcomes such as "not found"
// should not trip it.
func NewBreaker(name string, config Config, collector metrics.Collector, isFailure func(error) bool) *Breaker {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	logger := logging.Global().Named("resilience").Named(name)

	b := &Breaker{
		name:    name,
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if isFailure == nil {
				return false
			}
			return !isFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			b.metrics.RecordCircuitState(name, state)
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)

	logger.Info("breaker initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state.
func (b *Breaker) State() metrics.CircuitState {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// Execute runs fn under the timeout and the breaker. Rejections are returned
// as ErrCircuitOpen and deadline hits as ErrTimeout; other errors pass through.
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Warn("circuit breaker open - request rejected",
			zap.String("operation", operation),
		)
		return nil, ErrCircuitOpen
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.logger.Warn("operation timeout",
			zap.String("operation", operation),
			zap.Duration("timeout", b.timeout),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil, ErrTimeout
	}
	return nil, err
}
