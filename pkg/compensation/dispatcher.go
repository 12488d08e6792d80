package compensation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"accounts-ledger/pkg/logging"
	"accounts-ledger/pkg/metrics"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the queue stayed full for MaxWaitTime
	ErrQueueFull = errors.New("compensation: queue full, event dropped")

	// ErrDispatcherClosed is returned after Close
	ErrDispatcherClosed = errors.New("compensation: dispatcher is closed")

	// ErrFlushTimeout is returned when Flush gives up waiting for the queue to drain
	ErrFlushTimeout = errors.New("compensation: flush timeout exceeded")
)

// DispatcherConfig configures the queue and worker pool.
type DispatcherConfig struct {
	// QueueSize is the bounded queue size (default: 256)
	QueueSize int

	// Workers is the number of delivery goroutines (default: 1)
	Workers int

	// MaxWaitTime is how long Compensate blocks on a full queue (default: 50ms)
	MaxWaitTime time.Duration

	// DeliveryTimeout bounds one Sink.Send call (default: 5s)
	DeliveryTimeout time.Duration

	// ReportInterval is the queue depth reporting period (default: 5s)
	ReportInterval time.Duration
}

// DispatcherStats is a point-in-time view of the dispatcher counters.
type DispatcherStats struct {
	QueueDepth int
	Enqueued   int64
	Dropped    int64
	Delivered  int64
	Failed     int64
}

// Dispatcher is a Compensator that hands events to a Sink asynchronously,
// so a slow or broken sink never blocks the withdrawal path.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     DispatcherConfig
	metrics    metrics.Collector
	logger     *logging.Logger

	enqueued  int64
	dropped   int64
	delivered int64
	failed    int64

	reportTicker *time.Ticker
	reportStop   chan struct{}
	closeOnce    sync.Once

	// mu is held for reading while an event is handed to the queue and for
	// writing while closed is set, so no send can follow the final drain.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher delivering to sink. Close must be called.
func NewDispatcher(sink Sink, config DispatcherConfig, collector metrics.Collector) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 50 * time.Millisecond
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 5 * time.Second
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = 5 * time.Second
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		sink:         sink,
		queue:        make(chan Event, config.QueueSize),
		ctx:          ctx,
		cancelFunc:   cancel,
		config:       config,
		metrics:      collector,
		logger:       logging.Global().Named("compensation").Named(sink.Name()),
		reportTicker: time.NewTicker(config.ReportInterval),
		reportStop:   make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	go d.reportDepth()

	return d
}

// Compensate enqueues the event. A full queue drops it after MaxWaitTime.
func (d *Dispatcher) Compensate(ctx context.Context, event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	timer := time.NewTimer(d.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case d.queue <- event:
		atomic.AddInt64(&d.enqueued, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&d.dropped, 1)
		d.metrics.RecordCompensationDropped(d.sink.Name())
		d.logger.Error("compensation event dropped",
			logging.TransferID(event.TransferID.String()),
			logging.AccountNumber(event.AccountNumber),
			logging.Amount(event.Amount),
		)
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.ctx.Done():
			// drain what is left before exiting
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.DeliveryTimeout)
	defer cancel()

	if err := d.sink.Send(ctx, event); err != nil {
		atomic.AddInt64(&d.failed, 1)
		d.logger.Error("failed to deliver compensation event",
			logging.TransferID(event.TransferID.String()),
			logging.AccountNumber(event.AccountNumber),
			logging.Amount(event.Amount),
			zap.Error(err),
		)
		return
	}
	atomic.AddInt64(&d.delivered, 1)
}

// Flush waits until the queue is empty or timeout passes.
func (d *Dispatcher) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if len(d.queue) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.reportStop)
		d.reportTicker.Stop()
		d.cancelFunc()
		d.wg.Wait()
	})
	return nil
}

func (d *Dispatcher) reportDepth() {
	for {
		select {
		case <-d.reportTicker.C:
			d.metrics.RecordQueueDepth(d.sink.Name(), len(d.queue))
		case <-d.reportStop:
			return
		}
	}
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		QueueDepth: len(d.queue),
		Enqueued:   atomic.LoadInt64(&d.enqueued),
		Dropped:    atomic.LoadInt64(&d.dropped),
		Delivered:  atomic.LoadInt64(&d.delivered),
		Failed:     atomic.LoadInt64(&d.failed),
	}
}
