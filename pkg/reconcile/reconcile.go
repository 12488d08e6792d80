// Package reconcile periodically resolves withdrawal intents that stopped
// between their two balance writes.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"accounts-ledger/pkg/logging"
	"accounts-ledger/pkg/metrics"
	"accounts-ledger/pkg/transfer"

	"go.uber.org/zap"
)

// Repairer finishes or fails intents. *ledger.Coordinator implements it.
type Repairer interface {
	RepairWithdrawal(ctx context.Context, intent *transfer.Intent) error
	// ResolvePending settles a PENDING intent and returns its final status.
	ResolvePending(ctx context.Context, intent *transfer.Intent) (transfer.Status, error)
}

// Config configures the reconciler.
type Config struct {
	// Interval between passes (default: 1m)
	Interval time.Duration

	// Grace is how long an intent must sit untouched before it is
	// considered stuck. It must exceed the longest withdrawal. (default: 5m)
	Grace time.Duration

	// BatchSize caps the intents handled per status per pass (default: 100)
	BatchSize int
}

// Summary counts the outcomes of one pass.
type Summary struct {
	Repaired  int
	Abandoned int
	Failed    int
}

// Reconciler re-drives the source debit of stale MASTER_CREDITED intents and
// settles stale PENDING ones.
type Reconciler struct {
	intents  transfer.Repository
	repairer Repairer
	config   Config
	metrics  metrics.Collector
	logger   *logging.Logger
	now      func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a reconciler. Call Start to run it in the background.
func New(intents transfer.Repository, repairer Repairer, config Config, collector metrics.Collector) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Grace <= 0 {
		config.Grace = 5 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	return &Reconciler{
		intents:  intents,
		repairer: repairer,
		config:   config,
		metrics:  collector,
		logger:   logging.Global().Named("reconcile"),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Start launches the background loop.
func (r *Reconciler) Start() {
	r.ticker = time.NewTicker(r.config.Interval)
	r.wg.Add(1)
	go r.loop()

	r.logger.Info("reconciler started",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("grace", r.config.Grace),
	)
}

// Stop ends the loop and waits for an in-flight pass.
func (r *Reconciler) Stop() {
	r.once.Do(func() {
		if r.ticker != nil {
			r.ticker.Stop()
		}
		close(r.stop)
		r.wg.Wait()
	})
}

func (r *Reconciler) loop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.config.Interval)
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconcile pass failed", zap.Error(err))
			}
			cancel()
		case <-r.stop:
			return
		}
	}
}

// RunOnce performs a single pass.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	cutoff := r.now().Add(-r.config.Grace)

	credited, err := r.intents.ListStale(ctx, cutoff, r.config.BatchSize, transfer.StatusMasterCredited)
	if err != nil {
		return sum, err
	}
	for _, intent := range credited {
		if err := r.repairer.RepairWithdrawal(ctx, intent); err != nil {
			sum.Failed++
			r.metrics.RecordReconciled("failed")
			r.logger.Warn("could not repair withdrawal",
				logging.TransferID(intent.ID.String()),
				logging.AccountNumber(intent.AccountNumber),
				logging.Amount(intent.Amount),
				zap.Error(err),
			)
			continue
		}
		sum.Repaired++
		r.metrics.RecordReconciled("repaired")
	}

	pending, err := r.intents.ListStale(ctx, cutoff, r.config.BatchSize, transfer.StatusPending)
	if err != nil {
		return sum, err
	}
	var errs []error
	for _, intent := range pending {
		status, err := r.repairer.ResolvePending(ctx, intent)
		if err != nil {
			sum.Failed++
			r.metrics.RecordReconciled("failed")
			errs = append(errs, err)
			continue
		}
		switch status {
		case transfer.StatusCompleted:
			sum.Repaired++
			r.metrics.RecordReconciled("repaired")
		default:
			sum.Abandoned++
			r.metrics.RecordReconciled("abandoned")
			r.logger.Warn("stale withdrawal intent abandoned",
				logging.TransferID(intent.ID.String()),
				logging.AccountNumber(intent.AccountNumber),
				logging.MasterAccountNumber(intent.MasterAccountNumber),
				logging.Amount(intent.Amount),
				zap.String("status", string(status)),
			)
		}
	}

	if sum.Repaired+sum.Abandoned+sum.Failed > 0 {
		r.logger.Info("reconcile pass finished",
			zap.Int("repaired", sum.Repaired),
			zap.Int("abandoned", sum.Abandoned),
			zap.Int("failed", sum.Failed),
		)
	}
	return sum, errors.Join(errs...)
}
