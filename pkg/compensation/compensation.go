// Package compensation handles withdrawals whose master credit landed but
// whose source debit did not.
package compensation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"accounts-ledger/pkg/logging"
	"accounts-ledger/pkg/metrics"
	"accounts-ledger/pkg/transfer"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Mode selects a compensator implementation.
type Mode string

const (
	ModeNoOp      Mode = "noop"
	ModeLog       Mode = "log"
	ModeQueue     Mode = "queue"
	ModeReconcile Mode = "reconcile"
)

// ParseMode parses a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeNoOp, ModeLog, ModeQueue, ModeReconcile:
		return m, nil
	case "":
		return ModeLog, nil
	}
	return "", fmt.Errorf("compensation: unknown mode %q", s)
}

// Event describes one inconsistent withdrawal.
type Event struct {
	TransferID          uuid.UUID       `json:"transferId"`
	AccountNumber       int64           `json:"accountNumber"`
	MasterAccountNumber int64           `json:"masterAccountNumber"`
	Amount              decimal.Decimal `json:"amount"`
	Reason              string          `json:"reason"`
	OccurredAt          time.Time       `json:"occurredAt"`
}

// Compensator is invoked once per withdrawal that ended inconsistent.
type Compensator interface {
	Compensate(ctx context.Context, event Event) error
}

// Deferring is implemented by compensators that leave repair to the
// reconciler. The coordinator keeps their intents open.
type Deferring interface {
	Defers() bool
}

// Defers reports whether c hands the intent to the reconciler.
func Defers(c Compensator) bool {
	d, ok := c.(Deferring)
	return ok && d.Defers()
}

// Func adapts a function to Compensator.
type Func func(ctx context.Context, event Event) error

func (f Func) Compensate(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// NoOp ignores every event.
type NoOp struct{}

func (NoOp) Compensate(context.Context, Event) error { return nil }

// Log records the event at error level so an operator can act on it.
type Log struct {
	logger *logging.Logger
}

// NewLog creates a logging compensator.
func NewLog(logger *logging.Logger) *Log {
	if logger == nil {
		logger = logging.Global()
	}
	return &Log{logger: logger.Named("compensation")}
}

func (l *Log) Compensate(ctx context.Context, event Event) error {
	l.logger.Error("withdrawal left inconsistent, manual compensation required",
		logging.TransferID(event.TransferID.String()),
		logging.AccountNumber(event.AccountNumber),
		logging.MasterAccountNumber(event.MasterAccountNumber),
		logging.Amount(event.Amount),
		zap.String("reason", event.Reason),
	)
	return nil
}

// Reconcile flags the intent so the reconciler re-drives the source debit.
type Reconcile struct {
	intents transfer.Repository
}

// NewReconcile creates a compensator backed by the intents repository.
func NewReconcile(intents transfer.Repository) *Reconcile {
	return &Reconcile{intents: intents}
}

func (r *Reconcile) Compensate(ctx context.Context, event Event) error {
	_, err := r.intents.UpdateStatus(ctx, event.TransferID, transfer.Update{
		Status:    transfer.StatusMasterCredited,
		LastError: "awaiting reconciliation: " + event.Reason,
	})
	if err != nil {
		return fmt.Errorf("compensation: flag intent %s: %w", event.TransferID, err)
	}
	return nil
}

// Defers is always true.
func (r *Reconcile) Defers() bool { return true }

// Chain calls every compensator in order and joins their errors.
type Chain []Compensator

func (c Chain) Compensate(ctx context.Context, event Event) error {
	var errs []error
	for _, comp := range c {
		if err := comp.Compensate(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Defers reports whether any member defers.
func (c Chain) Defers() bool {
	for _, comp := range c {
		if Defers(comp) {
			return true
		}
	}
	return false
}

// Instrumented records every invocation under mode.
type Instrumented struct {
	next    Compensator
	mode    Mode
	metrics metrics.Collector
}

// WithMetrics wraps c so each call is counted.
func WithMetrics(c Compensator, mode Mode, collector metrics.Collector) *Instrumented {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Instrumented{next: c, mode: mode, metrics: collector}
}

func (i *Instrumented) Compensate(ctx context.Context, event Event) error {
	err := i.next.Compensate(ctx, event)
	i.metrics.RecordCompensation(string(i.mode), err == nil)
	return err
}

func (i *Instrumented) Defers() bool {
	return Defers(i.next)
}
