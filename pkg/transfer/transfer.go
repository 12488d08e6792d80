// Package transfer records withdrawal intents so a crash or a failed second
// leg can be found and repaired after the fact.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status of a withdrawal intent.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusMasterCredited Status = "MASTER_CREDITED"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
)

var (
	ErrNotFound          = errors.New("transfer: intent not found")
	ErrInvalidTransition = errors.New("transfer: invalid status transition")
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusMasterCredited, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
//
//	PENDING -> MASTER_CREDITED | FAILED
//	MASTER_CREDITED -> COMPLETED | FAILED
//	FAILED -> COMPLETED (reconciler repaired the source debit)
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusMasterCredited || next == StatusFailed
	case StatusMasterCredited:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusCompleted
	}
	return false
}

// WriteOutcome is what an account's current state says about a PendingWrite.
type WriteOutcome int

const (
	// WriteUnknown means the account moved on in a way the write alone
	// cannot explain, so it may or may not have landed.
	WriteUnknown WriteOutcome = iota
	WriteApplied
	WriteNotApplied
)

func (o WriteOutcome) String() string {
	switch o {
	case WriteApplied:
		return "applied"
	case WriteNotApplied:
		return "not_applied"
	default:
		return "unknown"
	}
}

// PendingWrite is a versioned balance write a withdrawal is about to make, or
// made without learning whether it landed.
type PendingWrite struct {
	AccountNumber   int64           `json:"accountNumber"`
	ExpectedVersion int64           `json:"expectedVersion"`
	Balance         decimal.Decimal `json:"balance"`
}

// Outcome compares w with the account's current version and balance. Every
// balance write bumps the version by exactly one.
func (w PendingWrite) Outcome(version int64, balance decimal.Decimal) WriteOutcome {
	switch {
	case version == w.ExpectedVersion:
		return WriteNotApplied
	case version == w.ExpectedVersion+1 && balance.Equal(w.Balance):
		return WriteApplied
	default:
		return WriteUnknown
	}
}

// Intent is the durable record of one withdrawal.
type Intent struct {
	ID                  uuid.UUID       `json:"id"`
	AccountNumber       int64           `json:"accountNumber"`
	MasterAccountNumber int64           `json:"masterAccountNumber"`
	Amount              decimal.Decimal `json:"amount"`
	Status              Status          `json:"status"`
	// MasterCredited is set once the master leg has been applied, even if
	// the intent later fails. Reconciliation relies on it.
	MasterCredited bool      `json:"masterCredited"`
	LastError      string    `json:"lastError,omitempty"`
	// Write is the balance write in flight, kept until its outcome is known.
	Write     *PendingWrite `json:"pendingWrite,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// NewIntent creates a pending intent with a fresh id.
func NewIntent(accountNumber, masterAccountNumber int64, amount decimal.Decimal, now time.Time) *Intent {
	return &Intent{
		ID:                  uuid.New(),
		AccountNumber:       accountNumber,
		MasterAccountNumber: masterAccountNumber,
		Amount:              amount,
		Status:              StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// NeedsRepair reports whether the master was credited but the source debit
// never landed.
func (i *Intent) NeedsRepair() bool {
	return i.MasterCredited && i.Status != StatusCompleted
}

// Clone returns a copy of the intent.
func (i *Intent) Clone() *Intent {
	c := *i
	if i.Write != nil {
		w := *i.Write
		c.Write = &w
	}
	return &c
}

// Update describes a status change. Write replaces the pending write when
// set; ClearWrite drops it. Otherwise the pending write is left as is.
type Update struct {
	Status     Status
	LastError  string
	Write      *PendingWrite
	ClearWrite bool
}

// Repository persists intents.
type Repository interface {
	Create(ctx context.Context, intent *Intent) error
	UpdateStatus(ctx context.Context, id uuid.UUID, update Update) (*Intent, error)
	Get(ctx context.Context, id uuid.UUID) (*Intent, error)
	// ListStale returns intents in one of statuses last updated before olderThan.
	ListStale(ctx context.Context, olderThan time.Time, limit int, statuses ...Status) ([]*Intent, error)
}

// Apply validates and applies an update to intent in place.
func Apply(intent *Intent, update Update, now time.Time) error {
	if !update.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, update.Status)
	}
	if intent.Status != update.Status && !intent.Status.CanTransitionTo(update.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, intent.Status, update.Status)
	}
	if update.Status == StatusMasterCredited {
		intent.MasterCredited = true
	}
	switch {
	case update.Write != nil:
		w := *update.Write
		intent.Write = &w
	case update.ClearWrite:
		intent.Write = nil
	}
	intent.Status = update.Status
	intent.LastError = update.LastError
	intent.UpdatedAt = now
	return nil
}
