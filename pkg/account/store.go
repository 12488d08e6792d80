package account

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is durable key-value access to account records keyed by account number.
//
// Store gives no read-modify-write atomicity on its own. Callers that derive a
// new balance from a read must pass the version they read to SetBalance and
// handle ErrVersionConflict.
type Store interface {
	// Get returns the account with the given number, or ErrNotFound.
	Get(ctx context.Context, number int64) (*Account, error)

	// Insert persists a new account. It fails with ErrConflict if the number
	// is taken and with ErrValidation for MASTER-typed or malformed records.
	// The returned account carries the stored version and timestamps.
	Insert(ctx context.Context, acc *Account) (*Account, error)

	// SetBalance overwrites the stored balance if the stored version equals
	// expectedVersion and returns the new version. It fails with
	// ErrVersionConflict on a stale version and ErrNotFound for unknown numbers.
	SetBalance(ctx context.Context, number int64, balance decimal.Decimal, expectedVersion int64) (int64, error)

	// EnsureMaster creates the master account with a zero balance if it does
	// not exist yet and returns the stored record.
	EnsureMaster(ctx context.Context, number int64) (*Account, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close releases backend resources.
	Close() error
}
