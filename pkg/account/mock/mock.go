package mock

import (
	"context"
	"sync/atomic"

	"accounts-ledger/pkg/account"

	"github.com/shopspring/decimal"
)

// Store is a mock implementation of account.Store for testing.
// Each hook falls back to the wrapped Base store when unset, so tests can
// inject failures on a single method while keeping real state elsewhere.
type Store struct {
	// Base handles every call whose hook is nil. May be nil.
	Base account.Store

	GetFunc          func(ctx context.Context, number int64) (*account.Account, error)
	InsertFunc       func(ctx context.Context, acc *account.Account) (*account.Account, error)
	SetBalanceFunc   func(ctx context.Context, number int64, balance decimal.Decimal, expectedVersion int64) (int64, error)
	EnsureMasterFunc func(ctx context.Context, number int64) (*account.Account, error)
	PingFunc         func(ctx context.Context) error

	// Call tracking (atomic for race-free access)
	getCalls        int64
	insertCalls     int64
	setBalanceCalls int64
}

// NewStore wraps base with call tracking and optional hooks.
func NewStore(base account.Store) *Store {
	return &Store{Base: base}
}

// Get implements account.Store.
func (m *Store) Get(ctx context.Context, number int64) (*account.Account, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, number)
	}
	if m.Base != nil {
		return m.Base.Get(ctx, number)
	}
	return nil, account.ErrNotFound
}

// Insert implements account.Store.
func (m *Store) Insert(ctx context.Context, acc *account.Account) (*account.Account, error) {
	atomic.AddInt64(&m.insertCalls, 1)
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, acc)
	}
	if m.Base != nil {
		return m.Base.Insert(ctx, acc)
	}
	return acc.Clone(), nil
}

// SetBalance implements account.Store.
func (m *Store) SetBalance(ctx context.Context, number int64, balance decimal.Decimal, expectedVersion int64) (int64, error) {
	atomic.AddInt64(&m.setBalanceCalls, 1)
	if m.SetBalanceFunc != nil {
		return m.SetBalanceFunc(ctx, number, balance, expectedVersion)
	}
	if m.Base != nil {
		return m.Base.SetBalance(ctx, number, balance, expectedVersion)
	}
	return expectedVersion + 1, nil
}

// EnsureMaster implements account.Store.
func (m *Store) EnsureMaster(ctx context.Context, number int64) (*account.Account, error) {
	if m.EnsureMasterFunc != nil {
		return m.EnsureMasterFunc(ctx, number)
	}
	if m.Base != nil {
		return m.Base.EnsureMaster(ctx, number)
	}
	return &account.Account{AccountNumber: number, Type: account.TypeMaster, Version: 1}, nil
}

// Ping implements account.Store.
func (m *Store) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	if m.Base != nil {
		return m.Base.Ping(ctx)
	}
	return nil
}

// Name implements account.Store.
func (m *Store) Name() string {
	return "mock"
}

// Close implements account.Store.
func (m *Store) Close() error {
	if m.Base != nil {
		return m.Base.Close()
	}
	return nil
}

// GetCalls returns the number of Get calls (thread-safe).
func (m *Store) GetCalls() int {
	return int(atomic.LoadInt64(&m.getCalls))
}

// InsertCalls returns the number of Insert calls (thread-safe).
func (m *Store) InsertCalls() int {
	return int(atomic.LoadInt64(&m.insertCalls))
}

// SetBalanceCalls returns the number of SetBalance calls (thread-safe).
func (m *Store) SetBalanceCalls() int {
	return int(atomic.LoadInt64(&m.setBalanceCalls))
}
