package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"accounts-ledger/pkg/account"

	"github.com/shopspring/decimal"
)

// Store is an in-memory account store that satisfies account.Store.
// It is safe for concurrent use; SetBalance is a true compare-and-swap.
type Store struct {
	// data stores the account records
	data map[int64]*account.Account

	// mu protects concurrent access to data
	mu sync.RWMutex

	config Config
	closed bool
}

// Config holds configuration for the memory store.
type Config struct {
	// Name is the backend identifier
	Name string

	// Now overrides the clock, used by tests
	Now func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore(config Config) *Store {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Store{
		data:   make(map[int64]*account.Account),
		config: config,
	}
}

// Get returns a copy of the stored account.
func (s *Store) Get(ctx context.Context, number int64) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, account.ErrStorageUnavailable
	}

	acc, ok := s.data[number]
	if !ok {
		return nil, fmt.Errorf("account #%d: %w", number, account.ErrNotFound)
	}
	return acc.Clone(), nil
}

// Insert stores a new account after validating it.
func (s *Store) Insert(ctx context.Context, acc *account.Account) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := account.ValidateNew(acc); err != nil {
		return nil, err
	}
	return s.insert(acc)
}

func (s *Store) insert(acc *account.Account) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, account.ErrStorageUnavailable
	}
	return s.insertLocked(acc)
}

func (s *Store) insertLocked(acc *account.Account) (*account.Account, error) {
	if _, exists := s.data[acc.AccountNumber]; exists {
		return nil, fmt.Errorf("account #%d: %w", acc.AccountNumber, account.ErrConflict)
	}

	now := s.config.Now()
	stored := acc.Clone()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.data[stored.AccountNumber] = stored

	return stored.Clone(), nil
}

// SetBalance overwrites the balance when expectedVersion matches.
func (s *Store) SetBalance(ctx context.Context, number int64, balance decimal.Decimal, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, account.ErrStorageUnavailable
	}

	acc, ok := s.data[number]
	if !ok {
		return 0, fmt.Errorf("account #%d: %w", number, account.ErrNotFound)
	}
	if acc.Version != expectedVersion {
		return 0, fmt.Errorf("account #%d: expected version %d, stored %d: %w",
			number, expectedVersion, acc.Version, account.ErrVersionConflict)
	}

	acc.Balance = balance
	acc.Version++
	acc.UpdatedAt = s.config.Now()

	return acc.Version, nil
}

// EnsureMaster creates the master account if missing. It refuses to create
// a second master under a different number.
func (s *Store) EnsureMaster(ctx context.Context, number int64) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, account.ErrStorageUnavailable
	}

	if existing, ok := s.data[number]; ok {
		if !existing.IsMaster() {
			return nil, account.WrapValidation("account #%d exists and is not a master account", number)
		}
		return existing.Clone(), nil
	}
	for n, acc := range s.data {
		if acc.IsMaster() {
			return nil, account.WrapValidation("master account #%d already exists, refusing to create #%d", n, number)
		}
	}

	return s.insertLocked(&account.Account{
		AccountNumber: number,
		Balance:       decimal.Zero,
		OwnerIDs:      []string{},
		Type:          account.TypeMaster,
	})
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return account.ErrStorageUnavailable
	}
	return nil
}

// Name returns the backend name.
func (s *Store) Name() string {
	return s.config.Name
}

// Close drops all data. Later calls fail with ErrStorageUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil
	return nil
}

// Len returns the number of stored accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
