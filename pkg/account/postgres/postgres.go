package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"accounts-ledger/pkg/account"
	pg "accounts-ledger/pkg/postgres"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const backend = "postgres"

// Schema creates the accounts table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		account_number BIGINT PRIMARY KEY,
		balance NUMERIC NOT NULL,
		owner_ids TEXT[] NOT NULL,
		account_type TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_single_master
		ON accounts(account_type) WHERE account_type = 'MASTER'`,
}

// Store is an account.Store backed by PostgreSQL.
type Store struct {
	db   *sql.DB
	name string
}

// NewStore wraps an open connection pool and ensures the schema exists.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := pg.Migrate(ctx, db, Schema); err != nil {
		return nil, fmt.Errorf("failed to init accounts table: %w", err)
	}
	return &Store{db: db, name: "PostgreSQL"}, nil
}

// Get reads one account.
func (s *Store) Get(ctx context.Context, number int64) (*account.Account, error) {
	query := `
		SELECT account_number, balance, owner_ids, account_type, version, created_at, updated_at
		FROM accounts WHERE account_number = $1
	`

	var a account.Account
	err := s.db.QueryRowContext(ctx, query, number).Scan(
		&a.AccountNumber, &a.Balance, pq.Array(&a.OwnerIDs), &a.Type,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account #%d: %w", number, account.ErrNotFound)
	}
	if err != nil {
		return nil, classify(ctx, "get", err)
	}

	return &a, nil
}

// Insert adds a new account after validating it.
func (s *Store) Insert(ctx context.Context, acc *account.Account) (*account.Account, error) {
	if err := account.ValidateNew(acc); err != nil {
		return nil, err
	}
	return s.insert(ctx, acc)
}

func (s *Store) insert(ctx context.Context, acc *account.Account) (*account.Account, error) {
	query := `
		INSERT INTO accounts (account_number, balance, owner_ids, account_type, version)
		VALUES ($1, $2, $3, $4, 1)
		RETURNING version, created_at, updated_at
	`

	stored := acc.Clone()
	err := s.db.QueryRowContext(ctx, query,
		acc.AccountNumber, acc.Balance, pq.Array(acc.OwnerIDs), string(acc.Type),
	).Scan(&stored.Version, &stored.CreatedAt, &stored.UpdatedAt)
	if pg.IsUniqueViolation(err) {
		return nil, fmt.Errorf("account #%d: %w", acc.AccountNumber, account.ErrConflict)
	}
	if err != nil {
		return nil, classify(ctx, "insert", err)
	}

	return stored, nil
}

// SetBalance performs a versioned update of the balance.
func (s *Store) SetBalance(ctx context.Context, number int64, balance decimal.Decimal, expectedVersion int64) (int64, error) {
	query := `
		UPDATE accounts SET balance = $1, version = version + 1, updated_at = now()
		WHERE account_number = $2 AND version = $3
		RETURNING version
	`

	var version int64
	err := s.db.QueryRowContext(ctx, query, balance, number, expectedVersion).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		// either the row is gone or the version moved; tell them apart
		if _, getErr := s.Get(ctx, number); getErr != nil {
			return 0, getErr
		}
		return 0, fmt.Errorf("account #%d: expected version %d: %w", number, expectedVersion, account.ErrVersionConflict)
	}
	if err != nil {
		return 0, classify(ctx, "set balance", err)
	}

	return version, nil
}

// EnsureMaster creates the master account row if missing.
func (s *Store) EnsureMaster(ctx context.Context, number int64) (*account.Account, error) {
	existing, err := s.Get(ctx, number)
	if err == nil {
		if !existing.IsMaster() {
			return nil, account.WrapValidation("account #%d exists and is not a master account", number)
		}
		return existing, nil
	}
	if !account.IsNotFound(err) {
		return nil, err
	}

	created, err := s.insert(ctx, &account.Account{
		AccountNumber: number,
		Balance:       decimal.Zero,
		OwnerIDs:      []string{},
		Type:          account.TypeMaster,
	})
	if account.IsConflict(err) {
		return s.Get(ctx, number)
	}
	return created, err
}

// Ping checks the connection pool.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return account.Unavailable(backend, "ping", err)
	}
	return nil
}

// Name returns the backend name.
func (s *Store) Name() string {
	return s.name
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func classify(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", backend, op, account.ErrTimeout)
	}
	return account.Unavailable(backend, op, err)
}
