// Package postgres stores withdrawal intents in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pg "accounts-ledger/pkg/postgres"
	"accounts-ledger/pkg/transfer"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Schema creates the withdrawal_intents table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS withdrawal_intents (
		id UUID PRIMARY KEY,
		account_number BIGINT NOT NULL,
		master_account_number BIGINT NOT NULL,
		amount NUMERIC NOT NULL,
		status TEXT NOT NULL,
		master_credited BOOLEAN NOT NULL DEFAULT FALSE,
		last_error TEXT NOT NULL DEFAULT '',
		pending_account BIGINT,
		pending_version BIGINT,
		pending_balance NUMERIC,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`ALTER TABLE withdrawal_intents
		ADD COLUMN IF NOT EXISTS pending_account BIGINT,
		ADD COLUMN IF NOT EXISTS pending_version BIGINT,
		ADD COLUMN IF NOT EXISTS pending_balance NUMERIC`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawal_intents_status_updated
		ON withdrawal_intents(status, updated_at)`,
}

const columns = `id, account_number, master_account_number, amount, status,
	master_credited, last_error, pending_account, pending_version, pending_balance,
	created_at, updated_at`

// Repository is a transfer.Repository backed by PostgreSQL.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository ensures the schema exists and returns a repository.
func NewRepository(ctx context.Context, db *sql.DB) (*Repository, error) {
	if err := pg.Migrate(ctx, db, Schema); err != nil {
		return nil, fmt.Errorf("failed to init withdrawal_intents table: %w", err)
	}
	return &Repository{db: db, now: time.Now}, nil
}

func (r *Repository) Create(ctx context.Context, intent *transfer.Intent) error {
	query := `INSERT INTO withdrawal_intents (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	account, version, balance := pendingArgs(intent.Write)
	_, err := r.db.ExecContext(ctx, query,
		intent.ID, intent.AccountNumber, intent.MasterAccountNumber, intent.Amount,
		string(intent.Status), intent.MasterCredited, intent.LastError,
		account, version, balance,
		intent.CreatedAt, intent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create intent %s: %w", intent.ID, err)
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, update transfer.Update) (*transfer.Intent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+columns+` FROM withdrawal_intents WHERE id = $1 FOR UPDATE`, id)
	intent, err := scan(row)
	if err != nil {
		return nil, err
	}

	if err := transfer.Apply(intent, update, r.now()); err != nil {
		return nil, err
	}

	account, version, balance := pendingArgs(intent.Write)
	_, err = tx.ExecContext(ctx, `
		UPDATE withdrawal_intents
		SET status = $1, master_credited = $2, last_error = $3,
			pending_account = $4, pending_version = $5, pending_balance = $6,
			updated_at = $7
		WHERE id = $8`,
		string(intent.Status), intent.MasterCredited, intent.LastError,
		account, version, balance,
		intent.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update intent %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit intent %s: %w", id, err)
	}
	return intent, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*transfer.Intent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM withdrawal_intents WHERE id = $1`, id)
	return scan(row)
}

func (r *Repository) ListStale(ctx context.Context, olderThan time.Time, limit int, statuses ...transfer.Status) ([]*transfer.Intent, error) {
	if limit <= 0 {
		limit = 100
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+` FROM withdrawal_intents
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`,
		pq.Array(names), olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale intents: %w", err)
	}
	defer rows.Close()

	var out []*transfer.Intent
	for rows.Next() {
		intent, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// pendingArgs maps a pending write to its three nullable columns.
func pendingArgs(w *transfer.PendingWrite) (interface{}, interface{}, interface{}) {
	if w == nil {
		return nil, nil, nil
	}
	return w.AccountNumber, w.ExpectedVersion, w.Balance
}

func scan(row scanner) (*transfer.Intent, error) {
	var (
		i       transfer.Intent
		status  string
		account sql.NullInt64
		version sql.NullInt64
		balance decimal.NullDecimal
	)
	err := row.Scan(
		&i.ID, &i.AccountNumber, &i.MasterAccountNumber, &i.Amount, &status,
		&i.MasterCredited, &i.LastError, &account, &version, &balance,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transfer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan intent: %w", err)
	}
	i.Status = transfer.Status(status)
	if account.Valid && version.Valid && balance.Valid {
		i.Write = &transfer.PendingWrite{
			AccountNumber:   account.Int64,
			ExpectedVersion: version.Int64,
			Balance:         balance.Decimal,
		}
	}
	return &i, nil
}
