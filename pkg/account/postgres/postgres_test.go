package postgres

import (
	"context"
	"testing"

	"accounts-ledger/pkg/account"
	pg "accounts-ledger/pkg/postgres"

	"github.com/shopspring/decimal"
)

func setupTestPostgres(t *testing.T) *Store {
	cfg := pg.DefaultConfig()
	cfg.Database = "accounts_test"

	db, err := pg.Open(cfg)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}

	ctx := context.Background()
	s, err := NewStore(ctx, db)
	if err != nil {
		db.Close()
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE accounts`); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
	return s
}

func TestStore_InsertGetSetBalance(t *testing.T) {
	s := setupTestPostgres(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.Insert(ctx, &account.Account{
		AccountNumber: 2,
		Balance:       decimal.NewFromInt(500),
		OwnerIDs:      []string{"owner-1"},
		Type:          account.TypePrivate,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := s.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(500)) || got.Version != 1 {
		t.Errorf("Unexpected account: %+v", got)
	}

	version, err := s.SetBalance(ctx, 2, decimal.NewFromInt(300), got.Version)
	if err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected version 2, got %d", version)
	}

	if _, err := s.SetBalance(ctx, 2, decimal.NewFromInt(1), 1); !account.IsVersionConflict(err) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}
	if _, err := s.SetBalance(ctx, 404, decimal.NewFromInt(1), 1); !account.IsNotFound(err) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_Insert_Conflict(t *testing.T) {
	s := setupTestPostgres(t)
	defer s.Close()
	ctx := context.Background()

	acc := &account.Account{AccountNumber: 7, OwnerIDs: []string{"a"}, Type: account.TypeBusiness}
	if _, err := s.Insert(ctx, acc); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := s.Insert(ctx, acc); !account.IsConflict(err) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestStore_EnsureMaster(t *testing.T) {
	s := setupTestPostgres(t)
	defer s.Close()
	ctx := context.Background()

	master, err := s.EnsureMaster(ctx, 1)
	if err != nil {
		t.Fatalf("EnsureMaster failed: %v", err)
	}
	if !master.IsMaster() {
		t.Errorf("Expected master type, got %s", master.Type)
	}
	if _, err := s.EnsureMaster(ctx, 1); err != nil {
		t.Errorf("EnsureMaster should be idempotent, got %v", err)
	}
}
