package redis

import (
	"context"
	"testing"
	"time"

	"accounts-ledger/pkg/account"

	"github.com/shopspring/decimal"
)

func setupTestRedis(t *testing.T) *Store {
	config := DefaultConfig()
	config.Name = "TestRedis"
	config.KeyPrefix = "test:ledger:"
	config.DialTimeout = 2 * time.Second

	s, err := NewStore(config)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	s.FlushDB(context.Background())
	return s
}

func TestNewStore_NoAddress(t *testing.T) {
	_, err := NewStore(Config{})
	if err == nil {
		t.Fatal("Expected error without addresses")
	}
}

func TestStore_InsertGet(t *testing.T) {
	s := setupTestRedis(t)
	defer s.Close()
	ctx := context.Background()

	created, err := s.Insert(ctx, &account.Account{
		AccountNumber: 2,
		Balance:       decimal.RequireFromString("500.25"),
		OwnerIDs:      []string{"a", "b"},
		Type:          account.TypeBusiness,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if created.Version != 1 {
		t.Errorf("Expected version 1, got %d", created.Version)
	}

	got, err := s.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Balance.Equal(decimal.RequireFromString("500.25")) {
		t.Errorf("Expected balance 500.25, got %s", got.Balance)
	}
	if len(got.OwnerIDs) != 2 || got.Type != account.TypeBusiness {
		t.Errorf("Unexpected account: %+v", got)
	}

	if _, err := s.Insert(ctx, created); !account.IsConflict(err) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := setupTestRedis(t)
	defer s.Close()

	if _, err := s.Get(context.Background(), 404); !account.IsNotFound(err) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_SetBalance(t *testing.T) {
	s := setupTestRedis(t)
	defer s.Close()
	ctx := context.Background()

	s.Insert(ctx, &account.Account{AccountNumber: 3, Balance: decimal.NewFromInt(10), OwnerIDs: []string{"a"}, Type: account.TypePrivate})

	version, err := s.SetBalance(ctx, 3, decimal.NewFromInt(25), 1)
	if err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected version 2, got %d", version)
	}

	if _, err := s.SetBalance(ctx, 3, decimal.NewFromInt(1), 1); !account.IsVersionConflict(err) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}
	if _, err := s.SetBalance(ctx, 99, decimal.NewFromInt(1), 1); !account.IsNotFound(err) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_EnsureMaster(t *testing.T) {
	s := setupTestRedis(t)
	defer s.Close()
	ctx := context.Background()

	master, err := s.EnsureMaster(ctx, 1)
	if err != nil {
		t.Fatalf("EnsureMaster failed: %v", err)
	}
	if !master.IsMaster() || !master.Balance.IsZero() {
		t.Errorf("Unexpected master: %+v", master)
	}

	if _, err := s.EnsureMaster(ctx, 1); err != nil {
		t.Errorf("EnsureMaster should be idempotent, got %v", err)
	}

	if _, err := s.EnsureMaster(ctx, 7); !account.IsValidation(err) {
		t.Errorf("Expected ErrValidation for a second master, got %v", err)
	}
	if _, err := s.Get(ctx, 7); !account.IsNotFound(err) {
		t.Errorf("Expected #7 not to be created, got %v", err)
	}
}
