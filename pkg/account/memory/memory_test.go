package memory

import (
	"context"
	"sync"
	"testing"

	"accounts-ledger/pkg/account"

	"github.com/shopspring/decimal"
)

func newPrivate(number int64, balance int64) *account.Account {
	return &account.Account{
		AccountNumber: number,
		Balance:       decimal.NewFromInt(balance),
		OwnerIDs:      []string{"owner-1"},
		Type:          account.TypePrivate,
	}
}

func TestStore_InsertGet(t *testing.T) {
	s := NewStore(Config{})
	defer s.Close()
	ctx := context.Background()

	created, err := s.Insert(ctx, newPrivate(2, 500))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if created.Version != 1 {
		t.Errorf("Expected version 1, got %d", created.Version)
	}
	if created.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}

	got, err := s.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected balance 500, got %s", got.Balance)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	s := NewStore(Config{})
	defer s.Close()

	_, err := s.Get(context.Background(), 42)
	if !account.IsNotFound(err) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_Insert_Conflict(t *testing.T) {
	s := NewStore(Config{})
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Insert(ctx, newPrivate(2, 0)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	_, err := s.Insert(ctx, newPrivate(2, 10))
	if !account.IsConflict(err) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestStore_Insert_RejectsMaster(t *testing.T) {
	s := NewStore(Config{})
	defer s.Close()

	acc := newPrivate(5, 0)
	acc.Type = account.TypeMaster

	_, err := s.Insert(context.Background(), acc)
	if !account.IsValidation(err) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store, got %d accounts", s.Len())
	}
}

func TestStore_Get_ReturnsCopy(t *testing.T) {
	s := NewStore(Config{})
	defer s.Close()
	ctx := context.Background()

	s.Insert(ctx, newPrivate(2, 100))

	got, _ := s.Get(ctx, 2)
	got.Balance = decimal.NewFromInt(999)
	got.OwnerIDs[0] = "mutated"

	again, _ := s.Get(ctx, 2)
	if !again.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("stored balance was mutated through a returned copy: %s", again.Balance)
	}
	if again.OwnerIDs[0] != "owner-1" {
		t.Errorf("stored owners were mutated through a returned copy: %v", again.OwnerIDs)
	}
}

func TestStore_SetBalance(t *testing.T) {
	s := NewStore(Config{})
	defer s.Close()
	ctx := context.Background()

	s.Insert(ctx, newPrivate(2, 100))

	version, err := s.SetBalance(ctx, 2, decimal.NewFromInt(150), 1)
	if err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected version 2, got %d", version)
	}

	// stale version
	_, err = s.SetBalance(ctx, 2, decimal.NewFromInt(10), 1)
	if !account.IsVersionConflict(err) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}

	got, _ := s.Get(ctx, 2)
	if !got.Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected balance 150, got %s", got.Balance)
	}

	_, err = s.SetBalance(ctx, 99, decimal.Zero, 1)
	if !account.IsNotFound(err) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_SetBalance_ConcurrentCAS(t *testing.T) {
	s := NewStore(Config{})
	defer s.Close()
	ctx := context.Background()

	s.Insert(ctx, newPrivate(2, 0))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				acc, err := s.Get(ctx, 2)
				if err != nil {
					t.Errorf("Get failed: %v", err)
					return
				}
				_, err = s.SetBalance(ctx, 2, acc.Balance.Add(decimal.NewFromInt(1)), acc.Version)
				if err == nil {
					return
				}
				if !account.IsVersionConflict(err) {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, 2)
	if !got.Balance.Equal(decimal.NewFromInt(workers)) {
		t.Errorf("Expected balance %d, got %s", workers, got.Balance)
	}
}

func TestStore_EnsureMaster(t *testing.T) {
	s := NewStore(Config{})
	defer s.Close()
	ctx := context.Background()

	master, err := s.EnsureMaster(ctx, 1)
	if err != nil {
		t.Fatalf("EnsureMaster failed: %v", err)
	}
	if !master.IsMaster() {
		t.Errorf("Expected MASTER type, got %s", master.Type)
	}

	// idempotent
	again, err := s.EnsureMaster(ctx, 1)
	if err != nil {
		t.Fatalf("second EnsureMaster failed: %v", err)
	}
	if again.Version != master.Version {
		t.Errorf("Expected unchanged version %d, got %d", master.Version, again.Version)
	}

	s.Insert(ctx, newPrivate(2, 0))
	if _, err := s.EnsureMaster(ctx, 2); !account.IsValidation(err) {
		t.Errorf("Expected ErrValidation for non-master number, got %v", err)
	}

	// a different master number must not create a second master
	if _, err := s.EnsureMaster(ctx, 7); !account.IsValidation(err) {
		t.Errorf("Expected ErrValidation for a second master, got %v", err)
	}
	if _, err := s.Get(ctx, 7); !account.IsNotFound(err) {
		t.Errorf("Expected #7 not to be created, got %v", err)
	}
}

func TestStore_Closed(t *testing.T) {
	s := NewStore(Config{Name: "closing"})
	s.Close()

	if _, err := s.Get(context.Background(), 1); err != account.ErrStorageUnavailable {
		t.Errorf("Expected ErrStorageUnavailable, got %v", err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Expected Ping to fail on closed store")
	}
	if s.Name() != "closing" {
		t.Errorf("Expected name closing, got %s", s.Name())
	}
}
