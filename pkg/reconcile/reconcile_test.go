package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"accounts-ledger/pkg/account"
	"accounts-ledger/pkg/account/memory"
	"accounts-ledger/pkg/directory"
	"accounts-ledger/pkg/ledger"
	metricsmem "accounts-ledger/pkg/metrics/memory"
	"accounts-ledger/pkg/transfer"

	"github.com/shopspring/decimal"
)

type fakeRepairer struct {
	repairErr error
	resolved  transfer.Status
	repaired  int32
	abandoned int32
}

func (f *fakeRepairer) RepairWithdrawal(ctx context.Context, intent *transfer.Intent) error {
	atomic.AddInt32(&f.repaired, 1)
	return f.repairErr
}

func (f *fakeRepairer) ResolvePending(ctx context.Context, intent *transfer.Intent) (transfer.Status, error) {
	atomic.AddInt32(&f.abandoned, 1)
	if f.resolved != "" {
		return f.resolved, nil
	}
	return transfer.StatusFailed, nil
}

func seedIntent(t *testing.T, repo *transfer.MemoryRepository, status transfer.Status, age time.Duration) *transfer.Intent {
	t.Helper()
	intent := transfer.NewIntent(2, 1, decimal.NewFromInt(200), time.Now().Add(-age))
	intent.Status = status
	intent.MasterCredited = status == transfer.StatusMasterCredited
	if err := repo.Create(context.Background(), intent); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return intent
}

func TestRunOnce_Outcomes(t *testing.T) {
	repo := transfer.NewMemoryRepository()
	seedIntent(t, repo, transfer.StatusMasterCredited, time.Hour)
	seedIntent(t, repo, transfer.StatusPending, time.Hour)
	seedIntent(t, repo, transfer.StatusPending, time.Second)
	seedIntent(t, repo, transfer.StatusCompleted, time.Hour)

	repairer := &fakeRepairer{}
	collector := metricsmem.NewCollector()
	r := New(repo, repairer, Config{Grace: time.Minute}, collector)

	sum, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if sum.Repaired != 1 || sum.Abandoned != 1 || sum.Failed != 0 {
		t.Errorf("Unexpected summary %+v", sum)
	}

	snap := collector.Snapshot()
	if snap.Reconciled["repaired"] != 1 || snap.Reconciled["abandoned"] != 1 {
		t.Errorf("Unexpected metrics %+v", snap.Reconciled)
	}
}

func TestRunOnce_RepairFailureCounted(t *testing.T) {
	repo := transfer.NewMemoryRepository()
	seedIntent(t, repo, transfer.StatusMasterCredited, time.Hour)

	r := New(repo, &fakeRepairer{repairErr: errors.New("store down")}, Config{Grace: time.Minute}, nil)

	sum, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("repair failures should not fail the pass: %v", err)
	}
	if sum.Failed != 1 || sum.Repaired != 0 {
		t.Errorf("Unexpected summary %+v", sum)
	}
}

func TestRunOnce_RepairsLedger(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.Config{})
	if _, err := store.EnsureMaster(ctx, 1); err != nil {
		t.Fatalf("EnsureMaster failed: %v", err)
	}
	if _, err := store.Insert(ctx, &account.Account{
		AccountNumber: 2,
		Balance:       decimal.NewFromInt(500),
		OwnerIDs:      []string{"a"},
		Type:          account.TypePrivate,
	}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	repo := transfer.NewMemoryRepository()
	// the master credit landed but the process stopped before the debit
	seedIntent(t, repo, transfer.StatusMasterCredited, time.Hour)

	coord, err := ledger.New(ledger.DefaultConfig(), ledger.Dependencies{
		Store:     store,
		Directory: directory.NewStatic(),
		Intents:   repo,
	})
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}

	r := New(repo, coord, Config{Grace: time.Minute}, nil)
	sum, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if sum.Repaired != 1 {
		t.Fatalf("Expected 1 repair, got %+v", sum)
	}

	acc, _ := store.Get(ctx, 2)
	if !acc.Balance.Equal(decimal.NewFromInt(300)) {
		t.Errorf("Expected #2 debited to 300, got %s", acc.Balance)
	}

	stale, _ := repo.ListStale(ctx, time.Now().Add(time.Hour), 10, transfer.StatusMasterCredited)
	if len(stale) != 0 {
		t.Errorf("Expected no open intents left, got %d", len(stale))
	}
}

func TestRunOnce_PendingResolvedToCompleted(t *testing.T) {
	repo := transfer.NewMemoryRepository()
	seedIntent(t, repo, transfer.StatusPending, time.Hour)

	r := New(repo, &fakeRepairer{resolved: transfer.StatusCompleted}, Config{Grace: time.Minute}, nil)
	sum, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if sum.Repaired != 1 || sum.Abandoned != 0 {
		t.Errorf("Unexpected summary %+v", sum)
	}
}

func TestRunOnce_PendingCreditLanded(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.Config{})
	master, err := store.EnsureMaster(ctx, 1)
	if err != nil {
		t.Fatalf("EnsureMaster failed: %v", err)
	}
	if _, err := store.Insert(ctx, &account.Account{
		AccountNumber: 2,
		Balance:       decimal.NewFromInt(500),
		OwnerIDs:      []string{"a"},
		Type:          account.TypePrivate,
	}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	repo := transfer.NewMemoryRepository()
	intent := seedIntent(t, repo, transfer.StatusPending, time.Hour)
	credit := transfer.PendingWrite{AccountNumber: 1, ExpectedVersion: master.Version, Balance: decimal.NewFromInt(200)}
	if _, err := repo.UpdateStatus(ctx, intent.ID, transfer.Update{Status: transfer.StatusPending, Write: &credit}); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	// the credit landed but the process stopped before recording it
	if _, err := store.SetBalance(ctx, 1, credit.Balance, credit.ExpectedVersion); err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}

	coord, err := ledger.New(ledger.DefaultConfig(), ledger.Dependencies{
		Store:     store,
		Directory: directory.NewStatic(),
		Intents:   repo,
	})
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}

	r := New(repo, coord, Config{Grace: time.Minute}, nil)
	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	sum, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if sum.Repaired != 1 {
		t.Fatalf("Expected the pending intent to be finished, got %+v", sum)
	}

	acc, _ := store.Get(ctx, 2)
	if !acc.Balance.Equal(decimal.NewFromInt(300)) {
		t.Errorf("Expected #2 debited to 300, got %s", acc.Balance)
	}
	got, _ := repo.Get(ctx, intent.ID)
	if got.Status != transfer.StatusCompleted {
		t.Errorf("Expected COMPLETED, got %s", got.Status)
	}
}

func TestStartStop(t *testing.T) {
	repo := transfer.NewMemoryRepository()
	seedIntent(t, repo, transfer.StatusPending, time.Hour)

	repairer := &fakeRepairer{}
	r := New(repo, repairer, Config{Interval: 10 * time.Millisecond, Grace: time.Minute}, nil)
	r.Start()

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&repairer.abandoned) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()

	if atomic.LoadInt32(&repairer.abandoned) == 0 {
		t.Error("Expected the background loop to run a pass")
	}
}
