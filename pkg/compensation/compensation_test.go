package compensation

import (
	"context"
	"errors"
	"testing"
	"time"

	metricsmem "accounts-ledger/pkg/metrics/memory"
	"accounts-ledger/pkg/transfer"

	"github.com/shopspring/decimal"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeLog, false},
		{"noop", ModeNoOp, false},
		{" QUEUE ", ModeQueue, false},
		{"reconcile", ModeReconcile, false},
		{"email", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChain_JoinsErrors(t *testing.T) {
	errA := errors.New("a")
	calls := 0

	c := Chain{
		Func(func(context.Context, Event) error { calls++; return errA }),
		NoOp{},
		Func(func(context.Context, Event) error { calls++; return nil }),
	}

	err := c.Compensate(context.Background(), Event{})
	if !errors.Is(err, errA) {
		t.Errorf("Expected joined error to contain errA, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected both funcs to run, got %d calls", calls)
	}
	if c.Defers() {
		t.Error("Chain without a reconcile member should not defer")
	}
}

func TestReconcile_FlagsIntent(t *testing.T) {
	ctx := context.Background()
	repo := transfer.NewMemoryRepository()
	intent := transfer.NewIntent(2, 1, decimal.NewFromInt(200), time.Now())
	if err := repo.Create(ctx, intent); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, intent.ID, transfer.Update{Status: transfer.StatusMasterCredited}); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	r := NewReconcile(repo)
	if !Defers(r) || !Defers(Chain{NewLog(nil), r}) {
		t.Error("Expected reconcile compensator to defer")
	}

	if err := r.Compensate(ctx, Event{TransferID: intent.ID, Reason: "debit failed"}); err != nil {
		t.Fatalf("Compensate failed: %v", err)
	}

	got, _ := repo.Get(ctx, intent.ID)
	if got.Status != transfer.StatusMasterCredited {
		t.Errorf("Expected intent to stay MASTER_CREDITED, got %s", got.Status)
	}
	if got.LastError == "" {
		t.Error("Expected LastError to be recorded")
	}
}

func TestWithMetrics(t *testing.T) {
	collector := metricsmem.NewCollector()
	c := WithMetrics(Func(func(context.Context, Event) error { return errors.New("x") }), ModeLog, collector)

	c.Compensate(context.Background(), Event{})
	WithMetrics(NoOp{}, ModeNoOp, collector).Compensate(context.Background(), Event{})

	snap := collector.Snapshot()
	if snap.Compensations["log"] != 1 || snap.CompensationErrs["log"] != 1 {
		t.Errorf("Unexpected log counts: %+v / %+v", snap.Compensations, snap.CompensationErrs)
	}
	if snap.Compensations["noop"] != 1 {
		t.Errorf("Expected one noop compensation, got %+v", snap.Compensations)
	}
}
