package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accounts-ledger/pkg/account"
	"accounts-ledger/pkg/compensation"
	"accounts-ledger/pkg/logging"
	"accounts-ledger/pkg/transfer"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Withdrawal moves amount from the source account into the master account.
// The master is credited first; if the source debit then fails for good the
// compensator is invoked once and the result is StateInconsistent.
func (c *Coordinator) Withdrawal(ctx context.Context, number int64, amount decimal.Decimal) (res Result, err error) {
	const op = "withdrawal"
	defer c.observe(op, time.Now(), &err)
	defer func() { c.metrics.RecordWithdrawal(string(res.State)) }()

	res.State = StateValidating
	if amount.IsNegative() {
		res.State = StateAborted
		return res, newError(KindInvalidRequest, op, nil, "amount must not be negative")
	}
	if number == c.config.MasterAccountNumber {
		res.State = StateAborted
		return res, newError(KindForbidden, op, nil, "withdrawals from the master account are not allowed")
	}

	res.State = StateFetchingAccounts
	source, master, err := c.fetchPair(ctx, number)
	if err != nil {
		res.State = StateAborted
		return res, err
	}

	intent := transfer.NewIntent(number, master.AccountNumber, amount, c.now())
	credit := plannedWrite(master, amount)
	intent.Write = &credit
	if err := c.intents.Create(ctx, intent); err != nil {
		c.logger.Error("failed to record withdrawal intent",
			logging.AccountNumber(number),
			logging.Amount(amount),
			zap.Error(err),
		)
		res.State = StateAborted
		return res, newError(KindInternal, op, err, "failed to record withdrawal")
	}
	res.TransferID = intent.ID

	logger := c.logger.With(
		logging.TransferID(intent.ID.String()),
		logging.AccountNumber(number),
		logging.MasterAccountNumber(master.AccountNumber),
		logging.Amount(amount),
	)

	// Phase A
	res.State = StateCreditingMaster
	if _, err := c.adjust(ctx, "withdrawal_credit_master", master, amount); err != nil {
		res.State = StateAborted
		if w, ok := unsettledWrite(err); ok {
			// the intent stays PENDING with the write so the reconciler can
			// decide whether the credit landed
			logger.Error("master credit outcome unknown, withdrawal left for reconciliation", zap.Error(err))
			c.updateIntent(intent.ID, transfer.Update{
				Status:    transfer.StatusPending,
				LastError: err.Error(),
				Write:     w,
			})
			return res, newError(KindInternal, op, err, "failed to update balance")
		}
		logger.Error("failed to credit master account, withdrawal aborted", zap.Error(err))
		c.updateIntent(intent.ID, transfer.Update{
			Status:     transfer.StatusFailed,
			LastError:  err.Error(),
			ClearWrite: true,
		})
		return res, newError(KindInternal, op, err, "failed to update balance")
	}
	debit := plannedWrite(source, amount.Neg())
	c.updateIntent(intent.ID, transfer.Update{Status: transfer.StatusMasterCredited, Write: &debit})

	// Phase B runs to completion even if the caller goes away, so a
	// disconnect never splits the transfer.
	res.State = StateDebitingSource
	if err := c.debitSource(context.WithoutCancel(ctx), source, amount); err != nil {
		logger.Error("failed to debit source after crediting master, withdrawal inconsistent", zap.Error(err))
		c.recordDebitFailure(intent.ID, err)
		c.compensate(ctx, logger, intent.ID, number, amount, err)
		res.State = StateInconsistent
		return res, newError(KindInternal, op, fmt.Errorf("%w: %w", ErrInconsistent, err), "failed to update balance")
	}
	c.updateIntent(intent.ID, transfer.Update{Status: transfer.StatusCompleted, ClearWrite: true})

	res.State = StateCompleted
	logger.Debug("withdrawal completed")
	return res, nil
}

// fetchPair reads the source and master accounts concurrently.
func (c *Coordinator) fetchPair(ctx context.Context, number int64) (source, master *account.Account, err error) {
	const op = "withdrawal"

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		source, err = c.store.Get(gctx, number)
		if err != nil {
			return c.readError(op, number, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		master, err = c.store.Get(gctx, c.config.MasterAccountNumber)
		if err != nil {
			return c.readError(op, c.config.MasterAccountNumber, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return source, master, nil
}

func (c *Coordinator) debitSource(ctx context.Context, source *account.Account, amount decimal.Decimal) error {
	_, err := c.adjust(ctx, "withdrawal_debit_source", source, amount.Neg())
	return err
}

// compensate invokes the hook exactly once and closes the intent unless the
// hook hands it to the reconciler.
func (c *Coordinator) compensate(ctx context.Context, logger *logging.Logger, id uuid.UUID, source int64, amount decimal.Decimal, cause error) {
	ctx = context.WithoutCancel(ctx)
	event := c.compensationEvent(id, source, amount, cause)

	if err := c.compensator.Compensate(ctx, event); err != nil {
		logger.Error("compensation hook failed", zap.Error(err))
	}
	if !compensation.Defers(c.compensator) {
		c.markIntent(id, transfer.StatusFailed, cause)
	}
}

// RepairWithdrawal re-drives the source debit of an intent whose master
// credit has landed. It is used by the reconciler. A debit recorded on the
// intent is checked first: if it already landed the intent is completed
// without writing, and if its outcome cannot be told the intent is failed for
// manual review.
func (c *Coordinator) RepairWithdrawal(ctx context.Context, intent *transfer.Intent) error {
	const op = "repair_withdrawal"

	if intent.Status != transfer.StatusMasterCredited {
		return newError(KindInvalidRequest, op, transfer.ErrInvalidTransition,
			"intent %s is %s, not %s", intent.ID, intent.Status, transfer.StatusMasterCredited)
	}

	logger := c.logger.With(
		logging.TransferID(intent.ID.String()),
		logging.AccountNumber(intent.AccountNumber),
		logging.Amount(intent.Amount),
	)

	source, err := c.store.Get(ctx, intent.AccountNumber)
	if err != nil {
		return c.readError(op, intent.AccountNumber, err)
	}

	if w := intent.Write; w != nil && w.AccountNumber == intent.AccountNumber {
		switch w.Outcome(source.Version, source.Balance) {
		case transfer.WriteApplied:
			if _, err := c.intents.UpdateStatus(ctx, intent.ID, transfer.Update{
				Status:     transfer.StatusCompleted,
				ClearWrite: true,
			}); err != nil {
				return newError(KindInternal, op, err, "failed to complete intent")
			}
			logger.Info("source debit had already landed, withdrawal completed")
			return nil
		case transfer.WriteUnknown:
			logger.Error("source debit outcome unknown, withdrawal needs manual review",
				zap.Int64("expected_version", w.ExpectedVersion),
				zap.Int64("version", source.Version),
			)
			c.updateIntent(intent.ID, transfer.Update{
				Status:    transfer.StatusFailed,
				LastError: "source debit outcome unknown; review manually",
			})
			return newError(KindInternal, op, ErrOutcomeUnknown, "source debit outcome unknown")
		}
	}

	debit := plannedWrite(source, intent.Amount.Neg())
	if _, err := c.intents.UpdateStatus(ctx, intent.ID, transfer.Update{
		Status:    transfer.StatusMasterCredited,
		LastError: intent.LastError,
		Write:     &debit,
	}); err != nil {
		return newError(KindInternal, op, err, "failed to record debit")
	}

	if err := c.debitSource(ctx, source, intent.Amount); err != nil {
		logger.Error("repair of withdrawal failed", zap.Error(err))
		c.recordDebitFailure(intent.ID, err)
		return newError(KindInternal, op, err, "failed to update balance")
	}

	if _, err := c.intents.UpdateStatus(ctx, intent.ID, transfer.Update{
		Status:     transfer.StatusCompleted,
		ClearWrite: true,
	}); err != nil {
		return newError(KindInternal, op, err, "failed to complete intent")
	}

	logger.Info("withdrawal repaired")
	return nil
}

// ResolvePending settles an intent that never confirmed its master credit
// and returns the status it ended in. A credit that provably landed is
// finished by debiting the source; one that provably did not is failed.
// Anything else is failed for manual review.
func (c *Coordinator) ResolvePending(ctx context.Context, intent *transfer.Intent) (transfer.Status, error) {
	const op = "resolve_pending"

	if intent.Status != transfer.StatusPending {
		return intent.Status, newError(KindInvalidRequest, op, transfer.ErrInvalidTransition,
			"intent %s is %s, not %s", intent.ID, intent.Status, transfer.StatusPending)
	}

	logger := c.logger.With(
		logging.TransferID(intent.ID.String()),
		logging.AccountNumber(intent.AccountNumber),
		logging.MasterAccountNumber(intent.MasterAccountNumber),
		logging.Amount(intent.Amount),
	)

	outcome := transfer.WriteUnknown
	if w := intent.Write; w != nil && w.AccountNumber == intent.MasterAccountNumber {
		master, err := c.store.Get(ctx, intent.MasterAccountNumber)
		if err != nil {
			return intent.Status, c.readError(op, intent.MasterAccountNumber, err)
		}
		outcome = w.Outcome(master.Version, master.Balance)
	}

	switch outcome {
	case transfer.WriteNotApplied:
		if err := c.AbandonIntent(ctx, intent, "master credit never landed"); err != nil {
			return intent.Status, err
		}
		logger.Info("stale withdrawal intent failed, master credit never landed")
		return transfer.StatusFailed, nil

	case transfer.WriteApplied:
		credited, err := c.intents.UpdateStatus(ctx, intent.ID, transfer.Update{
			Status:     transfer.StatusMasterCredited,
			ClearWrite: true,
		})
		if err != nil {
			return intent.Status, newError(KindInternal, op, err, "failed to update intent")
		}
		logger.Warn("master credit of stale withdrawal intent had landed, debiting source")
		if err := c.RepairWithdrawal(ctx, credited); err != nil {
			return transfer.StatusMasterCredited, err
		}
		return transfer.StatusCompleted, nil
	}

	if err := c.AbandonIntent(ctx, intent, "master credit outcome unknown; review manually"); err != nil {
		return intent.Status, err
	}
	logger.Error("stale withdrawal intent abandoned, master credit outcome unknown")
	return transfer.StatusFailed, nil
}

// AbandonIntent fails an intent that never confirmed its master credit.
func (c *Coordinator) AbandonIntent(ctx context.Context, intent *transfer.Intent, reason string) error {
	_, err := c.intents.UpdateStatus(ctx, intent.ID, transfer.Update{
		Status:    transfer.StatusFailed,
		LastError: reason,
	})
	if err != nil {
		return newError(KindInternal, "abandon_intent", err, "failed to update intent")
	}
	return nil
}

// GetTransfer returns a recorded withdrawal intent.
func (c *Coordinator) GetTransfer(ctx context.Context, id uuid.UUID) (intent *transfer.Intent, err error) {
	const op = "get_transfer"
	defer c.observe(op, time.Now(), &err)

	intent, err = c.intents.Get(ctx, id)
	if errors.Is(err, transfer.ErrNotFound) {
		return nil, newError(KindNotFound, op, err, "transfer %s not found", id)
	}
	if err != nil {
		return nil, newError(KindInternal, op, err, "failed to read transfer")
	}
	return intent, nil
}

// recordDebitFailure keeps the debit on the intent only when it may have
// landed. A debit that provably did not land is dropped so a repair starts
// from a fresh read.
func (c *Coordinator) recordDebitFailure(id uuid.UUID, err error) {
	update := transfer.Update{
		Status:     transfer.StatusMasterCredited,
		LastError:  err.Error(),
		ClearWrite: true,
	}
	if w, ok := unsettledWrite(err); ok {
		update.Write = w
		update.ClearWrite = false
	}
	c.updateIntent(id, update)
}

// markIntent records progress.
func (c *Coordinator) markIntent(id uuid.UUID, status transfer.Status, cause error) {
	update := transfer.Update{Status: status}
	if cause != nil {
		update.LastError = cause.Error()
	}
	c.updateIntent(id, update)
}

// updateIntent applies update. Failures are logged and never change the
// outcome of the withdrawal, since the balances are already written.
func (c *Coordinator) updateIntent(id uuid.UUID, update transfer.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.intents.UpdateStatus(ctx, id, update); err != nil {
		c.logger.Error("failed to update withdrawal intent",
			logging.TransferID(id.String()),
			zap.String("status", string(update.Status)),
			zap.Error(err),
		)
	}
}
