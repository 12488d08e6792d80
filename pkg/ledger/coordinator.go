// Package ledger applies deposits, withdrawals and account creation on top of
// an account store. Withdrawals move money from a source account into the
// master account in two separately retried writes.
package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"accounts-ledger/pkg/account"
	"accounts-ledger/pkg/compensation"
	"accounts-ledger/pkg/directory"
	"accounts-ledger/pkg/logging"
	"accounts-ledger/pkg/metrics"
	"accounts-ledger/pkg/retry"
	"accounts-ledger/pkg/transfer"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config configures a Coordinator.
type Config struct {
	// MasterAccountNumber identifies the account that receives every withdrawal.
	MasterAccountNumber int64

	// Retry governs every balance write.
	Retry retry.Policy
}

// DefaultConfig uses master account #1 and the default retry policy.
func DefaultConfig() Config {
	return Config{
		MasterAccountNumber: account.DefaultMasterAccountNumber,
		Retry:               retry.DefaultPolicy(),
	}
}

// Dependencies are the collaborators of a Coordinator. Store and Directory
// are required.
type Dependencies struct {
	Store       account.Store
	Directory   directory.Directory
	Intents     transfer.Repository
	Compensator compensation.Compensator
	Metrics     metrics.Collector
	Logger      *logging.Logger
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	config      Config
	retry       retry.Policy
	store       account.Store
	directory   directory.Directory
	intents     transfer.Repository
	compensator compensation.Compensator
	metrics     metrics.Collector
	logger      *logging.Logger
	reads       singleflight.Group
	now         func() time.Time
}

// CreateAccountRequest is the input of CreateAccount.
type CreateAccountRequest struct {
	AccountNumber int64
	OwnerIDs      []string
	Type          account.Type
	Balance       decimal.Decimal
}

// New builds a Coordinator.
func New(config Config, deps Dependencies) (*Coordinator, error) {
	if deps.Store == nil {
		return nil, errors.New("ledger: store is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("ledger: directory is required")
	}
	if config.MasterAccountNumber <= 0 {
		return nil, errors.New("ledger: master account number must be positive")
	}
	if deps.Intents == nil {
		deps.Intents = transfer.NewMemoryRepository()
	}
	if deps.Compensator == nil {
		deps.Compensator = compensation.NoOp{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoOpCollector{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Global()
	}

	c := &Coordinator{
		config:      config,
		store:       deps.Store,
		directory:   deps.Directory,
		intents:     deps.Intents,
		compensator: deps.Compensator,
		metrics:     deps.Metrics,
		logger:      deps.Logger.Named("ledger"),
		now:         time.Now,
	}

	observer := config.Retry.OnRetry
	c.retry = config.Retry.WithOnRetry(func(operation string, attempt int, delay time.Duration, err error) {
		c.metrics.RecordRetry(operation, attempt)
		c.logger.Warn("retrying balance write",
			logging.Operation(operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if observer != nil {
			observer(operation, attempt, delay, err)
		}
	})

	return c, nil
}

// MasterAccountNumber returns the configured master account number.
func (c *Coordinator) MasterAccountNumber() int64 {
	return c.config.MasterAccountNumber
}

// CreateAccount validates the owners against the directory and inserts the account.
func (c *Coordinator) CreateAccount(ctx context.Context, req CreateAccountRequest) (acc *account.Account, err error) {
	const op = "create_account"
	defer c.observe(op, time.Now(), &err)

	if len(req.OwnerIDs) == 0 {
		return nil, newError(KindInvalidRequest, op, nil, "account must have at least one owner")
	}

	owners, err := c.directory.GetOwners(ctx, req.OwnerIDs)
	if err != nil {
		c.logger.Error("owner lookup failed",
			logging.Operation(op),
			logging.AccountNumber(req.AccountNumber),
			zap.Strings("owner_ids", req.OwnerIDs),
			zap.Error(err),
		)
		return nil, newError(KindDependency, op, err, "client directory unavailable")
	}
	if len(owners) == 0 {
		return nil, newError(KindInvalidRequest, op, nil,
			"there are no clients with ids: %s", strings.Join(req.OwnerIDs, ","))
	}
	if missing := missingOwners(req.OwnerIDs, owners); len(missing) > 0 {
		return nil, newError(KindInvalidRequest, op, nil,
			"unknown client ids: %s", strings.Join(missing, ","))
	}

	created, err := c.store.Insert(ctx, &account.Account{
		AccountNumber: req.AccountNumber,
		Balance:       req.Balance,
		OwnerIDs:      req.OwnerIDs,
		Type:          req.Type,
	})
	switch {
	case err == nil:
	case account.IsConflict(err):
		return nil, newError(KindInvalidRequest, op, err, "account #%d already exists", req.AccountNumber)
	case account.IsValidation(err):
		return nil, newError(KindInvalidRequest, op, err, "%s", strings.TrimPrefix(err.Error(), account.ErrValidation.Error()+": "))
	default:
		c.logger.Error("failed to insert account",
			logging.Operation(op),
			logging.AccountNumber(req.AccountNumber),
			zap.Error(err),
		)
		return nil, newError(KindInternal, op, err, "failed to create account")
	}

	c.logger.Info("account created",
		logging.AccountNumber(created.AccountNumber),
		zap.String("type", string(created.Type)),
	)
	return created, nil
}

// GetAccount reads one account. Concurrent reads of the same number share a
// single store call.
func (c *Coordinator) GetAccount(ctx context.Context, number int64) (acc *account.Account, err error) {
	const op = "get_account"
	defer c.observe(op, time.Now(), &err)

	v, err, _ := c.reads.Do(strconv.FormatInt(number, 10), func() (interface{}, error) {
		return c.store.Get(ctx, number)
	})
	if err != nil {
		return nil, c.readError(op, number, err)
	}
	return v.(*account.Account).Clone(), nil
}

// Deposit adds amount to the account balance.
func (c *Coordinator) Deposit(ctx context.Context, number int64, amount decimal.Decimal) (err error) {
	const op = "deposit"
	defer c.observe(op, time.Now(), &err)

	if amount.IsNegative() {
		return newError(KindInvalidRequest, op, nil, "amount must not be negative")
	}
	if number == c.config.MasterAccountNumber {
		return newError(KindForbidden, op, nil, "deposits to the master account are not allowed")
	}

	snapshot, err := c.store.Get(ctx, number)
	if err != nil {
		return c.readError(op, number, err)
	}

	if _, err := c.adjust(ctx, op, snapshot, amount); err != nil {
		if account.IsNotFound(err) {
			return c.readError(op, number, err)
		}
		c.logger.Error("deposit failed",
			logging.Operation(op),
			logging.AccountNumber(number),
			logging.Amount(amount),
			zap.Error(err),
		)
		return newError(KindInternal, op, err, "failed to update balance")
	}

	c.logger.Debug("deposit applied",
		logging.AccountNumber(number),
		logging.Amount(amount),
	)
	return nil
}

// adjust writes snapshot.Balance+delta with a versioned write under the retry
// policy. A version conflict re-reads the account and recomputes the target
// from the fresh balance. A write that failed ambiguously is checked against
// a fresh read before anything else is written; if its outcome cannot be
// told, adjust stops with an *unsettledError.
func (c *Coordinator) adjust(ctx context.Context, op string, snapshot *account.Account, delta decimal.Decimal) (*account.Account, error) {
	number := snapshot.AccountNumber
	current := snapshot.Clone()
	var (
		updated *account.Account
		pending *transfer.PendingWrite
		cause   error
	)

	err := c.retry.Do(ctx, op, func(ctx context.Context) error {
		if current == nil {
			fresh, err := c.store.Get(ctx, number)
			if err != nil {
				return err
			}
			if pending != nil {
				switch pending.Outcome(fresh.Version, fresh.Balance) {
				case transfer.WriteApplied:
					// the previous attempt failed after its write had landed
					updated = fresh
					return nil
				case transfer.WriteUnknown:
					return &unsettledError{write: *pending, cause: cause}
				}
				pending = nil
			}
			current = fresh
		}

		write := plannedWrite(current, delta)
		version, err := c.store.SetBalance(ctx, number, write.Balance, write.ExpectedVersion)
		if err != nil {
			if account.IsVersionConflict(err) {
				current = nil
			} else if account.IsTransient(err) && !errors.Is(err, account.ErrCircuitOpen) {
				pending, cause = &write, err
				current = nil
			}
			return err
		}

		updated = current.Clone()
		updated.Balance = write.Balance
		updated.Version = version
		return nil
	})
	if err == nil {
		return updated, nil
	}
	if retry.IsExhausted(err) {
		c.metrics.RecordRetryExhausted(op)
	}
	if pending == nil {
		return nil, err
	}
	if _, ok := unsettledWrite(err); ok {
		return nil, err
	}
	return c.settle(ctx, op, *pending, err)
}

// settle reads the account once more after the retry budget ran out on an
// ambiguous write.
func (c *Coordinator) settle(ctx context.Context, op string, write transfer.PendingWrite, cause error) (*account.Account, error) {
	timeout := c.retry.AttemptTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	fresh, err := c.store.Get(ctx, write.AccountNumber)
	if err != nil {
		c.logger.Warn("could not read back ambiguous balance write",
			logging.Operation(op),
			logging.AccountNumber(write.AccountNumber),
			zap.Error(err),
		)
		return nil, &unsettledError{write: write, cause: cause}
	}

	switch write.Outcome(fresh.Version, fresh.Balance) {
	case transfer.WriteApplied:
		c.logger.Warn("balance write landed although its last attempt failed",
			logging.Operation(op),
			logging.AccountNumber(write.AccountNumber),
			zap.Int64("version", fresh.Version),
		)
		return fresh, nil
	case transfer.WriteNotApplied:
		return nil, cause
	}
	return nil, &unsettledError{write: write, cause: cause}
}

// plannedWrite is the versioned write that applies delta to acc.
func plannedWrite(acc *account.Account, delta decimal.Decimal) transfer.PendingWrite {
	return transfer.PendingWrite{
		AccountNumber:   acc.AccountNumber,
		ExpectedVersion: acc.Version,
		Balance:         acc.Balance.Add(delta),
	}
}

func (c *Coordinator) readError(op string, number int64, err error) error {
	if account.IsNotFound(err) {
		return newError(KindNotFound, op, err, "account #%d not found", number)
	}
	c.logger.Error("failed to read account",
		logging.Operation(op),
		logging.AccountNumber(number),
		zap.Error(err),
	)
	return newError(KindInternal, op, err, "failed to read account")
}

func (c *Coordinator) observe(op string, start time.Time, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = string(KindOf(*err))
	}
	c.metrics.RecordOperation(op, outcome, time.Since(start))
}

func missingOwners(ids []string, owners []directory.Owner) []string {
	known := make(map[string]bool, len(owners))
	for _, o := range owners {
		known[o.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// compensationEvent builds the hook payload for an inconsistent withdrawal.
func (c *Coordinator) compensationEvent(id uuid.UUID, source int64, amount decimal.Decimal, cause error) compensation.Event {
	return compensation.Event{
		TransferID:          id,
		AccountNumber:       source,
		MasterAccountNumber: c.config.MasterAccountNumber,
		Amount:              amount,
		Reason:              cause.Error(),
		OccurredAt:          c.now(),
	}
}
