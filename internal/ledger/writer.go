package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promptforge/internal/domain/accounts"
	ledgerdomain "promptforge/internal/domain/ledger"
	"promptforge/internal/domain/plans"
	"promptforge/internal/infra/metrics"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultMaxTries = 4

// Writer is the only component allowed to mutate account balances. Every
// successful mutation appends exactly one ledger entry in the same transaction.
type Writer struct {
	db       *gorm.DB
	log      *zap.Logger
	metrics  *metrics.Metrics
	maxTries uint
	backOff  func() backoff.BackOff
}

type Option func(*Writer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// WithRetry overrides how storage errors are retried.
func WithRetry(maxTries uint, newBackOff func() backoff.BackOff) Option {
	return func(w *Writer) {
		if maxTries > 0 {
			w.maxTries = maxTries
		}
		if newBackOff != nil {
			w.backOff = newBackOff
		}
	}
}

func NewWriter(db *gorm.DB, log *zap.Logger, opts ...Option) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Writer{
		db:       db,
		log:      log.Named("ledger"),
		maxTries: defaultMaxTries,
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Debit removes amount from the balance only if the balance covers it.
// On ErrInsufficientBalance the returned value is the current balance.
func (w *Writer) Debit(ctx context.Context, accountID uint, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledgerdomain.ErrInvalidAmount
	}
	correlationID := "usage:" + uuid.NewString()

	remaining, err := w.retry(ctx, func() (int64, error) {
		return w.apply(ctx, accountID, -amount, ledgerdomain.ReasonUsage, correlationID)
	})
	if errors.Is(err, ledgerdomain.ErrAlreadyApplied) {
		// a retried attempt whose first try had committed
		err = nil
	}

	log := w.log.With(zap.Uint("account_id", accountID), zap.Int64("amount", amount))
	switch {
	case err == nil:
		w.metrics.RecordLedgerMutation("debit", string(ledgerdomain.ReasonUsage), "ok")
		log.Debug("debit applied", zap.Int64("remaining", remaining))
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		w.metrics.RecordLedgerMutation("debit", string(ledgerdomain.ReasonUsage), "insufficient")
		log.Debug("debit refused", zap.Int64("balance", remaining))
	case errors.Is(err, ledgerdomain.ErrLedgerInvariantViolation):
		w.metrics.RecordLedgerMutation("debit", string(ledgerdomain.ReasonUsage), "invariant_violation")
		log.Error("ledger invariant violated", zap.Bool("alert", true), zap.Int64("balance", remaining))
	default:
		w.metrics.RecordLedgerMutation("debit", string(ledgerdomain.ReasonUsage), "error")
		log.Error("debit failed", zap.Error(err))
	}
	return remaining, err
}

// Credit adds amount to the balance. A repeated correlationID is a no-op that
// returns the current balance together with ErrAlreadyApplied.
func (w *Writer) Credit(ctx context.Context, accountID uint, amount int64, reason ledgerdomain.Reason, correlationID string) (int64, error) {
	if amount <= 0 {
		return 0, ledgerdomain.ErrInvalidAmount
	}
	if correlationID == "" {
		return 0, ledgerdomain.ErrMissingCorrelationID
	}

	balance, err := w.retry(ctx, func() (int64, error) {
		return w.apply(ctx, accountID, amount, reason, correlationID)
	})
	w.logMutation("credit", accountID, reason, correlationID, balance, err)
	return balance, err
}

// Set moves the balance to an absolute value, recording the difference.
// It shares Credit's correlation id idempotency.
func (w *Writer) Set(ctx context.Context, accountID uint, target int64, reason ledgerdomain.Reason, correlationID string) (int64, error) {
	if target < 0 {
		return 0, ledgerdomain.ErrInvalidAmount
	}
	if correlationID == "" {
		return 0, ledgerdomain.ErrMissingCorrelationID
	}

	balance, err := w.retry(ctx, func() (int64, error) {
		return w.set(ctx, accountID, target, reason, correlationID)
	})
	w.logMutation("set", accountID, reason, correlationID, balance, err)
	return balance, err
}

func (w *Writer) Balance(ctx context.Context, accountID uint) (int64, error) {
	return currentBalance(w.db.WithContext(ctx), accountID)
}

// Entries returns the newest ledger entries for an account.
func (w *Writer) Entries(ctx context.Context, accountID uint, limit int) ([]ledgerdomain.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []ledgerdomain.Entry
	err := w.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// EnsureAccount creates the account on first contact and grants the signup
// tokens once.
func (w *Writer) EnsureAccount(ctx context.Context, accountID uint, signupGrant int64) (accounts.Account, error) {
	acct := accounts.Account{
		ID:              accountID,
		Tier:            plans.TierFree,
		Status:          accounts.StatusActive,
		MigrationStatus: accounts.MigrationPending,
	}
	err := w.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&acct).Error
	if err != nil {
		return accounts.Account{}, fmt.Errorf("create account: %w", err)
	}

	if signupGrant > 0 {
		_, err := w.Credit(ctx, accountID, signupGrant, ledgerdomain.ReasonSignupGrant, fmt.Sprintf("signup:%d", accountID))
		if err != nil && !errors.Is(err, ledgerdomain.ErrAlreadyApplied) {
			return accounts.Account{}, err
		}
	}

	var out accounts.Account
	if err := w.db.WithContext(ctx).Where("id = ?", accountID).Take(&out).Error; err != nil {
		return accounts.Account{}, fmt.Errorf("load account: %w", err)
	}
	return out, nil
}

// apply runs one guarded delta: the balance update, then the entry insert.
// A conflicting correlation id rolls the update back.
func (w *Writer) apply(ctx context.Context, accountID uint, delta int64, reason ledgerdomain.Reason, correlationID string) (int64, error) {
	var balance int64
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&accounts.Account{}).Where("id = ?", accountID)
		if delta < 0 {
			q = q.Where("balance >= ?", -delta)
		}
		res := q.Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", delta),
			"version": gorm.Expr("version + 1"),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			current, err := currentBalance(tx, accountID)
			if err != nil {
				return err
			}
			balance = current
			return ledgerdomain.ErrInsufficientBalance
		}

		current, err := currentBalance(tx, accountID)
		if err != nil {
			return err
		}
		balance = current
		if current < 0 {
			return ledgerdomain.ErrLedgerInvariantViolation
		}

		inserted, err := insertEntry(tx, ledgerdomain.Entry{
			AccountID:     accountID,
			Delta:         delta,
			Reason:        reason,
			CorrelationID: correlationID,
			BalanceAfter:  current,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return ledgerdomain.ErrAlreadyApplied
		}
		return nil
	})
	if errors.Is(err, ledgerdomain.ErrAlreadyApplied) {
		current, readErr := currentBalance(w.db.WithContext(ctx), accountID)
		if readErr != nil {
			return 0, readErr
		}
		return current, err
	}
	return balance, err
}

func (w *Writer) set(ctx context.Context, accountID uint, target int64, reason ledgerdomain.Reason, correlationID string) (int64, error) {
	var balance int64
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct accounts.Account
		if err := tx.Select("id", "balance", "version").Where("id = ?", accountID).Take(&acct).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return accounts.ErrAccountNotFound
			}
			return err
		}
		balance = acct.Balance

		var seen int64
		if err := tx.Model(&ledgerdomain.Entry{}).Where("correlation_id = ?", correlationID).Count(&seen).Error; err != nil {
			return err
		}
		if seen > 0 {
			return ledgerdomain.ErrAlreadyApplied
		}

		res := tx.Model(&accounts.Account{}).
			Where("id = ? AND version = ?", accountID, acct.Version).
			Updates(map[string]interface{}{
				"balance": target,
				"version": gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ledgerdomain.ErrVersionConflict
		}

		inserted, err := insertEntry(tx, ledgerdomain.Entry{
			AccountID:     accountID,
			Delta:         target - acct.Balance,
			Reason:        reason,
			CorrelationID: correlationID,
			BalanceAfter:  target,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return ledgerdomain.ErrAlreadyApplied
		}
		balance = target
		return nil
	})
	return balance, err
}

func insertEntry(tx *gorm.DB, entry ledgerdomain.Entry) (bool, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "correlation_id"}},
		DoNothing: true,
	}).Create(&entry)
	if res.Error != nil {
		return false, fmt.Errorf("insert ledger entry: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func currentBalance(db *gorm.DB, accountID uint) (int64, error) {
	var acct accounts.Account
	if err := db.Select("id", "balance").Where("id = ?", accountID).Take(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, accounts.ErrAccountNotFound
		}
		return 0, err
	}
	return acct.Balance, nil
}

func (w *Writer) retry(ctx context.Context, op func() (int64, error)) (int64, error) {
	return backoff.Retry(ctx, func() (int64, error) {
		v, err := op()
		if err != nil && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(w.backOff()), backoff.WithMaxTries(w.maxTries))
}

// IsRetryable reports whether err is a storage failure worth another attempt.
// Business outcomes are final.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ledgerdomain.ErrVersionConflict):
		return true
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance),
		errors.Is(err, ledgerdomain.ErrAlreadyApplied),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrMissingCorrelationID),
		errors.Is(err, ledgerdomain.ErrLedgerInvariantViolation),
		errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

func (w *Writer) logMutation(op string, accountID uint, reason ledgerdomain.Reason, correlationID string, balance int64, err error) {
	log := w.log.With(
		zap.String("operation", op),
		zap.Uint("account_id", accountID),
		zap.String("reason", string(reason)),
		zap.String("correlation_id", correlationID),
	)
	switch {
	case err == nil:
		w.metrics.RecordLedgerMutation(op, string(reason), "ok")
		log.Info("ledger mutation applied", zap.Int64("balance", balance))
	case errors.Is(err, ledgerdomain.ErrAlreadyApplied):
		w.metrics.RecordLedgerMutation(op, string(reason), "already_applied")
		log.Info("duplicate ledger mutation ignored", zap.Int64("balance", balance))
	case errors.Is(err, ledgerdomain.ErrLedgerInvariantViolation):
		w.metrics.RecordLedgerMutation(op, string(reason), "invariant_violation")
		log.Error("ledger invariant violated", zap.Bool("alert", true), zap.Int64("balance", balance))
	default:
		w.metrics.RecordLedgerMutation(op, string(reason), "error")
		log.Warn("ledger mutation failed", zap.Error(err))
	}
}
