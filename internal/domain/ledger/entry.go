package ledger

import (
	"errors"
	"time"
)

type Reason string

const (
	ReasonUsage             Reason = "usage"
	ReasonSubscriptionGrant Reason = "subscription_grant"
	ReasonPurchase          Reason = "purchase"
	ReasonAdminAdjustment   Reason = "admin_adjustment"
	ReasonMigration         Reason = "migration"
	ReasonSignupGrant       Reason = "signup_grant"
)

// Entry is an append-only audit row. Rows are never updated.
type Entry struct {
	ID            uint   `gorm:"primaryKey"`
	AccountID     uint   `gorm:"not null;index:idx_ledger_entries_account_id"`
	Delta         int64  `gorm:"not null"`
	Reason        Reason `gorm:"type:varchar(32);not null"`
	CorrelationID string `gorm:"column:correlation_id;type:varchar(191);not null;uniqueIndex:idx_ledger_entries_correlation_id"`
	BalanceAfter  int64  `gorm:"not null"`
	CreatedAt     time.Time
}

func (Entry) TableName() string { return "ledger_entries" }

var (
	ErrInsufficientBalance      = errors.New("ledger: insufficient balance")
	ErrAlreadyApplied           = errors.New("ledger: already applied")
	ErrInvalidAmount            = errors.New("ledger: invalid amount")
	ErrMissingCorrelationID     = errors.New("ledger: missing correlation id")
	ErrLedgerInvariantViolation = errors.New("ledger: invariant violation")
	ErrVersionConflict          = errors.New("ledger: concurrent balance update")
)
