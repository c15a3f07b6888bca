package accounts

import "time"

// Account is the single row holding balance and entitlement for one user.
// Balance is only mutated through the ledger writer.
type Account struct {
	ID      uint  `gorm:"primaryKey;autoIncrement:false"`
	Balance int64 `gorm:"not null;default:0;check:chk_accounts_balance_non_negative,balance >= 0"`
	Version int64 `gorm:"not null;default:0"`

	Tier             string     `gorm:"type:varchar(16);not null;default:'free'"`
	Status           string     `gorm:"type:varchar(16);not null;default:'active'"`
	MonthlyAllotment int64      `gorm:"not null;default:0"`
	PeriodStart      *time.Time `gorm:"column:period_start"`
	PeriodEnd        *time.Time `gorm:"column:period_end"`
	SubscriptionID   *string    `gorm:"column:subscription_id;index:idx_accounts_subscription_id"`
	StripeCustomerID *string    `gorm:"column:stripe_customer_id;uniqueIndex:idx_accounts_stripe_customer_id"`

	// pre-ledger plan ("essential" | "professional" | "advanced"), empty for new accounts
	LegacyPlan      string     `gorm:"column:legacy_plan;type:varchar(32);not null;default:''"`
	MigrationStatus string     `gorm:"column:migration_status;type:varchar(16);not null;default:'pending'"`
	MigratedAt      *time.Time `gorm:"column:migrated_at"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Account) CustomerRef() string {
	if a.StripeCustomerID == nil {
		return ""
	}
	return *a.StripeCustomerID
}
