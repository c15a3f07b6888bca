package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promptforge/internal/domain/accounts"
	"promptforge/internal/domain/plans"

	"gorm.io/gorm"
)

// Store reads accounts and writes everything on the row except the balance.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id uint) (accounts.Account, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *Store) ByCustomerRef(ctx context.Context, ref string) (accounts.Account, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return accounts.Account{}, accounts.ErrAccountNotFound
	}
	return s.first(ctx, "stripe_customer_id = ?", ref)
}

func (s *Store) BySubscriptionID(ctx context.Context, subscriptionID string) (accounts.Account, error) {
	if subscriptionID == "" {
		return accounts.Account{}, accounts.ErrAccountNotFound
	}
	return s.first(ctx, "subscription_id = ?", subscriptionID)
}

func (s *Store) first(ctx context.Context, query string, args ...interface{}) (accounts.Account, error) {
	var acct accounts.Account
	err := s.db.WithContext(ctx).Where(query, args...).Take(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return accounts.Account{}, accounts.ErrAccountNotFound
	}
	if err != nil {
		return accounts.Account{}, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}

// AssignCustomerRef sets the Stripe customer id if none is set yet. The
// reference is immutable afterwards; a different value is rejected.
func (s *Store) AssignCustomerRef(ctx context.Context, id uint, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&accounts.Account{}).
		Where("id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id = '')", id).
		Update("stripe_customer_id", ref)
	if res.Error != nil {
		return fmt.Errorf("assign customer ref: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	acct, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if acct.CustomerRef() != ref {
		return accounts.ErrCustomerRefConflict
	}
	return nil
}

// UpdateEntitlement applies subscription state unless the row already holds a
// later billing period. It reports whether the row changed.
func (s *Store) UpdateEntitlement(ctx context.Context, id uint, e accounts.Entitlement) (bool, error) {
	updates := map[string]interface{}{
		"tier":              plans.NormalizeTier(e.Tier),
		"status":            e.Status,
		"monthly_allotment": e.MonthlyAllotment,
	}
	if e.SubscriptionID != "" {
		updates["subscription_id"] = e.SubscriptionID
	}
	q := s.db.WithContext(ctx).Model(&accounts.Account{}).Where("id = ?", id)
	if !e.PeriodStart.IsZero() {
		updates["period_start"] = e.PeriodStart.UTC()
		q = q.Where("period_start IS NULL OR period_start <= ?", e.PeriodStart.UTC())
	}
	if !e.PeriodEnd.IsZero() {
		updates["period_end"] = e.PeriodEnd.UTC()
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update entitlement: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// CancelEntitlement drops the account to the free tier. The balance is left
// as is. A deletion for a subscription other than the current one is ignored.
func (s *Store) CancelEntitlement(ctx context.Context, id uint, subscriptionID string, endedAt time.Time) (bool, error) {
	updates := map[string]interface{}{
		"tier":              plans.TierFree,
		"status":            accounts.StatusCanceled,
		"monthly_allotment": 0,
	}
	if !endedAt.IsZero() {
		updates["period_end"] = endedAt.UTC()
	}
	res := s.db.WithContext(ctx).Model(&accounts.Account{}).
		Where("id = ?", id).
		Where("subscription_id IS NULL OR subscription_id = '' OR subscription_id = ?", subscriptionID).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("cancel entitlement: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PendingMigration lists legacy accounts not yet converted to the ledger model.
func (s *Store) PendingMigration(ctx context.Context) ([]accounts.Account, error) {
	var out []accounts.Account
	err := s.db.WithContext(ctx).
		Where("legacy_plan <> '' AND migration_status <> ?", accounts.MigrationMigrated).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list pending migration: %w", err)
	}
	return out, nil
}

func (s *Store) MarkMigrated(ctx context.Context, id uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&accounts.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"migration_status": accounts.MigrationMigrated,
			"migrated_at":      at.UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark migrated: %w", err)
	}
	return nil
}

type MigrationSummary struct {
	LegacyAccounts int64 `json:"legacy_accounts"`
	Migrated       int64 `json:"migrated"`
	Pending        int64 `json:"pending"`
}

func (s *Store) MigrationSummary(ctx context.Context) (MigrationSummary, error) {
	var sum MigrationSummary
	db := s.db.WithContext(ctx).Model(&accounts.Account{})
	if err := db.Where("legacy_plan <> ''").Count(&sum.LegacyAccounts).Error; err != nil {
		return sum, fmt.Errorf("count legacy accounts: %w", err)
	}
	err := s.db.WithContext(ctx).Model(&accounts.Account{}).
		Where("legacy_plan <> '' AND migration_status = ?", accounts.MigrationMigrated).
		Count(&sum.Migrated).Error
	if err != nil {
		return sum, fmt.Errorf("count migrated accounts: %w", err)
	}
	sum.Pending = sum.LegacyAccounts - sum.Migrated
	return sum, nil
}
