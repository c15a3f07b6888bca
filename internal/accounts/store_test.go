package accounts

import (
	"context"
	"testing"
	"time"

	"promptforge/internal/domain/accounts"
	"promptforge/internal/domain/plans"
	"promptforge/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignCustomerRefIsSetOnce(t *testing.T) {
	db := testutil.OpenTestDB(t)
	testutil.SeedAccount(t, db, accounts.Account{ID: 1})
	s := NewStore(db)
	ctx := context.Background()

	require.NoError(t, s.AssignCustomerRef(ctx, 1, "cus_A"))
	require.NoError(t, s.AssignCustomerRef(ctx, 1, "cus_A"))
	assert.ErrorIs(t, s.AssignCustomerRef(ctx, 1, "cus_B"), accounts.ErrCustomerRefConflict)

	acct, err := s.ByCustomerRef(ctx, "cus_A")
	require.NoError(t, err)
	assert.Equal(t, uint(1), acct.ID)

	_, err = s.ByCustomerRef(ctx, "cus_B")
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestUpdateEntitlementOnlyMovesForward(t *testing.T) {
	db := testutil.OpenTestDB(t)
	testutil.SeedAccount(t, db, accounts.Account{ID: 1})
	s := NewStore(db)
	ctx := context.Background()

	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	may := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	changed, err := s.UpdateEntitlement(ctx, 1, accounts.Entitlement{
		Tier: plans.TierUltra, Status: accounts.StatusActive, MonthlyAllotment: 1000,
		SubscriptionID: "sub_1", PeriodStart: april, PeriodEnd: may,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	// a late event for the previous period must not roll the row back
	changed, err = s.UpdateEntitlement(ctx, 1, accounts.Entitlement{
		Tier: plans.TierPro, Status: accounts.StatusActive, MonthlyAllotment: 200,
		SubscriptionID: "sub_1", PeriodStart: march, PeriodEnd: april,
	})
	require.NoError(t, err)
	assert.False(t, changed)

	acct, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, plans.TierUltra, acct.Tier)
	require.NotNil(t, acct.PeriodEnd)
	assert.True(t, acct.PeriodEnd.Equal(may))

	_, err = s.UpdateEntitlement(ctx, 99, accounts.Entitlement{Tier: plans.TierPro, PeriodStart: may})
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestCancelEntitlementKeepsBalance(t *testing.T) {
	db := testutil.OpenTestDB(t)
	sub := "sub_1"
	testutil.SeedAccount(t, db, accounts.Account{ID: 1, Balance: 37, Tier: plans.TierPro, MonthlyAllotment: 200, SubscriptionID: &sub})
	s := NewStore(db)
	ctx := context.Background()

	changed, err := s.CancelEntitlement(ctx, 1, "sub_other", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.CancelEntitlement(ctx, 1, "sub_1", time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	acct, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, plans.TierFree, acct.Tier)
	assert.Equal(t, accounts.StatusCanceled, acct.Status)
	assert.Equal(t, int64(0), acct.MonthlyAllotment)
	assert.Equal(t, int64(37), acct.Balance)
}

func TestMigrationSummaryAndPending(t *testing.T) {
	db := testutil.OpenTestDB(t)
	testutil.SeedAccount(t, db, accounts.Account{ID: 1, LegacyPlan: plans.LegacyEssential})
	testutil.SeedAccount(t, db, accounts.Account{ID: 2, LegacyPlan: plans.LegacyAdvanced})
	testutil.SeedAccount(t, db, accounts.Account{ID: 3})
	s := NewStore(db)
	ctx := context.Background()

	pending, err := s.PendingMigration(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.MarkMigrated(ctx, 2, time.Now()))

	sum, err := s.MigrationSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, MigrationSummary{LegacyAccounts: 2, Migrated: 1, Pending: 1}, sum)
}
