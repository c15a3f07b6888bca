package access

import (
	"testing"
	"time"

	"promptforge/internal/domain/accounts"
	"promptforge/internal/domain/plans"

	"github.com/stretchr/testify/assert"
)

func TestComputeEffectiveAccessState(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(72 * time.Hour)
	past := now.Add(-72 * time.Hour)

	cases := []struct {
		name string
		acct accounts.Account
		want AccessState
	}{
		{"free tier", accounts.Account{Tier: plans.TierFree, Status: accounts.StatusActive}, AccessFree},
		{"active pro", accounts.Account{Tier: plans.TierPro, Status: accounts.StatusActive, PeriodEnd: &future}, AccessFull},
		{"active pro past period", accounts.Account{Tier: plans.TierPro, Status: accounts.StatusActive, PeriodEnd: &past}, AccessLimited},
		{"past due", accounts.Account{Tier: plans.TierUltra, Status: accounts.StatusPastDue, PeriodEnd: &future}, AccessLimited},
		{"canceled paid through", accounts.Account{Tier: plans.TierPro, Status: accounts.StatusCanceled, PeriodEnd: &future}, AccessFull},
		{"canceled expired", accounts.Account{Tier: plans.TierPro, Status: accounts.StatusCanceled, PeriodEnd: &past}, AccessFree},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ComputeEffectiveAccessState(now, tc.acct))
		})
	}
}

func TestComputePolicyRenewsAtOnlyForActive(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	end := now.Add(24 * time.Hour)

	p := ComputePolicy(now, accounts.Account{Tier: plans.TierPro, Status: accounts.StatusActive, PeriodEnd: &end})
	assert.Equal(t, AccessFull, p.State)
	if assert.NotNil(t, p.RenewsAt) {
		assert.Equal(t, end, *p.RenewsAt)
	}

	p = ComputePolicy(now, accounts.Account{Tier: plans.TierPro, Status: accounts.StatusCanceled, PeriodEnd: &end})
	assert.Nil(t, p.RenewsAt)
	assert.Contains(t, p.Capabilities, "manage_subscription")
}
