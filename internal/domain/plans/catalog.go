package plans

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ModeSubscription = "subscription"
	ModePayment      = "payment"
)

// Price is one purchasable Stripe price.
type Price struct {
	ID   string `mapstructure:"id" json:"id"`
	Name string `mapstructure:"name" json:"name"`
	Mode string `mapstructure:"mode" json:"mode"`
	// Tier is set for subscription prices.
	Tier string `mapstructure:"tier" json:"tier,omitempty"`
	// Tokens is set for one-time token packages.
	Tokens int64 `mapstructure:"tokens" json:"tokens,omitempty"`
}

type TierSpec struct {
	Name             string `mapstructure:"name" json:"name"`
	MonthlyAllotment int64  `mapstructure:"monthly_allotment" json:"monthly_allotment"`
}

// Catalog is the static price -> tier table plus allotments and legacy grants.
type Catalog struct {
	Tiers        []TierSpec       `mapstructure:"tiers" json:"tiers"`
	Prices       []Price          `mapstructure:"prices" json:"prices"`
	LegacyGrants map[string]int64 `mapstructure:"legacy_grants" json:"-"`
}

func DefaultCatalog() Catalog {
	return Catalog{
		Tiers: []TierSpec{
			{Name: TierFree, MonthlyAllotment: 0},
			{Name: TierPro, MonthlyAllotment: 200},
			{Name: TierUltra, MonthlyAllotment: 1000},
		},
		Prices: []Price{
			{ID: "price_pro_monthly", Name: "Pro", Mode: ModeSubscription, Tier: TierPro},
			{ID: "price_ultra_monthly", Name: "Ultra", Mode: ModeSubscription, Tier: TierUltra},
			{ID: "price_tokens_50", Name: "50 tokens", Mode: ModePayment, Tokens: 50},
			{ID: "price_tokens_250", Name: "250 tokens", Mode: ModePayment, Tokens: 250},
		},
		LegacyGrants: map[string]int64{
			LegacyEssential:    100,
			LegacyProfessional: 300,
			LegacyAdvanced:     800,
		},
	}
}

func (c Catalog) Validate() error {
	if len(c.Tiers) == 0 {
		return errors.New("catalog: tiers cannot be empty")
	}
	seen := map[string]bool{}
	for _, p := range c.Prices {
		if strings.TrimSpace(p.ID) == "" {
			return errors.New("catalog: price id cannot be empty")
		}
		if seen[p.ID] {
			return fmt.Errorf("catalog: duplicate price id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Mode {
		case ModeSubscription:
			if NormalizeTier(p.Tier) == TierFree {
				return fmt.Errorf("catalog: subscription price %q needs a paid tier", p.ID)
			}
		case ModePayment:
			if p.Tokens <= 0 {
				return fmt.Errorf("catalog: token package %q needs tokens > 0", p.ID)
			}
		default:
			return fmt.Errorf("catalog: price %q has unknown mode %q", p.ID, p.Mode)
		}
	}
	for plan, grant := range c.LegacyGrants {
		if grant < 0 {
			return fmt.Errorf("catalog: legacy grant for %q is negative", plan)
		}
	}
	return nil
}

func (c Catalog) Price(id string) (Price, bool) {
	for _, p := range c.Prices {
		if p.ID == id {
			return p, true
		}
	}
	return Price{}, false
}

// TierForPrice resolves a subscription price. ok is false when the price is
// unknown, in which case the lowest paid tier is returned.
func (c Catalog) TierForPrice(priceID string) (tier string, ok bool) {
	p, found := c.Price(priceID)
	if !found || p.Mode != ModeSubscription {
		return LowestPaidTier(), false
	}
	return NormalizeTier(p.Tier), true
}

func (c Catalog) Allotment(tier string) int64 {
	for _, t := range c.Tiers {
		if t.Name == tier {
			return t.MonthlyAllotment
		}
	}
	return 0
}

func (c Catalog) LegacyGrant(plan string) (int64, bool) {
	grant, ok := c.LegacyGrants[NormalizeLegacyPlan(plan)]
	return grant, ok
}
