package config

import (
	"os"
	"path/filepath"
	"testing"

	"promptforge/internal/domain/plans"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogFallsBackToDefaults(t *testing.T) {
	cat, err := LoadCatalog(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, plans.DefaultCatalog(), cat)
}

func TestLoadCatalogReadsFile(t *testing.T) {
	dir := t.TempDir()
	yml := `
catalog:
  tiers:
    - name: free
      monthly_allotment: 0
    - name: pro
      monthly_allotment: 120
  prices:
    - id: price_a
      name: Pro
      mode: subscription
      tier: pro
    - id: price_b
      name: Small pack
      mode: payment
      tokens: 25
  legacy_grants:
    essential: 40
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yml"), []byte(yml), 0o600))

	cat, err := LoadCatalog(dir)
	require.NoError(t, err)

	assert.Equal(t, int64(120), cat.Allotment(plans.TierPro))
	tier, ok := cat.TierForPrice("price_a")
	assert.True(t, ok)
	assert.Equal(t, plans.TierPro, tier)
	p, ok := cat.Price("price_b")
	require.True(t, ok)
	assert.Equal(t, int64(25), p.Tokens)
	grant, ok := cat.LegacyGrant("essential")
	assert.True(t, ok)
	assert.Equal(t, int64(40), grant)
}

func TestLoadCatalogRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	yml := `
catalog:
  tiers:
    - name: pro
      monthly_allotment: 10
  prices:
    - id: price_a
      mode: payment
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yml"), []byte(yml), 0o600))

	_, err := LoadCatalog(dir)
	assert.Error(t, err)
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("PF_TEST_INT", "42")
	assert.Equal(t, 42, getEnvInt("PF_TEST_INT", 1))

	t.Setenv("PF_TEST_INT", "nope")
	assert.Equal(t, 1, getEnvInt("PF_TEST_INT", 1))

	assert.Equal(t, 7, getEnvInt("PF_TEST_INT_MISSING", 7))
}
