package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30, cfg.Search.TopK)
	require.Len(t, cfg.Sources, 6)
	names := make([]string, len(cfg.Sources))
	for i, s := range cfg.Sources {
		names[i] = s.Name
	}
	assert.Equal(t, []string{SourceCraigslist, SourceOfferUp, SourceMercari, SourceEbay, SourceEtsy, SourcePoshmark}, names)

	cl, _ := cfg.Source(SourceCraigslist)
	assert.Equal(t, 40, cl.DetailLimit)
	offerup, _ := cfg.Source(SourceOfferUp)
	assert.Equal(t, "palo-alto-ca", offerup.Region)
}

func TestDecodeOverlaysFileOnDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	raw := []byte(`
search:
  topK: 10
  exclude: [candle]
color:
  keywordWeight: 0.5
  imageWeight: 0.5
sources:
  - name: craigslist
    minInterval: 5s
    detailLimit: -1
  - name: etsy
    disabled: true
`)
	require.NoError(t, Decode(raw, &cfg))

	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, []string{"candle"}, cfg.Search.Exclude)
	assert.NotEmpty(t, cfg.Search.Queries, "queries keep their default")
	assert.InDelta(t, 0.5, cfg.Color.ImageWeight, 1e-9)

	require.Len(t, cfg.Sources, 2)
	cl, ok := cfg.Source(SourceCraigslist)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, cl.MinInterval)
	assert.Equal(t, 3, cl.MaxAttempts, "unspecified fields keep the default")
	assert.Equal(t, "https://sfbay.craigslist.org", cl.BaseURL)
	assert.Equal(t, -1, cl.DetailLimit, "a negative limit switches detail pages off")

	etsy, ok := cfg.Source(SourceEtsy)
	require.True(t, ok)
	assert.True(t, etsy.Disabled)
	assert.Equal(t, "https://openapi.etsy.com", etsy.APIBaseURL)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnbalancedColorWeights(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Color.KeywordWeight = 0.7
	cfg.Color.ImageWeight = 0.7

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownChannel(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Delivery.Channel = "pigeon"

	assert.ErrorContains(t, cfg.Validate(), "pigeon")
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plumfinder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  topK: 5\n"), 0o600))

	t.Setenv(configPathEnv, path)
	t.Setenv(ebayAppIDEnv, "app-id")
	t.Setenv(recipientsEnv, "a@example.org, b@example.org")
	t.Setenv(seenStoreDSNEnv, "redis://localhost:6379/0")
	t.Setenv(resetDBEnv, "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Search.TopK)
	ebay, _ := cfg.Source(SourceEbay)
	assert.Equal(t, "app-id", ebay.APIKey)
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, cfg.Delivery.Email.Recipients)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.DSN)
	assert.True(t, cfg.ResetBeforeRun)
	assert.Equal(t, "America/Los_Angeles", cfg.Scheduler.Location().String())
}
