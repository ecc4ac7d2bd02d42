package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPassesValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, Validate(&cfg))
}

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().ScanIntervalSeconds, cfg.ScanIntervalSeconds)
	assert.Equal(t, Default().StartingCapitalUSD, cfg.StartingCapitalUSD)
}

func TestLoadOverlaysYAMLFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scan_interval_seconds: 30\nstarting_capital_usd: 5000\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.ScanIntervalSeconds)
	assert.Equal(t, float64(5000), cfg.StartingCapitalUSD)
	assert.Equal(t, Default().Sources.Crypto.Primary, cfg.Sources.Crypto.Primary, "unset fields should keep their default")
}

func TestLoadEnvOverridesFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scan_interval_seconds: 30\n"), 0o644))

	t.Setenv("POLYTRADER_SCAN_INTERVAL_SECONDS", "15")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.ScanIntervalSeconds, "an env var should take precedence over the file")
}

func TestValidateRejectsLiveTrading(t *testing.T) {
	cfg := Default()
	cfg.PaperTrading = false
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsAllocationSumOverOne(t *testing.T) {
	cfg := Default()
	cfg.Strategies.Enabled = []string{"arbitrage", "momentum"}
	cfg.Strategies.Allocation["momentum"] = 0.5
	cfg.Strategies.Thresholds["momentum"] = cfg.Strategies.Thresholds["arbitrage"]
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsEnabledStrategyMissingAllocation(t *testing.T) {
	cfg := Default()
	cfg.Strategies.Enabled = []string{"momentum"}
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsSourceMissingRateLimitEntry(t *testing.T) {
	cfg := Default()
	cfg.Sources.Crypto.Primary = "unregistered_source"
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsNegativeSlippage(t *testing.T) {
	cfg := Default()
	cfg.SlippageBps = -1
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsEmptyCryptoSymbols(t *testing.T) {
	cfg := Default()
	cfg.CryptoSymbols = nil
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsUseStreamWithoutStreamURL(t *testing.T) {
	cfg := Default()
	cfg.Sources.Crypto.UseStream = true
	cfg.Sources.Crypto.StreamURL = ""
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsMissingPredictionMarketBaseURLs(t *testing.T) {
	cfg := Default()
	cfg.Sources.PredictionMarket.ListerBaseURL = ""
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsOutlierThresholdOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Aggregator.OutlierThreshold = 1.5
	assert.Error(t, Validate(&cfg))
}
