package config

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Operator.PrivateKey = "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	cfg.Chain.LedgerAddress = "0x00000000000000000000000000000000000000D1"
	cfg.Chain.RouterAddress = "0x00000000000000000000000000000000000000D2"
	cfg.Chain.ExecutorAddress = "0x00000000000000000000000000000000000000D3"
	cfg.Assets = []AssetConfig{
		{Address: "0x0000000000000000000000000000000000000101", Symbol: "WETH", Decimals: 18},
		{Address: "0x0000000000000000000000000000000000000102", Symbol: "USDC", Decimals: 6},
	}
	return cfg
}

func TestValidConfigPasses(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestDefaultsAloneAreIncomplete(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator:")
	assert.Contains(t, err.Error(), "assets:")
}

func TestValidateRejectsBadAddresses(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.LedgerAddress = "not-an-address"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger_address")
}

func TestValidateRejectsDuplicateAssets(t *testing.T) {
	cfg := validConfig()
	cfg.Assets = append(cfg.Assets, cfg.Assets[0])
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate address")
}

func TestValidateRiskBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.MaxLTVBps = 10_000
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_ltv_bps")
}

func TestTomlDurationDecoding(t *testing.T) {
	var cfg Config
	_, err := toml.Decode(`
[monitor]
enabled = true
poll_interval = "45s"
`, &cfg)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Monitor.PollInterval.Duration)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOOPBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("LOOPBOT_RISK_MAX_LTV_BPS", "7500")
	t.Setenv("LOOPBOT_MONITOR_OWNERS", "0x0000000000000000000000000000000000000B0B, 0x0000000000000000000000000000000000000C0C")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 7500, cfg.Risk.MaxLTVBps)
	assert.Equal(t, []string{
		"0x0000000000000000000000000000000000000B0B",
		"0x0000000000000000000000000000000000000C0C",
	}, cfg.Monitor.Owners)
}
