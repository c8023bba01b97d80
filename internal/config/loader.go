package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LOOPBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LOOPBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "LOOPBOT_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "LOOPBOT_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "LOOPBOT_OPERATOR_KEY_PASSWORD")
	setStr(&cfg.Operator.ApiToken, "LOOPBOT_OPERATOR_API_TOKEN")

	// ── Chain ──
	setStr(&cfg.Chain.RpcURL, "LOOPBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "LOOPBOT_CHAIN_ID")
	setStr(&cfg.Chain.LedgerAddress, "LOOPBOT_CHAIN_LEDGER_ADDRESS")
	setStr(&cfg.Chain.RouterAddress, "LOOPBOT_CHAIN_ROUTER_ADDRESS")
	setStr(&cfg.Chain.ExecutorAddress, "LOOPBOT_CHAIN_EXECUTOR_ADDRESS")
	setUint64(&cfg.Chain.GasLimit, "LOOPBOT_CHAIN_GAS_LIMIT")

	// ── Risk ──
	setInt(&cfg.Risk.MaxLTVBps, "LOOPBOT_RISK_MAX_LTV_BPS")
	setInt(&cfg.Risk.MaxLoanMultiple, "LOOPBOT_RISK_MAX_LOAN_MULTIPLE")
	setInt(&cfg.Risk.FlashloanFeeBps, "LOOPBOT_RISK_FLASHLOAN_FEE_BPS")
	setInt(&cfg.Risk.PriceMaxAgeSeconds, "LOOPBOT_RISK_PRICE_MAX_AGE_SECONDS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LOOPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LOOPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LOOPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LOOPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LOOPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LOOPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LOOPBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LOOPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LOOPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LOOPBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LOOPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LOOPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LOOPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LOOPBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LOOPBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LOOPBOT_REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LOOPBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LOOPBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LOOPBOT_SERVER_CORS_ORIGINS")

	// ── Monitor ──
	setBool(&cfg.Monitor.Enabled, "LOOPBOT_MONITOR_ENABLED")
	setDuration(&cfg.Monitor.PollInterval, "LOOPBOT_MONITOR_POLL_INTERVAL")
	setStringSlice(&cfg.Monitor.Owners, "LOOPBOT_MONITOR_OWNERS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LOOPBOT_MODE")
	setStr(&cfg.LogLevel, "LOOPBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
