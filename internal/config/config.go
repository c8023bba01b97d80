// Package config defines the top-level configuration for the loopbot service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LOOPBOT_* environment
// variables.
type Config struct {
	Operator Operator       `toml:"operator"`
	Chain    ChainConfig    `toml:"chain"`
	Assets   []AssetConfig  `toml:"assets"`
	Risk     RiskConfig     `toml:"risk"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// Operator holds the operator key material. Either a raw hex private key or
// an encrypted keystore path plus password.
type Operator struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ApiToken         string `toml:"api_token"`
}

// ChainConfig holds chain connectivity and the on-chain counterparties.
// ExecutorAddress is the deployed callback receiver the lending pool
// re-enters during a flashloan.
type ChainConfig struct {
	RpcURL          string `toml:"rpc_url"`
	ChainID         int64  `toml:"chain_id"`
	LedgerAddress   string `toml:"ledger_address"`
	RouterAddress   string `toml:"router_address"`
	ExecutorAddress string `toml:"executor_address"`
	GasLimit        uint64 `toml:"gas_limit"`
}

// AssetConfig describes one asset the service may operate on.
type AssetConfig struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals int    `toml:"decimals"`
}

// RiskConfig holds the planner and validator bounds. Ratios are expressed in
// basis points to keep the TOML integral.
type RiskConfig struct {
	MaxLTVBps          int `toml:"max_ltv_bps"`
	MaxLoanMultiple    int `toml:"max_loan_multiple"`
	FlashloanFeeBps    int `toml:"flashloan_fee_bps"`
	PriceMaxAgeSeconds int `toml:"price_max_age_seconds"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// MonitorConfig holds position monitor parameters.
type MonitorConfig struct {
	Enabled      bool     `toml:"enabled"`
	PollInterval duration `toml:"poll_interval"`
	Owners       []string `toml:"owners"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RpcURL:   "http://localhost:8545",
			ChainID:  1,
			GasLimit: 3_000_000,
		},
		Risk: RiskConfig{
			MaxLTVBps:          8000,
			MaxLoanMultiple:    20,
			FlashloanFeeBps:    9,
			PriceMaxAgeSeconds: 60,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "loopbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Monitor: MonitorConfig{
			Enabled:      false,
			PollInterval: duration{30 * time.Second},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Operator key material.
	if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
		errs = append(errs, "operator: either private_key or encrypted_key_path must be set")
	}
	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}

	// Chain.
	if c.Chain.RpcURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.LedgerAddress) {
		errs = append(errs, fmt.Sprintf("chain: ledger_address %q is not a valid address", c.Chain.LedgerAddress))
	}
	if !common.IsHexAddress(c.Chain.RouterAddress) {
		errs = append(errs, fmt.Sprintf("chain: router_address %q is not a valid address", c.Chain.RouterAddress))
	}
	if !common.IsHexAddress(c.Chain.ExecutorAddress) {
		errs = append(errs, fmt.Sprintf("chain: executor_address %q is not a valid address", c.Chain.ExecutorAddress))
	}

	// Assets.
	if len(c.Assets) < 1 {
		errs = append(errs, "assets: at least one asset must be configured")
	}
	seen := map[string]bool{}
	for i, a := range c.Assets {
		if !common.IsHexAddress(a.Address) {
			errs = append(errs, fmt.Sprintf("assets[%d]: address %q is not a valid address", i, a.Address))
			continue
		}
		key := strings.ToLower(a.Address)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("assets[%d]: duplicate address %s", i, a.Address))
		}
		seen[key] = true
		if a.Symbol == "" {
			errs = append(errs, fmt.Sprintf("assets[%d]: symbol must not be empty", i))
		}
		if a.Decimals < 0 || a.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("assets[%d]: decimals must be 0-36, got %d", i, a.Decimals))
		}
	}

	// Risk.
	if c.Risk.MaxLTVBps <= 0 || c.Risk.MaxLTVBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("risk: max_ltv_bps must be 1-9999, got %d", c.Risk.MaxLTVBps))
	}
	if c.Risk.MaxLoanMultiple < 1 {
		errs = append(errs, "risk: max_loan_multiple must be >= 1")
	}
	if c.Risk.FlashloanFeeBps < 0 {
		errs = append(errs, "risk: flashloan_fee_bps must be >= 0")
	}

	// Postgres.
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis.
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Server.
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Monitor.
	if c.Monitor.Enabled {
		if c.Monitor.PollInterval.Duration <= 0 {
			errs = append(errs, "monitor: poll_interval must be positive")
		}
		for i, o := range c.Monitor.Owners {
			if !common.IsHexAddress(o) {
				errs = append(errs, fmt.Sprintf("monitor: owners[%d] %q is not a valid address", i, o))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
