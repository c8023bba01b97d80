package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/loopfi/loopbot/internal/cache/redis"
	"github.com/loopfi/loopbot/internal/config"
	"github.com/loopfi/loopbot/internal/crypto"
	"github.com/loopfi/loopbot/internal/domain"
	"github.com/loopfi/loopbot/internal/platform/evm"
	"github.com/loopfi/loopbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	Signer *crypto.Signer

	// Chain adapters
	Ledger domain.Ledger
	Venue  domain.SwapVenue
	Tokens domain.TokenClient

	// Stores
	OperationStore domain.OperationStore

	// Caches
	PriceCache  domain.PriceCache
	LockManager domain.LockManager

	// Configured asset registry, in declaration order.
	Assets []domain.AssetInfo
}

// bpsToWad converts a basis-point ratio to a WAD-scaled ratio.
func bpsToWad(bps int) *big.Int {
	out := big.NewInt(int64(bps))
	return out.Mul(out, big.NewInt(1e14))
}

// wholeToWad converts a whole-number multiple to a WAD-scaled value.
func wholeToWad(n int) *big.Int {
	out := big.NewInt(int64(n))
	return out.Mul(out, big.NewInt(1e18))
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Operator key and signer ---
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: load operator key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex, cfg.Chain.ChainID)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}
	deps.Signer = signer

	// --- Chain adapters ---
	evmClient, err := evm.Dial(ctx, evm.ClientConfig{
		RpcURL:   cfg.Chain.RpcURL,
		GasLimit: cfg.Chain.GasLimit,
	}, signer, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: evm client: %w", err)
	}
	closers = append(closers, evmClient.Close)

	tokens := evm.NewTokenClient(evmClient)
	deps.Tokens = tokens
	deps.Ledger = evm.NewLedger(evmClient,
		common.HexToAddress(cfg.Chain.LedgerAddress),
		common.HexToAddress(cfg.Chain.ExecutorAddress),
		tokens)
	deps.Venue = evm.NewRouter(evmClient, common.HexToAddress(cfg.Chain.RouterAddress), tokens)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.OperationStore = postgres.NewOperationStore(pgClient.Pool())

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	maxAge := time.Duration(cfg.Risk.PriceMaxAgeSeconds) * time.Second
	deps.PriceCache = redis.NewPriceCache(redisClient, maxAge)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- Asset registry ---
	for _, a := range cfg.Assets {
		deps.Assets = append(deps.Assets, domain.AssetInfo{
			Address:  common.HexToAddress(a.Address),
			Symbol:   a.Symbol,
			Decimals: uint8(a.Decimals),
		})
	}

	return deps, cleanup, nil
}
