package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/loopfi/loopbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each asset's
// WAD-scaled USD price is stored at "price:{address}" with fields "price"
// (decimal string) and "ts" (Unix nanosecond timestamp). Reads reject
// entries older than maxAge; the planner must never size a loan off a stale
// quote.
type PriceCache struct {
	rdb    *redis.Client
	maxAge time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A maxAge of
// zero disables the staleness check.
func NewPriceCache(c *Client, maxAge time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), maxAge: maxAge}
}

func priceKey(asset common.Address) string {
	return "price:" + strings.ToLower(asset.Hex())
}

// SetPrice stores the latest WAD price for an asset, stamped now.
func (pc *PriceCache) SetPrice(ctx context.Context, asset common.Address, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("redis: set price %s: %w", asset.Hex(), domain.ErrInvalidAmount)
	}
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(asset), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", asset.Hex(), err)
	}
	return nil
}

// GetPrice retrieves the latest WAD price for an asset. It returns
// domain.ErrNotFound when the key does not exist or the stored quote is
// older than the configured maximum age.
func (pc *PriceCache) GetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(asset)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get price %s: %w", asset.Hex(), err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return nil, domain.ErrNotFound
	}
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return nil, fmt.Errorf("redis: parse price %s: malformed %q", asset.Hex(), priceStr)
	}

	if pc.maxAge > 0 {
		tsStr, ok := vals["ts"]
		if !ok {
			return nil, domain.ErrNotFound
		}
		tsNano, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: parse ts %s: %w", asset.Hex(), err)
		}
		if time.Since(time.Unix(0, tsNano)) > pc.maxAge {
			return nil, domain.ErrNotFound
		}
	}

	return price, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
