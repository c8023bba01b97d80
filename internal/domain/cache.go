package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceCache serves WAD-scaled USD prices for assets. Prices are written by
// an external quoting step; the planner only reads them.
type PriceCache interface {
	GetPrice(ctx context.Context, asset common.Address) (*big.Int, error)
	SetPrice(ctx context.Context, asset common.Address, price *big.Int) error
}

// LockManager provides distributed mutual exclusion. Acquire returns an
// unlock function, or ErrLockHeld when another party holds the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
