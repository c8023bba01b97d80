// Package wadmath implements fixed-point arithmetic on integers scaled by
// 10^18 (WAD). All division truncates toward zero, which under-estimates
// loan sizes and over-estimates obligations, the conservative direction for
// every caller in this module. Intermediates are big.Int, so products of two
// WAD-scaled 18-decimal amounts never overflow silently.
package wadmath

import (
	"math/big"

	"github.com/loopfi/loopbot/internal/domain"
)

// WadDecimals is the number of fractional digits in the WAD representation.
const WadDecimals = 18

// Wad returns 10^18 as a fresh big.Int.
func Wad() *big.Int {
	return Pow10(WadDecimals)
}

// One is the WAD representation of 1.0.
func One() *big.Int {
	return Wad()
}

// Pow10 returns 10^n.
func Pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// WadMul returns floor(a*b / 10^18). Inputs must be non-nil.
func WadMul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, Wad())
}

// WadDiv returns floor(a * 10^18 / b). A zero divisor is a programming
// error on the caller's side (prices must be validated upstream) and is
// reported as domain.ErrArithmetic rather than a sentinel value.
func WadDiv(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, domain.ErrArithmetic
	}
	out := new(big.Int).Mul(a, Wad())
	return out.Quo(out, b), nil
}

// MulDiv returns floor(a*b/denom) with a full-width intermediate.
func MulDiv(a, b, denom *big.Int) (*big.Int, error) {
	if denom.Sign() == 0 {
		return nil, domain.ErrArithmetic
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denom), nil
}

// ToWad rescales a native amount with the given decimal precision to 18
// fractional digits. Truncates when the asset carries more than 18 decimals.
func ToWad(amount *big.Int, decimals uint8) *big.Int {
	if decimals == WadDecimals {
		return new(big.Int).Set(amount)
	}
	if decimals < WadDecimals {
		return new(big.Int).Mul(amount, Pow10(WadDecimals-int(decimals)))
	}
	return new(big.Int).Quo(amount, Pow10(int(decimals)-WadDecimals))
}

// FromWad rescales an 18-decimal amount back to the asset's native
// precision, truncating any excess fractional digits.
func FromWad(amount *big.Int, decimals uint8) *big.Int {
	if decimals == WadDecimals {
		return new(big.Int).Set(amount)
	}
	if decimals < WadDecimals {
		return new(big.Int).Quo(amount, Pow10(WadDecimals-int(decimals)))
	}
	return new(big.Int).Mul(amount, Pow10(int(decimals)-WadDecimals))
}

// Value returns the WAD USD value of a native amount at a WAD price.
func Value(amount *big.Int, decimals uint8, price *big.Int) *big.Int {
	return WadMul(ToWad(amount, decimals), price)
}

// Amount converts a WAD USD value back into native asset units at a WAD
// price.
func Amount(value *big.Int, decimals uint8, price *big.Int) (*big.Int, error) {
	wad, err := WadDiv(value, price)
	if err != nil {
		return nil, err
	}
	return FromWad(wad, decimals), nil
}
