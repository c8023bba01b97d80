package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetInfo describes an ERC20 asset the service operates on.
type AssetInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Position is a snapshot of an owner's balances on the lending ledger.
// Amounts are in native asset units; the ledger, not this service, is the
// source of truth.
type Position struct {
	Owner            common.Address
	CollateralAsset  AssetInfo
	BorrowAsset      AssetInfo
	CollateralAmount *big.Int // native collateral units
	DebtAmount       *big.Int // native borrow-asset units
}

// LTV returns debtValue/collateralValue as a WAD-scaled ratio given WAD
// prices for both assets. Returns nil when the position holds no collateral.
func (p Position) LTV(priceCollateral, priceDebt *big.Int) *big.Int {
	if p.CollateralAmount == nil || p.CollateralAmount.Sign() == 0 {
		return nil
	}
	colValue := new(big.Int).Mul(p.CollateralAmount, priceCollateral)
	colValue.Div(colValue, pow10(int(p.CollateralAsset.Decimals)))
	debtValue := new(big.Int).Mul(p.DebtAmount, priceDebt)
	debtValue.Div(debtValue, pow10(int(p.BorrowAsset.Decimals)))
	if colValue.Sign() == 0 {
		return nil
	}
	ltv := new(big.Int).Mul(debtValue, big.NewInt(1e18))
	return ltv.Div(ltv, colValue)
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
