// Package calc derives flashloan sizes and resulting position shapes for
// leverage and deleverage operations. Both entry points are pure: identical
// inputs always produce identical outputs, so callers can pre-compute off
// the critical path and hand the result to the engine as an already-agreed
// parameter set.
package calc

import (
	"math/big"

	"github.com/loopfi/loopbot/internal/domain"
	"github.com/loopfi/loopbot/internal/wadmath"
)

// LeverageInput carries the current position state and the requested target.
// Prices are WAD-scaled USD; TargetLeverage is a WAD multiplier (2.0x is
// 2*10^18); PremiumRate is the flashloan fee as a WAD rate.
type LeverageInput struct {
	CollateralAmount    *big.Int
	DebtAmount          *big.Int
	PriceCollateral     *big.Int
	PriceDebt           *big.Int
	CollateralDecimals  uint8
	DebtDecimals        uint8
	NewCollateralAmount *big.Int
	TargetLeverage      *big.Int
	PremiumRate         *big.Int
}

// DeleverageInput carries the current position state and the fraction of
// debt to RETAIN. RetainRatio is WAD-scaled in [0,1]: 0 unwinds the whole
// debt, 1 is a no-op. The complementary reading (fraction removed) silently
// inverts every output, so the direction is pinned by a property test.
type DeleverageInput struct {
	CollateralAmount   *big.Int
	DebtAmount         *big.Int
	PriceCollateral    *big.Int
	PriceDebt          *big.Int
	CollateralDecimals uint8
	DebtDecimals       uint8
	RetainRatio        *big.Int
	PremiumRate        *big.Int
}

// CalculateLeverage computes the flashloan size, in borrow-asset units, such
// that after swapping the loan into collateral and supplying it alongside
// NewCollateralAmount, collateralValue/equityValue equals TargetLeverage.
// The loan premium is added to the final debt.
//
// With E the equity value (existing collateral + new collateral - existing
// debt) and x the loan value, the target pins
//
//	debtValue + x*(1+p) = (1 - 1/L) * (collateralValue + x)
//
// which solves to x = ((1-1/L)*collateralValue - debtValue) / (p + 1/L).
//
// Returns domain.ErrInvalidLeverage when L <= 1 or when the implied loan
// value is negative (the existing debt already exceeds what the requested
// leverage and added capital can support). That condition is a caller error
// and is never clamped to zero. Nil amounts or prices return
// domain.ErrInvalidAmount.
func CalculateLeverage(in LeverageInput) (domain.LeverageResult, error) {
	for _, v := range []*big.Int{in.CollateralAmount, in.DebtAmount, in.PriceCollateral, in.PriceDebt, in.NewCollateralAmount} {
		if v == nil {
			return domain.LeverageResult{}, domain.ErrInvalidAmount
		}
	}
	one := wadmath.One()
	if in.TargetLeverage == nil || in.TargetLeverage.Cmp(one) <= 0 {
		return domain.LeverageResult{}, domain.ErrInvalidLeverage
	}
	if in.PremiumRate == nil || in.PremiumRate.Sign() < 0 {
		return domain.LeverageResult{}, domain.ErrInvalidAmount
	}

	colValue := wadmath.Value(in.CollateralAmount, in.CollateralDecimals, in.PriceCollateral)
	colValue.Add(colValue, wadmath.Value(in.NewCollateralAmount, in.CollateralDecimals, in.PriceCollateral))
	debtValue := wadmath.Value(in.DebtAmount, in.DebtDecimals, in.PriceDebt)

	oneOverL, err := wadmath.WadDiv(one, in.TargetLeverage)
	if err != nil {
		return domain.LeverageResult{}, err
	}
	factor := new(big.Int).Sub(one, oneOverL) // 1 - 1/L, positive for L > 1

	num := wadmath.WadMul(colValue, factor)
	num.Sub(num, debtValue)
	if num.Sign() < 0 {
		return domain.LeverageResult{}, domain.ErrInvalidLeverage
	}

	denom := new(big.Int).Add(in.PremiumRate, oneOverL)
	loanValue, err := wadmath.WadDiv(num, denom)
	if err != nil {
		return domain.LeverageResult{}, err
	}

	loanAmount, err := wadmath.Amount(loanValue, in.DebtDecimals, in.PriceDebt)
	if err != nil {
		return domain.LeverageResult{}, err
	}
	swappedCollateral, err := wadmath.Amount(loanValue, in.CollateralDecimals, in.PriceCollateral)
	if err != nil {
		return domain.LeverageResult{}, err
	}

	premiumValue := wadmath.WadMul(loanValue, in.PremiumRate)

	resCollateral := new(big.Int).Add(in.CollateralAmount, in.NewCollateralAmount)
	resCollateral.Add(resCollateral, swappedCollateral)

	borrowedValue := new(big.Int).Add(loanValue, premiumValue)
	borrowedAmount, err := wadmath.Amount(borrowedValue, in.DebtDecimals, in.PriceDebt)
	if err != nil {
		return domain.LeverageResult{}, err
	}
	resDebt := new(big.Int).Add(in.DebtAmount, borrowedAmount)

	resColValue := new(big.Int).Add(colValue, loanValue)
	resDebtValue := new(big.Int).Add(debtValue, borrowedValue)
	ltv, err := ratio(resDebtValue, resColValue)
	if err != nil {
		return domain.LeverageResult{}, err
	}

	return domain.LeverageResult{
		LoanAmount:       loanAmount,
		LTV:              ltv,
		CollateralAmount: resCollateral,
		DebtAmount:       resDebt,
	}, nil
}

// CalculateDeleverage computes the debt to repay for the requested retained
// fraction, the collateral to flashloan-and-swap to fund that repayment, and
// the collateral withdrawal (loan plus premium) that settles the flashloan.
//
// Returns domain.ErrNegativeResult when the retain ratio falls outside
// [0,1] or when the required withdrawal exceeds the current collateral.
// Nil amounts or prices return domain.ErrInvalidAmount.
func CalculateDeleverage(in DeleverageInput) (domain.DeleverageResult, error) {
	for _, v := range []*big.Int{in.CollateralAmount, in.DebtAmount, in.PriceCollateral, in.PriceDebt} {
		if v == nil {
			return domain.DeleverageResult{}, domain.ErrInvalidAmount
		}
	}
	one := wadmath.One()
	if in.RetainRatio == nil || in.RetainRatio.Sign() < 0 || in.RetainRatio.Cmp(one) > 0 {
		return domain.DeleverageResult{}, domain.ErrNegativeResult
	}
	if in.PremiumRate == nil || in.PremiumRate.Sign() < 0 {
		return domain.DeleverageResult{}, domain.ErrInvalidAmount
	}

	resDebt := wadmath.WadMul(in.DebtAmount, in.RetainRatio)
	repayAmount := new(big.Int).Sub(in.DebtAmount, resDebt)
	if repayAmount.Sign() < 0 {
		return domain.DeleverageResult{}, domain.ErrNegativeResult
	}

	repayValue := wadmath.Value(repayAmount, in.DebtDecimals, in.PriceDebt)
	loanAmount, err := wadmath.Amount(repayValue, in.CollateralDecimals, in.PriceCollateral)
	if err != nil {
		return domain.DeleverageResult{}, err
	}

	premium := wadmath.WadMul(loanAmount, in.PremiumRate)
	withdrawAmount := new(big.Int).Add(loanAmount, premium)
	if withdrawAmount.Cmp(in.CollateralAmount) > 0 {
		return domain.DeleverageResult{}, domain.ErrNegativeResult
	}
	resCollateral := new(big.Int).Sub(in.CollateralAmount, withdrawAmount)

	resColValue := wadmath.Value(resCollateral, in.CollateralDecimals, in.PriceCollateral)
	resDebtValue := wadmath.Value(resDebt, in.DebtDecimals, in.PriceDebt)
	ltv, err := ratio(resDebtValue, resColValue)
	if err != nil {
		return domain.DeleverageResult{}, err
	}

	return domain.DeleverageResult{
		LoanAmount:       loanAmount,
		RepayAmount:      repayAmount,
		WithdrawAmount:   withdrawAmount,
		LTV:              ltv,
		CollateralAmount: resCollateral,
		DebtAmount:       resDebt,
	}, nil
}

// ratio returns num/denom WAD-scaled, treating 0/0 as zero. A non-zero
// numerator over a zero denominator surfaces the arithmetic error from the
// division layer.
func ratio(num, denom *big.Int) (*big.Int, error) {
	if denom.Sign() == 0 && num.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return wadmath.WadDiv(num, denom)
}
