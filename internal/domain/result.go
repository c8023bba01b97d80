package domain

import "math/big"

// LeverageResult is the transient output of the leverage calculator. It is
// never persisted; the planner consumes it immediately to build a
// LeverageRequest.
type LeverageResult struct {
	LoanAmount       *big.Int // borrow-asset units to flashloan
	LTV              *big.Int // resulting loan-to-value, WAD
	CollateralAmount *big.Int // resulting collateral, native units
	DebtAmount       *big.Int // resulting debt, native units
}

// DeleverageResult is the transient output of the deleverage calculator.
// LoanAmount is collateral to flashloan and swap into repayment funds;
// WithdrawAmount covers the loan plus its premium.
type DeleverageResult struct {
	LoanAmount       *big.Int // collateral-asset units to flashloan
	RepayAmount      *big.Int // borrow-asset units of debt repaid
	WithdrawAmount   *big.Int // collateral-asset units withdrawn to settle
	LTV              *big.Int // resulting loan-to-value, WAD
	CollateralAmount *big.Int // resulting collateral, native units
	DebtAmount       *big.Int // resulting debt, native units
}
