package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ActionKind tags the two workflows the engine executes. The flashloan
// fulfillment callback dispatches on it exhaustively; any other value is
// rejected with ErrUnknownAction.
type ActionKind string

const (
	ActionLeverage   ActionKind = "leverage"
	ActionDeleverage ActionKind = "deleverage"
)

// OperationStatus is the lifecycle of a journal entry.
type OperationStatus string

const (
	OpStatusPending   OperationStatus = "pending"
	OpStatusConfirmed OperationStatus = "confirmed"
	OpStatusFailed    OperationStatus = "failed"
)

// LeverageRequest asks the engine to amplify exposure. LoanAmount is the
// flashloan size in borrow-asset units, normally produced by the planner.
// ConversionInstruction is the opaque pre-quoted swap calldata; it must
// convert exactly borrow asset -> collateral asset, and must be empty when
// the two assets coincide.
type LeverageRequest struct {
	Owner                 common.Address
	CollateralAsset       AssetInfo
	BorrowAsset           AssetInfo
	NewCollateralAmount   *big.Int
	LoanAmount            *big.Int
	ConversionInstruction []byte
}

// Validate rejects requests before any external call is attempted.
func (r LeverageRequest) Validate() error {
	if r.NewCollateralAmount == nil || r.NewCollateralAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if r.LoanAmount == nil || r.LoanAmount.Sign() <= 0 {
		return ErrInvalidLoanAmount
	}
	if r.CollateralAsset.Address == r.BorrowAsset.Address && len(r.ConversionInstruction) != 0 {
		return ErrAssetMismatch
	}
	return nil
}

// DeleverageRequest asks the engine to unwind exposure. LoanAmount is
// collateral borrowed via flashloan and swapped into repayment funds;
// WithdrawAmount is pulled from the ledger to settle the loan and must cover
// LoanAmount plus its premium. Validate checks the loan-amount floor; the
// premium part of the bound is enforced during execution, once the actual
// premium is quoted.
type DeleverageRequest struct {
	Owner                 common.Address
	CollateralAsset       AssetInfo
	BorrowAsset           AssetInfo
	LoanAmount            *big.Int
	RepayAmount           *big.Int
	WithdrawAmount        *big.Int
	ConversionInstruction []byte
}

// Validate rejects requests before any external call is attempted.
func (r DeleverageRequest) Validate() error {
	if r.LoanAmount == nil || r.LoanAmount.Sign() <= 0 {
		return ErrInvalidLoanAmount
	}
	if r.RepayAmount == nil || r.RepayAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if r.WithdrawAmount == nil || r.WithdrawAmount.Cmp(r.LoanAmount) < 0 {
		return ErrInvalidAmount
	}
	if r.CollateralAsset.Address == r.BorrowAsset.Address && len(r.ConversionInstruction) != 0 {
		return ErrAssetMismatch
	}
	return nil
}

// PendingOperation is the payload attached to a flashloan request and handed
// back, tagged, in the fulfillment callback. It lives only for the duration
// of one orchestration pass; Token is the capability issued at loan-request
// time and checked at fulfillment.
type PendingOperation struct {
	ID         string
	Action     ActionKind
	Owner      common.Address
	Token      string
	Leverage   *LeverageRequest
	Deleverage *DeleverageRequest
}

// OperationRecord is the persisted audit entry for one orchestration pass.
type OperationRecord struct {
	ID         string
	Owner      common.Address
	Action     ActionKind
	LoanAsset  common.Address
	LoanAmount *big.Int
	Status     OperationStatus
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}
