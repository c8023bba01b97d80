package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the external lending protocol holding collateral and debt
// balances and issuing flashloans. Implementations adapt a concrete protocol
// (internal/platform/evm) or fake it in tests.
type Ledger interface {
	// Address identifies the ledger for callback authentication and for
	// granting it spending authority over engine-held funds.
	Address() common.Address

	Supply(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address) error
	Borrow(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address) error
	Repay(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address) error
	Withdraw(ctx context.Context, asset common.Address, amount *big.Int, to common.Address) error

	// FlashLoan disburses the requested amounts to the receiver, invokes its
	// fulfillment callback synchronously, then pulls back amount+premium from
	// the receiver before returning. Any callback error voids the whole call.
	FlashLoan(ctx context.Context, receiver FlashLoanReceiver, assets []common.Address, amounts []*big.Int, payload []byte) error

	// ReceiptToken returns the transferable token representing supplied
	// collateral for the given underlying asset.
	ReceiptToken(ctx context.Context, asset common.Address) (common.Address, error)

	// AccountBalances reports the owner's supplied collateral and outstanding
	// debt for the given asset pair, in native units. Used by the planner and
	// monitor, never by the engine mid-pass.
	AccountBalances(ctx context.Context, owner, collateralAsset, borrowAsset common.Address) (collateral, debt *big.Int, err error)
}

// FlashLoanReceiver is the engine-exposed fulfillment surface the ledger
// re-enters with the loan proceeds.
type FlashLoanReceiver interface {
	OnLoanFulfilled(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, payload []byte) error
}

// SwapVenue executes a pre-quoted, opaque conversion instruction, paying
// amount of payAsset. The engine never interprets the instruction; it only
// forwards it and checks the resulting balance delta.
type SwapVenue interface {
	Execute(ctx context.Context, instruction []byte, payAsset common.Address, amount *big.Int) error
}

// TokenClient is the ERC20 surface the engine needs for custody moves.
type TokenClient interface {
	BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, asset, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, asset, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, asset, spender common.Address, amount *big.Int) error
}
