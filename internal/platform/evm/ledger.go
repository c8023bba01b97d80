package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/loopfi/loopbot/internal/domain"
)

const poolABI = `[
	{"name":"supply","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
	{"name":"borrow","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"referralCode","type":"uint16"},{"name":"onBehalfOf","type":"address"}],"outputs":[]},
	{"name":"repay","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"onBehalfOf","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"flashLoanSimple","type":"function","stateMutability":"nonpayable","inputs":[{"name":"receiverAddress","type":"address"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"params","type":"bytes"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
	{"name":"getReserveAToken","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"getReserveVariableDebtToken","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"address"}]}
]`

var parsedPool = mustParseABI(poolABI)

// variableRateMode is the pool's variable interest rate mode selector.
var variableRateMode = big.NewInt(2)

// Ledger implements domain.Ledger against an on-chain lending pool.
//
// FlashLoan submits the pool transaction with the deployed executor contract
// as the callback receiver: the pool re-enters that contract on-chain, not
// this process, and the payload rides along as the loan params. The
// in-process receiver argument is honored by embedded ledgers and test
// fakes, which call back synchronously.
type Ledger struct {
	client   *Client
	pool     common.Address
	executor common.Address
	tokens   *TokenClient
}

// NewLedger creates a Ledger for the pool at addr with the given executor
// as the on-chain flashloan receiver.
func NewLedger(client *Client, pool, executor common.Address, tokens *TokenClient) *Ledger {
	return &Ledger{client: client, pool: pool, executor: executor, tokens: tokens}
}

// Address returns the pool's contract address.
func (l *Ledger) Address() common.Address {
	return l.pool
}

func (l *Ledger) contract() *bind.BoundContract {
	return l.client.bound(l.pool, parsedPool)
}

// Supply deposits amount of asset on behalf of onBehalfOf.
func (l *Ledger) Supply(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address) error {
	if err := l.client.transact(ctx, l.contract(), "supply", asset, amount, onBehalfOf, uint16(0)); err != nil {
		return fmt.Errorf("evm: supply: %w", err)
	}
	return nil
}

// Borrow draws amount of asset against onBehalfOf's collateral at the
// variable rate.
func (l *Ledger) Borrow(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address) error {
	if err := l.client.transact(ctx, l.contract(), "borrow", asset, amount, variableRateMode, uint16(0), onBehalfOf); err != nil {
		return fmt.Errorf("evm: borrow: %w", err)
	}
	return nil
}

// Repay pays down onBehalfOf's variable-rate debt.
func (l *Ledger) Repay(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address) error {
	if err := l.client.transact(ctx, l.contract(), "repay", asset, amount, variableRateMode, onBehalfOf); err != nil {
		return fmt.Errorf("evm: repay: %w", err)
	}
	return nil
}

// Withdraw redeems supplied collateral to the given recipient.
func (l *Ledger) Withdraw(ctx context.Context, asset common.Address, amount *big.Int, to common.Address) error {
	if err := l.client.transact(ctx, l.contract(), "withdraw", asset, amount, to); err != nil {
		return fmt.Errorf("evm: withdraw: %w", err)
	}
	return nil
}

// FlashLoan requests a single-asset flashloan delivered to the executor
// contract. The transaction either completes the whole callback sequence or
// reverts; the payload is forwarded verbatim as the loan params.
func (l *Ledger) FlashLoan(ctx context.Context, _ domain.FlashLoanReceiver,
	assets []common.Address, amounts []*big.Int, payload []byte) error {
	if len(assets) != 1 || len(amounts) != 1 {
		return fmt.Errorf("evm: flashloan: expected single asset, got %d: %w", len(assets), domain.ErrInvalidLoanAmount)
	}
	if err := l.client.transact(ctx, l.contract(), "flashLoanSimple",
		l.executor, assets[0], amounts[0], payload, uint16(0)); err != nil {
		return fmt.Errorf("evm: flashloan: %w", err)
	}
	return nil
}

// ReceiptToken resolves the pool's interest-bearing receipt token for asset.
func (l *Ledger) ReceiptToken(ctx context.Context, asset common.Address) (common.Address, error) {
	var out []interface{}
	err := l.contract().Call(&bind.CallOpts{Context: ctx}, &out, "getReserveAToken", asset)
	if err != nil {
		return common.Address{}, fmt.Errorf("evm: receipt token %s: %w", asset.Hex(), err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("evm: receipt token %s: unexpected return type", asset.Hex())
	}
	if addr == (common.Address{}) {
		return common.Address{}, domain.ErrNotFound
	}
	return addr, nil
}

// AccountBalances reads the owner's supplied collateral and outstanding
// variable-rate debt via the pool's receipt and debt token balances.
func (l *Ledger) AccountBalances(ctx context.Context, owner, collateralAsset, borrowAsset common.Address) (*big.Int, *big.Int, error) {
	receipt, err := l.ReceiptToken(ctx, collateralAsset)
	if err != nil {
		return nil, nil, err
	}
	collateral, err := l.tokens.BalanceOf(ctx, receipt, owner)
	if err != nil {
		return nil, nil, err
	}

	var out []interface{}
	err = l.contract().Call(&bind.CallOpts{Context: ctx}, &out, "getReserveVariableDebtToken", borrowAsset)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: debt token %s: %w", borrowAsset.Hex(), err)
	}
	debtToken, ok := out[0].(common.Address)
	if !ok {
		return nil, nil, fmt.Errorf("evm: debt token %s: unexpected return type", borrowAsset.Hex())
	}
	debt, err := l.tokens.BalanceOf(ctx, debtToken, owner)
	if err != nil {
		return nil, nil, err
	}

	return collateral, debt, nil
}

var _ domain.Ledger = (*Ledger)(nil)
