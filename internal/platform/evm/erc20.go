package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/loopfi/loopbot/internal/domain"
)

const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

var parsedERC20 = mustParseABI(erc20ABI)

// TokenClient implements domain.TokenClient against standard ERC20
// contracts. Outbound transfers and approvals are signed by the operator
// key.
type TokenClient struct {
	client *Client
}

// NewTokenClient creates a TokenClient on the shared Client.
func NewTokenClient(client *Client) *TokenClient {
	return &TokenClient{client: client}
}

func (t *TokenClient) token(asset common.Address) *bind.BoundContract {
	return t.client.bound(asset, parsedERC20)
}

// BalanceOf reads the token balance of an account.
func (t *TokenClient) BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error) {
	var out []interface{}
	err := t.token(asset).Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("evm: balanceOf %s: %w", asset.Hex(), err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: balanceOf %s: unexpected return type", asset.Hex())
	}
	return balance, nil
}

// Transfer moves tokens from the operator account to the recipient.
func (t *TokenClient) Transfer(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	if err := t.client.transact(ctx, t.token(asset), "transfer", to, amount); err != nil {
		return fmt.Errorf("evm: transfer %s: %w", asset.Hex(), err)
	}
	return nil
}

// TransferFrom moves tokens between third-party accounts using a prior
// allowance granted to the operator.
func (t *TokenClient) TransferFrom(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	if err := t.client.transact(ctx, t.token(asset), "transferFrom", from, to, amount); err != nil {
		return fmt.Errorf("evm: transferFrom %s: %w", asset.Hex(), err)
	}
	return nil
}

// Approve grants a spender authority over the operator's tokens.
func (t *TokenClient) Approve(ctx context.Context, asset, spender common.Address, amount *big.Int) error {
	if err := t.client.transact(ctx, t.token(asset), "approve", spender, amount); err != nil {
		return fmt.Errorf("evm: approve %s: %w", asset.Hex(), err)
	}
	return nil
}

// Describe reads symbol and decimals for asset discovery at startup.
func (t *TokenClient) Describe(ctx context.Context, asset common.Address) (domain.AssetInfo, error) {
	var symOut, decOut []interface{}
	contract := t.token(asset)
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &symOut, "symbol"); err != nil {
		return domain.AssetInfo{}, fmt.Errorf("evm: symbol %s: %w", asset.Hex(), err)
	}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &decOut, "decimals"); err != nil {
		return domain.AssetInfo{}, fmt.Errorf("evm: decimals %s: %w", asset.Hex(), err)
	}
	symbol, _ := symOut[0].(string)
	decimals, _ := decOut[0].(uint8)
	return domain.AssetInfo{Address: asset, Symbol: symbol, Decimals: decimals}, nil
}

var _ domain.TokenClient = (*TokenClient)(nil)
