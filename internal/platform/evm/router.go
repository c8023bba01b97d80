package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/loopfi/loopbot/internal/domain"
)

// Router implements domain.SwapVenue against a swap router contract. The
// conversion instruction is pre-quoted calldata produced off-band (an
// aggregator quote); the router is approved for the pay amount and the
// calldata is submitted as-is.
type Router struct {
	client *Client
	addr   common.Address
	tokens *TokenClient
}

// NewRouter creates a Router for the contract at addr.
func NewRouter(client *Client, addr common.Address, tokens *TokenClient) *Router {
	return &Router{client: client, addr: addr, tokens: tokens}
}

// Address returns the router's contract address.
func (r *Router) Address() common.Address {
	return r.addr
}

// Execute approves the router for amount of payAsset and submits the opaque
// instruction. The instruction is never interpreted here; callers verify the
// balance delta afterwards.
func (r *Router) Execute(ctx context.Context, instruction []byte, payAsset common.Address, amount *big.Int) error {
	if len(instruction) == 0 {
		return fmt.Errorf("evm: empty conversion instruction: %w", domain.ErrSwapFailed)
	}
	if err := r.tokens.Approve(ctx, payAsset, r.addr, amount); err != nil {
		return fmt.Errorf("evm: approve router: %w", err)
	}
	if err := r.client.sendRaw(ctx, r.addr, instruction); err != nil {
		return fmt.Errorf("evm: router call: %w", err)
	}
	return nil
}

var _ domain.SwapVenue = (*Router)(nil)
