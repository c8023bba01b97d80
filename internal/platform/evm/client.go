// Package evm adapts the domain's ledger, token, and swap-venue interfaces
// to on-chain contracts via go-ethereum.
package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	loopcrypto "github.com/loopfi/loopbot/internal/crypto"
)

// ClientConfig holds connectivity and transaction parameters shared by all
// contract adapters.
type ClientConfig struct {
	RpcURL   string
	GasLimit uint64
}

// Client wraps an ethclient connection and the operator signer. Every
// adapter in this package sends transactions through it, so nonce handling
// stays in one place.
type Client struct {
	eth      *ethclient.Client
	signer   *loopcrypto.Signer
	gasLimit uint64
	logger   *slog.Logger
}

// Dial connects to the RPC endpoint and verifies the chain ID matches the
// signer's.
func Dial(ctx context.Context, cfg ClientConfig, signer *loopcrypto.Signer, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", cfg.RpcURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: chain id: %w", err)
	}
	if chainID.Cmp(signer.ChainID()) != 0 {
		eth.Close()
		return nil, fmt.Errorf("evm: rpc chain %s does not match configured chain %s", chainID, signer.ChainID())
	}

	return &Client{
		eth:      eth,
		signer:   signer,
		gasLimit: cfg.GasLimit,
		logger:   logger.With(slog.String("component", "evm")),
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Eth returns the underlying RPC client.
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

// Operator returns the signing account's address.
func (c *Client) Operator() common.Address {
	return c.signer.Address()
}

// bound wraps a contract address and parsed ABI into a BoundContract.
func (c *Client) bound(addr common.Address, parsed abi.ABI) *bind.BoundContract {
	return bind.NewBoundContract(addr, parsed, c.eth, c.eth, c.eth)
}

// transact invokes a state-changing method and waits for the transaction to
// be mined, returning an error when the receipt reports a revert.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) error {
	opts, err := c.signer.TransactOpts()
	if err != nil {
		return err
	}
	opts.Context = ctx
	opts.GasLimit = c.gasLimit

	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("evm: %s: %w", method, err)
	}
	return c.waitMined(ctx, tx, method)
}

// sendRaw signs and submits a raw calldata transaction to the given address
// and waits for it to be mined.
func (c *Client) sendRaw(ctx context.Context, to common.Address, data []byte) error {
	nonce, err := c.eth.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return fmt.Errorf("evm: pending nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("evm: gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("evm: send transaction: %w", err)
	}
	return c.waitMined(ctx, signed, "raw call")
}

func (c *Client) waitMined(ctx context.Context, tx *types.Transaction, what string) error {
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("evm: wait mined %s: %w", what, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("evm: %s reverted in tx %s", what, tx.Hash().Hex())
	}
	c.logger.Debug("transaction mined",
		slog.String("what", what),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return nil
}

// mustParseABI parses a JSON ABI at package init time.
func mustParseABI(js string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic(err)
	}
	return parsed
}
