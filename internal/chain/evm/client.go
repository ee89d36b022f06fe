package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/songzhibin97/ammswap/internal/chain"
	"github.com/songzhibin97/ammswap/internal/errs"
)

const defaultPollInterval = 2 * time.Second

// Backend is the subset of the Ethereum RPC used by the adapters. *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial initialises an EVM RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, errs.New(errs.InvalidConfiguration, "evm.dial", "rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Client submits transactions and waits for their receipts.
type Client struct {
	backend      Backend
	chainID      *big.Int
	pollInterval time.Duration
}

func NewClient(backend Backend, chainID *big.Int, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Client{backend: backend, chainID: chainID, pollInterval: pollInterval}
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// transact signs, sends and waits for a contract call. Failed receipts are replayed to recover
// the revert reason.
func (c *Client) transact(ctx context.Context, op string, signer chain.Signer, to common.Address, data []byte) (*types.Receipt, error) {
	from, err := signer.Address(ctx)
	if err != nil {
		return nil, errs.E(errs.SignerRejected, op, err)
	}

	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		// a call that would revert never reaches the chain
		return nil, classifyRevert(op, err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, rpcError(ctx, op, fmt.Errorf("failed to get nonce: %w", err))
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, rpcError(ctx, op, fmt.Errorf("failed to get gas price: %w", err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := signer.SignTx(ctx, tx, c.chainID)
	if err != nil {
		return nil, errs.E(errs.SignerRejected, op, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, rpcError(ctx, op, fmt.Errorf("failed to send transaction: %w", err))
	}

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, rpcError(ctx, op, fmt.Errorf("tx %s: %w", signed.Hash().Hex(), err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		_, callErr := c.backend.CallContract(ctx, msg, receipt.BlockNumber)
		if callErr == nil {
			return nil, errs.New(errs.ChainReverted, op, "transaction %s failed", signed.Hash().Hex())
		}
		return nil, classifyRevert(op, fmt.Errorf("transaction %s failed: %w", signed.Hash().Hex(), callErr))
	}
	return receipt, nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to fetch receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func toReceipt(r *types.Receipt) *chain.Receipt {
	out := &chain.Receipt{TxHash: r.TxHash, GasUsed: r.GasUsed}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}
