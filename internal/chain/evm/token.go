package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/songzhibin97/ammswap/internal/chain"
	"github.com/songzhibin97/ammswap/internal/errs"
)

const erc20ABIJSON = `[
{"name":"balanceOf","type":"function","stateMutability":"view",
 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"allowance","type":"function","stateMutability":"view",
 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"approve","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

// Token implements chain.Token for an ERC-20 contract.
type Token struct {
	client  *Client
	address common.Address
}

func NewToken(client *Client, address common.Address) *Token {
	return &Token{client: client, address: address}
}

func (t *Token) Address() common.Address { return t.address }

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.readUint(ctx, "allowance", owner, spender)
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return t.readUint(ctx, "balanceOf", owner)
}

func (t *Token) Approve(ctx context.Context, signer chain.Signer, spender common.Address, amount *big.Int) (*chain.Receipt, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve: %w", err)
	}
	receipt, err := t.client.transact(ctx, "evm.approve", signer, t.address, data)
	if err != nil {
		return nil, err
	}
	return toReceipt(receipt), nil
}

func (t *Token) readUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := t.client.call(ctx, t.address, data)
	if err != nil {
		return nil, rpcError(ctx, "evm."+method, err)
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return nil, errs.New(errs.NetworkTimeout, "evm."+method, "failed to decode %s: %v", method, err)
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

// Tokens builds token capabilities on demand for one client.
type Tokens struct {
	client *Client
}

func NewTokens(client *Client) *Tokens {
	return &Tokens{client: client}
}

func (ts *Tokens) Token(address common.Address) chain.Token {
	return NewToken(ts.client, address)
}
