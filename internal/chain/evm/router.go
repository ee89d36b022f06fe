package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/songzhibin97/ammswap/internal/chain"
	"github.com/songzhibin97/ammswap/internal/errs"
)

const routerABIJSON = `[
{"name":"getAmountsOut","type":"function","stateMutability":"view",
 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
 "outputs":[{"name":"amounts","type":"uint256[]"}]},
{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
           {"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
 "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

var (
	routerABI = mustParseABI(routerABIJSON)

	transferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

// Router implements chain.Router against a Uniswap V2 style router.
type Router struct {
	client  *Client
	address common.Address
}

func NewRouter(client *Client, address common.Address) *Router {
	return &Router{client: client, address: address}
}

func (r *Router) Address() common.Address { return r.address }

func (r *Router) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getAmountsOut: %w", err)
	}
	out, err := r.client.call(ctx, r.address, data)
	if err != nil {
		return nil, errs.E(errs.QuoteUnavailable, "evm.get_amounts_out", err)
	}

	values, err := routerABI.Unpack("getAmountsOut", out)
	if err != nil || len(values) == 0 {
		return nil, errs.New(errs.QuoteUnavailable, "evm.get_amounts_out", "failed to decode amounts: %v", err)
	}
	amounts := *abi.ConvertType(values[0], new([]*big.Int)).(*[]*big.Int)
	if len(amounts) != len(path) {
		return nil, errs.New(errs.QuoteUnavailable, "evm.get_amounts_out", "router returned %d amounts for %d hops", len(amounts), len(path))
	}
	return amounts, nil
}

func (r *Router) SwapExactTokensForTokens(ctx context.Context, signer chain.Signer, amountIn, amountOutMin *big.Int,
	path []common.Address, to common.Address, deadline time.Time) (*chain.Receipt, error) {
	if len(path) < 2 {
		return nil, errs.New(errs.InvalidOrder, "evm.swap", "path needs at least two tokens")
	}
	data, err := routerABI.Pack("swapExactTokensForTokens",
		amountIn, amountOutMin, path, to, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("failed to pack swapExactTokensForTokens: %w", err)
	}

	receipt, err := r.client.transact(ctx, "evm.swap", signer, r.address, data)
	if err != nil {
		return nil, err
	}

	out := toReceipt(receipt)
	out.AmountOut = transferredTo(receipt.Logs, path[len(path)-1], to)
	return out, nil
}

// transferredTo sums ERC-20 Transfer events of token credited to recipient.
// It returns nil when no such event exists.
func transferredTo(logs []*types.Log, token, recipient common.Address) *big.Int {
	var total *big.Int
	for _, log := range logs {
		if log == nil || log.Address != token {
			continue
		}
		if len(log.Topics) < 3 || log.Topics[0] != transferEventSignature {
			continue
		}
		if common.BytesToAddress(log.Topics[2].Bytes()) != recipient {
			continue
		}
		if total == nil {
			total = new(big.Int)
		}
		total.Add(total, new(big.Int).SetBytes(log.Data))
	}
	return total
}
