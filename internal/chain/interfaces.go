package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer is the externally supplied wallet. Keys never pass through this package.
type Signer interface {
	// Address returns the account the signer controls
	Address(ctx context.Context) (common.Address, error)

	// SignTx asks the wallet to sign tx; a refusal must be reported as an error
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Router is the AMM router contract.
type Router interface {
	Address() common.Address

	// GetAmountsOut quotes every hop along path for amountIn
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)

	// SwapExactTokensForTokens submits the swap and blocks until it is mined or ctx ends
	SwapExactTokensForTokens(ctx context.Context, signer Signer, amountIn, amountOutMin *big.Int,
		path []common.Address, to common.Address, deadline time.Time) (*Receipt, error)
}

// Token is an ERC-20 contract.
type Token interface {
	Address() common.Address
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)

	// Approve submits an approval and blocks until it is mined or ctx ends
	Approve(ctx context.Context, signer Signer, spender common.Address, amount *big.Int) (*Receipt, error)
}

// TokenSource resolves the token capability for a contract address.
type TokenSource interface {
	Token(address common.Address) Token
}

// Receipt is the settled outcome of a submitted transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	// AmountOut is the realized output credited to the recipient; swaps only
	AmountOut *big.Int
}
