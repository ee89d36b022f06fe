// Package stub provides in-memory chain capabilities for tests and dry runs.
package stub

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/songzhibin97/ammswap/internal/chain"
)

// Signer is a wallet that either signs nothing or refuses with Err.
type Signer struct {
	Addr common.Address
	Err  error
}

func (s *Signer) Address(ctx context.Context) (common.Address, error) {
	if s.Err != nil {
		return common.Address{}, s.Err
	}
	return s.Addr, nil
}

func (s *Signer) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return tx, nil
}

// SwapCall records one SwapExactTokensForTokens invocation.
type SwapCall struct {
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Path         []common.Address
	To           common.Address
	Deadline     time.Time
}

// Router returns fixed quotes and settles swaps with RealizedOut.
type Router struct {
	Addr common.Address

	mu          sync.Mutex
	Quote       *big.Int
	QuoteErr    error
	RealizedOut *big.Int // defaults to Quote
	SwapErr     error
	// Hold, when set, blocks swaps until it is closed or ctx ends
	Hold chan struct{}

	QuoteCalls int
	SwapCalls  []SwapCall
	nonce      uint64
}

func NewRouter(addr common.Address, quote *big.Int) *Router {
	return &Router{Addr: addr, Quote: quote}
}

func (r *Router) Address() common.Address { return r.Addr }

func (r *Router) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.QuoteCalls++
	if r.QuoteErr != nil {
		return nil, r.QuoteErr
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 1; i < len(path); i++ {
		amounts[i] = new(big.Int).Set(r.Quote)
	}
	return amounts, nil
}

func (r *Router) SwapExactTokensForTokens(ctx context.Context, signer chain.Signer, amountIn, amountOutMin *big.Int,
	path []common.Address, to common.Address, deadline time.Time) (*chain.Receipt, error) {
	r.mu.Lock()
	r.SwapCalls = append(r.SwapCalls, SwapCall{
		AmountIn:     new(big.Int).Set(amountIn),
		AmountOutMin: new(big.Int).Set(amountOutMin),
		Path:         append([]common.Address(nil), path...),
		To:           to,
		Deadline:     deadline,
	})
	hold := r.Hold
	r.mu.Unlock()

	if _, err := signer.SignTx(ctx, types.NewTx(&types.LegacyTx{}), big.NewInt(1)); err != nil {
		return nil, err
	}

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SwapErr != nil {
		return nil, r.SwapErr
	}
	out := r.RealizedOut
	if out == nil {
		out = r.Quote
	}
	r.nonce++
	return &chain.Receipt{
		TxHash:      txHash("swap", r.nonce),
		BlockNumber: r.nonce,
		AmountOut:   new(big.Int).Set(out),
	}, nil
}

// Swaps returns the number of swap submissions.
func (r *Router) Swaps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.SwapCalls)
}

// Token is an ERC-20 with a settable allowance.
type Token struct {
	Addr common.Address

	mu           sync.Mutex
	allowance    *big.Int
	balances     map[common.Address]*big.Int
	AllowanceErr error
	ApproveErr   error
	// BlockApprove makes Approve wait for ctx to end
	BlockApprove bool

	ApproveCalls []*big.Int
	nonce        uint64
}

func NewToken(addr common.Address) *Token {
	return &Token{Addr: addr, allowance: new(big.Int), balances: make(map[common.Address]*big.Int)}
}

func (t *Token) Address() common.Address { return t.Addr }

func (t *Token) SetAllowance(v *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowance = new(big.Int).Set(v)
}

func (t *Token) SetBalance(owner common.Address, v *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[owner] = new(big.Int).Set(v)
}

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.AllowanceErr != nil {
		return nil, t.AllowanceErr
	}
	return new(big.Int).Set(t.allowance), nil
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (t *Token) Approve(ctx context.Context, signer chain.Signer, spender common.Address, amount *big.Int) (*chain.Receipt, error) {
	t.mu.Lock()
	t.ApproveCalls = append(t.ApproveCalls, new(big.Int).Set(amount))
	block := t.BlockApprove
	t.mu.Unlock()

	if _, err := signer.SignTx(ctx, types.NewTx(&types.LegacyTx{}), big.NewInt(1)); err != nil {
		return nil, err
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ApproveErr != nil {
		return nil, t.ApproveErr
	}
	t.allowance = new(big.Int).Set(amount)
	t.nonce++
	return &chain.Receipt{TxHash: txHash("approve", t.nonce), BlockNumber: t.nonce}, nil
}

// Approvals returns the number of approval submissions.
func (t *Token) Approvals() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ApproveCalls)
}

// Tokens is a TokenSource over a fixed set of stub tokens.
type Tokens map[common.Address]*Token

func (ts Tokens) Token(address common.Address) chain.Token {
	if t, ok := ts[address]; ok {
		return t
	}
	return nil
}

func txHash(kind string, n uint64) common.Hash {
	return crypto.Keccak256Hash([]byte(kind), new(big.Int).SetUint64(n).Bytes())
}
