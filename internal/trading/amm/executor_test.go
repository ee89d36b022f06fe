package amm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/ammswap/internal/allowance"
	"github.com/songzhibin97/ammswap/internal/chain"
	"github.com/songzhibin97/ammswap/internal/chain/stub"
	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/session"
	"github.com/songzhibin97/ammswap/internal/trading"
	"github.com/songzhibin97/ammswap/internal/units"
)

var (
	ethAddr    = common.HexToAddress("0xe1")
	usdtAddr   = common.HexToAddress("0xd1")
	routerAddr = common.HexToAddress("0x7a")
	userAddr   = common.HexToAddress("0xa11ce")
	fixedNow   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

type fixture struct {
	router *stub.Router
	eth    *stub.Token
	usdt   *stub.Token
	sess   *session.Session
	exec   *Executor
}

func newFixture(t *testing.T, quote *big.Int, confirm time.Duration) *fixture {
	t.Helper()
	registry, err := units.NewRegistry([]units.Token{
		{Symbol: "ETH", Address: ethAddr, Decimals: 18},
		{Symbol: "USDT", Address: usdtAddr, Decimals: 6},
	})
	require.NoError(t, err)
	pairs, err := trading.NewPairRegistry([]models.TradingPair{
		{ID: "ETH-USDT", ReferencePrice: dec("2450"), FeeRate: dec("0.003")},
	}, registry, nil, nil)
	require.NoError(t, err)

	f := &fixture{
		router: stub.NewRouter(routerAddr, quote),
		eth:    stub.NewToken(ethAddr),
		usdt:   stub.NewToken(usdtAddr),
	}
	f.sess, err = session.Connect(context.Background(), "alice", &stub.Signer{Addr: userAddr})
	require.NoError(t, err)

	f.exec, err = NewExecutor(f.router, stub.Tokens{ethAddr: f.eth, usdtAddr: f.usdt}, registry, pairs,
		allowance.NewManager(allowance.ModeUnbounded, confirm, nil, nil),
		Config{Tolerance: dec("0.01"), ConfirmTimeout: confirm}, nil, nil)
	require.NoError(t, err)
	f.exec.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) assertNoChainWrites(t *testing.T) {
	t.Helper()
	assert.Zero(t, f.router.Swaps())
	assert.Zero(t, f.eth.Approvals())
	assert.Zero(t, f.usdt.Approvals())
}

func TestExecute_Buy(t *testing.T) {
	f := newFixture(t, bigInt("2000000000000000000"), time.Second)

	trade, err := f.exec.Execute(context.Background(), f.sess, &trading.Order{
		Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("2"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, trade.Status)
	assert.Equal(t, "alice", trade.UserID)
	assert.True(t, trade.Amount.Equal(dec("2")))
	assert.True(t, trade.Price.Equal(dec("2450")))
	assert.True(t, trade.Total.Equal(dec("4900")))
	assert.True(t, trade.Fee.Equal(dec("14.7")))
	assert.Equal(t, trade.ID, trade.TxHash)
	assert.Equal(t, fixedNow, trade.Timestamp)

	require.Len(t, f.router.SwapCalls, 1)
	call := f.router.SwapCalls[0]
	assert.Equal(t, "4900000000", call.AmountIn.String())
	assert.Equal(t, "1980000000000000000", call.AmountOutMin.String())
	assert.Equal(t, []common.Address{usdtAddr, ethAddr}, call.Path)
	assert.Equal(t, userAddr, call.To)
	assert.Equal(t, fixedNow.Add(20*time.Minute), call.Deadline)

	// unbounded approval on the input token only
	require.Equal(t, 1, f.usdt.Approvals())
	assert.Equal(t, 0, units.MaxUint256().Cmp(f.usdt.ApproveCalls[0]))
	assert.Zero(t, f.eth.Approvals())

	// the second swap reuses the allowance
	_, err = f.exec.Execute(context.Background(), f.sess, &trading.Order{
		Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.usdt.Approvals())
	assert.Equal(t, 2, f.router.Swaps())
}

func TestExecute_Sell(t *testing.T) {
	f := newFixture(t, bigInt("2400000000"), time.Second)
	f.eth.SetAllowance(units.MaxUint256())

	trade, err := f.exec.Execute(context.Background(), f.sess, &trading.Order{
		Pair: "eth-usdt", Side: "SELL", Amount: dec("1"), IntentID: "intent-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SideSell, trade.Side)
	assert.True(t, trade.Amount.Equal(dec("1")))
	assert.True(t, trade.Price.Equal(dec("2400")))
	assert.True(t, trade.Fee.Equal(dec("7.2")))
	assert.Equal(t, "intent-1", trade.IntentID)

	call := f.router.SwapCalls[0]
	assert.Equal(t, "1000000000000000000", call.AmountIn.String())
	assert.Equal(t, "2376000000", call.AmountOutMin.String())
	assert.Equal(t, []common.Address{ethAddr, usdtAddr}, call.Path)
	assert.Zero(t, f.eth.Approvals())
}

func TestExecute_LimitPriceSizesInput(t *testing.T) {
	f := newFixture(t, bigInt("2000000000000000000"), time.Second)

	_, err := f.exec.Execute(context.Background(), f.sess, &trading.Order{
		Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("2"), LimitPrice: dec("2000"),
	})
	require.NoError(t, err)
	assert.Equal(t, "4000000000", f.router.SwapCalls[0].AmountIn.String())
}

type countingPrice struct {
	price decimal.Decimal
	calls int
}

func (c *countingPrice) ReferencePrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	c.calls++
	return c.price, nil
}

func TestExecute_PinnedReferencePrice(t *testing.T) {
	tests := []struct {
		name       string
		order      *trading.Order
		wantIn     string
		wantLookup int
	}{
		{
			name:       "market order asks the source",
			order:      &trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("2")},
			wantIn:     "5200000000",
			wantLookup: 1,
		},
		{
			name:   "pinned price wins over a moved source",
			order:  &trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("2"), ReferencePrice: dec("2450")},
			wantIn: "4900000000",
		},
		{
			name:   "limit price needs no source",
			order:  &trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("2"), LimitPrice: dec("2000")},
			wantIn: "4000000000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, bigInt("2000000000000000000"), time.Second)
			src := &countingPrice{price: dec("2600")}
			pairs, err := trading.NewPairRegistry([]models.TradingPair{
				{ID: "ETH-USDT", ReferencePrice: dec("2450"), FeeRate: dec("0.003")},
			}, f.exec.registry, src, nil)
			require.NoError(t, err)
			f.exec.pairs = pairs

			_, err = f.exec.Execute(context.Background(), f.sess, tt.order)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIn, f.router.SwapCalls[0].AmountIn.String())
			assert.Equal(t, tt.wantLookup, src.calls)
		})
	}
}

func TestExecute_AmountsKeepQuoteDecimals(t *testing.T) {
	tests := []struct {
		name      string
		quote     string
		order     *trading.Order
		wantTotal string
		wantFee   string
	}{
		{
			// 4900 USDT for 3 ETH has no finite price
			name:      "buy with repeating price",
			quote:     "3000000000000000000",
			order:     &trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("2")},
			wantTotal: "4900",
			wantFee:   "14.7",
		},
		{
			name:      "sell fee rounded to usdt precision",
			quote:     "2400123457",
			order:     &trading.Order{Pair: "ETH-USDT", Side: models.SideSell, Amount: dec("1")},
			wantTotal: "2400.123457",
			wantFee:   "7.20037",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, bigInt(tt.quote), time.Second)
			f.eth.SetAllowance(units.MaxUint256())

			trade, err := f.exec.Execute(context.Background(), f.sess, tt.order)
			require.NoError(t, err)
			assert.True(t, trade.Total.Equal(dec(tt.wantTotal)), "total %s", trade.Total)
			assert.True(t, trade.Fee.Equal(dec(tt.wantFee)), "fee %s", trade.Fee)
			assert.GreaterOrEqual(t, trade.Total.Exponent(), int32(-6))
			assert.GreaterOrEqual(t, trade.Fee.Exponent(), int32(-6))
		})
	}
}

func TestExecute_ValidationMakesNoChainCalls(t *testing.T) {
	tests := []struct {
		name     string
		nilSess  bool
		order    *trading.Order
		wantKind errs.Kind
	}{
		{name: "no session", nilSess: true, order: &trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("1")},
			wantKind: errs.WalletNotConnected},
		{name: "nil order", order: nil, wantKind: errs.InvalidOrder},
		{name: "zero amount", order: &trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: decimal.Zero},
			wantKind: errs.InvalidAmount},
		{name: "negative amount", order: &trading.Order{Pair: "ETH-USDT", Side: models.SideSell, Amount: dec("-1")},
			wantKind: errs.InvalidAmount},
		{name: "bad side", order: &trading.Order{Pair: "ETH-USDT", Side: "short", Amount: dec("1")},
			wantKind: errs.InvalidOrder},
		{name: "unknown pair", order: &trading.Order{Pair: "WBTC-USDT", Side: models.SideBuy, Amount: dec("1")},
			wantKind: errs.PairNotFound},
		{name: "negative limit", order: &trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("1"), LimitPrice: dec("-5")},
			wantKind: errs.InvalidAmount},
		{name: "dust", order: &trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("0.000000000001")},
			wantKind: errs.InvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, bigInt("1000"), time.Second)
			sess := f.sess
			if tt.nilSess {
				sess = nil
			}
			_, err := f.exec.Execute(context.Background(), sess, tt.order)
			assert.True(t, errs.Is(err, tt.wantKind), "got %v", err)
			assert.Equal(t, string(StageQuoting), errs.StageOf(err))
			assert.Zero(t, f.router.QuoteCalls)
			f.assertNoChainWrites(t)
		})
	}
}

func TestExecute_QuoteFailures(t *testing.T) {
	tests := []struct {
		name  string
		quote *big.Int
		err   error
	}{
		{name: "router error", quote: bigInt("1"), err: errors.New("execution reverted")},
		{name: "zero output", quote: big.NewInt(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.quote, time.Second)
			f.router.QuoteErr = tt.err

			_, err := f.exec.Execute(context.Background(), f.sess, &trading.Order{
				Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("1"),
			})
			assert.True(t, errs.Is(err, errs.QuoteUnavailable), "got %v", err)
			assert.Equal(t, string(StageQuoting), errs.StageOf(err))
			f.assertNoChainWrites(t)
		})
	}
}

func TestExecute_ApprovalFailureStopsBeforeSwap(t *testing.T) {
	f := newFixture(t, bigInt("2000000000000000000"), time.Second)
	f.usdt.ApproveErr = errs.New(errs.SignerRejected, "wallet", "user denied")

	_, err := f.exec.Execute(context.Background(), f.sess, &trading.Order{
		Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("2"),
	})
	assert.True(t, errs.Is(err, errs.SignerRejected), "got %v", err)
	assert.Equal(t, string(StageApproving), errs.StageOf(err))
	assert.Equal(t, 1, f.usdt.Approvals())
	assert.Zero(t, f.router.Swaps())
}

func TestExecute_SwapFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		confirm  time.Duration
		wantKind errs.Kind
	}{
		{
			name:     "reverted",
			setup:    func(f *fixture) { f.router.SwapErr = errs.New(errs.ChainReverted, "evm.swap", "EXPIRED") },
			wantKind: errs.ChainReverted,
		},
		{
			name:     "slippage revert",
			setup:    func(f *fixture) { f.router.SwapErr = errs.New(errs.SlippageExceeded, "evm.swap", "INSUFFICIENT_OUTPUT_AMOUNT") },
			wantKind: errs.SlippageExceeded,
		},
		{
			name:     "realized below minimum",
			setup:    func(f *fixture) { f.router.RealizedOut = bigInt("1979999999999999999") },
			wantKind: errs.SlippageExceeded,
		},
		{
			name:     "confirmation timeout",
			setup:    func(f *fixture) { f.router.Hold = make(chan struct{}) },
			confirm:  20 * time.Millisecond,
			wantKind: errs.NetworkTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			confirm := tt.confirm
			if confirm == 0 {
				confirm = time.Second
			}
			f := newFixture(t, bigInt("2000000000000000000"), confirm)
			f.usdt.SetAllowance(units.MaxUint256())
			tt.setup(f)

			trade, err := f.exec.Execute(context.Background(), f.sess, &trading.Order{
				Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("2"),
			})
			assert.Nil(t, trade)
			assert.True(t, errs.Is(err, tt.wantKind), "got %v", err)
			assert.Equal(t, string(StageSwapping), errs.StageOf(err))
			assert.Equal(t, 1, f.router.Swaps(), "exactly one swap, no retries")
		})
	}
}

// blindRouter settles swaps without an output transfer in the receipt.
type blindRouter struct{ *stub.Router }

func (r blindRouter) SwapExactTokensForTokens(ctx context.Context, signer chain.Signer, amountIn, amountOutMin *big.Int,
	path []common.Address, to common.Address, deadline time.Time) (*chain.Receipt, error) {
	receipt, err := r.Router.SwapExactTokensForTokens(ctx, signer, amountIn, amountOutMin, path, to, deadline)
	if err != nil {
		return nil, err
	}
	receipt.AmountOut = nil
	return receipt, nil
}

func TestExecute_ReceiptUnreadable(t *testing.T) {
	f := newFixture(t, bigInt("2000000000000000000"), time.Second)
	f.exec.router = blindRouter{f.router}

	_, err := f.exec.Execute(context.Background(), f.sess, &trading.Order{
		Pair: "ETH-USDT", Side: models.SideBuy, Amount: dec("2"),
	})
	assert.True(t, errs.Is(err, errs.ReceiptUnreadable), "got %v", err)
	assert.True(t, errs.KindOf(err).ChainStateUnknown())
}

func TestNewExecutorRejectsTolerance(t *testing.T) {
	registry, err := units.NewRegistry(nil)
	require.NoError(t, err)
	pairs, err := trading.NewPairRegistry(nil, registry, nil, nil)
	require.NoError(t, err)

	_, err = NewExecutor(stub.NewRouter(routerAddr, big.NewInt(1)), stub.Tokens{}, registry, pairs,
		allowance.NewManager(allowance.ModeExact, 0, nil, nil), Config{Tolerance: dec("0.5")}, nil, nil)
	assert.True(t, errs.Is(err, errs.InvalidConfiguration))
}
