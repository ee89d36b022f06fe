// Package amm executes orders against a Uniswap V2 style router.
package amm

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/allowance"
	"github.com/songzhibin97/ammswap/internal/chain"
	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/observability"
	"github.com/songzhibin97/ammswap/internal/session"
	"github.com/songzhibin97/ammswap/internal/slippage"
	"github.com/songzhibin97/ammswap/internal/trading"
	"github.com/songzhibin97/ammswap/internal/units"
)

const priceScale = 18

// Quote is the priced plan of one swap, in base units. It is never persisted.
type Quote struct {
	AmountIn    *big.Int
	ExpectedOut *big.Int
	MinimumOut  *big.Int
	Path        []common.Address
	Deadline    time.Time
}

// Config 执行参数
type Config struct {
	Tolerance      decimal.Decimal // 滑点容忍度, 如 0.01
	DeadlineWindow time.Duration   // swap 截止时间窗口
	ConfirmTimeout time.Duration   // 等待确认的最长时间
}

// Executor implements trading.SwapExecutor.
type Executor struct {
	router    chain.Router
	tokens    chain.TokenSource
	registry  *units.Registry
	pairs     *trading.PairRegistry
	allowance *allowance.Manager
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
	metrics   *observability.Metrics
}

var _ trading.SwapExecutor = (*Executor)(nil)

func NewExecutor(router chain.Router, tokens chain.TokenSource, registry *units.Registry, pairs *trading.PairRegistry,
	allowances *allowance.Manager, cfg Config, logger *slog.Logger, metrics *observability.Metrics) (*Executor, error) {
	if router == nil || tokens == nil || registry == nil || pairs == nil || allowances == nil {
		return nil, errs.New(errs.InvalidConfiguration, "amm.new_executor", "missing dependency")
	}
	if err := slippage.ValidateTolerance(cfg.Tolerance); err != nil {
		return nil, err
	}
	if cfg.DeadlineWindow <= 0 {
		cfg.DeadlineWindow = slippage.DefaultDeadlineWindow
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = allowance.DefaultConfirmTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		router:    router,
		tokens:    tokens,
		registry:  registry,
		pairs:     pairs,
		allowance: allowances,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// legs resolves the input and output token of an order.
func legs(side models.Side, pair models.TradingPair) (in, out string) {
	if side == models.SideBuy {
		return pair.Quote, pair.Base
	}
	return pair.Base, pair.Quote
}

// Execute settles order on chain. On success the returned trade is completed and its ID is
// the swap transaction hash. It never retries: a failed stage aborts the attempt.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, order *trading.Order) (*models.Trade, error) {
	att := newAttempt(e.metrics)

	if err := session.Require(sess); err != nil {
		return nil, att.fail(err, errs.WalletNotConnected)
	}
	if err := order.Validate(); err != nil {
		return nil, att.fail(err, errs.InvalidOrder)
	}
	pair, err := e.pair(ctx, order)
	if err != nil {
		return nil, att.fail(err, errs.PairNotFound)
	}
	e.metrics.RecordAttempt(pair.ID, string(order.Side))

	price, err := trading.NominalPrice(order, pair)
	if err != nil {
		return nil, att.fail(err, errs.QuoteUnavailable)
	}

	inSymbol, outSymbol := legs(order.Side, pair)
	inToken, err := e.registry.Lookup(inSymbol)
	if err != nil {
		return nil, att.fail(err, errs.UnknownToken)
	}
	outToken, err := e.registry.Lookup(outSymbol)
	if err != nil {
		return nil, att.fail(err, errs.UnknownToken)
	}
	inCap := e.tokens.Token(inToken.Address)
	if inCap == nil {
		return nil, att.fail(errs.New(errs.UnknownToken, "amm.execute", "no contract for %s", inSymbol), errs.UnknownToken)
	}

	inAmount := order.Amount
	if order.Side == models.SideBuy {
		inAmount = order.Amount.Mul(price)
	}
	amountIn, err := units.ToBaseUnits(inAmount, inToken.Decimals)
	if err != nil {
		return nil, att.fail(err, errs.InvalidAmount)
	}
	if amountIn.Sign() == 0 {
		return nil, att.fail(errs.New(errs.InvalidAmount, "amm.execute",
			"%s %s is below one base unit", inAmount, inSymbol), errs.InvalidAmount)
	}

	quote, err := e.quote(ctx, amountIn, []common.Address{inToken.Address, outToken.Address})
	if err != nil {
		return nil, att.fail(err, errs.QuoteUnavailable)
	}

	e.logger.Debug("swap quoted",
		"user", sess.UserID, "pair", pair.ID, "side", order.Side,
		"amount_in", quote.AmountIn.String(), "expected_out", quote.ExpectedOut.String(), "min_out", quote.MinimumOut.String())

	att.advance()
	approval, err := e.allowance.EnsureAllowance(ctx, inCap, sess.Signer(), sess.Address(), e.router.Address(), quote.AmountIn)
	if err != nil {
		return nil, att.fail(err, errs.NetworkTimeout)
	}

	att.advance()
	receipt, err := e.swap(ctx, sess, quote)
	if err != nil {
		return nil, att.fail(err, errs.NetworkTimeout)
	}
	if receipt.AmountOut == nil {
		return nil, att.fail(errs.New(errs.ReceiptUnreadable, "amm.execute",
			"no output transfer in receipt %s", receipt.TxHash.Hex()), errs.ReceiptUnreadable)
	}
	if receipt.AmountOut.Cmp(quote.MinimumOut) < 0 {
		return nil, att.fail(errs.New(errs.SlippageExceeded, "amm.execute",
			"realized %s below minimum %s", receipt.AmountOut, quote.MinimumOut), errs.SlippageExceeded)
	}

	inValue := units.FromBaseUnits(quote.AmountIn, inToken.Decimals)
	outValue := units.FromBaseUnits(receipt.AmountOut, outToken.Decimals)
	baseAmount, quoteValue, quoteDecimals := outValue, inValue, inToken.Decimals
	if order.Side == models.SideSell {
		baseAmount, quoteValue, quoteDecimals = inValue, outValue, outToken.Decimals
	}
	if !baseAmount.IsPositive() {
		return nil, att.fail(errs.New(errs.ReceiptUnreadable, "amm.execute", "zero base amount settled"), errs.ReceiptUnreadable)
	}
	realized := quoteValue.DivRound(baseAmount, priceScale)

	trade := models.NewTrade(receipt.TxHash.Hex(), sess.UserID, pair.ID, order.Side,
		baseAmount, realized, pair.FeeRate, e.now(), models.StatusCompleted)
	trade.Quantize(quoteValue, pair.FeeRate, quoteDecimals)
	trade.TxHash = receipt.TxHash.Hex()
	trade.IntentID = order.IntentID

	att.settle()
	e.logger.Info("swap settled",
		"user", sess.UserID, "trade_id", trade.ID, "pair", pair.ID, "side", order.Side,
		"amount", trade.Amount.String(), "price", trade.Price.String(), "approval", approval.String(),
		"block", receipt.BlockNumber)
	return trade, nil
}

// pair only consults the price source when the order carries no price of its own.
func (e *Executor) pair(ctx context.Context, order *trading.Order) (models.TradingPair, error) {
	if order.Priced() {
		return e.pairs.Lookup(order.Pair)
	}
	return e.pairs.Pair(ctx, order.Pair)
}

func (e *Executor) quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*Quote, error) {
	amounts, err := e.router.GetAmountsOut(ctx, amountIn, path)
	if err != nil {
		return nil, errs.E(errs.QuoteUnavailable, "amm.quote", err)
	}
	if len(amounts) != len(path) || amounts[len(amounts)-1] == nil || amounts[len(amounts)-1].Sign() <= 0 {
		return nil, errs.New(errs.QuoteUnavailable, "amm.quote", "router quoted no output")
	}
	expected := amounts[len(amounts)-1]
	minOut, err := slippage.MinimumOutput(expected, e.cfg.Tolerance)
	if err != nil {
		return nil, err
	}
	return &Quote{
		AmountIn:    amountIn,
		ExpectedOut: expected,
		MinimumOut:  minOut,
		Path:        path,
		Deadline:    slippage.Deadline(e.now(), e.cfg.DeadlineWindow),
	}, nil
}

func (e *Executor) swap(ctx context.Context, sess *session.Session, q *Quote) (*chain.Receipt, error) {
	confirmCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()

	receipt, err := e.router.SwapExactTokensForTokens(confirmCtx, sess.Signer(),
		q.AmountIn, q.MinimumOut, q.Path, sess.Address(), q.Deadline)
	if err == nil {
		return receipt, nil
	}
	var typed *errs.Error
	if errors.As(err, &typed) {
		return nil, err
	}
	// the swap may still land; the caller must treat the outcome as unknown
	return nil, errs.E(errs.NetworkTimeout, "amm.swap", err)
}
