// Package system wires the swap executor, the ledger and the stores into the
// operations the dashboard calls.
package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/chain"
	"github.com/songzhibin97/ammswap/internal/data"
	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/ledger"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/risk"
	"github.com/songzhibin97/ammswap/internal/session"
	"github.com/songzhibin97/ammswap/internal/trading"
	"github.com/songzhibin97/ammswap/internal/units"
)

type System struct {
	executor    trading.SwapExecutor
	pairs       *trading.PairRegistry
	registry    *units.Registry
	tokens      chain.TokenSource
	ledger      *ledger.Reconciler
	trades      data.TradeStore
	riskManager risk.RiskManager // 可为空, 为空时不做风控检查
	logger      *slog.Logger

	inflight sync.Map // intent ID -> struct{}
	now      func() time.Time
}

var _ trading.TradeExecutor = (*System)(nil)

func NewSystem(
	executor trading.SwapExecutor,
	pairs *trading.PairRegistry,
	registry *units.Registry,
	tokens chain.TokenSource,
	reconciler *ledger.Reconciler,
	trades data.TradeStore,
	riskMgr risk.RiskManager,
	logger *slog.Logger,
) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{
		executor:    executor,
		pairs:       pairs,
		registry:    registry,
		tokens:      tokens,
		ledger:      reconciler,
		trades:      trades,
		riskManager: riskMgr,
		logger:      logger,
		now:         time.Now,
	}
}

// PlaceOrder checks, executes and reconciles one order. When the chain settled but the ledger
// could not mirror it, the result is returned together with the reconciliation error.
func (s *System) PlaceOrder(ctx context.Context, sess *session.Session, order *trading.Order) (*trading.Result, error) {
	snapshot, err := s.prepare(ctx, sess, order)
	if err != nil {
		return nil, err
	}

	trade, err := s.executor.Execute(ctx, sess, order)
	if err != nil {
		s.logger.Error("swap failed",
			"user", sess.UserID,
			"pair", order.Pair,
			"kind", errs.KindOf(err),
			"stage", errs.StageOf(err),
			"err", err)
		return nil, err
	}
	return s.settle(ctx, sess.UserID, snapshot, trade)
}

// prepare runs every local check and returns the pre-submission snapshot. Nothing here touches the chain.
// A market order leaves with its reference price pinned, so the swap is sized from the checked price.
func (s *System) prepare(ctx context.Context, sess *session.Session, order *trading.Order) (models.Balances, error) {
	const op = "system.prepare"
	if err := session.Require(sess); err != nil {
		return nil, err
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	pair, err := s.pairs.Pair(ctx, order.Pair)
	if err != nil {
		return nil, err
	}
	order.ReferencePrice = decimal.Zero
	price, err := trading.NominalPrice(order, pair)
	if err != nil {
		return nil, err
	}
	// 执行阶段按同一价格计算 amountIn
	if !order.LimitPrice.IsPositive() {
		order.ReferencePrice = price
	}

	snapshot, err := s.ledger.Snapshot(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	// 预估扣款必须被当前镜像余额覆盖
	estimate := models.NewTrade("", sess.UserID, pair.ID, order.Side, order.Amount, price, pair.FeeRate, s.now(), models.StatusCompleted)
	base, quote, baseDelta, quoteDelta, err := estimate.Movements()
	if err != nil {
		return nil, err
	}
	for symbol, delta := range map[string]decimal.Decimal{base: baseDelta, quote: quoteDelta} {
		if delta.IsNegative() && snapshot.Get(symbol).LessThan(delta.Neg()) {
			return nil, errs.New(errs.InsufficientBalance, op, "%s balance %s cannot cover estimated debit %s",
				symbol, snapshot.Get(symbol), delta.Neg())
		}
	}

	if s.riskManager != nil {
		assessment, err := s.riskManager.CheckTradeRisk(ctx, order, price)
		if err != nil {
			return nil, fmt.Errorf("failed to check trade risk: %w", err)
		}
		if !assessment.IsAcceptable {
			s.logger.Warn("order rejected by risk check",
				"user", sess.UserID,
				"pair", pair.ID,
				"risk_level", assessment.RiskLevel,
				"factors", assessment.RiskFactors)
			return nil, errs.New(errs.RiskRejected, op, "%s", strings.Join(assessment.RiskFactors, "; "))
		}
	}
	return snapshot, nil
}

// settle mirrors a completed trade, persists it and updates the risk statistics.
func (s *System) settle(ctx context.Context, userID string, snapshot models.Balances, trade *models.Trade) (*trading.Result, error) {
	balances, applyErr := s.ledger.Apply(ctx, userID, snapshot, trade)
	if applyErr != nil {
		trade.NeedsReconciliation = true
		s.logger.Error("settled trade not mirrored",
			"user", userID,
			"trade", trade.ID,
			"kind", errs.KindOf(applyErr),
			"err", applyErr)
		if current, err := s.ledger.Snapshot(ctx, userID); err == nil {
			balances = current
		}
	}

	result := &trading.Result{Trade: trade, Balances: balances}
	if err := s.trades.SaveTrade(ctx, trade); err != nil {
		s.logger.Error("Failed to save settled trade", "trade", trade.ID, "err", err)
		return result, fmt.Errorf("failed to save trade %s: %w", trade.ID, err)
	}
	if s.riskManager != nil {
		s.riskManager.RecordTrade(ctx, trade)
	}
	return result, applyErr
}

// CancelOrder cancels a pending intent of the user. It never touches a transaction already submitted.
func (s *System) CancelOrder(ctx context.Context, userID, tradeID string) (*models.Trade, error) {
	if _, err := s.ownTrade(ctx, userID, tradeID); err != nil {
		return nil, err
	}
	trade, err := s.trades.TransitionTrade(ctx, tradeID, models.StatusPending, models.StatusCancelled)
	if err != nil {
		return nil, err
	}
	s.logger.Info("intent cancelled", "user", userID, "trade", tradeID)
	return trade, nil
}

func (s *System) GetOrderStatus(ctx context.Context, tradeID string) (*models.Trade, error) {
	return s.trades.GetTrade(ctx, tradeID)
}

func (s *System) ListTrades(ctx context.Context, userID string) ([]models.Trade, error) {
	return s.trades.ListTrades(ctx, userID)
}

func (s *System) Balances(ctx context.Context, userID string) (models.Balances, error) {
	return s.ledger.Snapshot(ctx, userID)
}

func (s *System) GetBalance(ctx context.Context, userID, symbol string) (decimal.Decimal, error) {
	token, err := s.registry.Lookup(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	balances, err := s.ledger.Snapshot(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return balances.Get(token.Symbol), nil
}

func (s *System) Divergences(ctx context.Context, userID string) ([]models.Divergence, error) {
	return s.ledger.Divergences(ctx, userID)
}

// ResyncFromChain rebuilds the user's mirror from balanceOf of every configured token.
func (s *System) ResyncFromChain(ctx context.Context, sess *session.Session) (models.Balances, error) {
	const op = "system.resync"
	if err := session.Require(sess); err != nil {
		return nil, err
	}

	balances := make(models.Balances)
	for _, symbol := range s.registry.Symbols() {
		token, err := s.registry.Lookup(symbol)
		if err != nil {
			return nil, err
		}
		contract := s.tokens.Token(token.Address)
		if contract == nil {
			return nil, errs.New(errs.UnknownToken, op, "no contract for %s", symbol)
		}
		raw, err := contract.BalanceOf(ctx, sess.Address())
		if err != nil {
			var typed *errs.Error
			if errors.As(err, &typed) {
				return nil, err
			}
			return nil, errs.E(errs.NetworkTimeout, op, fmt.Errorf("failed to read %s balance: %w", symbol, err))
		}
		balances[token.Symbol] = units.FromBaseUnits(raw, token.Decimals)
	}
	return s.ledger.Resync(ctx, sess.UserID, balances)
}

func (s *System) ownTrade(ctx context.Context, userID, tradeID string) (*models.Trade, error) {
	trade, err := s.trades.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.UserID != userID {
		return nil, errs.New(errs.TradeNotFound, "system.trade", "no trade %s for user %s", tradeID, userID)
	}
	return trade, nil
}
