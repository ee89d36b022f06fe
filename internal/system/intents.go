package system

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/session"
	"github.com/songzhibin97/ammswap/internal/trading"
)

// SubmitIntent stores a pending order at its nominal price. Nothing is sent to the chain.
func (s *System) SubmitIntent(ctx context.Context, sess *session.Session, order *trading.Order) (*models.Trade, error) {
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
	price, err := trading.NominalPrice(order, pair)
	if err != nil {
		return nil, err
	}

	intent := models.NewTrade(uuid.NewString(), sess.UserID, pair.ID, order.Side, order.Amount, price,
		pair.FeeRate, s.now(), models.StatusPending)
	if err := s.trades.SaveTrade(ctx, intent); err != nil {
		return nil, err
	}
	s.logger.Info("intent submitted", "user", sess.UserID, "intent", intent.ID, "pair", pair.ID, "side", order.Side)
	return intent, nil
}

// ExecuteIntent settles a pending intent at the price it was submitted with.
//
// The settlement is stored as its own completed trade (ID = tx hash) linked by IntentID. When the
// intent was cancelled while the swap was in flight, the cancelled record is left as is, the
// settlement is still mirrored and flagged, and IntentCancelled is returned with the result.
func (s *System) ExecuteIntent(ctx context.Context, sess *session.Session, intentID string) (*trading.Result, error) {
	const op = "system.execute_intent"
	if err := session.Require(sess); err != nil {
		return nil, err
	}
	if _, busy := s.inflight.LoadOrStore(intentID, struct{}{}); busy {
		return nil, errs.New(errs.InvalidTransition, op, "intent %s is already executing", intentID)
	}
	defer s.inflight.Delete(intentID)

	// 持有执行锁后再读取状态, 之前的执行者可能刚刚完成
	intent, err := s.ownTrade(ctx, sess.UserID, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != models.StatusPending {
		return nil, errs.New(errs.InvalidTransition, op, "intent %s is %s", intentID, intent.Status)
	}

	order := &trading.Order{
		Pair:       intent.Pair,
		Side:       intent.Side,
		Amount:     intent.Amount,
		LimitPrice: intent.Price,
		IntentID:   intent.ID,
	}
	snapshot, err := s.prepare(ctx, sess, order)
	if err != nil {
		return nil, err
	}

	trade, err := s.executor.Execute(ctx, sess, order)
	if err != nil {
		s.logger.Error("intent swap failed",
			"user", sess.UserID,
			"intent", intentID,
			"kind", errs.KindOf(err),
			"stage", errs.StageOf(err),
			"err", err)
		return nil, err
	}

	_, terr := s.trades.TransitionTrade(ctx, intentID, models.StatusPending, models.StatusCompleted)
	if terr == nil {
		return s.settle(ctx, sess.UserID, snapshot, trade)
	}
	if !errs.Is(terr, errs.InvalidTransition) {
		s.logger.Error("Failed to complete intent", "intent", intentID, "err", terr)
		result, err := s.settle(ctx, sess.UserID, snapshot, trade)
		return result, errors.Join(terr, err)
	}

	// 资金已在链上结算, 意向却不再是 pending
	current, err := s.trades.GetTrade(ctx, intentID)
	if err != nil {
		s.logger.Error("Failed to reload intent", "intent", intentID, "err", err)
		result, serr := s.settle(ctx, sess.UserID, snapshot, trade)
		return result, errors.Join(terr, err, serr)
	}

	trade.NeedsReconciliation = true
	result, err := s.settle(ctx, sess.UserID, snapshot, trade)
	if err != nil {
		s.logger.Error("late intent settlement not stored cleanly", "intent", intentID, "status", current.Status, "err", err)
	}
	if current.Status == models.StatusCancelled {
		s.ledger.RecordDivergence(ctx, sess.UserID, trade.ID, models.DivergenceCancelledIntentSettled,
			"intent "+intentID+" was cancelled while its swap was in flight")
		return result, errs.New(errs.IntentCancelled, op, "intent %s was cancelled but settled as %s", intentID, trade.ID)
	}
	s.ledger.RecordDivergence(ctx, sess.UserID, trade.ID, models.DivergenceDuplicateIntentSettled,
		"intent "+intentID+" was already "+string(current.Status)+" when its swap settled")
	return result, errs.New(errs.InvalidTransition, op, "intent %s was already %s, extra settlement %s", intentID, current.Status, trade.ID)
}
