package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/errs"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", errs.New(errs.InvalidOrder, "models.parse_side", "unsupported side %q", s)
}

type TradeStatus string

const (
	StatusPending   TradeStatus = "pending"
	StatusCompleted TradeStatus = "completed"
	StatusCancelled TradeStatus = "cancelled"
)

// CanTransition reports whether from -> to is allowed. Completed and cancelled are terminal.
func CanTransition(from, to TradeStatus) bool {
	return from == StatusPending && (to == StatusCompleted || to == StatusCancelled)
}

// Trade 成交/意向记录
type Trade struct {
	ID                  string          `json:"id"` // 链上结算为 tx hash, 未结算意向为 uuid
	UserID              string          `json:"user_id"`
	Pair                string          `json:"pair"`
	Side                Side            `json:"side"`
	Amount              decimal.Decimal `json:"amount"` // 基础币数量
	Price               decimal.Decimal `json:"price"`  // 每单位基础币的计价币价格
	Total               decimal.Decimal `json:"total"`
	Fee                 decimal.Decimal `json:"fee"`
	Timestamp           time.Time       `json:"timestamp"`
	Status              TradeStatus     `json:"status"`
	TxHash              string          `json:"tx_hash,omitempty"`
	IntentID            string          `json:"intent_id,omitempty"`
	NeedsReconciliation bool            `json:"needs_reconciliation"`
}

// NewTrade derives Total and Fee from amount, price and fee rate.
func NewTrade(id, userID, pair string, side Side, amount, price, feeRate decimal.Decimal, ts time.Time, status TradeStatus) *Trade {
	total := amount.Mul(price)
	return &Trade{
		ID:        id,
		UserID:    userID,
		Pair:      pair,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Total:     total,
		Fee:       total.Mul(feeRate),
		Timestamp: ts,
		Status:    status,
	}
}

// Quantize sets Total to the quote amount that actually moved and derives Fee from it,
// both rounded to places (the quote token's decimals).
func (t *Trade) Quantize(total, feeRate decimal.Decimal, places int32) {
	t.Total = total.Round(places)
	t.Fee = t.Total.Mul(feeRate).Round(places)
}

func (t *Trade) Transition(next TradeStatus) error {
	if !CanTransition(t.Status, next) {
		return errs.New(errs.InvalidTransition, "models.transition", "trade %s: %s -> %s", t.ID, t.Status, next)
	}
	t.Status = next
	return nil
}

// Movements returns the signed ledger deltas of a completed trade for its base and quote tokens.
//
//	buy:  base += amount, quote -= total + fee
//	sell: base -= amount, quote += total - fee
func (t *Trade) Movements() (base, quote string, baseDelta, quoteDelta decimal.Decimal, err error) {
	base, quote, err = SplitPair(t.Pair)
	if err != nil {
		return "", "", decimal.Zero, decimal.Zero, err
	}
	switch t.Side {
	case SideBuy:
		return base, quote, t.Amount, t.Total.Add(t.Fee).Neg(), nil
	case SideSell:
		return base, quote, t.Amount.Neg(), t.Total.Sub(t.Fee), nil
	}
	return "", "", decimal.Zero, decimal.Zero, errs.New(errs.InvalidOrder, "models.movements", "unsupported side %q", t.Side)
}
