package models

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/errs"
)

// MarketData 参考价格快照
type MarketData struct {
	Symbol         string          `json:"symbol"` // 交易对, 如 ETH-USDT
	Source         string          `json:"source"` // 数据来源
	Price          decimal.Decimal `json:"price"`
	Volume24h      decimal.Decimal `json:"volume_24h"`
	PriceChange24h decimal.Decimal `json:"price_change_24h"` // 百分比
	Timestamp      time.Time       `json:"timestamp"`
}

// TradingPair 交易对配置
type TradingPair struct {
	ID             string          `json:"id"`    // BASE-QUOTE
	Base           string          `json:"base"`  // 基础币种
	Quote          string          `json:"quote"` // 计价币种
	ReferencePrice decimal.Decimal `json:"reference_price"`
	FeeRate        decimal.Decimal `json:"fee_rate"`
}

// SplitPair splits "ETH-USDT" into its base and quote symbols.
func SplitPair(id string) (base, quote string, err error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(id)), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
		return "", "", errs.New(errs.PairNotFound, "models.split_pair", "malformed pair %q", id)
	}
	return parts[0], parts[1], nil
}

// Balances maps a token symbol to the mirrored holding of one user.
type Balances map[string]decimal.Decimal

func (b Balances) Get(symbol string) decimal.Decimal {
	if v, ok := b[strings.ToUpper(symbol)]; ok {
		return v
	}
	return decimal.Zero
}

func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

func (b Balances) Symbols() []string {
	out := make([]string, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Equal compares balances by value, treating a missing symbol as zero.
func (b Balances) Equal(other Balances) bool {
	for k, v := range b {
		if !other.Get(k).Equal(v) {
			return false
		}
	}
	for k, v := range other {
		if !b.Get(k).Equal(v) {
			return false
		}
	}
	return true
}

// DivergenceReason 账本与链上不一致的原因
type DivergenceReason string

const (
	DivergenceLostSettlement         DivergenceReason = "lost_settlement"
	DivergenceCancelledIntentSettled DivergenceReason = "cancelled_intent_settled"
	DivergenceDuplicateIntentSettled DivergenceReason = "duplicate_intent_settled" // 同一意向被另一进程先行结算
)

// Divergence records a settlement the local ledger could not mirror faithfully.
type Divergence struct {
	ID         int64            `json:"id"`
	UserID     string           `json:"user_id"`
	TradeID    string           `json:"trade_id"`
	Reason     DivergenceReason `json:"reason"`
	Detail     string           `json:"detail"`
	CreatedAt  time.Time        `json:"created_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}

func (d Divergence) Resolved() bool { return d.ResolvedAt != nil }
