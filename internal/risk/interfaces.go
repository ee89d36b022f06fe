package risk

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/trading"
)

// RiskManager defines methods for risk management
type RiskManager interface {
	// CheckTradeRisk evaluates the risk of a potential trade at the given nominal price
	CheckTradeRisk(ctx context.Context, order *trading.Order, price decimal.Decimal) (*RiskAssessment, error)

	// SetRiskParameters sets risk management parameters
	SetRiskParameters(ctx context.Context, params *RiskParameters) error

	// RecordTrade adds a settled trade to the daily statistics
	RecordTrade(ctx context.Context, trade *models.Trade)
}

// RiskParameters 风险参数配置 (计价币单位)
type RiskParameters struct {
	MaxPositionSize decimal.Decimal `json:"max_position_size" yaml:"max_position_size"`   // 单笔最大成交额
	MaxLossPerTrade decimal.Decimal `json:"max_loss_per_trade" yaml:"max_loss_per_trade"` // 单笔最大潜在亏损
	MaxDailyLoss    decimal.Decimal `json:"max_daily_loss" yaml:"max_daily_loss"`         // 每日最大亏损
	MaxTradesPerDay int             `json:"max_trades_per_day" yaml:"max_trades_per_day"` // 超过后提示交易过于频繁
}

// Enabled reports whether any limit is configured.
func (p RiskParameters) Enabled() bool {
	return p.MaxPositionSize.IsPositive() || p.MaxLossPerTrade.IsPositive() || p.MaxDailyLoss.IsPositive()
}

// RiskAssessment 风险评估结果
type RiskAssessment struct {
	IsAcceptable    bool     `json:"is_acceptable"`
	RiskLevel       float64  `json:"risk_level"`
	RiskFactors     []string `json:"risk_factors"`
	Recommendations []string `json:"recommendations"`
}
