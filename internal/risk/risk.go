package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/trading"
)

const defaultMaxTradesPerDay = 100

// share of the order value assumed at risk on a buy
var lossFraction = decimal.NewFromFloat(0.1)

type BasicRiskManager struct {
	params     RiskParameters
	paramsMu   sync.RWMutex
	dailyStats struct {
		totalLoss     decimal.Decimal
		tradingVolume decimal.Decimal
		tradeCount    int
	}
	statsReset time.Time
	now        func() time.Time
}

var _ RiskManager = (*BasicRiskManager)(nil)

func NewBasicRiskManager(initialParams RiskParameters) *BasicRiskManager {
	if initialParams.MaxTradesPerDay <= 0 {
		initialParams.MaxTradesPerDay = defaultMaxTradesPerDay
	}
	return &BasicRiskManager{
		params:     initialParams,
		statsReset: time.Now(),
		now:        time.Now,
	}
}

// resetIfNewDay clears the daily statistics once the calendar day changes. Caller holds paramsMu.
func (rm *BasicRiskManager) resetIfNewDay() {
	now := rm.now()
	y1, m1, d1 := rm.statsReset.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return
	}
	rm.dailyStats.totalLoss = decimal.Zero
	rm.dailyStats.tradingVolume = decimal.Zero
	rm.dailyStats.tradeCount = 0
	rm.statsReset = now
}

func (rm *BasicRiskManager) CheckTradeRisk(ctx context.Context, order *trading.Order, price decimal.Decimal) (*RiskAssessment, error) {
	if order == nil || !price.IsPositive() {
		return nil, errs.New(errs.InvalidOrder, "risk.check", "order and positive price required")
	}

	rm.paramsMu.Lock()
	rm.resetIfNewDay()
	params := rm.params
	stats := rm.dailyStats
	rm.paramsMu.Unlock()

	assessment := &RiskAssessment{
		IsAcceptable:    true,
		RiskLevel:       0,
		RiskFactors:     make([]string, 0),
		Recommendations: make([]string, 0),
	}

	// 计算订单总值
	orderValue := order.Amount.Mul(price)
	potentialLoss := orderValue.Mul(lossFraction)

	// 检查仓位大小 - 这是最主要的风险检查
	if orderValue.GreaterThan(params.MaxPositionSize) {
		assessment.IsAcceptable = false
		assessment.RiskLevel += 0.3
		assessment.RiskFactors = append(assessment.RiskFactors,
			"Position size exceeds maximum allowed")
		assessment.Recommendations = append(assessment.Recommendations,
			fmt.Sprintf("Reduce position size below %s", params.MaxPositionSize.StringFixed(2)))
	} else if order.Side == models.SideBuy && potentialLoss.GreaterThan(params.MaxLossPerTrade) {
		// 只有在仓位没有超过限制的情况下，才检查潜在亏损
		assessment.IsAcceptable = false
		assessment.RiskLevel += 0.25
		assessment.RiskFactors = append(assessment.RiskFactors,
			"Potential loss exceeds maximum allowed per trade")
		assessment.Recommendations = append(assessment.Recommendations,
			fmt.Sprintf("Reduce position size to limit potential loss below %s", params.MaxLossPerTrade.StringFixed(2)))
	}

	// 检查当日总亏损限制
	if stats.totalLoss.Add(potentialLoss).GreaterThan(params.MaxDailyLoss) {
		assessment.IsAcceptable = false
		assessment.RiskLevel += 0.25
		assessment.RiskFactors = append(assessment.RiskFactors,
			"Trade could exceed maximum daily loss limit")
		assessment.Recommendations = append(assessment.Recommendations,
			"Wait for daily loss limit to reset or reduce position size")
	}

	// 检查市价单风险
	if order.LimitPrice.IsZero() {
		assessment.RiskLevel += 0.1
		assessment.RiskFactors = append(assessment.RiskFactors,
			"Market order may result in slippage")
		assessment.Recommendations = append(assessment.Recommendations,
			"Consider setting a limit price for better price control")
	}

	// 检查交易量限制
	if stats.tradingVolume.Add(orderValue).GreaterThan(params.MaxPositionSize.Mul(decimal.NewFromInt(5))) {
		assessment.IsAcceptable = false
		assessment.RiskLevel += 0.2
		assessment.RiskFactors = append(assessment.RiskFactors,
			"Daily trading volume would exceed safe limits")
		assessment.Recommendations = append(assessment.Recommendations,
			"Reduce trading volume or wait for daily reset")
	}

	// 检查交易频率, 已达上限即提示
	if stats.tradeCount >= params.MaxTradesPerDay {
		assessment.RiskLevel += 0.15
		assessment.RiskFactors = append(assessment.RiskFactors,
			"High trading frequency detected")
		assessment.Recommendations = append(assessment.Recommendations,
			"Consider reducing trading frequency")
	}

	return assessment, nil
}

// RecordTrade counts a settled trade. Fees are the realized loss of a swap.
func (rm *BasicRiskManager) RecordTrade(ctx context.Context, trade *models.Trade) {
	if trade == nil || trade.Status != models.StatusCompleted {
		return
	}
	rm.paramsMu.Lock()
	defer rm.paramsMu.Unlock()

	rm.resetIfNewDay()
	rm.dailyStats.tradingVolume = rm.dailyStats.tradingVolume.Add(trade.Total)
	rm.dailyStats.totalLoss = rm.dailyStats.totalLoss.Add(trade.Fee)
	rm.dailyStats.tradeCount++
}

func (rm *BasicRiskManager) SetRiskParameters(ctx context.Context, params *RiskParameters) error {
	if !params.MaxPositionSize.IsPositive() || !params.MaxLossPerTrade.IsPositive() ||
		!params.MaxDailyLoss.IsPositive() || params.MaxTradesPerDay < 0 {
		return errs.New(errs.InvalidConfiguration, "risk.set_parameters", "invalid risk parameters: all limits must be positive")
	}

	p := *params
	if p.MaxTradesPerDay == 0 {
		p.MaxTradesPerDay = defaultMaxTradesPerDay
	}

	rm.paramsMu.Lock()
	rm.params = p
	rm.paramsMu.Unlock()

	return nil
}
