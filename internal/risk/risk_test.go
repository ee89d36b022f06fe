package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/trading"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func baseParams() RiskParameters {
	// 设置基础风险参数
	return RiskParameters{
		MaxPositionSize: d(10000), // 最大仓位
		MaxLossPerTrade: d(1000),  // 单笔最大亏损
		MaxDailyLoss:    d(3000),  // 每日最大亏损
	}
}

func TestBasicRiskManager_CheckTradeRisk(t *testing.T) {
	tests := []struct {
		name           string
		params         RiskParameters
		order          trading.Order
		price          decimal.Decimal
		wantAcceptable bool
		wantRiskLevel  float64
		wantFactors    int
	}{
		{
			name:           "safe order",
			params:         baseParams(),
			order:          trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: d(1), LimitPrice: d(1000)},
			price:          d(1000),
			wantAcceptable: true,
			wantRiskLevel:  0,
			wantFactors:    0,
		},
		{
			name:           "excessive position size",
			params:         baseParams(),
			order:          trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: d(20), LimitPrice: d(1000)},
			price:          d(1000),
			wantAcceptable: false,
			wantRiskLevel:  0.3,
			wantFactors:    1,
		},
		{
			name:           "market order risk",
			params:         baseParams(),
			order:          trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: d(1)},
			price:          d(1000),
			wantAcceptable: true,
			wantRiskLevel:  0.1,
			wantFactors:    1,
		},
		{
			name:           "multiple risk factors",
			params:         baseParams(),
			order:          trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: d(15)},
			price:          d(1000),
			wantAcceptable: false,
			wantRiskLevel:  0.4, // 0.3 (size) + 0.1 (market)
			wantFactors:    2,
		},
		{
			name:           "potential loss on buy",
			params:         RiskParameters{MaxPositionSize: d(10000), MaxLossPerTrade: d(500), MaxDailyLoss: d(3000)},
			order:          trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: d(6), LimitPrice: d(1000)},
			price:          d(1000),
			wantAcceptable: false,
			wantRiskLevel:  0.25,
			wantFactors:    1,
		},
		{
			name:           "sell is not a potential loss",
			params:         RiskParameters{MaxPositionSize: d(10000), MaxLossPerTrade: d(500), MaxDailyLoss: d(3000)},
			order:          trading.Order{Pair: "ETH-USDT", Side: models.SideSell, Amount: d(6), LimitPrice: d(1000)},
			price:          d(1000),
			wantAcceptable: true,
			wantRiskLevel:  0,
			wantFactors:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := NewBasicRiskManager(tt.params)
			ctx := context.Background()

			assessment, err := rm.CheckTradeRisk(ctx, &tt.order, tt.price)
			require.NoError(t, err)
			require.NotNil(t, assessment)

			assert.Equal(t, tt.wantAcceptable, assessment.IsAcceptable)
			assert.InDelta(t, tt.wantRiskLevel, assessment.RiskLevel, 1e-9)
			assert.Len(t, assessment.RiskFactors, tt.wantFactors)

			if len(assessment.RiskFactors) > 0 {
				t.Logf("Risk Factors: %v", assessment.RiskFactors)
				t.Logf("Recommendations: %v", assessment.Recommendations)
			}
		})
	}
}

func completed(total, fee float64) *models.Trade {
	return &models.Trade{Status: models.StatusCompleted, Total: d(total), Fee: d(fee)}
}

func TestBasicRiskManager_DailyStats(t *testing.T) {
	ctx := context.Background()
	rm := NewBasicRiskManager(baseParams())
	day := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rm.now = func() time.Time { return day }
	rm.statsReset = day

	rm.RecordTrade(ctx, completed(45000, 10))
	rm.RecordTrade(ctx, &models.Trade{Status: models.StatusPending, Total: d(99999)})

	order := &trading.Order{Pair: "ETH-USDT", Side: models.SideSell, Amount: d(6), LimitPrice: d(1000)}
	assessment, err := rm.CheckTradeRisk(ctx, order, d(1000))
	require.NoError(t, err)
	assert.False(t, assessment.IsAcceptable)
	assert.Contains(t, assessment.RiskFactors, "Daily trading volume would exceed safe limits")

	// 跨天后统计清零
	rm.now = func() time.Time { return day.Add(24 * time.Hour) }
	assessment, err = rm.CheckTradeRisk(ctx, order, d(1000))
	require.NoError(t, err)
	assert.True(t, assessment.IsAcceptable)
}

func TestBasicRiskManager_TradeFrequency(t *testing.T) {
	tests := []struct {
		name      string
		recorded  int
		wantLevel float64
	}{
		{name: "below limit", recorded: 1, wantLevel: 0},
		{name: "at limit", recorded: 2, wantLevel: 0.15},
		{name: "over limit", recorded: 3, wantLevel: 0.15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			params := baseParams()
			params.MaxTradesPerDay = 2
			rm := NewBasicRiskManager(params)

			for i := 0; i < tt.recorded; i++ {
				rm.RecordTrade(ctx, completed(10, 0.03))
			}
			assessment, err := rm.CheckTradeRisk(ctx,
				&trading.Order{Pair: "ETH-USDT", Side: models.SideBuy, Amount: d(1), LimitPrice: d(10)}, d(10))
			require.NoError(t, err)
			assert.True(t, assessment.IsAcceptable)
			assert.InDelta(t, tt.wantLevel, assessment.RiskLevel, 1e-9)
		})
	}
}

func TestBasicRiskManager_CheckTradeRiskRejectsBadInput(t *testing.T) {
	rm := NewBasicRiskManager(baseParams())
	_, err := rm.CheckTradeRisk(context.Background(), &trading.Order{Amount: d(1)}, decimal.Zero)
	assert.True(t, errs.Is(err, errs.InvalidOrder))
}

func TestBasicRiskManager_SetRiskParameters(t *testing.T) {
	rm := NewBasicRiskManager(RiskParameters{})
	ctx := context.Background()

	tests := []struct {
		name    string
		params  RiskParameters
		wantErr bool
	}{
		{
			name:    "valid parameters",
			params:  baseParams(),
			wantErr: false,
		},
		{
			name: "invalid position size",
			params: RiskParameters{
				MaxPositionSize: d(-1000),
				MaxLossPerTrade: d(1000),
				MaxDailyLoss:    d(3000),
			},
			wantErr: true,
		},
		{
			name:    "zero values",
			params:  RiskParameters{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rm.SetRiskParameters(ctx, &tt.params)
			if tt.wantErr {
				assert.True(t, errs.Is(err, errs.InvalidConfiguration))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRiskParameters_Enabled(t *testing.T) {
	assert.False(t, RiskParameters{}.Enabled())
	assert.True(t, baseParams().Enabled())
}
