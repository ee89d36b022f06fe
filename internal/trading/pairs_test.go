package trading

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/units"
)

type fixedPrice struct {
	price decimal.Decimal
	err   error
}

func (f fixedPrice) ReferencePrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	return f.price, f.err
}

func testTokens(t *testing.T) *units.Registry {
	reg, err := units.NewRegistry([]units.Token{
		{Symbol: "ETH", Address: common.HexToAddress("0x01"), Decimals: 18},
		{Symbol: "USDT", Address: common.HexToAddress("0x02"), Decimals: 6},
	})
	require.NoError(t, err)
	return reg
}

func ethUSDT() models.TradingPair {
	return models.TradingPair{ID: "eth-usdt", ReferencePrice: decimal.NewFromInt(2450), FeeRate: decimal.RequireFromString("0.003")}
}

func TestPairRegistry(t *testing.T) {
	tests := []struct {
		name      string
		prices    PriceSource
		wantPrice string
	}{
		{name: "no source", wantPrice: "2450"},
		{name: "live price", prices: fixedPrice{price: decimal.NewFromInt(2500)}, wantPrice: "2500"},
		{name: "source down", prices: fixedPrice{err: errors.New("503")}, wantPrice: "2450"},
		{name: "source zero", prices: fixedPrice{price: decimal.Zero}, wantPrice: "2450"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewPairRegistry([]models.TradingPair{ethUSDT()}, testTokens(t), tt.prices, nil)
			require.NoError(t, err)

			p, err := reg.Pair(context.Background(), "ETH-USDT")
			require.NoError(t, err)
			assert.Equal(t, "ETH", p.Base)
			assert.Equal(t, "USDT", p.Quote)
			assert.True(t, p.ReferencePrice.Equal(decimal.RequireFromString(tt.wantPrice)))
		})
	}
}

func TestPairRegistryErrors(t *testing.T) {
	reg, err := NewPairRegistry([]models.TradingPair{ethUSDT()}, testTokens(t), nil, nil)
	require.NoError(t, err)
	_, err = reg.Pair(context.Background(), "WBTC-USDT")
	assert.True(t, errs.Is(err, errs.PairNotFound))
	assert.Equal(t, []string{"ETH-USDT"}, reg.IDs())

	bad := []models.TradingPair{
		{ID: "ETH-DAI"},
		{ID: "ETH"},
		{ID: "ETH-USDT", FeeRate: decimal.NewFromInt(1)},
	}
	for _, p := range bad {
		_, err := NewPairRegistry([]models.TradingPair{p}, testTokens(t), nil, nil)
		assert.True(t, errs.Is(err, errs.InvalidConfiguration), p.ID)
	}
	_, err = NewPairRegistry([]models.TradingPair{ethUSDT(), ethUSDT()}, testTokens(t), nil, nil)
	assert.True(t, errs.Is(err, errs.InvalidConfiguration))
}
