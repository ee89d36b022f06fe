// Package binancesdk reads reference prices through the official Binance Go client.
package binancesdk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	binancerest "github.com/songzhibin97/ammswap/internal/data/collector/binance"
	"github.com/songzhibin97/ammswap/internal/models"
)

// PriceSource implements collector.DataSource with the ticker price endpoint
type PriceSource struct {
	client *binance.Client
}

// NewPriceSource creates a PriceSource. Keys may be empty: prices are public.
func NewPriceSource(apiKey, secretKey string, debug ...bool) *PriceSource {
	debug = append(debug, false)
	if debug[0] {
		binance.UseTestnet = true
	}

	return &PriceSource{client: binance.NewClient(apiKey, secretKey)}
}

func (p *PriceSource) Name() string {
	return "binance-sdk"
}

func (p *PriceSource) CollectMarketData(ctx context.Context, pair string) (*models.MarketData, error) {
	symbol, err := binancerest.Symbol(pair)
	if err != nil {
		return nil, err
	}

	prices, err := p.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}

	for _, price := range prices {
		if price == nil || price.Symbol != symbol {
			continue
		}
		value, err := decimal.NewFromString(price.Price)
		if err != nil {
			return nil, fmt.Errorf("failed to parse price: %w", err)
		}
		return &models.MarketData{
			Symbol:    strings.ToUpper(pair),
			Source:    p.Name(),
			Price:     value,
			Timestamp: time.Now(),
		}, nil
	}

	return nil, fmt.Errorf("price not found for symbol: %s", symbol)
}
