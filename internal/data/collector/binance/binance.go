package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/utils/request"
)

// exchange tickers for wrapped or bridged tokens
var symbolAliases = map[string]string{
	"WBTC": "BTC",
	"WETH": "ETH",
}

// Symbol converts a pair such as "WBTC-USDT" to the exchange symbol "BTCUSDT".
func Symbol(pair string) (string, error) {
	base, quote, err := models.SplitPair(pair)
	if err != nil {
		return "", err
	}
	if alias, ok := symbolAliases[base]; ok {
		base = alias
	}
	if alias, ok := symbolAliases[quote]; ok {
		quote = alias
	}
	return base + quote, nil
}

type BinanceDataSource struct {
	baseURL    string
	httpClient *resty.Client
}

func NewBinanceDataSource() *BinanceDataSource {
	return &BinanceDataSource{
		baseURL:    "https://api.binance.com",
		httpClient: request.Request,
	}
}

func (b *BinanceDataSource) Name() string {
	return "binance"
}

func (b *BinanceDataSource) CollectMarketData(ctx context.Context, pair string) (*models.MarketData, error) {
	symbol, err := Symbol(pair)
	if err != nil {
		return nil, err
	}

	// Use 24hr ticker price change statistics endpoint
	url := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", strings.TrimRight(b.baseURL, "/"), symbol)

	resp, err := b.httpClient.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	var ticker struct {
		LastPrice          string `json:"lastPrice"`
		Volume             string `json:"volume"`
		PriceChangePercent string `json:"priceChangePercent"`
	}

	if err := json.Unmarshal(resp.Body(), &ticker); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	price, err := decimal.NewFromString(ticker.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}

	volume, err := decimal.NewFromString(ticker.Volume)
	if err != nil {
		return nil, fmt.Errorf("failed to parse volume: %w", err)
	}

	priceChange, err := decimal.NewFromString(ticker.PriceChangePercent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price change: %w", err)
	}

	return &models.MarketData{
		Symbol:         strings.ToUpper(pair),
		Source:         b.Name(),
		Price:          price,
		Volume24h:      volume,
		PriceChange24h: priceChange,
		Timestamp:      time.Now(),
	}, nil
}
