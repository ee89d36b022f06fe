package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/data"
	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/observability"
)

// MultiSourceCollector supplies reference prices by trying each source in order
type MultiSourceCollector struct {
	sources []DataSource
	logger  Logger
	store   data.MarketDataStore
	maxAge  time.Duration
	metrics *observability.Metrics
}

type Logger interface {
	Error(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
}

type DataSource interface {
	Name() string
	CollectMarketData(ctx context.Context, pair string) (*models.MarketData, error)
}

// Option configures a MultiSourceCollector
type Option func(*MultiSourceCollector)

// WithStore persists every collected snapshot and serves the newest stored one, if younger
// than maxAge, when all live sources fail
func WithStore(store data.MarketDataStore, maxAge time.Duration) Option {
	return func(c *MultiSourceCollector) {
		c.store = store
		c.maxAge = maxAge
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *MultiSourceCollector) {
		c.metrics = metrics
	}
}

func NewMultiSourceCollector(sources []DataSource, logger Logger, opts ...Option) *MultiSourceCollector {
	c := &MultiSourceCollector{
		sources: sources,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CollectMarketData returns the first successful snapshot
func (c *MultiSourceCollector) CollectMarketData(ctx context.Context, pair string) (*models.MarketData, error) {
	for _, source := range c.sources {
		result, err := source.CollectMarketData(ctx, pair)
		if err == nil && result != nil && result.Price.IsPositive() {
			c.metrics.RecordPriceFetch(source.Name(), nil)
			c.logger.Info("collected market data", "source", source.Name(), "symbol", pair, "price", result.Price.String())
			c.save(ctx, result)
			return result, nil
		}
		if err == nil {
			err = errors.New("no usable price")
		}
		c.metrics.RecordPriceFetch(source.Name(), err)
		c.logger.Error("failed to collect market data", "source", source.Name(), "symbol", pair, "error", err)
	}

	if cached, ok := c.cached(ctx, pair); ok {
		return cached, nil
	}

	return nil, fmt.Errorf("failed to collect market data from all sources")
}

// ReferencePrice implements trading.PriceSource
func (c *MultiSourceCollector) ReferencePrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	md, err := c.CollectMarketData(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	return md.Price, nil
}

func (c *MultiSourceCollector) save(ctx context.Context, md *models.MarketData) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveMarketData(ctx, md); err != nil {
		c.logger.Error("failed to save market data", "symbol", md.Symbol, "error", err)
	}
}

func (c *MultiSourceCollector) cached(ctx context.Context, pair string) (*models.MarketData, bool) {
	if c.store == nil {
		return nil, false
	}
	md, err := c.store.LatestMarketData(ctx, pair)
	if err != nil {
		if !errors.Is(err, data.ErrNoMarketData) {
			c.logger.Error("failed to load stored market data", "symbol", pair, "error", err)
		}
		return nil, false
	}
	if c.maxAge > 0 && time.Since(md.Timestamp) > c.maxAge {
		return nil, false
	}
	c.logger.Info("using stored market data", "symbol", pair, "source", md.Source, "timestamp", md.Timestamp)
	return md, true
}
