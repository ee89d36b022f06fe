package data

import (
	"context"
	"errors"
	"time"

	"github.com/songzhibin97/ammswap/internal/models"
)

// ErrNoMarketData is returned when no snapshot of a pair was stored yet.
var ErrNoMarketData = errors.New("no market data")

// TradeStore 成交与挂单意向的持久化
type TradeStore interface {
	// SaveTrade inserts a trade; saving an existing ID again is a no-op
	SaveTrade(ctx context.Context, trade *models.Trade) error

	// GetTrade retrieves a trade by ID
	GetTrade(ctx context.Context, id string) (*models.Trade, error)

	// ListTrades retrieves a user's trades, newest first
	ListTrades(ctx context.Context, userID string) ([]models.Trade, error)

	// TransitionTrade moves a trade from one status to the next atomically
	TransitionTrade(ctx context.Context, id string, from, next models.TradeStatus) (*models.Trade, error)
}

// BalanceStore 镜像余额的持久化
type BalanceStore interface {
	// LoadBalances returns the mirrored balances of a user, empty when none were saved
	LoadBalances(ctx context.Context, userID string) (models.Balances, error)

	// SaveBalances replaces the mirrored balances of a user
	SaveBalances(ctx context.Context, userID string, balances models.Balances) error
}

// DivergenceStore 账本偏差记录
type DivergenceStore interface {
	RecordDivergence(ctx context.Context, d *models.Divergence) error

	// ListDivergences returns the unresolved divergences of a user
	ListDivergences(ctx context.Context, userID string) ([]models.Divergence, error)

	// ResolveDivergences marks every open divergence of a user resolved
	ResolveDivergences(ctx context.Context, userID string, at time.Time) error
}

// MarketDataStore 参考价格的持久化
type MarketDataStore interface {
	// SaveMarketData stores market data
	SaveMarketData(ctx context.Context, data *models.MarketData) error

	// LatestMarketData retrieves the newest stored snapshot of a pair
	LatestMarketData(ctx context.Context, symbol string) (*models.MarketData, error)
}

// Storage is everything the system persists.
type Storage interface {
	TradeStore
	BalanceStore
	DivergenceStore
	MarketDataStore
}
