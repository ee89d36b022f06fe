package trading

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/models"
	"github.com/songzhibin97/ammswap/internal/session"
)

// SwapExecutor settles one order on chain and returns the completed trade
type SwapExecutor interface {
	// Execute runs quote, approval and swap for order on behalf of the session user
	Execute(ctx context.Context, sess *session.Session, order *Order) (*models.Trade, error)
}

// TradeExecutor is what the dashboard calls
type TradeExecutor interface {
	// PlaceOrder executes an order and reconciles it into the ledger
	PlaceOrder(ctx context.Context, sess *session.Session, order *Order) (*Result, error)

	// CancelOrder cancels a pending intent
	CancelOrder(ctx context.Context, userID, tradeID string) (*models.Trade, error)

	// GetOrderStatus retrieves a trade record
	GetOrderStatus(ctx context.Context, tradeID string) (*models.Trade, error)

	// GetBalance retrieves the mirrored balance of one token
	GetBalance(ctx context.Context, userID, symbol string) (decimal.Decimal, error)
}

// PriceSource supplies the reference price of a pair
type PriceSource interface {
	ReferencePrice(ctx context.Context, pair string) (decimal.Decimal, error)
}

// Order 订单结构
type Order struct {
	Pair       string          // 交易对, 如 ETH-USDT
	Side       models.Side     // buy 或 sell
	Amount     decimal.Decimal // 基础币数量
	LimitPrice decimal.Decimal // 限价（为0时使用参考价）
	IntentID   string          // 对应的挂单意向ID, 可为空

	ReferencePrice decimal.Decimal // 预检时锁定的参考价, 执行时不再重新获取
}

// Result 成交并对账后的结果
type Result struct {
	Trade    *models.Trade   `json:"trade"`
	Balances models.Balances `json:"balances"` // 对账后的镜像余额
}
