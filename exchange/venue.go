package exchange

import (
	"context"
	"time"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// TimeInForce 订单有效方式
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
)

// OrderRequest 交易所下单请求，数量均为基础币数量
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Amount        float64
	Price         float64 // 市价单为 0
	ClientOrderID string
}

// Order 交易所订单
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Amount        float64
	Price         float64
	FilledAmount  float64
	AvgPrice      float64
	Fee           float64
	Status        ExecutionStatus
	CreatedAt     time.Time
}

// Ticker 行情
type Ticker struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	High24h   float64
	Low24h    float64
	Volume24h float64
	Change24h float64
}

// OrderBook 盘口
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// Candle K线
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Fill 成交明细
type Fill struct {
	ID      string
	OrderID string
	Symbol  string
	Side    Side
	Amount  float64
	Price   float64
	Fee     float64
	Time    time.Time
}

// Venue 交易所接口，网关只依赖此接口
type Venue interface {
	GetName() string
	// SyncTime 同步服务器时间（签名时间戳修正）
	SyncTime(ctx context.Context) error

	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	GetBalances(ctx context.Context) (map[string]Balance, error)
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (*Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)
	GetOpenOrders(ctx context.Context) ([]*Order, error)
	// GetFills 返回 since 之后的成交，按时间升序
	GetFills(ctx context.Context, symbol string, since time.Time) ([]Fill, error)

	// AllowsShort 是否允许卖出超过持有数量（现货实盘为 false）
	AllowsShort() bool
}
