package exchange

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SignalAction 信号动作
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
	ActionHold SignalAction = "hold"
)

// ExecutionStatus 成交状态
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusFilled    ExecutionStatus = "filled"
	StatusCancelled ExecutionStatus = "cancelled"
)

// PositionStatus 持仓状态
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// TradingSignal 交易信号（由外部信号源产生，发出后不再修改）
type TradingSignal struct {
	Symbol      string       `json:"symbol"`
	Action      SignalAction `json:"action"`
	Confidence  float64      `json:"confidence"`
	TargetPrice float64      `json:"target_price"`
	StopLoss    float64      `json:"stop_loss"`
	Reasoning   string       `json:"reasoning"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Normalize 统一交易对与动作的大小写，缺省时间戳
func (s TradingSignal) Normalize() TradingSignal {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	s.Action = SignalAction(strings.ToLower(strings.TrimSpace(string(s.Action))))
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	return s
}

// Validate 校验信号字段
func (s TradingSignal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("信号缺少交易对")
	}
	switch s.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Errorf("无效的信号动作: %q", s.Action)
	}
	if s.Confidence < 0 || s.Confidence > 1 || math.IsNaN(s.Confidence) {
		return fmt.Errorf("置信度必须在 [0,1] 之间: %v", s.Confidence)
	}
	return nil
}

// TradeRequest 交易请求，每轮循环临时构造
type TradeRequest struct {
	Symbol string         `json:"symbol"`
	Side   Side           `json:"side"`
	Amount float64        `json:"amount"`
	Price  float64        `json:"price"`
	Signal *TradingSignal `json:"signal,omitempty"`
}

// Notional 名义价值 amount × price
func (r TradeRequest) Notional() float64 {
	return r.Amount * r.Price
}

// TradeExecution 下单结果记录
type TradeExecution struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Amount    float64         `json:"amount"`
	Price     float64         `json:"price"`
	Fee       float64         `json:"fee"`
	Status    ExecutionStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// TradingPosition 持仓
type TradingPosition struct {
	ID            string         `json:"id"`
	Symbol        string         `json:"symbol"`
	Side          Side           `json:"side"`
	Amount        float64        `json:"amount"`
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	Status        PositionStatus `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Refresh 用最新价格重算未实现盈亏
func (p *TradingPosition) Refresh(price float64) {
	if price <= 0 {
		return
	}
	p.CurrentPrice = price
	p.UnrealizedPnL = UnrealizedPnL(p.Side, p.EntryPrice, price, p.Amount)
}

// CostBasis 开仓成本 entry × amount
func (p TradingPosition) CostBasis() float64 {
	return p.EntryPrice * p.Amount
}

// PnLPercent 盈亏百分比（相对开仓成本）
func (p TradingPosition) PnLPercent() float64 {
	cost := p.CostBasis()
	if cost <= 0 {
		return 0
	}
	return p.UnrealizedPnL / cost * 100
}

// UnrealizedPnL buy: (cur-entry)*amt, sell: -(cur-entry)*amt
func UnrealizedPnL(side Side, entry, current, amount float64) float64 {
	pnl := (current - entry) * amount
	if side == SideSell {
		return -pnl
	}
	return pnl
}

// BookLevel 盘口档位
type BookLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// Indicators 简化技术指标
type Indicators struct {
	RSI        float64 `json:"rsi"`
	SMA20      float64 `json:"sma20"`
	EMA12      float64 `json:"ema12"`
	Volatility float64 `json:"volatility"` // 24h 振幅百分比
	Source     string  `json:"source"`     // talib / range
}

// MarketData 行情快照
type MarketData struct {
	Symbol     string      `json:"symbol"`
	Price      float64     `json:"price"`
	Bid        float64     `json:"bid"`
	Ask        float64     `json:"ask"`
	High24h    float64     `json:"high_24h"`
	Low24h     float64     `json:"low_24h"`
	Volume24h  float64     `json:"volume_24h"`
	Change24h  float64     `json:"change_24h"`
	Bids       []BookLevel `json:"bids"`
	Asks       []BookLevel `json:"asks"`
	Indicators Indicators  `json:"indicators"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Balance 币种余额
type Balance struct {
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
}

// Total 可用 + 冻结
func (b Balance) Total() float64 {
	return b.Available + b.Locked
}

// CancelAllResult 批量撤单结果
type CancelAllResult struct {
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

// BaseAsset 交易对的基础币，如 BTC_USDT -> BTC
func BaseAsset(symbol string) string {
	if i := strings.IndexAny(symbol, "_-/"); i > 0 {
		return symbol[:i]
	}
	return symbol
}
