package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeguard/exchange/rest"
	"tradeguard/logger"
)

// PaperVenue 模拟盘：行情取自真实交易所，下单在本地立即成交
// 限价单按限价成交，市价单按盘口买一/卖一成交，手续费以计价币扣除
type PaperVenue struct {
	market  Venue
	quote   string
	feeRate float64
	now     func() time.Time

	mu       sync.Mutex
	balances map[string]Balance
	orders   map[string]*Order
	fills    []Fill
}

// NewPaperVenue 创建模拟盘
func NewPaperVenue(market Venue, quote string, initialQuote, feeRate float64) *PaperVenue {
	return &PaperVenue{
		market:   market,
		quote:    quote,
		feeRate:  feeRate,
		now:      time.Now,
		balances: map[string]Balance{quote: {Available: initialQuote}},
		orders:   make(map[string]*Order),
	}
}

func (p *PaperVenue) GetName() string { return p.market.GetName() + "-paper" }

func (p *PaperVenue) AllowsShort() bool { return true }

func (p *PaperVenue) SyncTime(ctx context.Context) error { return p.market.SyncTime(ctx) }

func (p *PaperVenue) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return p.market.GetTicker(ctx, symbol)
}

func (p *PaperVenue) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	return p.market.GetOrderBook(ctx, symbol, depth)
}

func (p *PaperVenue) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	return p.market.GetCandles(ctx, symbol, interval, limit)
}

func (p *PaperVenue) GetBalances(ctx context.Context) (map[string]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Balance, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

func (p *PaperVenue) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	if req.Amount <= 0 {
		return nil, &rest.BadRequestError{StatusCode: http.StatusBadRequest, Label: "INVALID_PARAM_VALUE", Message: "amount must be positive"}
	}

	price := req.Price
	if req.Type == OrderTypeMarket || price <= 0 {
		t, err := p.market.GetTicker(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		price = t.Last
		if req.Side == SideBuy && t.Ask > 0 {
			price = t.Ask
		} else if req.Side == SideSell && t.Bid > 0 {
			price = t.Bid
		}
	}
	if price <= 0 {
		return nil, &rest.BadRequestError{StatusCode: http.StatusBadRequest, Label: "INVALID_PRICE", Message: "no price available"}
	}

	notional := req.Amount * price
	fee := notional * p.feeRate
	base := BaseAsset(req.Symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	q := p.balances[p.quote]
	b := p.balances[base]
	if req.Side == SideBuy {
		if q.Available < notional+fee {
			return nil, &rest.BadRequestError{
				StatusCode: http.StatusBadRequest,
				Label:      "BALANCE_NOT_ENOUGH",
				Message:    fmt.Sprintf("需要 %.4f %s, 可用 %.4f", notional+fee, p.quote, q.Available),
			}
		}
		q.Available -= notional + fee
		b.Available += req.Amount
	} else {
		q.Available += notional - fee
		b.Available -= req.Amount
	}
	p.balances[p.quote] = q
	p.balances[base] = b

	now := p.now()
	order := &Order{
		OrderID:       uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Amount:        req.Amount,
		Price:         price,
		FilledAmount:  req.Amount,
		AvgPrice:      price,
		Fee:           fee,
		Status:        StatusFilled,
		CreatedAt:     now,
	}
	p.orders[order.OrderID] = order
	p.fills = append(p.fills, Fill{
		ID:      uuid.NewString(),
		OrderID: order.OrderID,
		Symbol:  req.Symbol,
		Side:    req.Side,
		Amount:  req.Amount,
		Price:   price,
		Fee:     fee,
		Time:    now,
	})

	logger.Info("📝 [模拟盘] %s %s %.8f @ %.4f 手续费 %.4f", req.Symbol, req.Side, req.Amount, price, fee)
	copied := *order
	return &copied, nil
}

func (p *PaperVenue) CancelOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	// 模拟盘订单立即成交，已完成的订单不可撤销
	return nil, &rest.BadRequestError{StatusCode: http.StatusBadRequest, Label: "ORDER_CLOSED", Message: "order " + o.OrderID + " already filled"}
}

func (p *PaperVenue) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	copied := *o
	return &copied, nil
}

func (p *PaperVenue) GetOpenOrders(ctx context.Context) ([]*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var open []*Order
	for _, o := range p.orders {
		if o.Status == StatusPending {
			copied := *o
			open = append(open, &copied)
		}
	}
	return open, nil
}

func (p *PaperVenue) GetFills(ctx context.Context, symbol string, since time.Time) ([]Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Fill
	for _, f := range p.fills {
		if f.Symbol == symbol && !f.Time.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}
