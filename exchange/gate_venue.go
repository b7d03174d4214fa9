package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradeguard/exchange/gate"
)

const amountPlaces = 8

// gateVenue Gate.io 现货适配器
type gateVenue struct {
	client *gate.Client
}

// NewGateVenue 基于 Gate 客户端创建 Venue
func NewGateVenue(client *gate.Client) Venue {
	return &gateVenue{client: client}
}

func (v *gateVenue) GetName() string { return "gate" }

func (v *gateVenue) AllowsShort() bool { return false }

func (v *gateVenue) SyncTime(ctx context.Context) error {
	return v.client.SyncTime(ctx)
}

func (v *gateVenue) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	t, err := v.client.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &Ticker{
		Symbol:    symbol,
		Last:      t.Last,
		Bid:       t.HighestBid,
		Ask:       t.LowestAsk,
		High24h:   t.High24h,
		Low24h:    t.Low24h,
		Volume24h: t.BaseVolume,
		Change24h: t.ChangePct,
	}, nil
}

func (v *gateVenue) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	b, err := v.client.GetOrderBook(ctx, symbol, depth)
	if err != nil {
		return nil, err
	}
	return &OrderBook{Bids: convertLevels(b.Bids), Asks: convertLevels(b.Asks)}, nil
}

func convertLevels(levels []gate.Level) []BookLevel {
	out := make([]BookLevel, len(levels))
	for i, l := range levels {
		out[i] = BookLevel{Price: l.Price, Amount: l.Amount}
	}
	return out
}

func (v *gateVenue) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	raw, err := v.client.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	candles := make([]Candle, len(raw))
	for i, c := range raw {
		candles[i] = Candle{
			Time:   time.Unix(c.Time, 0),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
	}
	return candles, nil
}

func (v *gateVenue) GetBalances(ctx context.Context) (map[string]Balance, error) {
	accounts, err := v.client.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	balances := make(map[string]Balance, len(accounts))
	for _, a := range accounts {
		balances[a.Currency] = Balance{Available: a.Available, Locked: a.Locked}
	}
	return balances, nil
}

func (v *gateVenue) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	text := req.ClientOrderID
	if !strings.HasPrefix(text, "t-") {
		text = gate.NewOrderText()
	}

	gateReq := gate.OrderRequest{
		Text:         text,
		CurrencyPair: req.Symbol,
		Type:         string(req.Type),
		Side:         string(req.Side),
		Amount:       FormatAmount(req.Amount, amountPlaces),
		TimeInForce:  string(req.TimeInForce),
	}
	if req.Type == OrderTypeLimit {
		gateReq.Price = FormatPrice(req.Price, amountPlaces)
	} else if req.Side == SideBuy {
		// Gate 市价买单的 amount 为计价币金额
		t, err := v.client.GetTicker(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("市价买单获取报价失败: %w", err)
		}
		ask := t.LowestAsk
		if ask <= 0 {
			ask = t.Last
		}
		gateReq.Amount = FormatAmount(req.Amount*ask, amountPlaces)
	}

	o, err := v.client.PlaceOrder(ctx, gateReq)
	if err != nil {
		return nil, err
	}
	order := convertOrder(o)
	if req.Type == OrderTypeMarket && req.Side == SideBuy {
		order.Amount = req.Amount
	}
	return order, nil
}

func (v *gateVenue) CancelOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	o, err := v.client.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		return nil, err
	}
	return convertOrder(o), nil
}

func (v *gateVenue) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	o, err := v.client.GetOrder(ctx, symbol, orderID)
	if err != nil {
		return nil, err
	}
	return convertOrder(o), nil
}

func (v *gateVenue) GetOpenOrders(ctx context.Context) ([]*Order, error) {
	raw, err := v.client.GetOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	orders := make([]*Order, 0, len(raw))
	for i := range raw {
		orders = append(orders, convertOrder(&raw[i]))
	}
	return orders, nil
}

func (v *gateVenue) GetFills(ctx context.Context, symbol string, since time.Time) ([]Fill, error) {
	trades, err := v.client.GetMyTrades(ctx, symbol, since)
	if err != nil {
		return nil, err
	}
	fills := make([]Fill, len(trades))
	for i, t := range trades {
		fills[i] = Fill{
			ID:      t.ID,
			OrderID: t.OrderID,
			Symbol:  t.CurrencyPair,
			Side:    Side(t.Side),
			Amount:  t.Amount,
			Price:   t.Price,
			Fee:     t.Fee,
			Time:    time.UnixMilli(t.CreateTimeMs),
		}
	}
	return fills, nil
}

func convertOrder(o *gate.Order) *Order {
	status := StatusPending
	switch o.Status {
	case "closed":
		status = StatusFilled
	case "cancelled":
		status = StatusCancelled
		if o.FilledAmount > 0 {
			// IOC 部分成交后剩余撤销，按已成交处理
			status = StatusFilled
		}
	}
	return &Order{
		OrderID:       o.ID,
		ClientOrderID: o.Text,
		Symbol:        o.CurrencyPair,
		Side:          Side(o.Side),
		Type:          OrderType(o.Type),
		Amount:        o.Amount,
		Price:         o.Price,
		FilledAmount:  o.FilledAmount,
		AvgPrice:      o.AvgDealPrice,
		Fee:           o.Fee,
		Status:        status,
		CreatedAt:     time.UnixMilli(o.CreateTimeMs),
	}
}
