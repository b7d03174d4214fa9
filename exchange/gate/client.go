package gate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"tradeguard/exchange/rest"
)

// Client Gate.io 现货 REST 客户端
type Client struct {
	rest   *rest.Client
	signer *Signer
}

// NewClient 基于共享的 REST 客户端创建 Gate 客户端
func NewClient(restClient *rest.Client, signer *Signer) *Client {
	return &Client{rest: restClient, signer: signer}
}

// Signer 返回签名器
func (c *Client) Signer() *Signer {
	return c.signer
}

// SyncTime 同步服务器时间，修正签名时间戳偏移（收到 401 时调用）
func (c *Client) SyncTime(ctx context.Context) error {
	var resp serverTimeResp
	sent := time.Now()
	if err := c.rest.Do(ctx, rest.Request{Method: http.MethodGet, Path: PathServerTime}, &resp); err != nil {
		return fmt.Errorf("获取服务器时间失败: %w", err)
	}
	if resp.ServerTime <= 0 {
		return fmt.Errorf("服务器时间无效: %d", resp.ServerTime)
	}
	local := sent.Add(time.Since(sent) / 2)
	offset := time.UnixMilli(resp.ServerTime).Sub(local)
	if c.signer != nil {
		c.signer.SetTimeOffset(offset)
	}
	return nil
}

// GetTicker 获取单个交易对行情
func (c *Client) GetTicker(ctx context.Context, pair string) (*Ticker, error) {
	var resp []tickerResp
	q := url.Values{"currency_pair": {pair}}
	if err := c.rest.Do(ctx, rest.Request{Method: http.MethodGet, Path: PathTickers, Query: q}, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("交易对 %s 无行情数据", pair)
	}
	t := resp[0].parse()
	return &t, nil
}

// GetOrderBook 获取盘口
func (c *Client) GetOrderBook(ctx context.Context, pair string, limit int) (*OrderBook, error) {
	var resp orderBookResp
	q := url.Values{
		"currency_pair": {pair},
		"limit":         {strconv.Itoa(limit)},
	}
	if err := c.rest.Do(ctx, rest.Request{Method: http.MethodGet, Path: PathOrderBook, Query: q}, &resp); err != nil {
		return nil, err
	}
	return &OrderBook{Asks: parseLevels(resp.Asks), Bids: parseLevels(resp.Bids)}, nil
}

// GetCandles 获取K线
func (c *Client) GetCandles(ctx context.Context, pair, interval string, limit int) ([]Candle, error) {
	var resp [][]string
	q := url.Values{
		"currency_pair": {pair},
		"interval":      {interval},
		"limit":         {strconv.Itoa(limit)},
	}
	if err := c.rest.Do(ctx, rest.Request{Method: http.MethodGet, Path: PathCandles, Query: q}, &resp); err != nil {
		return nil, err
	}
	candles := make([]Candle, 0, len(resp))
	for _, raw := range resp {
		candle, err := parseCandle(raw)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetAccounts 获取现货账户余额
func (c *Client) GetAccounts(ctx context.Context) ([]Account, error) {
	var resp []accountResp
	if err := c.rest.Do(ctx, rest.Request{Method: http.MethodGet, Path: PathAccounts, Signed: true}, &resp); err != nil {
		return nil, err
	}
	accounts := make([]Account, 0, len(resp))
	for _, a := range resp {
		accounts = append(accounts, Account{
			Currency:  strings.ToUpper(a.Currency),
			Available: cast.ToFloat64(a.Available),
			Locked:    cast.ToFloat64(a.Locked),
		})
	}
	return accounts, nil
}

// PlaceOrder 下单
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Text == "" {
		req.Text = NewOrderText()
	}
	if req.Account == "" {
		req.Account = "spot"
	}
	var resp orderResp
	if err := c.rest.Do(ctx, rest.Request{Method: http.MethodPost, Path: PathOrders, Body: req, Signed: true}, &resp); err != nil {
		return nil, err
	}
	o := resp.parse()
	return &o, nil
}

// GetOrder 查询订单
func (c *Client) GetOrder(ctx context.Context, pair, orderID string) (*Order, error) {
	var resp orderResp
	q := url.Values{"currency_pair": {pair}}
	path := fmt.Sprintf(orderPathFormat, url.PathEscape(orderID))
	if err := c.rest.Do(ctx, rest.Request{Method: http.MethodGet, Path: path, Query: q, Signed: true}, &resp); err != nil {
		return nil, err
	}
	o := resp.parse()
	return &o, nil
}

// CancelOrder 撤单
func (c *Client) CancelOrder(ctx context.Context, pair, orderID string) (*Order, error) {
	var resp orderResp
	q := url.Values{"currency_pair": {pair}}
	path := fmt.Sprintf(orderPathFormat, url.PathEscape(orderID))
	if err := c.rest.Do(ctx, rest.Request{Method: http.MethodDelete, Path: path, Query: q, Signed: true}, &resp); err != nil {
		return nil, err
	}
	o := resp.parse()
	return &o, nil
}

// GetOpenOrders 查询所有交易对的挂单
func (c *Client) GetOpenOrders(ctx context.Context) ([]Order, error) {
	var resp []openOrdersResp
	q := url.Values{"page": {"1"}, "limit": {"100"}}
	if err := c.rest.Do(ctx, rest.Request{Method: http.MethodGet, Path: PathOpenOrders, Query: q, Signed: true}, &resp); err != nil {
		return nil, err
	}
	var orders []Order
	for _, group := range resp {
		for _, o := range group.Orders {
			parsed := o.parse()
			if parsed.CurrencyPair == "" {
				parsed.CurrencyPair = group.CurrencyPair
			}
			orders = append(orders, parsed)
		}
	}
	return orders, nil
}

// GetMyTrades 查询成交记录（from 之后，按时间升序返回）
func (c *Client) GetMyTrades(ctx context.Context, pair string, from time.Time) ([]Trade, error) {
	var resp []tradeResp
	q := url.Values{
		"currency_pair": {pair},
		"limit":         {"1000"},
	}
	if !from.IsZero() {
		q.Set("from", strconv.FormatInt(from.Unix(), 10))
	}
	if err := c.rest.Do(ctx, rest.Request{Method: http.MethodGet, Path: PathMyTrades, Query: q, Signed: true}, &resp); err != nil {
		return nil, err
	}
	trades := make([]Trade, 0, len(resp))
	for i := len(resp) - 1; i >= 0; i-- {
		trades = append(trades, resp[i].parse())
	}
	return trades, nil
}

// NewOrderText 生成自定义订单标识
func NewOrderText() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return GateChannelID + "-" + id[:20]
}
