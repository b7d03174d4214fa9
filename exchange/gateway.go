package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"tradeguard/event"
	"tradeguard/exchange/rest"
	"tradeguard/logger"
	"tradeguard/resilience"
	"tradeguard/utils"
)

// MinBookDepth 盘口每侧最少档位
const MinBookDepth = 20

// GatewayConfig 网关配置
type GatewayConfig struct {
	Symbols          []string
	QuoteCurrency    string
	BookDepth        int // 每侧档位，不少于 MinBookDepth
	CandleInterval   string
	CandleLimit      int // 0 表示不取K线，指标走区间近似
	PositionLookback time.Duration
	OrderRate        float64 // 下单速率（单/秒）
	OrderBurst       int
}

// GatewayDeps 网关依赖。Limiter/Breaker 已挂在 REST 客户端上，这里只用于状态展示
type GatewayDeps struct {
	Limiter *resilience.RateLimiter
	Breaker *resilience.CircuitBreaker
	Sink    event.ErrorSink
}

// GatewayStats 网关状态
type GatewayStats struct {
	Venue          string                          `json:"venue"`
	Authenticated  bool                            `json:"authenticated"`
	RateLimiter    *resilience.RateLimiterStats    `json:"rate_limiter,omitempty"`
	CircuitBreaker *resilience.CircuitBreakerStats `json:"circuit_breaker,omitempty"`
}

// Gateway 交易所网关：所有网络错误在此转换为 *ExchangeError
type Gateway struct {
	venue   Venue
	cfg     GatewayConfig
	limiter *resilience.RateLimiter
	breaker *resilience.CircuitBreaker
	pacer   *rate.Limiter
	sink    event.ErrorSink
	nextID  func() string

	mu            sync.Mutex
	authenticated bool
	orderSymbols  map[string]string // orderID -> symbol
}

// NewGateway 创建网关
func NewGateway(venue Venue, cfg GatewayConfig, deps GatewayDeps) *Gateway {
	if cfg.BookDepth < MinBookDepth {
		cfg.BookDepth = MinBookDepth
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.PositionLookback <= 0 {
		cfg.PositionLookback = 7 * 24 * time.Hour
	}
	if cfg.OrderRate <= 0 {
		cfg.OrderRate = 10
	}
	if cfg.OrderBurst <= 0 {
		cfg.OrderBurst = 20
	}
	sink := deps.Sink
	if sink == nil {
		sink = event.NopErrorSink{}
	}
	return &Gateway{
		venue:        venue,
		cfg:          cfg,
		limiter:      deps.Limiter,
		breaker:      deps.Breaker,
		pacer:        rate.NewLimiter(rate.Limit(cfg.OrderRate), cfg.OrderBurst),
		sink:         sink,
		nextID:       utils.NextID,
		orderSymbols: make(map[string]string),
	}
}

// Name 交易所名称
func (g *Gateway) Name() string {
	return g.venue.GetName()
}

// QuoteCurrency 计价币种
func (g *Gateway) QuoteCurrency() string {
	return g.cfg.QuoteCurrency
}

// AllowsShort 场所是否允许无持仓卖出
func (g *Gateway) AllowsShort() bool {
	return g.venue.AllowsShort()
}

// fail 转换错误并按类别上报
func (g *Gateway) fail(op string, err error) error {
	wrapped := WrapError(op, err)
	if errors.Is(err, context.Canceled) {
		return wrapped
	}

	var exErr *ExchangeError
	errors.As(wrapped, &exErr)
	venue := g.venue.GetName()
	switch exErr.Code {
	case CodeAuthentication:
		g.mu.Lock()
		g.authenticated = false
		g.mu.Unlock()
		g.sink.HandleAuthenticationError(venue, wrapped)
	case CodeRateLimit:
		g.sink.HandleRateLimitError(venue, exErr.RetryAfter())
	case CodeNetwork, CodeServer:
		g.sink.HandleNetworkError(venue, wrapped)
	case CodeCircuitOpen:
		g.sink.HandleCircuitOpen(venue)
	case CodeValidation:
		reason := exErr.Message
		var valErr *ValidationError
		if errors.As(err, &valErr) {
			reason = valErr.Reason
		}
		g.sink.HandleValidationError(op, reason)
	default:
		g.sink.LogError(op, wrapped)
	}
	return wrapped
}

// Authenticate 通过一次签名请求（查询余额）校验凭证
func (g *Gateway) Authenticate(ctx context.Context) (bool, error) {
	if err := g.venue.SyncTime(ctx); err != nil {
		logger.Warn("⚠️ [%s] 同步服务器时间失败: %v", g.venue.GetName(), err)
	}

	if _, err := g.venue.GetBalances(ctx); err != nil {
		g.mu.Lock()
		g.authenticated = false
		g.mu.Unlock()

		wrapped := g.fail("authenticate", err)
		var exErr *ExchangeError
		if errors.As(wrapped, &exErr) && exErr.Code != CodeAuthentication {
			return false, &ExchangeError{
				Code:       CodeAuthentication,
				Message:    "认证失败: " + exErr.Message,
				StatusCode: exErr.StatusCode,
				Op:         "authenticate",
				Err:        err,
			}
		}
		return false, wrapped
	}

	g.mu.Lock()
	g.authenticated = true
	g.mu.Unlock()
	logger.Info("✅ [%s] 认证成功", g.venue.GetName())
	return true, nil
}

// IsAuthenticated 是否已认证
func (g *Gateway) IsAuthenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authenticated
}

// ensureAuthenticated 未认证时自动认证一次
func (g *Gateway) ensureAuthenticated(ctx context.Context) error {
	if g.IsAuthenticated() {
		return nil
	}
	_, err := g.Authenticate(ctx)
	return err
}

// GetMarketData 行情 + 盘口 + 指标
func (g *Gateway) GetMarketData(ctx context.Context, symbol string) (*MarketData, error) {
	ticker, err := g.venue.GetTicker(ctx, symbol)
	if err != nil {
		return nil, g.fail("get_market_data", err)
	}
	book, err := g.venue.GetOrderBook(ctx, symbol, g.cfg.BookDepth)
	if err != nil {
		return nil, g.fail("get_market_data", err)
	}

	var candles []Candle
	if g.cfg.CandleLimit > 0 {
		candles, err = g.venue.GetCandles(ctx, symbol, g.cfg.CandleInterval, g.cfg.CandleLimit)
		if err != nil {
			logger.Warn("⚠️ [%s] 获取K线失败，指标使用区间近似: %v", symbol, err)
			candles = nil
		}
	}

	return &MarketData{
		Symbol:     symbol,
		Price:      ticker.Last,
		Bid:        ticker.Bid,
		Ask:        ticker.Ask,
		High24h:    ticker.High24h,
		Low24h:     ticker.Low24h,
		Volume24h:  ticker.Volume24h,
		Change24h:  ticker.Change24h,
		Bids:       trimLevels(book.Bids, g.cfg.BookDepth),
		Asks:       trimLevels(book.Asks, g.cfg.BookDepth),
		Indicators: ComputeIndicators(ticker.Last, ticker.Low24h, ticker.High24h, candles),
		Timestamp:  time.Now(),
	}, nil
}

// trimLevels 截断到 depth 档，不足时原样返回
func trimLevels(levels []BookLevel, depth int) []BookLevel {
	if len(levels) > depth {
		levels = levels[:depth]
	}
	out := make([]BookLevel, len(levels))
	copy(out, levels)
	return out
}

// fanOut 并发执行只读请求，返回成功结果与合并后的错误
func fanOut[T any](ctx context.Context, symbols []string, fn func(ctx context.Context, symbol string) (T, error)) (map[string]T, error) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	out := make(map[string]T, len(symbols))
	for _, s := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			v, err := fn(ctx, symbol)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", symbol, err))
				return
			}
			out[symbol] = v
		}(s)
	}
	wg.Wait()
	return out, errs
}

// GetMarketDataBatch 并发获取多个交易对行情，部分失败时返回成功部分与合并错误
func (g *Gateway) GetMarketDataBatch(ctx context.Context, symbols []string) (map[string]*MarketData, error) {
	return fanOut(ctx, symbols, g.GetMarketData)
}

// GetPrices 并发获取最新价
func (g *Gateway) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices, err := fanOut(ctx, symbols, func(ctx context.Context, symbol string) (float64, error) {
		t, err := g.venue.GetTicker(ctx, symbol)
		if err != nil {
			return 0, g.fail("get_price", err)
		}
		return t.Last, nil
	})
	return prices, err
}

// GetAccountBalance 账户余额
func (g *Gateway) GetAccountBalance(ctx context.Context) (map[string]Balance, error) {
	balances, err := g.venue.GetBalances(ctx)
	if err != nil {
		return nil, g.fail("get_account_balance", err)
	}
	return balances, nil
}

// PlaceBuyOrder 限价买单（GTC）
func (g *Gateway) PlaceBuyOrder(ctx context.Context, symbol string, amount, price float64) (*TradeExecution, error) {
	return g.placeOrder(ctx, "place_buy_order", &OrderRequest{
		Symbol: symbol, Side: SideBuy, Type: OrderTypeLimit, TimeInForce: TimeInForceGTC, Amount: amount, Price: price,
	})
}

// PlaceSellOrder 限价卖单（GTC）
func (g *Gateway) PlaceSellOrder(ctx context.Context, symbol string, amount, price float64) (*TradeExecution, error) {
	return g.placeOrder(ctx, "place_sell_order", &OrderRequest{
		Symbol: symbol, Side: SideSell, Type: OrderTypeLimit, TimeInForce: TimeInForceGTC, Amount: amount, Price: price,
	})
}

// PlaceMarketBuyOrder 市价买单（IOC）
func (g *Gateway) PlaceMarketBuyOrder(ctx context.Context, symbol string, amount float64) (*TradeExecution, error) {
	return g.placeOrder(ctx, "place_market_buy_order", &OrderRequest{
		Symbol: symbol, Side: SideBuy, Type: OrderTypeMarket, TimeInForce: TimeInForceIOC, Amount: amount,
	})
}

// PlaceMarketSellOrder 市价卖单（IOC）
func (g *Gateway) PlaceMarketSellOrder(ctx context.Context, symbol string, amount float64) (*TradeExecution, error) {
	return g.placeOrder(ctx, "place_market_sell_order", &OrderRequest{
		Symbol: symbol, Side: SideSell, Type: OrderTypeMarket, TimeInForce: TimeInForceIOC, Amount: amount,
	})
}

func (g *Gateway) placeOrder(ctx context.Context, op string, req *OrderRequest) (*TradeExecution, error) {
	if req.Symbol == "" || req.Amount <= 0 {
		return nil, g.fail(op, &ValidationError{Reason: fmt.Sprintf("无效的下单参数: symbol=%q amount=%v", req.Symbol, req.Amount)})
	}
	if req.Type == OrderTypeLimit && req.Price <= 0 {
		return nil, g.fail(op, &ValidationError{Reason: fmt.Sprintf("限价单价格无效: %v", req.Price)})
	}

	if err := g.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	if err := g.pacer.Wait(ctx); err != nil {
		return nil, g.fail(op, &rest.NetworkError{Err: fmt.Errorf("下单限速等待失败: %w", err)})
	}

	order, err := g.venue.PlaceOrder(ctx, req)
	if err != nil {
		return nil, g.fail(op, err)
	}

	g.mu.Lock()
	g.orderSymbols[order.OrderID] = req.Symbol
	g.mu.Unlock()

	exec := g.toExecution(order, req.Symbol)
	logger.Info("✅ [%s] 下单成功: %s %s %s %.8f @ %.4f 订单ID: %s",
		g.venue.GetName(), req.Symbol, req.Type, req.Side, exec.Amount, exec.Price, order.OrderID)
	return exec, nil
}

func (g *Gateway) toExecution(o *Order, symbol string) *TradeExecution {
	amount := o.Amount
	if o.FilledAmount > 0 && (o.Status == StatusFilled || o.Type == OrderTypeMarket) {
		amount = o.FilledAmount
	}
	price := o.Price
	if o.AvgPrice > 0 {
		price = o.AvgPrice
	}
	if o.Symbol != "" {
		symbol = o.Symbol
	}
	ts := o.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &TradeExecution{
		ID:        g.nextID(),
		OrderID:   o.OrderID,
		Symbol:    symbol,
		Side:      o.Side,
		Amount:    amount,
		Price:     price,
		Fee:       o.Fee,
		Status:    o.Status,
		Timestamp: ts,
	}
}

// positionSymbols 配置的交易对加上本次运行中下过单的交易对
func (g *Gateway) positionSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range g.cfg.Symbols {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	g.mu.Lock()
	for _, s := range g.orderSymbols {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	g.mu.Unlock()
	sort.Strings(out)
	return out
}

// GetOpenPositions 由回溯窗口内的成交推导净持仓（价格为开仓均价）
func (g *Gateway) GetOpenPositions(ctx context.Context) ([]*TradingPosition, error) {
	since := time.Now().Add(-g.cfg.PositionLookback)
	allowShort := g.venue.AllowsShort()

	bySymbol, err := fanOut(ctx, g.positionSymbols(), func(ctx context.Context, symbol string) (*TradingPosition, error) {
		fills, err := g.venue.GetFills(ctx, symbol, since)
		if err != nil {
			return nil, err
		}
		return NetPosition(symbol, fills, allowShort), nil
	})
	if err != nil {
		return nil, g.fail("get_open_positions", err)
	}

	positions := make([]*TradingPosition, 0, len(bySymbol))
	for _, p := range bySymbol {
		if p != nil {
			positions = append(positions, p)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetCurrentPositions 持仓附带最新价格与未实现盈亏（盈亏计算以此为准）
func (g *Gateway) GetCurrentPositions(ctx context.Context) ([]*TradingPosition, error) {
	positions, err := g.GetOpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return positions, nil
	}

	symbols := make([]string, len(positions))
	for i, p := range positions {
		symbols[i] = p.Symbol
	}
	prices, err := g.GetPrices(ctx, symbols)
	if err != nil {
		if len(prices) == 0 {
			return nil, err
		}
		logger.Warn("⚠️ 部分交易对价格获取失败，沿用开仓价: %v", err)
	}

	for _, p := range positions {
		if price, ok := prices[p.Symbol]; ok {
			p.Refresh(price)
		}
	}
	return positions, nil
}

// lookupSymbol 查找订单所属交易对，本地未记录时查挂单
func (g *Gateway) lookupSymbol(ctx context.Context, orderID string) (string, error) {
	g.mu.Lock()
	symbol, ok := g.orderSymbols[orderID]
	g.mu.Unlock()
	if ok {
		return symbol, nil
	}

	open, err := g.venue.GetOpenOrders(ctx)
	if err != nil {
		return "", err
	}
	for _, o := range open {
		if o.OrderID == orderID {
			g.mu.Lock()
			g.orderSymbols[orderID] = o.Symbol
			g.mu.Unlock()
			return o.Symbol, nil
		}
	}
	return "", ErrOrderNotFound
}

// isNotFound 交易所返回的订单不存在
func isNotFound(err error) bool {
	if errors.Is(err, ErrOrderNotFound) {
		return true
	}
	var badErr *rest.BadRequestError
	return errors.As(err, &badErr) && (badErr.StatusCode == http.StatusNotFound || badErr.Label == "ORDER_NOT_FOUND")
}

// CancelOrder 撤单
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := g.ensureAuthenticated(ctx); err != nil {
		return false, err
	}
	symbol, err := g.lookupSymbol(ctx, orderID)
	if err != nil {
		return false, g.fail("cancel_order", err)
	}
	if _, err := g.venue.CancelOrder(ctx, symbol, orderID); err != nil {
		return false, g.fail("cancel_order", err)
	}
	logger.Info("🗑️ [%s] 撤单成功: %s %s", g.venue.GetName(), symbol, orderID)
	return true, nil
}

// GetOrderStatus 查询订单，未知订单返回 nil
func (g *Gateway) GetOrderStatus(ctx context.Context, orderID string) (*TradeExecution, error) {
	if err := g.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	symbol, err := g.lookupSymbol(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, g.fail("get_order_status", err)
	}
	order, err := g.venue.GetOrder(ctx, symbol, orderID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, g.fail("get_order_status", err)
	}
	return g.toExecution(order, symbol), nil
}

// CancelAllOrders 撤销挂单（symbol 为空时撤销全部），单笔失败不中断，返回成功/失败计数与合并错误
func (g *Gateway) CancelAllOrders(ctx context.Context, symbol string) (CancelAllResult, error) {
	var result CancelAllResult
	if err := g.ensureAuthenticated(ctx); err != nil {
		return result, err
	}

	open, err := g.venue.GetOpenOrders(ctx)
	if err != nil {
		return result, g.fail("cancel_all_orders", err)
	}

	var errs error
	for _, o := range open {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if _, err := g.venue.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", o.Symbol, o.OrderID, err))
			logger.Warn("⚠️ [%s] 撤单失败 %s %s: %v", g.venue.GetName(), o.Symbol, o.OrderID, err)
			continue
		}
		result.Cancelled++
	}

	logger.Info("🗑️ [%s] 批量撤单完成: 成功 %d, 失败 %d", g.venue.GetName(), result.Cancelled, result.Failed)
	if errs != nil {
		return result, WrapError("cancel_all_orders", errs)
	}
	return result, nil
}

// ClosePosition 以反向市价单平仓
func (g *Gateway) ClosePosition(ctx context.Context, pos *TradingPosition) (*TradeExecution, error) {
	if pos == nil || pos.Amount <= 0 {
		return nil, g.fail("close_position", &ValidationError{Reason: "无效的持仓"})
	}
	if pos.Side == SideBuy {
		return g.PlaceMarketSellOrder(ctx, pos.Symbol, pos.Amount)
	}
	return g.PlaceMarketBuyOrder(ctx, pos.Symbol, pos.Amount)
}

// Stats 网关状态快照
func (g *Gateway) Stats() GatewayStats {
	stats := GatewayStats{
		Venue:         g.venue.GetName(),
		Authenticated: g.IsAuthenticated(),
	}
	if g.limiter != nil {
		s := g.limiter.Stats()
		stats.RateLimiter = &s
	}
	if g.breaker != nil {
		s := g.breaker.Stats()
		stats.CircuitBreaker = &s
	}
	return stats
}
