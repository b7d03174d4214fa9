package exchange

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"tradeguard/exchange/rest"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestNetPosition(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fill := func(id string, side Side, amount, price float64, minutes int) Fill {
		return Fill{ID: id, Side: side, Amount: amount, Price: price, Time: t0.Add(time.Duration(minutes) * time.Minute)}
	}

	tests := []struct {
		name       string
		fills      []Fill
		allowShort bool
		wantNil    bool
		wantSide   Side
		wantAmount float64
		wantEntry  float64
		wantID     string
	}{
		{
			name:    "无成交",
			wantNil: true,
		},
		{
			name:       "两次买入加权平均",
			fills:      []Fill{fill("a", SideBuy, 1, 100, 0), fill("b", SideBuy, 1, 200, 1)},
			wantSide:   SideBuy,
			wantAmount: 2,
			wantEntry:  150,
			wantID:     "BTC_USDT-a",
		},
		{
			name:       "部分卖出保持均价",
			fills:      []Fill{fill("a", SideBuy, 2, 100, 0), fill("b", SideSell, 0.5, 300, 1)},
			wantSide:   SideBuy,
			wantAmount: 1.5,
			wantEntry:  100,
			wantID:     "BTC_USDT-a",
		},
		{
			name:    "全部卖出",
			fills:   []Fill{fill("a", SideBuy, 1, 100, 0), fill("b", SideSell, 1, 120, 1)},
			wantNil: true,
		},
		{
			name:    "现货忽略窗口前存量的卖出",
			fills:   []Fill{fill("a", SideSell, 1, 100, 0)},
			wantNil: true,
		},
		{
			name:       "模拟盘允许空头",
			fills:      []Fill{fill("a", SideSell, 1, 100, 0)},
			allowShort: true,
			wantSide:   SideSell,
			wantAmount: 1,
			wantEntry:  100,
			wantID:     "BTC_USDT-a",
		},
		{
			name:       "方向翻转按成交价重新开仓",
			fills:      []Fill{fill("a", SideBuy, 1, 100, 0), fill("b", SideSell, 3, 110, 1)},
			allowShort: true,
			wantSide:   SideSell,
			wantAmount: 2,
			wantEntry:  110,
			wantID:     "BTC_USDT-b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NetPosition("BTC_USDT", tt.fills, tt.allowShort)
			if tt.wantNil {
				if p != nil {
					t.Errorf("期望无持仓, 实际 %+v", p)
				}
				return
			}
			if p == nil {
				t.Fatal("期望有持仓")
			}
			if p.Side != tt.wantSide || !approx(p.Amount, tt.wantAmount) || !approx(p.EntryPrice, tt.wantEntry) || p.ID != tt.wantID {
				t.Errorf("持仓 = %+v, 期望 %s %v @ %v (%s)", p, tt.wantSide, tt.wantAmount, tt.wantEntry, tt.wantID)
			}
		})
	}
}

func TestFormatAmountAndPrice(t *testing.T) {
	if got := FormatAmount(0.123456789, 4); got != "0.1234" {
		t.Errorf("FormatAmount = %s, 期望 0.1234", got)
	}
	if got := FormatPrice(50000.126, 2); got != "50000.13" {
		t.Errorf("FormatPrice = %s, 期望 50000.13", got)
	}
}

func TestRangeRSI(t *testing.T) {
	tests := []struct {
		price, low, high, want float64
	}{
		{50, 0, 100, 50},
		{99, 0, 100, 80},
		{1, 0, 100, 20},
		{100, 100, 100, 50},
		{100, 120, 100, 50},
	}
	for _, tt := range tests {
		if got := RangeRSI(tt.price, tt.low, tt.high); got != tt.want {
			t.Errorf("RangeRSI(%v, %v, %v) = %v, 期望 %v", tt.price, tt.low, tt.high, got, tt.want)
		}
	}
}

func TestComputeIndicatorsWithCandles(t *testing.T) {
	candles := make([]Candle, 60)
	for i := range candles {
		candles[i] = Candle{Close: 100 + float64(i%5)}
	}
	ind := ComputeIndicators(102, 90, 110, candles)
	if ind.Source != "talib" {
		t.Fatalf("K线充足时应使用 talib, 实际 %s", ind.Source)
	}
	if ind.RSI < 0 || ind.RSI > 100 || ind.SMA20 < 100 || ind.SMA20 > 104 {
		t.Errorf("指标超出范围: %+v", ind)
	}
	if !approx(ind.Volatility, 20.0/90*100) {
		t.Errorf("波动率 = %v", ind.Volatility)
	}

	ind = ComputeIndicators(102, 90, 110, candles[:10])
	if ind.Source != "range" || ind.SMA20 != 100 || ind.EMA12 != 102 {
		t.Errorf("K线不足时应使用区间近似: %+v", ind)
	}
}

func TestPaperVenue(t *testing.T) {
	market := newFakeVenue()
	pv := NewPaperVenue(market, "USDT", 1000, 0.001)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pv.now = func() time.Time { return fixed }
	ctx := context.Background()

	if pv.GetName() != "fake-paper" || !pv.AllowsShort() {
		t.Errorf("模拟盘属性错误: %s", pv.GetName())
	}

	// 市价买按卖一成交
	o, err := pv.PlaceOrder(ctx, &OrderRequest{Symbol: "BTC_USDT", Side: SideBuy, Type: OrderTypeMarket, Amount: 0.01})
	if err != nil {
		t.Fatalf("模拟下单失败: %v", err)
	}
	if o.Status != StatusFilled || o.AvgPrice != 50010 || o.FilledAmount != 0.01 {
		t.Errorf("市价买成交错误: %+v", o)
	}
	balances, _ := pv.GetBalances(ctx)
	wantQuote := 1000 - 500.1 - 500.1*0.001
	if !approx(balances["USDT"].Available, wantQuote) || !approx(balances["BTC"].Available, 0.01) {
		t.Errorf("余额错误: %+v", balances)
	}

	// 余额不足
	_, err = pv.PlaceOrder(ctx, &OrderRequest{Symbol: "BTC_USDT", Side: SideBuy, Type: OrderTypeLimit, Amount: 1, Price: 50000})
	var badErr *rest.BadRequestError
	if !errors.As(err, &badErr) || badErr.Label != "BALANCE_NOT_ENOUGH" {
		t.Errorf("应返回余额不足, 实际 %v", err)
	}

	// 限价卖按限价成交
	o2, err := pv.PlaceOrder(ctx, &OrderRequest{Symbol: "BTC_USDT", Side: SideSell, Type: OrderTypeLimit, Amount: 0.01, Price: 51000})
	if err != nil || o2.AvgPrice != 51000 {
		t.Fatalf("限价卖失败: %v %+v", err, o2)
	}

	fills, _ := pv.GetFills(ctx, "BTC_USDT", fixed.Add(-time.Minute))
	if len(fills) != 2 {
		t.Fatalf("成交记录数 = %d, 期望 2", len(fills))
	}
	if p := NetPosition("BTC_USDT", fills, true); p != nil {
		t.Errorf("买卖相抵后应无持仓: %+v", p)
	}

	open, _ := pv.GetOpenOrders(ctx)
	if len(open) != 0 {
		t.Errorf("模拟盘不应有挂单: %d", len(open))
	}
	if _, err := pv.CancelOrder(ctx, "BTC_USDT", o.OrderID); err == nil {
		t.Error("已成交订单不可撤销")
	}
	if _, err := pv.GetOrder(ctx, "BTC_USDT", "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("未知订单应返回 ErrOrderNotFound, 实际 %v", err)
	}
}

func TestWrapErrorPreservesExchangeError(t *testing.T) {
	orig := &ExchangeError{Code: CodeValidation, Message: "x"}
	if WrapError("op", orig) != orig {
		t.Error("已是 ExchangeError 时应原样返回")
	}
	if WrapError("op", nil) != nil {
		t.Error("nil 应返回 nil")
	}
	err := WrapError("op", ErrEmergencyStopActive)
	if CodeOf(err) != CodeEmergencyStop || !errors.Is(err, ErrEmergencyStopActive) {
		t.Errorf("紧急停止错误映射错误: %v", err)
	}
	err = WrapError("op", context.DeadlineExceeded)
	if CodeOf(err) != CodeNetwork {
		t.Errorf("超时应为网络错误: %v", err)
	}
}
