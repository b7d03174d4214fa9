package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordCycle(time.Second, nil)
	mc.RecordCycle(2*time.Second, errors.New("timeout"))
	mc.RecordOrderResult(true)
	mc.RecordOrderResult(true)
	mc.RecordOrderResult(false)
	mc.RecordPnL(10)
	mc.RecordPnL(-4)

	m := mc.GetMetrics()
	if m.Cycles != 2 || m.CycleErrors != 1 || m.LastError != "timeout" {
		t.Errorf("循环统计错误: %+v", m)
	}
	if m.OrdersPlaced != 2 || m.OrdersFailed != 1 {
		t.Errorf("下单统计错误: %+v", m)
	}
	if m.OrderSuccessRate < 0.66 || m.OrderSuccessRate > 0.67 {
		t.Errorf("成功率错误: %v", m.OrderSuccessRate)
	}
	if m.WinRate != 0.5 || m.RealizedPnL != 6 {
		t.Errorf("盈亏统计错误: %+v", m)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/spot/orders/123456", "/spot/orders/{id}"},
		{"/spot/orders", "/spot/orders"},
		{"/spot/tickers", "/spot/tickers"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, 期望 %q", tt.in, got, tt.want)
		}
	}
}

func TestPrometheusRecorders(t *testing.T) {
	pm := GetPrometheusMetrics()
	if pm != GetPrometheusMetrics() {
		t.Fatal("应返回同一个全局实例")
	}
	pm.ObserveRequest("gate", "GET", "/spot/orders/1", 429, 10*time.Millisecond, errors.New("429"))
	pm.ObserveRequest("gate", "GET", "/spot/tickers", 0, time.Millisecond, errors.New("dial"))
	pm.RecordPositionClosed("gate", "BTC_USDT", "STOP_LOSS", -5)
	pm.RecordPositionClosed("gate", "BTC_USDT", "TAKE_PROFIT", 8)
	pm.mu.Lock()
	total := pm.realized["gate|BTC_USDT"]
	pm.mu.Unlock()
	if total != 3 {
		t.Errorf("累计已实现盈亏 = %v, 期望 3", total)
	}
}
