package metrics

import (
	"sync"
	"time"
)

// Metrics 交易循环的运行统计（供状态接口展示）
type Metrics struct {
	Cycles            int64         `json:"cycles"`
	CycleErrors       int64         `json:"cycle_errors"`
	LastCycleDuration time.Duration `json:"last_cycle_duration"`
	LastCycleAt       time.Time     `json:"last_cycle_at"`
	LastError         string        `json:"last_error,omitempty"`
	OrdersPlaced      int64         `json:"orders_placed"`
	OrdersFailed      int64         `json:"orders_failed"`
	OrderSuccessRate  float64       `json:"order_success_rate"`
	PositionsClosed   int64         `json:"positions_closed"`
	Wins              int64         `json:"wins"`
	WinRate           float64       `json:"win_rate"`
	RealizedPnL       float64       `json:"realized_pnl"`
	LastUpdate        time.Time     `json:"last_update"`
}

// MetricsCollector 运行统计收集器
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics Metrics
}

// NewMetricsCollector 创建运行统计收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{metrics: Metrics{LastUpdate: time.Now()}}
}

// RecordCycle 记录一轮循环
func (mc *MetricsCollector) RecordCycle(duration time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.Cycles++
	mc.metrics.LastCycleDuration = duration
	mc.metrics.LastCycleAt = time.Now()
	if err != nil {
		mc.metrics.CycleErrors++
		mc.metrics.LastError = err.Error()
	}
	mc.metrics.LastUpdate = time.Now()
}

// RecordOrderResult 记录下单结果
func (mc *MetricsCollector) RecordOrderResult(success bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if success {
		mc.metrics.OrdersPlaced++
	} else {
		mc.metrics.OrdersFailed++
	}
	total := mc.metrics.OrdersPlaced + mc.metrics.OrdersFailed
	mc.metrics.OrderSuccessRate = float64(mc.metrics.OrdersPlaced) / float64(total)
	mc.metrics.LastUpdate = time.Now()
}

// RecordPnL 记录一笔已实现盈亏
func (mc *MetricsCollector) RecordPnL(pnl float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.PositionsClosed++
	if pnl > 0 {
		mc.metrics.Wins++
	}
	mc.metrics.WinRate = float64(mc.metrics.Wins) / float64(mc.metrics.PositionsClosed)
	mc.metrics.RealizedPnL += pnl
	mc.metrics.LastUpdate = time.Now()
}

// GetMetrics 获取快照
func (mc *MetricsCollector) GetMetrics() Metrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics
}
