package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// 订单指标
	orderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_order_total",
			Help: "Total number of orders placed",
		},
		[]string{"exchange", "symbol", "side", "status"},
	)

	orderFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_order_failure_total",
			Help: "Total number of failed orders",
		},
		[]string{"exchange", "symbol", "side", "reason"},
	)

	orderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradeguard_order_duration_seconds",
			Help:    "Order placement duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"exchange", "symbol", "side"},
	)

	// 盈亏指标
	unrealizedPnL = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradeguard_unrealized_pnl",
			Help: "Unrealized profit and loss per open position",
		},
		[]string{"exchange", "symbol"},
	)

	realizedPnL = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradeguard_realized_pnl",
			Help: "Realized profit and loss since process start",
		},
		[]string{"exchange", "symbol"},
	)

	positionClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_position_closed_total",
			Help: "Total number of positions closed",
		},
		[]string{"exchange", "symbol", "reason"},
	)

	openPositions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradeguard_open_positions",
			Help: "Number of open positions",
		},
		[]string{"exchange"},
	)

	// 风控指标
	emergencyStop = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeguard_emergency_stop",
			Help: "Emergency stop status (1=active, 0=normal)",
		},
	)

	dailyLoss = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeguard_daily_loss",
			Help: "Tracked loss for the current calendar day",
		},
	)

	riskRejectionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_risk_rejection_total",
			Help: "Total number of trades rejected by risk validation",
		},
		[]string{"symbol"},
	)

	// 引擎指标
	cycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_engine_cycle_total",
			Help: "Total number of engine cycles",
		},
		[]string{"result"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradeguard_engine_cycle_duration_seconds",
			Help:    "Engine cycle duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	signalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_signal_total",
			Help: "Total number of signals received",
		},
		[]string{"action", "outcome"},
	)

	// API 指标
	apiCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_api_call_total",
			Help: "Total number of exchange API calls",
		},
		[]string{"exchange", "endpoint", "status"},
	)

	apiCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradeguard_api_call_duration_seconds",
			Help:    "Exchange API call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"exchange", "endpoint"},
	)

	apiRateLimitHit = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_api_rate_limit_hit_total",
			Help: "Total number of HTTP 429 responses",
		},
		[]string{"exchange"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradeguard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"exchange"},
	)

	circuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"exchange", "to"},
	)

	// 存储指标
	storageDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradeguard_storage_dropped_total",
			Help: "Total number of records dropped because the buffer was full",
		},
	)

	storageFallback = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradeguard_storage_fallback_total",
			Help: "Total number of records written to the fallback log",
		},
	)

	// 分布式锁指标
	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_lock_acquire_total",
			Help: "Total number of lock acquisition attempts",
		},
		[]string{"key", "status"},
	)

	lockHoldDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradeguard_lock_hold_duration_seconds",
			Help:    "Lock hold duration in seconds",
			Buckets: []float64{1, 10, 60, 300, 1800, 3600, 86400},
		},
		[]string{"key"},
	)

	// 系统指标
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeguard_goroutine_count",
			Help: "Number of goroutines",
		},
	)

	memoryAlloc = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeguard_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	gcPauseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradeguard_gc_pause_seconds",
			Help:    "GC pause duration in seconds",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		},
	)
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	mu       sync.Mutex
	realized map[string]float64
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{realized: make(map[string]float64)}
}

// 订单相关指标记录

// RecordOrder 记录订单
func (pm *PrometheusMetrics) RecordOrder(exchange, symbol, side, status string, duration time.Duration) {
	orderTotal.WithLabelValues(exchange, symbol, side, status).Inc()
	orderDuration.WithLabelValues(exchange, symbol, side).Observe(duration.Seconds())
}

// RecordOrderFailure 记录下单失败
func (pm *PrometheusMetrics) RecordOrderFailure(exchange, symbol, side, reason string) {
	orderFailureTotal.WithLabelValues(exchange, symbol, side, reason).Inc()
}

// 持仓与盈亏

// SetUnrealizedPnL 设置持仓未实现盈亏
func (pm *PrometheusMetrics) SetUnrealizedPnL(exchange, symbol string, pnl float64) {
	unrealizedPnL.WithLabelValues(exchange, symbol).Set(pnl)
}

// RecordPositionClosed 记录平仓与已实现盈亏
func (pm *PrometheusMetrics) RecordPositionClosed(exchange, symbol, reason string, pnl float64) {
	positionClosedTotal.WithLabelValues(exchange, symbol, reason).Inc()
	unrealizedPnL.DeleteLabelValues(exchange, symbol)

	pm.mu.Lock()
	key := exchange + "|" + symbol
	pm.realized[key] += pnl
	total := pm.realized[key]
	pm.mu.Unlock()
	realizedPnL.WithLabelValues(exchange, symbol).Set(total)
}

// SetOpenPositions 设置持仓数量
func (pm *PrometheusMetrics) SetOpenPositions(exchange string, count int) {
	openPositions.WithLabelValues(exchange).Set(float64(count))
}

// 风控

// SetEmergencyStop 设置紧急停止状态
func (pm *PrometheusMetrics) SetEmergencyStop(active bool) {
	if active {
		emergencyStop.Set(1)
	} else {
		emergencyStop.Set(0)
	}
}

// SetDailyLoss 设置当日亏损
func (pm *PrometheusMetrics) SetDailyLoss(loss float64) {
	dailyLoss.Set(loss)
}

// RecordRiskRejection 记录风控拒绝
func (pm *PrometheusMetrics) RecordRiskRejection(symbol string) {
	riskRejectionTotal.WithLabelValues(symbol).Inc()
}

// 引擎

// RecordCycle 记录一轮交易循环
func (pm *PrometheusMetrics) RecordCycle(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cycleTotal.WithLabelValues(result).Inc()
	cycleDuration.Observe(duration.Seconds())
}

// RecordSignal 记录信号处理结果（executed / filtered / rejected / failed / skipped）
func (pm *PrometheusMetrics) RecordSignal(action, outcome string) {
	signalTotal.WithLabelValues(action, outcome).Inc()
}

// API 相关

// ObserveRequest 记录一次交易所 HTTP 请求（实现 rest.Observer）
func (pm *PrometheusMetrics) ObserveRequest(venue, method, path string, status int, duration time.Duration, err error) {
	endpoint := method + " " + NormalizePath(path)
	statusLabel := "error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
	}
	apiCallTotal.WithLabelValues(venue, endpoint, statusLabel).Inc()
	apiCallDuration.WithLabelValues(venue, endpoint).Observe(duration.Seconds())
	if status == 429 {
		apiRateLimitHit.WithLabelValues(venue).Inc()
	}
}

// NormalizePath 把路径中含数字的段替换为 {id}，控制标签基数
func NormalizePath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if strings.IndexFunc(s, unicode.IsDigit) >= 0 {
			segs[i] = "{id}"
		}
	}
	return strings.Join(segs, "/")
}

// SetCircuitState 设置熔断器状态并记录状态变化
func (pm *PrometheusMetrics) SetCircuitState(exchange string, state int, name string) {
	circuitState.WithLabelValues(exchange).Set(float64(state))
	circuitTransitions.WithLabelValues(exchange, name).Inc()
}

// 存储

// RecordStorageDropped 记录缓冲满被丢弃的记录
func (pm *PrometheusMetrics) RecordStorageDropped() {
	storageDropped.Inc()
}

// RecordStorageFallback 记录写入回退日志的记录
func (pm *PrometheusMetrics) RecordStorageFallback(n int) {
	storageFallback.Add(float64(n))
}

// 分布式锁相关指标记录

// RecordLockAcquire 记录锁获取
func (pm *PrometheusMetrics) RecordLockAcquire(key, status string) {
	lockAcquireTotal.WithLabelValues(key, status).Inc()
}

// RecordLockHoldDuration 记录锁持有时长
func (pm *PrometheusMetrics) RecordLockHoldDuration(key string, duration time.Duration) {
	lockHoldDuration.WithLabelValues(key).Observe(duration.Seconds())
}

// 系统

// SetGoroutineCount 设置 goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 设置内存分配
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAlloc.Set(float64(bytes))
}

// RecordGCPause 记录 GC 暂停
func (pm *PrometheusMetrics) RecordGCPause(duration time.Duration) {
	gcPauseDuration.Observe(duration.Seconds())
}

// 全局实例
var globalPrometheusMetrics *PrometheusMetrics

// GetPrometheusMetrics 获取全局 Prometheus 指标收集器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		globalPrometheusMetrics = NewPrometheusMetrics()
	})
	return globalPrometheusMetrics
}
