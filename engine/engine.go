package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"tradeguard/config"
	"tradeguard/event"
	"tradeguard/exchange"
	"tradeguard/lock"
	"tradeguard/logger"
	"tradeguard/metrics"
	"tradeguard/safety"
	"tradeguard/signal"
)

// 平仓原因
const (
	ReasonTakeProfit = "TAKE_PROFIT"
	ReasonStopLoss   = "STOP_LOSS"
	ReasonSignal     = "SIGNAL"
	ReasonShutdown   = "SHUTDOWN"
)

// ErrAlreadyRunning 引擎已在运行
var ErrAlreadyRunning = errors.New("engine already running")

// ErrStopTimeout 停止超时，当前一轮仍在执行，未平仓
var ErrStopTimeout = errors.New("engine stop timed out before cycle finished")

// ErrCycleInProgress 上次停止超时后的一轮尚未结束
var ErrCycleInProgress = errors.New("previous cycle still in progress")

// Config 交易循环参数，UpdateConfig 后从下一轮生效
type Config struct {
	Symbols              []string
	CycleInterval        time.Duration
	ErrorBackoff         time.Duration
	MaxConcurrentTrades  int
	MinConfidence        float64
	TakeProfitPercentage float64
	UseMarketOrders      bool
	LeaseTTL             time.Duration
}

// ConfigFrom 从系统配置读取
func ConfigFrom(cfg *config.Config) Config {
	t := cfg.Trading
	return Config{
		Symbols:              append([]string(nil), t.Symbols...),
		CycleInterval:        time.Duration(t.CycleInterval) * time.Second,
		ErrorBackoff:         time.Duration(t.ErrorBackoff) * time.Second,
		MaxConcurrentTrades:  t.MaxConcurrentTrades,
		MinConfidence:        t.MinConfidence,
		TakeProfitPercentage: t.TakeProfitPercentage,
		UseMarketOrders:      t.UseMarketOrders,
		LeaseTTL:             time.Duration(cfg.DistributedLock.DefaultTTL) * time.Second,
	}
}

// Validate 校验参数
func (c Config) Validate() error {
	if c.CycleInterval <= 0 {
		return fmt.Errorf("循环间隔必须大于0")
	}
	if c.ErrorBackoff < c.CycleInterval {
		return fmt.Errorf("异常等待时间 (%v) 不能小于循环间隔 (%v)", c.ErrorBackoff, c.CycleInterval)
	}
	if c.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("最大并发持仓必须大于0")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("最低置信度必须在 0-1 之间: %.2f", c.MinConfidence)
	}
	if c.TakeProfitPercentage <= 0 {
		return fmt.Errorf("止盈百分比必须大于0")
	}
	return nil
}

// Deps 引擎依赖，Gateway/Risk/Signals 必填
type Deps struct {
	Gateway  Gateway
	Risk     *safety.RiskManager
	Signals  signal.Source
	Store    Persistence
	Bus      *event.EventBus
	Sink     event.ErrorSink
	Recorder Recorder
	Lock     lock.DistributedLock
}

// Status 引擎状态快照
type Status struct {
	Running       bool                  `json:"running"`
	Exchange      string                `json:"exchange"`
	StartedAt     time.Time             `json:"started_at,omitempty"`
	LastCycleAt   time.Time             `json:"last_cycle_at,omitempty"`
	LastError     string                `json:"last_error,omitempty"`
	OpenPositions int                   `json:"open_positions"`
	Metrics       metrics.Metrics       `json:"metrics"`
	Gateway       exchange.GatewayStats `json:"gateway"`
	Risk          safety.RiskSnapshot   `json:"risk"`
}

// Engine 交易引擎：单协程驱动交易循环
type Engine struct {
	gw       Gateway
	risk     *safety.RiskManager
	signals  signal.Source
	store    Persistence
	bus      *event.EventBus
	sink     event.ErrorSink
	recorder Recorder
	lock     lock.DistributedLock
	stats    *metrics.MetricsCollector

	cfgMu sync.RWMutex
	cfg   Config

	lifecycleMu sync.Mutex
	running     atomic.Bool
	stopCh      chan struct{}
	done        chan struct{}
	lease       *lock.Lease

	statusMu    sync.RWMutex
	startedAt   time.Time
	lastCycleAt time.Time
	lastError   string

	now func() time.Time
}

// New 创建交易引擎
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Gateway == nil || deps.Risk == nil || deps.Signals == nil {
		return nil, fmt.Errorf("交易引擎缺少必要依赖 (gateway/risk/signals)")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		gw:       deps.Gateway,
		risk:     deps.Risk,
		signals:  deps.Signals,
		store:    deps.Store,
		bus:      deps.Bus,
		sink:     deps.Sink,
		recorder: deps.Recorder,
		lock:     deps.Lock,
		stats:    metrics.NewMetricsCollector(),
		cfg:      cfg,
		now:      time.Now,
	}
	if e.store == nil {
		e.store = nopPersistence{}
	}
	if e.sink == nil {
		e.sink = event.NopErrorSink{}
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	return e, nil
}

// Config 当前参数
func (e *Engine) Config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// UpdateConfig 更新交易参数，下一轮循环生效
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()

	logger.Info("🔄 交易参数已更新: 间隔 %v, 最大持仓 %d, 最低置信度 %.2f, 止盈 %.2f%%",
		cfg.CycleInterval, cfg.MaxConcurrentTrades, cfg.MinConfidence, cfg.TakeProfitPercentage)
	e.bus.Emit(event.EventTypeConfigUpdated, map[string]interface{}{
		"cycle_interval":        cfg.CycleInterval.String(),
		"max_concurrent_trades": cfg.MaxConcurrentTrades,
		"min_confidence":        cfg.MinConfidence,
	})
	return nil
}

// ApplyConfig 热更新回调：同时更新交易参数与风控参数
func (e *Engine) ApplyConfig(oldConfig, newConfig *config.Config, changes []config.ConfigChange) error {
	riskChanged, tradingChanged := false, false
	for _, c := range changes {
		switch {
		case strings.HasPrefix(c.Path, "risk."):
			riskChanged = true
		case strings.HasPrefix(c.Path, "trading."):
			tradingChanged = true
		}
	}
	var err error
	if riskChanged {
		err = multierr.Append(err, e.risk.UpdateConfig(safety.RiskConfigFrom(newConfig.Risk)))
	}
	if tradingChanged {
		cfg := ConfigFrom(newConfig)
		cfg.LeaseTTL = e.Config().LeaseTTL
		err = multierr.Append(err, e.UpdateConfig(cfg))
	}
	return err
}

// IsRunning 是否运行中
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Start 验证网关连接后启动交易循环
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.running.Load() {
		return ErrAlreadyRunning
	}
	if e.done != nil {
		select {
		case <-e.done:
		default:
			return ErrCycleInProgress
		}
	}

	ok, err := e.gw.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("交易所连接验证失败: %w", err)
	}
	if !ok {
		return fmt.Errorf("交易所连接验证失败: %s", e.gw.Name())
	}

	if _, single := e.lock.(*lock.NopLock); e.lock != nil && !single {
		lease, err := lock.AcquireLease(ctx, e.lock, "engine:"+e.gw.Name(), e.Config().LeaseTTL, e.onLeaseLost)
		if err != nil {
			return fmt.Errorf("获取实例锁失败: %w", err)
		}
		e.lease = lease
	}

	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	e.running.Store(true)

	e.statusMu.Lock()
	e.startedAt = e.now()
	e.lastError = ""
	e.statusMu.Unlock()

	go e.loop(e.stopCh, e.done)

	cfg := e.Config()
	logger.Info("🚀 交易引擎已启动: %s, 交易对 %v, 循环间隔 %v", e.gw.Name(), cfg.Symbols, cfg.CycleInterval)
	e.bus.Emit(event.EventTypeEngineStarted, map[string]interface{}{
		"exchange": e.gw.Name(),
		"symbols":  cfg.Symbols,
	})
	return nil
}

// Stop 停止交易循环并尽力平掉所有持仓。先等正在执行的一轮结束，
// ctx 先到期时不平仓，返回 ErrStopTimeout
func (e *Engine) Stop(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	logger.Info("⏹️ 正在停止交易引擎...")
	close(e.stopCh)
	select {
	case <-e.done:
	case <-ctx.Done():
		// 这一轮可能仍在下单，此时平仓会与其并发，持仓留给对账或下次启动处理
		logger.Warn("⚠️ 等待当前交易循环结束超时，跳过平仓")
		done, lease := e.done, e.lease
		e.lease = nil
		go func() {
			<-done
			if lease == nil {
				return
			}
			releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil {
				logger.Warn("⚠️ 释放实例锁失败: %v", err)
			}
		}()
		e.bus.Emit(event.EventTypeEngineStopped, map[string]interface{}{
			"exchange":  e.gw.Name(),
			"close_out": "skipped",
		})
		return fmt.Errorf("%w: %v", ErrStopTimeout, ctx.Err())
	}

	err := e.closeAll(ctx)

	if e.lease != nil {
		if releaseErr := e.lease.Release(ctx); releaseErr != nil {
			logger.Warn("⚠️ 释放实例锁失败: %v", releaseErr)
		}
		e.lease = nil
	}

	e.bus.Emit(event.EventTypeEngineStopped, map[string]interface{}{
		"exchange": e.gw.Name(),
	})
	if err != nil {
		logger.Error("❌ 交易引擎已停止，部分持仓未能平仓: %v", err)
	} else {
		logger.Info("✅ 交易引擎已停止")
	}
	return err
}

// onLeaseLost 实例锁丢失时停止交易，避免两个实例同时下单
func (e *Engine) onLeaseLost(err error) {
	logger.Error("🚨 实例锁丢失，停止交易引擎: %v", err)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if stopErr := e.Stop(ctx); stopErr != nil {
			logger.Error("❌ 停止交易引擎失败: %v", stopErr)
		}
	}()
}

// loop 交易循环，异常后等待更长时间再继续
func (e *Engine) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		if !e.running.Load() {
			return
		}

		cfg := e.Config()
		wait := cfg.CycleInterval
		if err := e.RunCycle(context.Background()); err != nil {
			wait = cfg.ErrorBackoff
			logger.Error("❌ 交易循环异常，%v 后重试: %v", wait, err)
			e.bus.Emit(event.EventTypeEngineCycleError, map[string]interface{}{
				"error": err.Error(),
			})
		}

		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// closeAll 撤销挂单并以市价平掉所有持仓，错误汇总返回
func (e *Engine) closeAll(ctx context.Context) error {
	var errs error
	for _, symbol := range e.Config().Symbols {
		if _, err := e.gw.CancelAllOrders(ctx, symbol); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("撤销 %s 挂单失败: %w", symbol, err))
		}
	}

	positions, err := e.gw.GetCurrentPositions(ctx)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("查询持仓失败: %w", err))
	}
	for _, pos := range positions {
		if pos.Status != exchange.PositionOpen {
			continue
		}
		if err := e.closePosition(ctx, pos, ReasonShutdown); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Status 状态快照
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return Status{
		Running:       e.running.Load(),
		Exchange:      e.gw.Name(),
		StartedAt:     e.startedAt,
		LastCycleAt:   e.lastCycleAt,
		LastError:     e.lastError,
		OpenPositions: e.risk.OpenPositionCount(),
		Metrics:       e.stats.GetMetrics(),
		Gateway:       e.gw.Stats(),
		Risk:          e.risk.Snapshot(),
	}
}

// Positions 当前持仓
func (e *Engine) Positions() []*exchange.TradingPosition {
	return e.risk.Positions()
}

// Risk 风控管理器
func (e *Engine) Risk() *safety.RiskManager {
	return e.risk
}
