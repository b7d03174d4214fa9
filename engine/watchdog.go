package engine

import (
	"context"
	"sync"
	"time"

	"tradeguard/event"
	"tradeguard/logger"
)

// Watchdog 交易循环看门狗：引擎在运行但长时间没有完成一轮循环时告警
type Watchdog struct {
	eng            *Engine
	sampleInterval time.Duration
	cooldown       time.Duration

	mu        sync.Mutex
	lastAlert time.Time
	now       func() time.Time
}

// NewWatchdog 创建看门狗，cooldown 为两次告警的最小间隔
func NewWatchdog(eng *Engine, sampleInterval, cooldown time.Duration) *Watchdog {
	if sampleInterval <= 0 {
		sampleInterval = 30 * time.Second
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return &Watchdog{
		eng:            eng,
		sampleInterval: sampleInterval,
		cooldown:       cooldown,
		now:            time.Now,
	}
}

// Start 启动采样协程，ctx 结束时退出
func (w *Watchdog) Start(ctx context.Context) {
	logger.Info("✅ 交易循环看门狗已启动 (采样间隔: %v)", w.sampleInterval)
	go func() {
		ticker := time.NewTicker(w.sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Check()
			}
		}
	}()
}

// Check 检查一次，发出告警时返回 true
func (w *Watchdog) Check() bool {
	if !w.eng.IsRunning() {
		return false
	}

	cfg := w.eng.Config()
	threshold := cfg.ErrorBackoff + 2*cfg.CycleInterval

	w.eng.statusMu.RLock()
	last := w.eng.lastCycleAt
	if w.eng.startedAt.After(last) {
		last = w.eng.startedAt
	}
	w.eng.statusMu.RUnlock()

	now := w.now()
	stalled := now.Sub(last)
	if stalled < threshold {
		return false
	}

	w.mu.Lock()
	if !w.lastAlert.IsZero() && now.Sub(w.lastAlert) < w.cooldown {
		w.mu.Unlock()
		return false
	}
	w.lastAlert = now
	w.mu.Unlock()

	logger.Error("🚨 [看门狗] 交易循环已 %v 未完成 (阈值 %v)", stalled.Round(time.Second), threshold)
	w.eng.bus.Emit(event.EventTypeEngineCycleError, map[string]interface{}{
		"error":         "交易循环停滞",
		"stalled_for":   stalled.String(),
		"last_cycle_at": last,
	})
	return true
}
