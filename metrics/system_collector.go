package metrics

import (
	"context"
	"runtime"
	"time"
)

// SystemMetricsCollector 运行时指标采集器
type SystemMetricsCollector struct {
	pm        *PrometheusMetrics
	interval  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	lastNumGC uint32
}

// NewSystemMetricsCollector 创建运行时指标采集器
func NewSystemMetricsCollector(interval time.Duration) *SystemMetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SystemMetricsCollector{
		pm:       GetPrometheusMetrics(),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 启动采集
func (smc *SystemMetricsCollector) Start() {
	go smc.collectLoop()
}

// Stop 停止采集
func (smc *SystemMetricsCollector) Stop() {
	smc.cancel()
}

func (smc *SystemMetricsCollector) collectLoop() {
	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	smc.collect()
	for {
		select {
		case <-smc.ctx.Done():
			return
		case <-ticker.C:
			smc.collect()
		}
	}
}

// collect 采集一次
func (smc *SystemMetricsCollector) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	smc.pm.SetGoroutineCount(runtime.NumGoroutine())
	smc.pm.SetMemoryAlloc(m.Alloc)

	// PauseNs 为 256 长度的环形缓冲，只记录上次采集之后的 GC
	if m.NumGC > smc.lastNumGC {
		from := smc.lastNumGC
		if m.NumGC-from > 256 {
			from = m.NumGC - 256
		}
		for n := from + 1; n <= m.NumGC; n++ {
			if pause := m.PauseNs[(n+255)%256]; pause > 0 {
				smc.pm.RecordGCPause(time.Duration(pause))
			}
		}
		smc.lastNumGC = m.NumGC
	}
}
