package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradeguard/config"
	"tradeguard/database"
	"tradeguard/engine"
	"tradeguard/event"
	"tradeguard/exchange"
	"tradeguard/lock"
	"tradeguard/logger"
	"tradeguard/metrics"
	"tradeguard/notify"
	"tradeguard/safety"
	tgsignal "tradeguard/signal"
	"tradeguard/storage"
	"tradeguard/utils"
	"tradeguard/web"
)

// Version 版本号
var Version = "1.0.0"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-version" || os.Args[1] == "--version") {
		fmt.Printf("TradeGuard\nVersion: %s\n", Version)
		os.Exit(0)
	}

	// 生成 web.api_token_hash：tradeguard -hash-token <token>
	if len(os.Args) > 2 && (os.Args[1] == "-hash-token" || os.Args[1] == "--hash-token") {
		hash, err := web.HashToken(os.Args[2])
		if err != nil {
			log.Fatalf("[ERROR] %v", err)
		}
		fmt.Println(hash)
		os.Exit(0)
	}

	// 解析调试参数（-debug / --debug）
	debugMode := false
	filteredArgs := []string{os.Args[0]}
	for _, arg := range os.Args[1:] {
		switch arg {
		case "-debug", "--debug":
			debugMode = true
		default:
			filteredArgs = append(filteredArgs, arg)
		}
	}
	os.Args = filteredArgs

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("[ERROR] 加载配置失败: %v", err)
	}
	if debugMode {
		cfg.System.LogLevel = "DEBUG"
	}

	if err := run(cfg, configPath); err != nil {
		logger.Error("❌ %v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func run(cfg *config.Config, configPath string) error {
	// 1. 日志与时区
	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 时区 %s 无效，使用 UTC: %v", cfg.System.Timezone, err)
	}
	logger.SetLocation(utils.Location())
	if cfg.System.LogFile != "" {
		logger.EnableFile(logger.FileOptions{
			Path:       cfg.System.LogFile,
			MaxSizeMB:  cfg.System.LogMaxSizeMB,
			MaxBackups: cfg.System.LogMaxBackups,
			MaxAgeDays: cfg.System.LogMaxAgeDays,
			Compress:   true,
		})
	}
	utils.SetNodeID(cfg.System.NodeID)

	mode := "实盘"
	if cfg.Trading.IsDryRun() {
		mode = "模拟盘"
	}
	logger.Info("🚀 TradeGuard 启动 (版本 %s, 交易所 %s, %s)", Version, cfg.App.CurrentExchange, mode)
	logger.Info("📊 交易对: %v", cfg.Trading.Symbols)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 指标
	pm := metrics.GetPrometheusMetrics()
	systemCollector := metrics.NewSystemMetricsCollector(15 * time.Second)
	systemCollector.Start()
	defer systemCollector.Stop()

	// 3. 数据库（失败时降级为不持久化）
	var db database.Database
	if cfg.Storage.Enabled || cfg.Events.Enabled {
		var err error
		db, err = database.NewDatabase(database.FromAppConfig(cfg))
		if err != nil {
			logger.Warn("⚠️ 初始化数据库失败，交易记录不落库: %v", err)
			db = nil
		} else {
			logger.Info("✅ 数据库已连接 (%s)", cfg.Database.Type)
		}
	}

	// 4. 事件总线、通知与事件中心
	bus := event.NewEventBus(1000)
	defer bus.Close()
	sink := event.NewBusErrorSink(bus)

	notifier := notify.NewNotificationService(cfg)
	var eventNotifier event.NotificationService
	if notifier.Enabled() {
		eventNotifier = notifier
	}
	var eventStore event.EventStore
	if db != nil && cfg.Events.Enabled {
		eventStore = db
	}
	eventCenter := event.NewEventCenter(eventStore, bus, eventNotifier, &event.EventCenterConfig{
		Enabled:         true,
		CleanupInterval: cfg.Events.CleanupInterval,
		Retention: event.RetentionConfig{
			CriticalDays:     cfg.Events.Retention.CriticalDays,
			WarningDays:      cfg.Events.Retention.WarningDays,
			InfoDays:         cfg.Events.Retention.InfoDays,
			CriticalMaxCount: cfg.Events.Retention.CriticalMaxCount,
			WarningMaxCount:  cfg.Events.Retention.WarningMaxCount,
			InfoMaxCount:     cfg.Events.Retention.InfoMaxCount,
		},
	})
	hub := web.NewHub()
	go hub.Run(ctx)
	eventCenter.RegisterProcessor(hub)
	if err := eventCenter.Start(); err != nil {
		return fmt.Errorf("启动事件中心失败: %w", err)
	}

	// 5. 异步存储
	var storeDB database.Database
	if cfg.Storage.Enabled {
		storeDB = db
	}
	store := storage.NewService(storeDB, storage.OptionsFromConfig(cfg), pm)
	store.Start(ctx)

	// 6. 交易所网关
	gw, err := exchange.NewGatewayFromConfig(cfg, exchange.FactoryOptions{
		Sink:            sink,
		Observer:        pm,
		CircuitObserver: pm,
	})
	if err != nil {
		return fmt.Errorf("创建交易所网关失败: %w", err)
	}

	// 7. 风控
	risk, err := safety.NewRiskManager(safety.RiskConfigFrom(cfg.Risk))
	if err != nil {
		return fmt.Errorf("创建风控失败: %w", err)
	}
	risk.SetStateChangeCallback(func(stopped bool, reason string) {
		pm.SetEmergencyStop(stopped)
		if stopped {
			sink.HandleEmergencyStop(reason)
			return
		}
		bus.Emit(event.EventTypeEmergencyReset, map[string]interface{}{"reason": reason})
	})
	if store.Enabled() {
		restoreCtx, restoreCancel := context.WithTimeout(ctx, 10*time.Second)
		loss, err := store.TodayRealizedLoss(restoreCtx)
		restoreCancel()
		if err != nil {
			logger.Warn("⚠️ 恢复当日已实现亏损失败: %v", err)
		} else if loss > 0 {
			risk.RestoreRealizedLoss(loss)
			logger.Info("♻️ 已恢复当日已实现亏损: %.2f", loss)
		}
	}

	// 8. 实例锁与对账
	distributedLock, err := lock.NewDistributedLock(lock.FromAppConfig(cfg), pm)
	if err != nil {
		return fmt.Errorf("初始化分布式锁失败: %w", err)
	}
	defer distributedLock.Close()

	reconciler := safety.NewReconciler(gw, risk, distributedLock, time.Duration(cfg.Trading.CycleInterval)*time.Second*5)
	reconciler.SetMismatchHandler(func(res safety.ReconcileResult) {
		sink.LogError("reconcile", fmt.Errorf("持仓不一致: 仅本地 %v, 仅交易所 %v, 数量差异 %d",
			res.LocalOnly, res.RemoteOnly, len(res.AmountDiff)))
	})
	reconciler.Start(ctx)

	// 9. 信号来源
	source, queue, err := tgsignal.NewSourceFromConfig(cfg)
	if err != nil {
		return err
	}
	if c, ok := source.(io.Closer); ok {
		defer c.Close()
	}

	// 10. 交易引擎
	eng, err := engine.New(engine.ConfigFrom(cfg), engine.Deps{
		Gateway:  gw,
		Risk:     risk,
		Signals:  source,
		Store:    store,
		Bus:      bus,
		Sink:     sink,
		Recorder: pm,
		Lock:     distributedLock,
	})
	if err != nil {
		return fmt.Errorf("创建交易引擎失败: %w", err)
	}
	engine.NewWatchdog(eng, 30*time.Second, 30*time.Minute).Start(ctx)

	// 11. 配置热更新
	hotReloader := config.NewHotReloader(cfg)
	hotReloader.RegisterCallback(eng.ApplyConfig)
	hotReloader.RegisterCallback(func(oldConfig, newConfig *config.Config, changes []config.ConfigChange) error {
		for _, c := range changes {
			if c.Path == "system.log_level" {
				logger.SetLevel(logger.ParseLogLevel(newConfig.System.LogLevel))
				logger.Info("⚙️ 日志级别已更新: %s", newConfig.System.LogLevel)
			}
		}
		return nil
	})
	watcher, err := config.NewConfigWatcher(configPath, hotReloader)
	if err != nil {
		logger.Warn("⚠️ 配置文件监听失败，热更新不可用: %v", err)
	} else {
		watcher.SetErrorHandler(func(err error) {
			bus.Emit(event.EventTypeConfigFailed, map[string]interface{}{"error": err.Error()})
		})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("⚠️ 启动配置监听失败: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	// 12. 控制接口
	var server *web.Server
	if cfg.Web.Enabled {
		deps := web.Deps{
			Engine:     eng,
			Risk:       risk,
			Signals:    queue,
			Bus:        bus,
			Hub:        hub,
			Reloader:   hotReloader,
			Backups:    config.NewBackupManager(""),
			ConfigPath: configPath,
		}
		if store.Enabled() {
			deps.History = store
		}
		if eventStore != nil {
			deps.Events = db
		}
		server = web.NewServer(cfg, deps)
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("启动Web服务器失败: %w", err)
		}
	}

	// 13. 启动引擎
	if err := eng.Start(ctx); err != nil {
		logger.Error("❌ 交易引擎启动失败: %v", err)
		if server == nil {
			shutdown(nil, eventCenter, notifier, store)
			return err
		}
		logger.Warn("⚠️ 交易引擎未运行，可通过 POST /api/engine/start 重试")
	}

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("🛑 收到退出信号 %v，开始优雅退出...", sig)

	shutdown(eng, eventCenter, notifier, store)
	cancel()
	if server != nil {
		server.Stop()
	}
	logger.Info("✅ 已安全退出")
	return nil
}

// shutdown 依次停止引擎（撤单并平仓）、事件中心、通知与存储
func shutdown(eng *engine.Engine, eventCenter *event.EventCenter, notifier *notify.NotificationService, store *storage.Service) {
	if eng != nil && eng.IsRunning() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := eng.Stop(ctx); err != nil {
			logger.Error("❌ 停止交易引擎时出现错误: %v", err)
		}
		cancel()
	}
	eventCenter.Stop()
	notifier.Wait()
	store.Stop()
}
