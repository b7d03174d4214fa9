package web

import (
	"context"
	"net/http"
	"net/http/pprof"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradeguard/config"
	"tradeguard/database"
	"tradeguard/engine"
	"tradeguard/event"
	"tradeguard/exchange"
	"tradeguard/safety"
)

// EngineController 交易引擎控制接口
type EngineController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	Status() engine.Status
	Positions() []*exchange.TradingPosition
}

// SignalSink 外部信号入口（内存队列）
type SignalSink interface {
	Push(s exchange.TradingSignal) error
}

// HistoryProvider 交易历史查询
type HistoryProvider interface {
	Executions(ctx context.Context, filter *database.ExecutionFilter) ([]*database.ExecutionRecord, error)
	PositionCloses(ctx context.Context, filter *database.PositionCloseFilter) ([]*database.PositionCloseRecord, error)
}

// EventProvider 事件查询
type EventProvider interface {
	GetEvents(ctx context.Context, filter *database.EventFilter) ([]*database.EventRecord, error)
}

// Deps 控制接口依赖，Engine/Risk 必填，其余为空时对应接口返回 503
type Deps struct {
	Engine   EngineController
	Risk     *safety.RiskManager
	Signals  SignalSink
	History  HistoryProvider
	Events   EventProvider
	Bus      *event.EventBus
	Hub      *Hub
	Reloader *config.HotReloader
	Backups  *config.BackupManager
	// ConfigPath 为空时风控参数只在内存中更新
	ConfigPath string
}

// Server 控制接口
type Server struct {
	deps      Deps
	tokenHash string
	router    *gin.Engine
	http      *http.Server
}

// NewServer 创建控制接口服务
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.System.LogLevel == "debug" || cfg.System.LogLevel == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{deps: deps, tokenHash: cfg.Web.APITokenHash}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(GinLoggerMiddleware(gin.Mode() == gin.DebugMode))
	s.setupRoutes(r)
	s.router = r
	s.http = newHTTPServer(cfg, r)
	return s
}

// Handler 路由（测试用）
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(r *gin.Engine) {
	// Prometheus 抓取端点，不需要认证
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	pprofGroup := r.Group("/debug/pprof", s.authMiddleware())
	{
		pprofGroup.GET("/", gin.WrapF(pprof.Index))
		pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
		pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
		pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
	}

	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/risk", s.getRisk)
		api.GET("/executions", s.getExecutions)
		api.GET("/positions/closed", s.getPositionCloses)
		api.GET("/events", s.getEvents)

		protected := api.Group("")
		protected.Use(s.auditMiddleware(), s.authMiddleware())
		{
			protected.POST("/risk/emergency-stop", s.emergencyStop)
			protected.POST("/risk/reset", s.resetEmergencyStop)
			protected.POST("/engine/start", s.startEngine)
			protected.POST("/engine/stop", s.stopEngine)
			protected.POST("/signals", s.pushSignal)
			protected.PUT("/config/risk", s.updateRiskConfig)
			protected.GET("/config/backups", s.listConfigBackups)
			protected.POST("/config/backups/:id/restore", s.restoreConfigBackup)
		}
	}
}
