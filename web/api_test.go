package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"tradeguard/config"
	"tradeguard/database"
	"tradeguard/engine"
	"tradeguard/event"
	"tradeguard/exchange"
	"tradeguard/safety"
	"tradeguard/signal"
)

const testToken = "test-token-0123456789"

// fakeEngine 模拟交易引擎
type fakeEngine struct {
	running   bool
	startErr  error
	positions []*exchange.TradingPosition
	stops     int
}

func (f *fakeEngine) Start(ctx context.Context) error {
	if f.running {
		return engine.ErrAlreadyRunning
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeEngine) Stop(ctx context.Context) error {
	f.stops++
	f.running = false
	return nil
}

func (f *fakeEngine) IsRunning() bool { return f.running }

func (f *fakeEngine) Status() engine.Status {
	return engine.Status{Running: f.running, Exchange: "gate-paper", OpenPositions: len(f.positions)}
}

func (f *fakeEngine) Positions() []*exchange.TradingPosition { return f.positions }

// fakeHistory 记录查询条件
type fakeHistory struct {
	filter *database.ExecutionFilter
	err    error
}

func (f *fakeHistory) Executions(ctx context.Context, filter *database.ExecutionFilter) ([]*database.ExecutionRecord, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return []*database.ExecutionRecord{{ExecutionID: "e1", Symbol: "BTC_USDT", Side: "buy", Amount: 0.1, Price: 50000}}, nil
}

func (f *fakeHistory) PositionCloses(ctx context.Context, filter *database.PositionCloseFilter) ([]*database.PositionCloseRecord, error) {
	return []*database.PositionCloseRecord{
		{Symbol: "BTC_USDT", RealizedPnL: 12, Reason: "TAKE_PROFIT"},
		{Symbol: "ETH_USDT", RealizedPnL: -5, Reason: "STOP_LOSS"},
	}, nil
}

type testServer struct {
	server  *Server
	engine  *fakeEngine
	risk    *safety.RiskManager
	queue   *signal.Queue
	history *fakeHistory
}

func newTestRisk(t *testing.T) *safety.RiskManager {
	t.Helper()
	rm, err := safety.NewRiskManager(safety.RiskConfig{
		MaxDailyLoss:         100,
		MaxPositionSize:      500,
		StopLossPercentage:   5,
		MaxOpenPositions:     3,
		EmergencyStopEnabled: true,
		MinTradeSize:         10,
	})
	if err != nil {
		t.Fatalf("创建风控失败: %v", err)
	}
	return rm
}

func setupTestServer(t *testing.T, tokenHash string, mutate func(*Deps)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		engine: &fakeEngine{positions: []*exchange.TradingPosition{{
			ID: "p1", Symbol: "BTC_USDT", Side: exchange.SideBuy, Amount: 0.1,
			EntryPrice: 50000, CurrentPrice: 51000, UnrealizedPnL: 100, Status: exchange.PositionOpen,
		}}},
		risk:    newTestRisk(t),
		queue:   signal.NewQueue(1),
		history: &fakeHistory{},
	}
	deps := Deps{Engine: ts.engine, Risk: ts.risk, Signals: ts.queue, History: ts.history}
	if mutate != nil {
		mutate(&deps)
	}

	cfg := &config.Config{}
	cfg.Web.APITokenHash = tokenHash
	ts.server = NewServer(cfg, deps)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("解析响应失败: %v (%s)", err, w.Body.String())
	}
	return out
}

func TestReadEndpoints(t *testing.T) {
	ts := setupTestServer(t, "", nil)

	w := ts.do(t, http.MethodGet, "/api/status", "", "")
	if w.Code != http.StatusOK || decode(t, w)["exchange"] != "gate-paper" {
		t.Errorf("状态接口错误: %d %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/positions", "", "")
	resp := decode(t, w)
	if resp["count"].(float64) != 1 || resp["unrealized_pnl"].(float64) != 100 {
		t.Errorf("持仓接口错误: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"pnl_percent":2`) {
		t.Errorf("持仓应包含盈亏百分比: %s", w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/risk", "", "")
	resp = decode(t, w)
	if resp["emergency_stop"] != false || resp["daily_loss_limit"].(float64) != 100 {
		t.Errorf("风控接口错误: %s", w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/positions/closed", "", "")
	if resp := decode(t, w); resp["realized_pnl"].(float64) != 7 {
		t.Errorf("平仓汇总错误: %s", w.Body.String())
	}
}

func TestWriteEndpointsRequireToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ts := setupTestServer(t, string(hash), nil)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"缺少 token", "", http.StatusUnauthorized},
		{"错误 token", "wrong-token-0123456789", http.StatusUnauthorized},
		{"正确 token", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/risk/reset", "", tt.token)
			if w.Code != tt.want {
				t.Errorf("状态码 = %d, 期望 %d", w.Code, tt.want)
			}
		})
	}

	// 读接口不需要认证
	if w := ts.do(t, http.MethodGet, "/api/status", "", ""); w.Code != http.StatusOK {
		t.Errorf("读接口不应要求认证: %d", w.Code)
	}
}

func TestHashToken(t *testing.T) {
	if _, err := HashToken("short"); err == nil {
		t.Error("过短的 token 应报错")
	}
	hash, err := HashToken(testToken)
	if err != nil {
		t.Fatalf("生成哈希失败: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(testToken)) != nil {
		t.Error("哈希应能校验原 token")
	}
}

func TestEmergencyStopAndReset(t *testing.T) {
	ts := setupTestServer(t, "", nil)

	w := ts.do(t, http.MethodPost, "/api/risk/emergency-stop", `{"reason":"交易所异常"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("紧急停止失败: %d %s", w.Code, w.Body.String())
	}
	if !ts.risk.IsEmergencyStopped() || ts.risk.Snapshot().StopReason != "交易所异常" {
		t.Error("风控应进入紧急停止")
	}

	w = ts.do(t, http.MethodPost, "/api/risk/reset", "", "")
	if w.Code != http.StatusOK || ts.risk.IsEmergencyStopped() {
		t.Errorf("解除紧急停止失败: %d", w.Code)
	}

	// 未启用紧急停止时返回冲突
	cfg := ts.risk.Config()
	cfg.EmergencyStopEnabled = false
	if err := ts.risk.UpdateConfig(cfg); err != nil {
		t.Fatal(err)
	}
	if w := ts.do(t, http.MethodPost, "/api/risk/emergency-stop", "", ""); w.Code != http.StatusConflict {
		t.Errorf("未启用时应返回 409, 实际 %d", w.Code)
	}
}

func TestEngineStartStop(t *testing.T) {
	ts := setupTestServer(t, "", nil)

	if w := ts.do(t, http.MethodPost, "/api/engine/start", "", ""); w.Code != http.StatusOK || !ts.engine.running {
		t.Fatalf("启动失败: %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/engine/start", "", ""); w.Code != http.StatusConflict {
		t.Errorf("重复启动应返回 409, 实际 %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/engine/stop", "", ""); w.Code != http.StatusOK || ts.engine.stops != 1 {
		t.Errorf("停止失败: %d", w.Code)
	}

	ts.engine.startErr = errors.New("认证失败")
	if w := ts.do(t, http.MethodPost, "/api/engine/start", "", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("启动失败应返回 500, 实际 %d", w.Code)
	}
}

func TestPushSignal(t *testing.T) {
	ts := setupTestServer(t, "", nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"格式错误", `{"symbol":`, http.StatusBadRequest},
		{"无效动作", `{"symbol":"BTC_USDT","action":"short","confidence":0.8}`, http.StatusBadRequest},
		{"置信度越界", `{"symbol":"BTC_USDT","action":"buy","confidence":1.8}`, http.StatusBadRequest},
		{"有效信号", `{"symbol":"btc_usdt","action":"buy","confidence":0.8}`, http.StatusAccepted},
		{"队列已满", `{"symbol":"ETH_USDT","action":"buy","confidence":0.8}`, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do(t, http.MethodPost, "/api/signals", tt.body, ""); w.Code != tt.want {
				t.Errorf("状态码 = %d, 期望 %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	signals, _ := ts.queue.Fetch(context.Background())
	if len(signals) != 1 || signals[0].Symbol != "BTC_USDT" {
		t.Errorf("队列内容错误: %+v", signals)
	}

	noQueue := setupTestServer(t, "", func(d *Deps) { d.Signals = nil })
	if w := noQueue.do(t, http.MethodPost, "/api/signals", `{"symbol":"BTC_USDT","action":"buy","confidence":0.8}`, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("未启用队列应返回 503, 实际 %d", w.Code)
	}
}

func TestGetExecutions(t *testing.T) {
	ts := setupTestServer(t, "", nil)

	w := ts.do(t, http.MethodGet, "/api/executions?symbol=BTC_USDT&limit=5000&start_time=2026-01-02T00:00:00Z", "", "")
	if w.Code != http.StatusOK || decode(t, w)["count"].(float64) != 1 {
		t.Fatalf("查询成交失败: %d %s", w.Code, w.Body.String())
	}
	f := ts.history.filter
	if f.Symbol != "BTC_USDT" || f.Limit != maxQueryLimit || f.StartTime == nil || f.StartTime.Day() != 2 {
		t.Errorf("过滤条件错误: %+v", f)
	}

	if w := ts.do(t, http.MethodGet, "/api/executions?end_time=yesterday", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("无效时间应返回 400, 实际 %d", w.Code)
	}

	ts.history.err = errors.New("db down")
	if w := ts.do(t, http.MethodGet, "/api/executions", "", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("查询失败应返回 500, 实际 %d", w.Code)
	}

	noStore := setupTestServer(t, "", func(d *Deps) { d.History = nil; d.Events = nil })
	if w := noStore.do(t, http.MethodGet, "/api/executions", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("未启用存储应返回 503, 实际 %d", w.Code)
	}
	if w := noStore.do(t, http.MethodGet, "/api/events", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("未启用事件服务应返回 503, 实际 %d", w.Code)
	}
}

func TestUpdateRiskConfigInMemory(t *testing.T) {
	ts := setupTestServer(t, "", nil)

	w := ts.do(t, http.MethodPut, "/api/config/risk", `{"max_daily_loss":250,"max_open_positions":7}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("更新风控参数失败: %d %s", w.Code, w.Body.String())
	}
	cfg := ts.risk.Config()
	if cfg.MaxDailyLoss != 250 || cfg.MaxOpenPositions != 7 || cfg.StopLossPercentage != 5 {
		t.Errorf("风控参数未按请求更新: %+v", cfg)
	}

	if w := ts.do(t, http.MethodPut, "/api/config/risk", `{"stop_loss_percentage":150}`, ""); w.Code != http.StatusBadRequest {
		t.Errorf("无效参数应返回 400, 实际 %d", w.Code)
	}
	if ts.risk.Config().StopLossPercentage != 5 {
		t.Error("无效更新不应生效")
	}
}

func TestUpdateRiskConfigHotReload(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	appCfg := &config.Config{}
	appCfg.Trading.Symbols = []string{"BTC_USDT"}
	appCfg.Web.Port = 28888
	if err := appCfg.Validate(); err != nil {
		t.Fatalf("配置验证失败: %v", err)
	}
	if err := config.SaveConfig(appCfg, configPath); err != nil {
		t.Fatal(err)
	}

	reloader := config.NewHotReloader(appCfg)
	backups := config.NewBackupManager(filepath.Join(dir, "backups"))
	ts := setupTestServer(t, "", func(d *Deps) {
		d.Reloader = reloader
		d.Backups = backups
		d.ConfigPath = configPath
	})
	reloader.RegisterCallback(func(oldConfig, newConfig *config.Config, changes []config.ConfigChange) error {
		return ts.risk.UpdateConfig(safety.RiskConfigFrom(newConfig.Risk))
	})

	w := ts.do(t, http.MethodPut, "/api/config/risk", `{"max_position_size":800}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("热更新失败: %d %s", w.Code, w.Body.String())
	}
	if ts.risk.Config().MaxPositionSize != 800 {
		t.Error("回调应更新风控参数")
	}
	if _, ok := decode(t, w)["backup_id"]; !ok {
		t.Error("应返回备份ID")
	}

	saved, err := config.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("读取配置文件失败: %v", err)
	}
	if saved.Risk.MaxPositionSize != 800 {
		t.Errorf("配置文件未写回: %v", saved.Risk.MaxPositionSize)
	}

	w = ts.do(t, http.MethodGet, "/api/config/backups", "", "")
	var list struct {
		Backups []config.BackupInfo `json:"backups"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list.Backups) != 1 {
		t.Errorf("备份列表错误: %s", w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "backups")); err != nil {
		t.Errorf("备份目录未创建: %v", err)
	}

	// 恢复修改前的备份
	w = ts.do(t, http.MethodPost, "/api/config/backups/"+list.Backups[0].ID+"/restore", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("恢复失败: %d %s", w.Code, w.Body.String())
	}
	if ts.risk.Config().MaxPositionSize != 500 {
		t.Errorf("恢复后风控参数 = %v, 期望 500", ts.risk.Config().MaxPositionSize)
	}
	if _, ok := decode(t, w)["previous_backup_id"]; !ok {
		t.Error("恢复前应备份当前文件")
	}
	saved, err = config.LoadConfig(configPath)
	if err != nil || saved.Risk.MaxPositionSize != 500 {
		t.Errorf("配置文件未恢复: %v", err)
	}

	w = ts.do(t, http.MethodPost, "/api/config/backups/tradeguard-config.20200101T000000.000.yaml/restore", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("不存在的备份应返回 404, 实际 %d", w.Code)
	}
	w = ts.do(t, http.MethodPost, "/api/config/backups/config.yaml/restore", "", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("无效的备份 ID 应返回 400, 实际 %d", w.Code)
	}
}

func TestRestoreConfigBackupDisabled(t *testing.T) {
	ts := setupTestServer(t, "", nil)
	w := ts.do(t, http.MethodPost, "/api/config/backups/x/restore", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("未配置热更新时应返回 503, 实际 %d", w.Code)
	}
}

func TestGinLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinLoggerMiddleware(false))
	r.GET("/boom", func(c *gin.Context) {
		c.AbortWithStatus(http.StatusInternalServerError)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom?x=1", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("状态码 = %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t, "", nil)
	w := ts.do(t, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("metrics 端点错误: %d", w.Code)
	}
}

func TestWriteOperationsAreAudited(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	bus := event.NewEventBus(10)
	sub := bus.Subscribe()
	ts := setupTestServer(t, string(hash), func(d *Deps) { d.Bus = bus })

	ts.do(t, http.MethodPost, "/api/risk/emergency-stop", "", "bad-token-0123456789")
	ts.do(t, http.MethodPost, "/api/risk/reset", "", testToken)

	want := []struct {
		status string
		code   int
	}{{"failed", http.StatusUnauthorized}, {"success", http.StatusOK}}
	for i, w := range want {
		select {
		case ev := <-sub:
			if ev.Type != event.EventTypeAPIAudit || ev.Data["status"] != w.status || ev.Data["code"] != w.code {
				t.Errorf("第 %d 条审计记录错误: %+v", i+1, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("未收到第 %d 条审计记录", i+1)
		}
	}
}
