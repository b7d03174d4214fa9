package safety

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"tradeguard/config"
	"tradeguard/exchange"
	"tradeguard/logger"
	"tradeguard/utils"
)

const (
	baseSizeRatio  = 0.10 // 基础仓位：余额的 10%
	maxBalanceRate = 0.25 // 单笔上限：余额的 25%
	trackerHistory = 7    // 保留最近几天的日亏损记录
)

// RiskConfig 风控参数，数值必须大于0
type RiskConfig struct {
	MaxDailyLoss         float64 `json:"max_daily_loss"`
	MaxPositionSize      float64 `json:"max_position_size"`
	StopLossPercentage   float64 `json:"stop_loss_percentage"`
	MaxOpenPositions     int     `json:"max_open_positions"`
	EmergencyStopEnabled bool    `json:"emergency_stop_enabled"`
	MinTradeSize         float64 `json:"min_trade_size"`
}

// RiskConfigFrom 从系统配置转换
func RiskConfigFrom(c config.RiskConfig) RiskConfig {
	minTrade := c.MinTradeSize
	if minTrade <= 0 {
		minTrade = 10
	}
	return RiskConfig{
		MaxDailyLoss:         c.MaxDailyLoss,
		MaxPositionSize:      c.MaxPositionSize,
		StopLossPercentage:   c.StopLossPercentage,
		MaxOpenPositions:     c.MaxOpenPositions,
		EmergencyStopEnabled: c.EmergencyStop(),
		MinTradeSize:         minTrade,
	}
}

// Validate 校验风控参数
func (c RiskConfig) Validate() error {
	enabled := c.EmergencyStopEnabled
	return config.ValidateRisk(config.RiskConfig{
		MaxDailyLoss:         c.MaxDailyLoss,
		MaxPositionSize:      c.MaxPositionSize,
		StopLossPercentage:   c.StopLossPercentage,
		MaxOpenPositions:     c.MaxOpenPositions,
		EmergencyStopEnabled: &enabled,
		MinTradeSize:         c.MinTradeSize,
	})
}

// DailyLossTracker 按自然日统计的亏损（亏损记为正数）
type DailyLossTracker struct {
	Date           string  `json:"date"`
	TotalLoss      float64 `json:"total_loss"`
	RealizedLoss   float64 `json:"realized_loss"`
	UnrealizedLoss float64 `json:"unrealized_loss"`
	Trades         int     `json:"trades"`
}

func (t *DailyLossTracker) recompute() {
	t.TotalLoss = t.RealizedLoss + t.UnrealizedLoss
}

// TradeValidation 交易校验结果，校验失败不返回错误
type TradeValidation struct {
	IsValid        bool    `json:"is_valid"`
	Reason         string  `json:"reason,omitempty"`
	AdjustedAmount float64 `json:"adjusted_amount,omitempty"`
}

// RiskReport 一次风控巡检的结果
type RiskReport struct {
	DailyLoss         DailyLossTracker           `json:"daily_loss"`
	StopLossPositions []*exchange.TradingPosition `json:"stop_loss_positions"`
	EmergencyStopped  bool                        `json:"emergency_stopped"`
}

// RiskSnapshot 风控状态快照（供状态接口展示）
type RiskSnapshot struct {
	EmergencyStop   bool             `json:"emergency_stop"`
	StopReason      string           `json:"stop_reason,omitempty"`
	StoppedAt       time.Time        `json:"stopped_at,omitempty"`
	DailyLoss       DailyLossTracker `json:"daily_loss"`
	DailyLossLimit  float64          `json:"daily_loss_limit"`
	OpenPositions   int              `json:"open_positions"`
	Config          RiskConfig       `json:"config"`
	RealizedPnL     float64          `json:"realized_pnl"`
	LastEnforcement time.Time        `json:"last_enforcement,omitempty"`
}

// StateChangeFunc 紧急停止状态变化回调（在锁外调用）
type StateChangeFunc func(stopped bool, reason string)

// RiskManager 风控管理器：持有持仓表与日亏损统计，决定是否允许交易
type RiskManager struct {
	mu sync.RWMutex

	cfg       RiskConfig
	positions map[string]*exchange.TradingPosition
	trackers  map[string]*DailyLossTracker

	emergencyStop bool
	stopReason    string
	stoppedAt     time.Time

	realizedPnL     float64
	lastEnforcement time.Time

	onStateChange StateChangeFunc
	now           func() time.Time
}

// NewRiskManager 创建风控管理器
func NewRiskManager(cfg RiskConfig) (*RiskManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RiskManager{
		cfg:       cfg,
		positions: make(map[string]*exchange.TradingPosition),
		trackers:  make(map[string]*DailyLossTracker),
		now:       time.Now,
	}, nil
}

// SetStateChangeCallback 设置紧急停止状态变化回调
func (rm *RiskManager) SetStateChangeCallback(fn StateChangeFunc) {
	rm.mu.Lock()
	rm.onStateChange = fn
	rm.mu.Unlock()
}

// UpdateConfig 热更新风控参数
func (rm *RiskManager) UpdateConfig(cfg RiskConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	rm.mu.Lock()
	old := rm.cfg
	rm.cfg = cfg
	rm.mu.Unlock()

	logger.Info("🔄 风控参数已更新: 日亏损上限 %.2f -> %.2f, 单笔上限 %.2f -> %.2f, 止损 %.2f%% -> %.2f%%, 最大持仓 %d -> %d",
		old.MaxDailyLoss, cfg.MaxDailyLoss, old.MaxPositionSize, cfg.MaxPositionSize,
		old.StopLossPercentage, cfg.StopLossPercentage, old.MaxOpenPositions, cfg.MaxOpenPositions)
	return nil
}

// Config 当前风控参数
func (rm *RiskManager) Config() RiskConfig {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.cfg
}

// todayLocked 当日统计，跨日时新建并清理过期记录
func (rm *RiskManager) todayLocked() *DailyLossTracker {
	key := utils.DayKey(rm.now())
	t, ok := rm.trackers[key]
	if ok {
		return t
	}
	t = &DailyLossTracker{Date: key}
	rm.trackers[key] = t

	if len(rm.trackers) > trackerHistory {
		keys := make([]string, 0, len(rm.trackers))
		for k := range rm.trackers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys[:len(keys)-trackerHistory] {
			delete(rm.trackers, k)
		}
	}
	return t
}

// DailyLoss 当日亏损统计
func (rm *RiskManager) DailyLoss() DailyLossTracker {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return *rm.todayLocked()
}

// IsEmergencyStopped 是否处于紧急停止
func (rm *RiskManager) IsEmergencyStopped() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.emergencyStop
}

// EmergencyStop 触发紧急停止，未启用时不生效，返回是否处于停止状态
func (rm *RiskManager) EmergencyStop(reason string) bool {
	rm.mu.Lock()
	changed, stopped := rm.emergencyStopLocked(reason)
	cb := rm.onStateChange
	rm.mu.Unlock()

	if changed && cb != nil {
		cb(true, reason)
	}
	return stopped
}

func (rm *RiskManager) emergencyStopLocked(reason string) (changed, stopped bool) {
	if !rm.cfg.EmergencyStopEnabled {
		logger.Warn("⚠️ 紧急停止未启用，忽略: %s", reason)
		return false, rm.emergencyStop
	}
	if rm.emergencyStop {
		return false, true
	}
	rm.emergencyStop = true
	rm.stopReason = reason
	rm.stoppedAt = rm.now()
	logger.Error("🚨 紧急停止已触发: %s", reason)
	return true, true
}

// ResetEmergencyStop 人工解除紧急停止
func (rm *RiskManager) ResetEmergencyStop() {
	rm.mu.Lock()
	was := rm.emergencyStop
	rm.emergencyStop = false
	rm.stopReason = ""
	rm.stoppedAt = time.Time{}
	cb := rm.onStateChange
	rm.mu.Unlock()

	if was {
		logger.Info("✅ 紧急停止已解除，恢复交易")
		if cb != nil {
			cb(false, "manual reset")
		}
	}
}

// CalculatePositionSize 计算下单金额（计价币）：余额 10% × 置信度，
// 上限 min(MaxPositionSize, 余额 25%)，不低于 MinTradeSize；余额不足最小金额时返回 0
func (rm *RiskManager) CalculatePositionSize(signal exchange.TradingSignal, balance float64) float64 {
	rm.mu.RLock()
	cfg := rm.cfg
	rm.mu.RUnlock()

	if balance <= 0 || math.IsNaN(balance) || balance < cfg.MinTradeSize {
		return 0
	}
	confidence := math.Max(0, math.Min(1, signal.Confidence))

	adjusted := balance * baseSizeRatio * confidence
	limit := math.Min(cfg.MaxPositionSize, balance*maxBalanceRate)
	size := math.Min(adjusted, limit)
	if size < cfg.MinTradeSize {
		size = cfg.MinTradeSize
	}
	return size
}

// CheckStopLoss 未实现盈亏绝对值达到止损比例时返回 true，是否只看亏损方向由调用方决定
func (rm *RiskManager) CheckStopLoss(pos *exchange.TradingPosition) bool {
	if pos == nil || pos.Status != exchange.PositionOpen {
		return false
	}
	rm.mu.RLock()
	pct := rm.cfg.StopLossPercentage
	rm.mu.RUnlock()
	return stopLossHit(pos, pct)
}

func stopLossHit(pos *exchange.TradingPosition, pct float64) bool {
	cost := pos.CostBasis()
	if cost <= 0 {
		return false
	}
	return math.Abs(pos.UnrealizedPnL)/cost*100 >= pct
}

// ValidateTrade 简化版校验
func (rm *RiskManager) ValidateTrade(req exchange.TradeRequest) bool {
	return rm.ValidateTradeDetailed(req).IsValid
}

// ValidateTradeDetailed 按顺序校验，遇到第一个失败即返回：
// 紧急停止 -> 日亏损上限 -> 持仓数量 -> 单笔金额上限 -> 参数合法性
func (rm *RiskManager) ValidateTradeDetailed(req exchange.TradeRequest) TradeValidation {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	cfg := rm.cfg

	if rm.emergencyStop {
		return TradeValidation{Reason: fmt.Sprintf("紧急停止中 (emergency stop active): %s", rm.stopReason)}
	}

	today := rm.todayLocked()
	if today.TotalLoss >= cfg.MaxDailyLoss {
		return TradeValidation{Reason: fmt.Sprintf("已达日亏损上限: %.2f/%.2f", today.TotalLoss, cfg.MaxDailyLoss)}
	}

	if open := rm.openCountLocked(); open >= cfg.MaxOpenPositions {
		return TradeValidation{Reason: fmt.Sprintf("持仓数量已达上限: %d/%d", open, cfg.MaxOpenPositions)}
	}

	notional := req.Notional()
	if notional > cfg.MaxPositionSize {
		v := TradeValidation{Reason: fmt.Sprintf("下单金额 %.2f 超过单笔上限 %.2f", notional, cfg.MaxPositionSize)}
		if validNumber(req.Price) {
			v.AdjustedAmount = cfg.MaxPositionSize / req.Price
		}
		return v
	}

	if !validNumber(req.Amount) || !validNumber(req.Price) || !(notional > 0) || math.IsInf(notional, 0) ||
		req.Symbol == "" || (req.Side != exchange.SideBuy && req.Side != exchange.SideSell) {
		return TradeValidation{Reason: fmt.Sprintf("无效的交易请求: %s %s amount=%v price=%v", req.Symbol, req.Side, req.Amount, req.Price)}
	}

	return TradeValidation{IsValid: true}
}

// validNumber 有限正数
func validNumber(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// UpdatePositions 用网关返回的持仓替换持仓表
func (rm *RiskManager) UpdatePositions(positions []*exchange.TradingPosition) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.positions = make(map[string]*exchange.TradingPosition, len(positions))
	for _, p := range positions {
		if p == nil {
			continue
		}
		copied := *p
		rm.positions[p.ID] = &copied
	}
}

// AddPosition 开仓成功后登记（下一轮刷新前计入持仓数量）
func (rm *RiskManager) AddPosition(pos *exchange.TradingPosition) {
	if pos == nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	copied := *pos
	rm.positions[pos.ID] = &copied
}

// RemovePosition 平仓后移除
func (rm *RiskManager) RemovePosition(id string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.positions, id)
}

// Positions 当前持仓副本，按交易对排序
func (rm *RiskManager) Positions() []*exchange.TradingPosition {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]*exchange.TradingPosition, 0, len(rm.positions))
	for _, p := range rm.positions {
		copied := *p
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenPositionCount 未平仓数量
func (rm *RiskManager) OpenPositionCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.openCountLocked()
}

func (rm *RiskManager) openCountLocked() int {
	n := 0
	for _, p := range rm.positions {
		if p.Status == exchange.PositionOpen {
			n++
		}
	}
	return n
}

// RecordTrade 记录一笔成交
func (rm *RiskManager) RecordTrade() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.todayLocked().Trades++
}

// RecordRealizedPnL 平仓后记录已实现盈亏：移除持仓并按剩余持仓重算未实现亏损，
// 同一笔亏损不会同时计入已实现和未实现。达到上限时触发紧急停止
func (rm *RiskManager) RecordRealizedPnL(positionID string, pnl float64) {
	rm.mu.Lock()
	if positionID != "" {
		delete(rm.positions, positionID)
	}
	rm.realizedPnL += pnl
	today := rm.todayLocked()
	today.Trades++
	if pnl < 0 {
		today.RealizedLoss += -pnl
	}
	today.UnrealizedLoss = rm.unrealizedLossLocked()
	today.recompute()
	changed, reason := rm.checkDailyLimitLocked(today)
	cb := rm.onStateChange
	rm.mu.Unlock()

	if changed && cb != nil {
		cb(true, reason)
	}
}

// RestoreRealizedLoss 重启后恢复当日已实现亏损（正数）
func (rm *RiskManager) RestoreRealizedLoss(loss float64) {
	if loss <= 0 {
		return
	}
	rm.mu.Lock()
	today := rm.todayLocked()
	today.RealizedLoss += loss
	today.recompute()
	changed, reason := rm.checkDailyLimitLocked(today)
	cb := rm.onStateChange
	rm.mu.Unlock()

	if changed && cb != nil {
		cb(true, reason)
	}
}

func (rm *RiskManager) unrealizedLossLocked() float64 {
	loss := 0.0
	for _, p := range rm.positions {
		if p.Status == exchange.PositionOpen && p.UnrealizedPnL < 0 {
			loss += -p.UnrealizedPnL
		}
	}
	return loss
}

func (rm *RiskManager) checkDailyLimitLocked(today *DailyLossTracker) (bool, string) {
	if today.TotalLoss < rm.cfg.MaxDailyLoss || rm.emergencyStop {
		return false, ""
	}
	reason := fmt.Sprintf("当日亏损 %.2f 达到上限 %.2f", today.TotalLoss, rm.cfg.MaxDailyLoss)
	changed, _ := rm.emergencyStopLocked(reason)
	return changed, reason
}

// EnforceRiskLimits 风控巡检：重算当日未实现亏损，标记触发止损的持仓，
// 日亏损达到上限时自动触发紧急停止
func (rm *RiskManager) EnforceRiskLimits() RiskReport {
	rm.mu.Lock()
	today := rm.todayLocked()

	var hits []*exchange.TradingPosition
	for _, p := range rm.positions {
		if p.Status == exchange.PositionOpen && p.UnrealizedPnL < 0 && stopLossHit(p, rm.cfg.StopLossPercentage) {
			copied := *p
			hits = append(hits, &copied)
		}
	}
	today.UnrealizedLoss = rm.unrealizedLossLocked()
	today.recompute()
	rm.lastEnforcement = rm.now()

	changed, reason := rm.checkDailyLimitLocked(today)
	report := RiskReport{
		DailyLoss:         *today,
		StopLossPositions: hits,
		EmergencyStopped:  rm.emergencyStop,
	}
	cb := rm.onStateChange
	rm.mu.Unlock()

	sort.Slice(report.StopLossPositions, func(i, j int) bool {
		return report.StopLossPositions[i].Symbol < report.StopLossPositions[j].Symbol
	})
	if len(hits) > 0 {
		logger.Warn("⚠️ %d 个持仓触发止损线 (%.2f%%)", len(hits), rm.Config().StopLossPercentage)
	}
	if changed && cb != nil {
		cb(true, reason)
	}
	return report
}

// Snapshot 风控状态快照
func (rm *RiskManager) Snapshot() RiskSnapshot {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return RiskSnapshot{
		EmergencyStop:   rm.emergencyStop,
		StopReason:      rm.stopReason,
		StoppedAt:       rm.stoppedAt,
		DailyLoss:       *rm.todayLocked(),
		DailyLossLimit:  rm.cfg.MaxDailyLoss,
		OpenPositions:   rm.openCountLocked(),
		Config:          rm.cfg,
		RealizedPnL:     rm.realizedPnL,
		LastEnforcement: rm.lastEnforcement,
	}
}
