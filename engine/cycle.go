package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradeguard/event"
	"tradeguard/exchange"
	"tradeguard/logger"
)

// RunCycle 执行一轮交易循环：
// 刷新持仓 -> 止盈止损 -> 拉取信号 -> 按置信度排序 -> 风控校验并下单
func (e *Engine) RunCycle(ctx context.Context) (err error) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("交易循环 panic: %v", r)
		}
		e.finishCycle(start, err)
	}()

	cfg := e.Config()

	// 1. 刷新持仓
	positions, err := e.gw.GetCurrentPositions(ctx)
	if err != nil {
		return fmt.Errorf("刷新持仓失败: %w", err)
	}
	e.risk.UpdatePositions(positions)
	for _, p := range positions {
		e.recorder.SetUnrealizedPnL(e.gw.Name(), p.Symbol, p.UnrealizedPnL)
	}

	report := e.risk.EnforceRiskLimits()
	e.recorder.SetDailyLoss(report.DailyLoss.TotalLoss)
	e.recorder.SetEmergencyStop(report.EmergencyStopped)

	// 2. 止盈止损（紧急停止期间仍允许平仓）
	e.evaluateExits(ctx, cfg, positions)

	// 3. 拉取信号
	signals, err := e.signals.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("拉取信号失败: %w", err)
	}
	candidates := e.filterSignals(cfg, signals)

	// 4. 置信度从高到低
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	// 5. 逐个校验并执行
	if len(candidates) > 0 {
		e.executeSignals(ctx, cfg, candidates)
	}

	e.recorder.SetOpenPositions(e.gw.Name(), e.risk.OpenPositionCount())
	return nil
}

func (e *Engine) finishCycle(start time.Time, err error) {
	d := e.now().Sub(start)
	e.stats.RecordCycle(d, err)
	e.recorder.RecordCycle(d, err)

	e.statusMu.Lock()
	e.lastCycleAt = e.now()
	if err != nil {
		e.lastError = err.Error()
	} else {
		e.lastError = ""
	}
	e.statusMu.Unlock()

	if err == nil {
		logger.Debug("🔁 交易循环完成，耗时 %v", d)
	}
}

// evaluateExits 收益达到止盈线时 TAKE_PROFIT，亏损达到止损线时 STOP_LOSS
func (e *Engine) evaluateExits(ctx context.Context, cfg Config, positions []*exchange.TradingPosition) {
	for _, pos := range positions {
		if pos.Status != exchange.PositionOpen {
			continue
		}
		reason := ""
		switch {
		case pos.PnLPercent() >= cfg.TakeProfitPercentage:
			reason = ReasonTakeProfit
		case pos.UnrealizedPnL < 0 && e.risk.CheckStopLoss(pos):
			reason = ReasonStopLoss
		default:
			continue
		}
		logger.Info("🎯 [%s] %s 触发 %s: 盈亏 %.2f (%.2f%%)", e.gw.Name(), pos.Symbol, reason, pos.UnrealizedPnL, pos.PnLPercent())
		if err := e.closePosition(ctx, pos, reason); err != nil {
			logger.Error("❌ %v", err)
		}
	}
}

// closePosition 反向市价平仓，计入已实现盈亏并持久化
func (e *Engine) closePosition(ctx context.Context, pos *exchange.TradingPosition, reason string) error {
	exec, err := e.gw.ClosePosition(ctx, pos)
	if err != nil {
		e.stats.RecordOrderResult(false)
		e.recorder.RecordOrderFailure(e.gw.Name(), pos.Symbol, string(pos.Side.Opposite()), string(exchange.CodeOf(err)))
		return fmt.Errorf("平仓 %s (%s) 失败: %w", pos.Symbol, reason, err)
	}
	e.stats.RecordOrderResult(true)

	exitPrice := exec.Price
	if exitPrice <= 0 {
		exitPrice = pos.CurrentPrice
	}
	pnl := exchange.UnrealizedPnL(pos.Side, pos.EntryPrice, exitPrice, pos.Amount)

	e.risk.RecordRealizedPnL(pos.ID, pnl)
	e.stats.RecordPnL(pnl)
	e.recorder.RecordPositionClosed(e.gw.Name(), pos.Symbol, reason, pnl)

	e.persist("save_execution", e.store.SaveExecution(exec))
	e.persist("save_position_close", e.store.SavePositionClose(pos, exitPrice, pnl, reason))

	eventType := event.EventTypePositionClosed
	switch reason {
	case ReasonTakeProfit:
		eventType = event.EventTypeTakeProfit
	case ReasonStopLoss:
		eventType = event.EventTypeStopLoss
	}
	e.bus.Emit(eventType, map[string]interface{}{
		"exchange":    e.gw.Name(),
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"amount":      pos.Amount,
		"entry_price": pos.EntryPrice,
		"exit_price":  exitPrice,
		"pnl":         pnl,
		"reason":      reason,
	})
	logger.Info("💰 [%s] 平仓 %s %s %.8f @ %.4f, 已实现盈亏 %.2f (%s)",
		e.gw.Name(), pos.Symbol, pos.Side, pos.Amount, exitPrice, pnl, reason)
	return nil
}

// filterSignals 丢弃无效、hold 与置信度不足的信号
func (e *Engine) filterSignals(cfg Config, signals []exchange.TradingSignal) []exchange.TradingSignal {
	out := make([]exchange.TradingSignal, 0, len(signals))
	for _, s := range signals {
		s = s.Normalize()
		if err := s.Validate(); err != nil {
			logger.Warn("⚠️ 丢弃无效信号: %v", err)
			e.recorder.RecordSignal(string(s.Action), "invalid")
			continue
		}
		if s.Action == exchange.ActionHold {
			e.recorder.RecordSignal(string(s.Action), "hold")
			continue
		}
		if s.Confidence < cfg.MinConfidence {
			logger.Debug("📉 %s %s 置信度 %.2f 低于 %.2f，忽略", s.Symbol, s.Action, s.Confidence, cfg.MinConfidence)
			e.recorder.RecordSignal(string(s.Action), "low_confidence")
			e.persist("save_signal", e.store.SaveSignal(s, false))
			continue
		}
		e.bus.Emit(event.EventTypeSignalReceived, map[string]interface{}{
			"symbol":     s.Symbol,
			"action":     string(s.Action),
			"confidence": s.Confidence,
		})
		out = append(out, s)
	}
	return out
}

// executeSignals 持仓数量未达上限时依次执行，下单串行进行
func (e *Engine) executeSignals(ctx context.Context, cfg Config, signals []exchange.TradingSignal) {
	available, err := e.quoteBalance(ctx)
	if err != nil {
		logger.Error("❌ 查询余额失败，本轮不开新仓: %v", err)
		for _, s := range signals {
			e.persist("save_signal", e.store.SaveSignal(s, false))
		}
		return
	}

	for i, s := range signals {
		if e.risk.OpenPositionCount() >= cfg.MaxConcurrentTrades {
			logger.Info("⏸️ 持仓数量已达上限 %d，剩余 %d 个信号不再执行", cfg.MaxConcurrentTrades, len(signals)-i)
			for _, rest := range signals[i:] {
				e.recorder.RecordSignal(string(rest.Action), "max_concurrent")
				e.persist("save_signal", e.store.SaveSignal(rest, false))
			}
			return
		}
		executed, spent := e.executeSignal(ctx, cfg, s, available)
		available -= spent
		e.persist("save_signal", e.store.SaveSignal(s, executed))
	}
}

func (e *Engine) quoteBalance(ctx context.Context) (float64, error) {
	balances, err := e.gw.GetAccountBalance(ctx)
	if err != nil {
		return 0, err
	}
	return balances[e.gw.QuoteCurrency()].Available, nil
}

// executeSignal 返回是否下单成功以及占用的计价币
func (e *Engine) executeSignal(ctx context.Context, cfg Config, s exchange.TradingSignal, available float64) (bool, float64) {
	side := exchange.SideBuy
	if s.Action == exchange.ActionSell {
		side = exchange.SideSell
		if pos := e.findOpenPosition(s.Symbol); pos != nil && pos.Side == exchange.SideBuy {
			// 卖出信号优先平掉已有多头
			if err := e.closePosition(ctx, pos, ReasonSignal); err != nil {
				logger.Error("❌ %v", err)
				return false, 0
			}
			e.recorder.RecordSignal(string(s.Action), "closed")
			return true, 0
		}
		if !e.gw.AllowsShort() {
			logger.Info("ℹ️ [%s] %s 无持仓且不支持做空，忽略卖出信号", e.gw.Name(), s.Symbol)
			e.recorder.RecordSignal(string(s.Action), "no_position")
			return false, 0
		}
	}

	md, err := e.gw.GetMarketData(ctx, s.Symbol)
	if err != nil {
		logger.Error("❌ 获取 %s 行情失败: %v", s.Symbol, err)
		e.recorder.RecordSignal(string(s.Action), "market_data_error")
		return false, 0
	}
	price := md.Price
	if price <= 0 {
		logger.Warn("⚠️ %s 行情价格无效: %v", s.Symbol, price)
		return false, 0
	}

	size := e.risk.CalculatePositionSize(s, available)
	req := exchange.TradeRequest{Symbol: s.Symbol, Side: side, Price: price, Signal: &s}
	if size <= 0 {
		e.reject(req, fmt.Sprintf("可用余额 %.2f 不足最小下单金额", available), 0)
		return false, 0
	}
	req.Amount = size / price

	v := e.risk.ValidateTradeDetailed(req)
	if !v.IsValid && v.AdjustedAmount > 0 {
		logger.Info("✂️ %s 下单数量 %.8f 调整为 %.8f: %s", s.Symbol, req.Amount, v.AdjustedAmount, v.Reason)
		req.Amount = v.AdjustedAmount
		v = e.risk.ValidateTradeDetailed(req)
	}
	e.persist("save_risk_check", e.store.SaveRiskCheck(req, v.IsValid, v.Reason, v.AdjustedAmount))
	if !v.IsValid {
		e.reject(req, v.Reason, v.AdjustedAmount)
		return false, 0
	}

	started := e.now()
	exec, err := e.placeOrder(ctx, cfg, req)
	if err != nil {
		e.stats.RecordOrderResult(false)
		e.recorder.RecordOrderFailure(e.gw.Name(), req.Symbol, string(req.Side), string(exchange.CodeOf(err)))
		e.recorder.RecordSignal(string(s.Action), "order_failed")
		e.bus.Emit(event.EventTypeOrderFailed, map[string]interface{}{
			"exchange": e.gw.Name(),
			"symbol":   req.Symbol,
			"side":     string(req.Side),
			"amount":   req.Amount,
			"price":    req.Price,
			"error":    err.Error(),
		})
		logger.Error("❌ [%s] %s %s 下单失败: %v", e.gw.Name(), req.Symbol, req.Side, err)
		return false, 0
	}

	e.stats.RecordOrderResult(true)
	e.recorder.RecordOrder(e.gw.Name(), exec.Symbol, string(exec.Side), string(exec.Status), e.now().Sub(started))
	e.recorder.RecordSignal(string(s.Action), "executed")
	e.risk.RecordTrade()
	e.risk.AddPosition(&exchange.TradingPosition{
		ID:           fmt.Sprintf("%s-%s", exec.Symbol, exec.OrderID),
		Symbol:       exec.Symbol,
		Side:         exec.Side,
		Amount:       exec.Amount,
		EntryPrice:   exec.Price,
		CurrentPrice: exec.Price,
		Status:       exchange.PositionOpen,
		Timestamp:    exec.Timestamp,
	})
	e.persist("save_execution", e.store.SaveExecution(exec))

	data := map[string]interface{}{
		"exchange":   e.gw.Name(),
		"symbol":     exec.Symbol,
		"side":       string(exec.Side),
		"amount":     exec.Amount,
		"price":      exec.Price,
		"order_id":   exec.OrderID,
		"confidence": s.Confidence,
	}
	e.bus.Emit(event.EventTypeOrderPlaced, data)
	e.bus.Emit(event.EventTypePositionOpened, data)
	return true, exec.Amount * exec.Price
}

func (e *Engine) placeOrder(ctx context.Context, cfg Config, req exchange.TradeRequest) (*exchange.TradeExecution, error) {
	switch {
	case cfg.UseMarketOrders && req.Side == exchange.SideBuy:
		return e.gw.PlaceMarketBuyOrder(ctx, req.Symbol, req.Amount)
	case cfg.UseMarketOrders:
		return e.gw.PlaceMarketSellOrder(ctx, req.Symbol, req.Amount)
	case req.Side == exchange.SideBuy:
		return e.gw.PlaceBuyOrder(ctx, req.Symbol, req.Amount, req.Price)
	default:
		return e.gw.PlaceSellOrder(ctx, req.Symbol, req.Amount, req.Price)
	}
}

func (e *Engine) reject(req exchange.TradeRequest, reason string, adjusted float64) {
	if adjusted > 0 {
		reason = fmt.Sprintf("%s (建议数量 %.8f)", reason, adjusted)
	}
	e.recorder.RecordRiskRejection(req.Symbol)
	e.recorder.RecordSignal(string(req.Side), "rejected")
	e.sink.HandleValidationError(req.Symbol, reason)
}

func (e *Engine) findOpenPosition(symbol string) *exchange.TradingPosition {
	for _, p := range e.risk.Positions() {
		if p.Symbol == symbol && p.Status == exchange.PositionOpen {
			return p
		}
	}
	return nil
}

// persist 持久化失败只记录，不中断循环
func (e *Engine) persist(op string, err error) {
	if err == nil {
		return
	}
	logger.Warn("⚠️ [%s] 持久化失败: %v", op, err)
	e.bus.Emit(event.EventTypePersistenceFailed, map[string]interface{}{
		"op":    op,
		"error": err.Error(),
	})
}
