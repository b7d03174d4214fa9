package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tradeguard/database"
	"tradeguard/engine"
	"tradeguard/event"
	"tradeguard/exchange"
	"tradeguard/signal"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// PositionInfo 持仓信息
type PositionInfo struct {
	*exchange.TradingPosition
	PnLPercent float64 `json:"pnl_percent"`
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.Status())
}

func (s *Server) getPositions(c *gin.Context) {
	positions := s.deps.Engine.Positions()
	list := make([]PositionInfo, 0, len(positions))
	totalPnL := 0.0
	for _, p := range positions {
		list = append(list, PositionInfo{TradingPosition: p, PnLPercent: p.PnLPercent()})
		totalPnL += p.UnrealizedPnL
	}
	c.JSON(http.StatusOK, gin.H{
		"positions":      list,
		"count":          len(list),
		"unrealized_pnl": totalPnL,
	})
}

func (s *Server) getRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Risk.Snapshot())
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) emergencyStop(c *gin.Context) {
	var req emergencyStopRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式: " + err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	if !s.deps.Risk.EmergencyStop(req.Reason) {
		c.JSON(http.StatusConflict, gin.H{"error": "紧急停止未启用 (risk.emergency_stop_enabled=false)"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Risk.Snapshot())
}

func (s *Server) resetEmergencyStop(c *gin.Context) {
	s.deps.Risk.ResetEmergencyStop()
	c.JSON(http.StatusOK, s.deps.Risk.Snapshot())
}

func (s *Server) startEngine(c *gin.Context) {
	if err := s.deps.Engine.Start(c.Request.Context()); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.deps.Engine.Status())
}

func (s *Server) stopEngine(c *gin.Context) {
	// 平仓可能较慢，不跟随请求取消
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := s.deps.Engine.Stop(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "status": s.deps.Engine.Status()})
		return
	}
	c.JSON(http.StatusOK, s.deps.Engine.Status())
}

func (s *Server) pushSignal(c *gin.Context) {
	if s.deps.Signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "信号队列未启用"})
		return
	}
	var sig exchange.TradingSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的信号格式: " + err.Error()})
		return
	}
	if err := s.deps.Signals.Push(sig); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, signal.ErrQueueFull) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.deps.Bus.Emit(event.EventTypeSignalReceived, map[string]interface{}{
		"symbol":     sig.Symbol,
		"action":     string(sig.Action),
		"confidence": sig.Confidence,
		"source":     "api",
	})
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (s *Server) getExecutions(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "存储服务未启用"})
		return
	}
	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}
	limit, offset := parsePaging(c)
	records, err := s.deps.History.Executions(c.Request.Context(), &database.ExecutionFilter{
		Symbol:    c.Query("symbol"),
		Side:      c.Query("side"),
		StartTime: start,
		EndTime:   end,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records, "count": len(records)})
}

func (s *Server) getPositionCloses(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "存储服务未启用"})
		return
	}
	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}
	limit, offset := parsePaging(c)
	records, err := s.deps.History.PositionCloses(c.Request.Context(), &database.PositionCloseFilter{
		Symbol:    c.Query("symbol"),
		Reason:    c.Query("reason"),
		StartTime: start,
		EndTime:   end,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total := 0.0
	for _, r := range records {
		total += r.RealizedPnL
	}
	c.JSON(http.StatusOK, gin.H{"positions": records, "count": len(records), "realized_pnl": total})
}

// parseTimeRange 解析 start_time/end_time (RFC3339)，失败时已写入响应
func parseTimeRange(c *gin.Context) (start, end *time.Time, ok bool) {
	if v := c.Query("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的开始时间格式"})
			return nil, nil, false
		}
		start = &t
	}
	if v := c.Query("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的结束时间格式"})
			return nil, nil, false
		}
		end = &t
	}
	return start, end, true
}

func parsePaging(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultQueryLimit)))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
