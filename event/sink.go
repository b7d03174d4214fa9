package event

import (
	"time"

	"tradeguard/logger"
)

// ErrorSink 按错误类别上报的回调，注入网关与交易引擎
type ErrorSink interface {
	LogError(op string, err error)
	HandleAuthenticationError(venue string, err error)
	HandleRateLimitError(venue string, retryAfter time.Duration)
	HandleNetworkError(venue string, err error)
	HandleCircuitOpen(venue string)
	HandleValidationError(symbol, reason string)
	HandleEmergencyStop(reason string)
}

// BusErrorSink 记录日志并发布到事件总线
type BusErrorSink struct {
	bus *EventBus
}

// NewBusErrorSink 创建基于事件总线的错误回调，bus 为 nil 时只记日志
func NewBusErrorSink(bus *EventBus) *BusErrorSink {
	return &BusErrorSink{bus: bus}
}

func (s *BusErrorSink) LogError(op string, err error) {
	logger.Error("❌ [%s] %v", op, err)
	s.bus.Emit(EventTypeError, map[string]interface{}{
		"op":    op,
		"error": err.Error(),
	})
}

func (s *BusErrorSink) HandleAuthenticationError(venue string, err error) {
	logger.Error("🔑 [%s] 认证失败: %v", venue, err)
	s.bus.Emit(EventTypeAPIAuthFailed, map[string]interface{}{
		"exchange": venue,
		"error":    err.Error(),
	})
}

func (s *BusErrorSink) HandleRateLimitError(venue string, retryAfter time.Duration) {
	logger.Warn("⏳ [%s] 触发交易所限流, Retry-After: %v", venue, retryAfter)
	s.bus.Emit(EventTypeAPIRateLimited, map[string]interface{}{
		"exchange":    venue,
		"retry_after": retryAfter.Seconds(),
	})
}

func (s *BusErrorSink) HandleNetworkError(venue string, err error) {
	logger.Warn("🌐 [%s] 网络错误: %v", venue, err)
	s.bus.Emit(EventTypeAPIRequestFailed, map[string]interface{}{
		"exchange": venue,
		"error":    err.Error(),
	})
}

func (s *BusErrorSink) HandleCircuitOpen(venue string) {
	logger.Warn("🔌 [%s] 熔断器打开，请求被拒绝", venue)
	s.bus.Emit(EventTypeCircuitOpen, map[string]interface{}{
		"exchange": venue,
	})
}

func (s *BusErrorSink) HandleValidationError(symbol, reason string) {
	logger.Warn("🚫 [%s] 交易校验未通过: %s", symbol, reason)
	s.bus.Emit(EventTypeTradeRejected, map[string]interface{}{
		"symbol": symbol,
		"reason": reason,
	})
}

func (s *BusErrorSink) HandleEmergencyStop(reason string) {
	logger.Error("🚨 紧急停止: %s", reason)
	s.bus.Emit(EventTypeEmergencyStop, map[string]interface{}{
		"reason": reason,
	})
}

// NopErrorSink 忽略所有错误回调
type NopErrorSink struct{}

func (NopErrorSink) LogError(string, error) {}
func (NopErrorSink) HandleAuthenticationError(string, error) {}
func (NopErrorSink) HandleRateLimitError(string, time.Duration) {}
func (NopErrorSink) HandleNetworkError(string, error) {}
func (NopErrorSink) HandleCircuitOpen(string) {}
func (NopErrorSink) HandleValidationError(string, string) {}
func (NopErrorSink) HandleEmergencyStop(string) {}
