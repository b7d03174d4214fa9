package event

// EventSeverity 事件级别
type EventSeverity string

const (
	SeverityCritical EventSeverity = "critical"
	SeverityWarning  EventSeverity = "warning"
	SeverityInfo     EventSeverity = "info"
)

// EventSource 事件来源
type EventSource string

const (
	SourceExchange EventSource = "exchange"
	SourceRisk     EventSource = "risk"
	SourceEngine   EventSource = "engine"
	SourceSystem   EventSource = "system"
	SourceAPI      EventSource = "api"
)

// GetEventSeverity 获取事件级别
func GetEventSeverity(t EventType) EventSeverity {
	switch t {
	case EventTypeEmergencyStop, EventTypeCircuitOpen, EventTypeAPIAuthFailed, EventTypeEngineStopped:
		return SeverityCritical
	case EventTypeStopLoss, EventTypeOrderFailed, EventTypeAPIRateLimited, EventTypeAPIRequestFailed,
		EventTypeEngineCycleError, EventTypePersistenceFailed, EventTypeTradeRejected, EventTypeConfigFailed, EventTypeError:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// GetEventSource 获取事件来源
func GetEventSource(t EventType) EventSource {
	switch t {
	case EventTypeOrderPlaced, EventTypeOrderFailed, EventTypeOrderCanceled, EventTypeCircuitOpen, EventTypeCircuitClosed,
		EventTypeAPIRateLimited, EventTypeAPIAuthFailed, EventTypeAPIRequestFailed:
		return SourceExchange
	case EventTypeEmergencyStop, EventTypeEmergencyReset, EventTypeStopLoss, EventTypeTradeRejected:
		return SourceRisk
	case EventTypePositionOpened, EventTypePositionClosed, EventTypeTakeProfit, EventTypeSignalReceived,
		EventTypeEngineStarted, EventTypeEngineStopped, EventTypeEngineCycleError:
		return SourceEngine
	case EventTypeAPIAudit:
		return SourceAPI
	default:
		return SourceSystem
	}
}

var eventTitles = map[EventType]string{
	EventTypeOrderPlaced:       "订单已提交",
	EventTypeOrderFailed:       "下单失败",
	EventTypeOrderCanceled:     "订单已撤销",
	EventTypePositionOpened:    "开仓",
	EventTypePositionClosed:    "平仓",
	EventTypeStopLoss:          "止损触发",
	EventTypeTakeProfit:        "止盈触发",
	EventTypeSignalReceived:    "收到交易信号",
	EventTypeTradeRejected:     "风控拒绝交易",
	EventTypeEmergencyStop:     "紧急停止",
	EventTypeEmergencyReset:    "紧急停止已解除",
	EventTypeCircuitOpen:       "熔断器打开",
	EventTypeCircuitClosed:     "熔断器恢复",
	EventTypeAPIRateLimited:    "API 限流",
	EventTypeAPIAuthFailed:     "API 认证失败",
	EventTypeAPIRequestFailed:  "API 请求失败",
	EventTypePersistenceFailed: "持久化失败",
	EventTypeEngineStarted:     "交易引擎启动",
	EventTypeEngineStopped:     "交易引擎停止",
	EventTypeEngineCycleError:  "交易循环异常",
	EventTypeConfigUpdated:     "配置已更新",
	EventTypeConfigFailed:      "配置热更新失败",
	EventTypeAPIAudit:          "控制接口操作",
	EventTypeError:             "错误",
}

// GetEventTitle 获取事件标题
func GetEventTitle(t EventType) string {
	if title, ok := eventTitles[t]; ok {
		return title
	}
	return string(t)
}
