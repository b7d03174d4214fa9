package event

import (
	"sync"
	"time"

	"tradeguard/logger"
)

// EventType 事件类型
type EventType string

const (
	EventTypeOrderPlaced    EventType = "order_placed"
	EventTypeOrderFailed    EventType = "order_failed"
	EventTypeOrderCanceled  EventType = "order_canceled"
	EventTypePositionOpened EventType = "position_opened"
	EventTypePositionClosed EventType = "position_closed"
	EventTypeStopLoss       EventType = "stop_loss"
	EventTypeTakeProfit     EventType = "take_profit"
	EventTypeSignalReceived EventType = "signal_received"
	EventTypeTradeRejected  EventType = "trade_rejected"

	EventTypeEmergencyStop  EventType = "emergency_stop"
	EventTypeEmergencyReset EventType = "emergency_reset"

	EventTypeCircuitOpen       EventType = "circuit_open"
	EventTypeCircuitClosed     EventType = "circuit_closed"
	EventTypeAPIRateLimited    EventType = "api_rate_limited"
	EventTypeAPIAuthFailed     EventType = "api_auth_failed"
	EventTypeAPIRequestFailed  EventType = "api_request_failed"
	EventTypePersistenceFailed EventType = "persistence_failed"

	EventTypeEngineStarted    EventType = "engine_started"
	EventTypeEngineStopped    EventType = "engine_stopped"
	EventTypeEngineCycleError EventType = "engine_cycle_error"
	EventTypeConfigUpdated    EventType = "config_updated"
	EventTypeConfigFailed     EventType = "config_reload_failed"
	EventTypeAPIAudit         EventType = "api_audit"
	EventTypeError            EventType = "error"
)

// Event 事件结构
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// EventBus 事件总线，每个订阅者独立缓冲
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan *Event
	bufferSize  int
	closed      bool
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &EventBus{bufferSize: bufferSize}
}

// Publish 发布事件（非阻塞，订阅者缓冲满时丢弃）
func (eb *EventBus) Publish(event *Event) {
	if eb == nil || event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", event.Type)
		}
	}
}

// Emit 发布事件的便捷方法
func (eb *EventBus) Emit(eventType EventType, data map[string]interface{}) {
	eb.Publish(&Event{Type: eventType, Timestamp: time.Now(), Data: data})
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe() <-chan *Event {
	ch := make(chan *Event, eb.bufferSize)
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(ch)
		return ch
	}
	eb.subscribers = append(eb.subscribers, ch)
	return ch
}

// Unsubscribe 取消订阅
func (eb *EventBus) Unsubscribe(sub <-chan *Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, ch := range eb.subscribers {
		if ch == sub {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, ch := range eb.subscribers {
		close(ch)
	}
	eb.subscribers = nil
}
