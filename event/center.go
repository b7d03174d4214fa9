package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"tradeguard/database"
	"tradeguard/logger"
)

// EventStore 事件持久化（database.Database 的子集）
type EventStore interface {
	SaveEvent(ctx context.Context, event *database.EventRecord) error
	CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error
}

// NotificationService 通知服务接口
type NotificationService interface {
	Send(event *Event)
}

// EventCenter 事件中心：订阅事件总线，入库、通知并分发给处理器
type EventCenter struct {
	store      EventStore
	eventBus   *EventBus
	notifier   NotificationService
	config     *EventCenterConfig
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	processors []EventProcessor
}

// EventCenterConfig 事件中心配置
type EventCenterConfig struct {
	Enabled         bool
	CleanupInterval int // 小时
	Retention       RetentionConfig
}

// RetentionConfig 保留策略配置
type RetentionConfig struct {
	CriticalDays     int
	WarningDays      int
	InfoDays         int
	CriticalMaxCount int
	WarningMaxCount  int
	InfoMaxCount     int
}

// NewEventCenter 创建事件中心，store 与 notifier 均可为 nil
func NewEventCenter(store EventStore, eventBus *EventBus, notifier NotificationService, config *EventCenterConfig) *EventCenter {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventCenter{
		store:    store,
		eventBus: eventBus,
		notifier: notifier,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterProcessor 注册事件处理器（如 WebSocket 推送）
func (ec *EventCenter) RegisterProcessor(p EventProcessor) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.processors = append(ec.processors, p)
}

// Start 启动事件中心
func (ec *EventCenter) Start() error {
	if !ec.config.Enabled {
		logger.Info("⏸️ 事件中心未启用")
		return nil
	}

	logger.Info("🚀 启动事件中心...")

	// 在启动前订阅，避免丢失启动期间的事件
	eventCh := ec.eventBus.Subscribe()

	ec.wg.Add(1)
	go ec.processEvents(eventCh)

	if ec.store != nil && ec.config.CleanupInterval > 0 {
		ec.wg.Add(1)
		go ec.cleanupTask()
	}

	logger.Info("✅ 事件中心已启动")
	return nil
}

// Stop 停止事件中心
func (ec *EventCenter) Stop() {
	logger.Info("🛑 停止事件中心...")
	ec.cancel()
	ec.wg.Wait()
	logger.Info("✅ 事件中心已停止")
}

func (ec *EventCenter) processEvents(eventCh <-chan *Event) {
	defer ec.wg.Done()
	defer ec.eventBus.Unsubscribe(eventCh)

	for {
		select {
		case <-ec.ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			ec.handleEvent(event)
		}
	}
}

// handleEvent 处理单个事件
func (ec *EventCenter) handleEvent(event *Event) {
	if event == nil {
		return
	}

	severity := GetEventSeverity(event.Type)

	if ec.store != nil {
		record := ec.buildRecord(event, severity)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := ec.store.SaveEvent(ctx, record)
		cancel()
		if err != nil {
			logger.Error("❌ 保存事件失败: %v", err)
		}
	}

	if ec.notifier != nil && shouldNotify(event.Type, severity) {
		ec.notifier.Send(event)
	}

	ec.mu.RLock()
	processors := append([]EventProcessor(nil), ec.processors...)
	ec.mu.RUnlock()
	for _, p := range processors {
		p.ProcessEvent(event)
	}
}

func (ec *EventCenter) buildRecord(event *Event, severity EventSeverity) *database.EventRecord {
	detailsJSON, err := json.Marshal(event.Data)
	if err != nil {
		logger.Warn("⚠️ 序列化事件详情失败: %v", err)
		detailsJSON = []byte("{}")
	}
	return &database.EventRecord{
		Type:      string(event.Type),
		Severity:  string(severity),
		Source:    string(GetEventSource(event.Type)),
		Exchange:  extractString(event.Data, "exchange"),
		Symbol:    extractString(event.Data, "symbol"),
		Title:     GetEventTitle(event.Type),
		Message:   BuildMessage(event),
		Details:   string(detailsJSON),
		CreatedAt: event.Timestamp,
	}
}

func extractString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func extractFloat(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// BuildMessage 构建事件的可读消息
func BuildMessage(event *Event) string {
	d := event.Data
	switch event.Type {
	case EventTypeOrderPlaced, EventTypeOrderFailed, EventTypeOrderCanceled:
		msg := fmt.Sprintf("%s %s %.8f @ %.4f", extractString(d, "symbol"), extractString(d, "side"),
			extractFloat(d, "amount"), extractFloat(d, "price"))
		if reason := extractString(d, "error"); reason != "" {
			msg += ": " + reason
		}
		return msg
	case EventTypePositionClosed, EventTypeStopLoss, EventTypeTakeProfit:
		return fmt.Sprintf("%s %s 平仓 %.8f, 开仓 %.4f → 平仓 %.4f, 盈亏 %.2f",
			extractString(d, "symbol"), extractString(d, "side"), extractFloat(d, "amount"),
			extractFloat(d, "entry_price"), extractFloat(d, "exit_price"), extractFloat(d, "pnl"))
	case EventTypeTradeRejected:
		return fmt.Sprintf("%s %s 被拒绝: %s", extractString(d, "symbol"), extractString(d, "side"), extractString(d, "reason"))
	case EventTypeEmergencyStop:
		return fmt.Sprintf("紧急停止: %s", extractString(d, "reason"))
	case EventTypeAPIRateLimited:
		return fmt.Sprintf("%s API 限流, Retry-After %.0fs", extractString(d, "exchange"), extractFloat(d, "retry_after"))
	case EventTypeAPIAuthFailed, EventTypeAPIRequestFailed:
		return fmt.Sprintf("%s API 错误: %s", extractString(d, "exchange"), extractString(d, "error"))
	}
	if msg := extractString(d, "message"); msg != "" {
		return msg
	}
	if err := extractString(d, "error"); err != "" {
		return err
	}
	return fmt.Sprintf("事件类型: %s", event.Type)
}

// shouldNotify 判断是否需要发送通知
func shouldNotify(eventType EventType, severity EventSeverity) bool {
	if severity == SeverityCritical {
		return true
	}
	switch eventType {
	case EventTypeStopLoss, EventTypeTakeProfit, EventTypeOrderFailed, EventTypeAPIRateLimited:
		return true
	}
	return false
}

func (ec *EventCenter) cleanupTask() {
	defer ec.wg.Done()

	interval := time.Duration(ec.config.CleanupInterval) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ec.ctx.Done():
			return
		case <-ticker.C:
			ec.performCleanup()
		}
	}
}

// performCleanup 按级别执行保留策略
func (ec *EventCenter) performCleanup() {
	logger.Info("🧹 开始清理旧事件...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	r := ec.config.Retention
	rules := []struct {
		severity EventSeverity
		count    int
		days     int
	}{
		{SeverityCritical, r.CriticalMaxCount, r.CriticalDays},
		{SeverityWarning, r.WarningMaxCount, r.WarningDays},
		{SeverityInfo, r.InfoMaxCount, r.InfoDays},
	}
	for _, rule := range rules {
		if err := ec.store.CleanupOldEvents(ctx, string(rule.severity), rule.count, rule.days); err != nil {
			logger.Error("❌ 清理 %s 事件失败: %v", rule.severity, err)
		}
	}

	logger.Info("✅ 事件清理完成")
}

// PublishEvent 发布事件（便捷方法）
func (ec *EventCenter) PublishEvent(eventType EventType, data map[string]interface{}) {
	ec.eventBus.Emit(eventType, data)
}
