package notify

import (
	"sync"

	"tradeguard/config"
	"tradeguard/event"
	"tradeguard/logger"
)

// Notifier 通知渠道
type Notifier interface {
	Send(evt *event.Event) error
	Name() string
}

// NotificationService 通知服务，实现 event.NotificationService
type NotificationService struct {
	notifiers []Notifier
	wg        sync.WaitGroup
}

// NewNotificationService 按配置初始化启用的通知渠道
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{}
	if !cfg.Notifications.Enabled {
		return ns
	}

	if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
		telegramNotifier, err := NewTelegramNotifier(cfg)
		if err != nil {
			logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
		} else {
			ns.notifiers = append(ns.notifiers, telegramNotifier)
			logger.Info("✅ Telegram 通知已启用")
		}
	}

	if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
		webhookNotifier, err := NewWebhookNotifier(cfg)
		if err != nil {
			logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
		} else {
			ns.notifiers = append(ns.notifiers, webhookNotifier)
			logger.Info("✅ Webhook 通知已启用")
		}
	}

	return ns
}

// NewWithNotifiers 直接指定通知渠道
func NewWithNotifiers(notifiers ...Notifier) *NotificationService {
	return &NotificationService{notifiers: notifiers}
}

// Enabled 是否有可用渠道
func (ns *NotificationService) Enabled() bool {
	return len(ns.notifiers) > 0
}

// Send 异步发送到所有渠道，不阻塞事件中心
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil || len(ns.notifiers) == 0 {
		return
	}
	for _, n := range ns.notifiers {
		ns.wg.Add(1)
		go func(n Notifier) {
			defer ns.wg.Done()
			if err := n.Send(evt); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(n)
	}
}

// Wait 等待已发出的通知完成（退出前调用）
func (ns *NotificationService) Wait() {
	ns.wg.Wait()
}

// severityEmoji 按事件级别选择前缀
func severityEmoji(t event.EventType) string {
	switch t {
	case event.EventTypeTakeProfit:
		return "💰"
	case event.EventTypeEmergencyReset, event.EventTypeCircuitClosed:
		return "✅"
	}
	switch event.GetEventSeverity(t) {
	case event.SeverityCritical:
		return "🚨"
	case event.SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
