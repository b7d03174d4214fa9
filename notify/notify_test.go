package notify

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"tradeguard/config"
	"tradeguard/event"
)

func stopLossEvent() *event.Event {
	return &event.Event{
		Type:      event.EventTypeStopLoss,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"symbol": "BTC_USDT", "side": "buy", "amount": 0.01,
			"entry_price": 50000.0, "exit_price": 47000.0, "pnl": -30.0,
		},
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Webhook.URL = srv.URL
	wn, err := NewWebhookNotifier(cfg)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if err := wn.Send(stopLossEvent()); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if got["type"] != "stop_loss" || got["severity"] != "warning" || got["title"] != "止损触发" {
		t.Errorf("Webhook 内容错误: %v", got)
	}
	if msg, _ := got["message"].(string); !strings.Contains(msg, "BTC_USDT") {
		t.Errorf("消息应包含交易对: %v", got["message"])
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Webhook.URL = srv.URL
	wn, _ := NewWebhookNotifier(cfg)
	if err := wn.Send(stopLossEvent()); err == nil {
		t.Error("非 2xx 应返回错误")
	}

	if _, err := NewWebhookNotifier(&config.Config{}); err == nil {
		t.Error("未配置 URL 应返回错误")
	}
}

func TestTelegramNotifier(t *testing.T) {
	var path string
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Telegram.BotToken = "123:abc"
	cfg.Notifications.Telegram.ChatID = "42"
	tn, err := NewTelegramNotifier(cfg)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	tn.apiBase = srv.URL

	if err := tn.Send(stopLossEvent()); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Errorf("请求路径错误: %s", path)
	}
	text, _ := payload["text"].(string)
	if payload["chat_id"] != "42" || !strings.HasPrefix(text, "⚠️ *止损触发*") {
		t.Errorf("消息内容错误: %v", payload)
	}
	// 数据按键排序
	if strings.Index(text, "amount:") > strings.Index(text, "symbol:") {
		t.Errorf("数据字段应排序: %s", text)
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	types []event.EventType
	err   error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Send(evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, evt.Type)
	return r.err
}

func TestNotificationServiceFanOut(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("down")}
	ns := NewWithNotifiers(a, b)

	ns.Send(&event.Event{Type: event.EventTypeEmergencyStop})
	ns.Send(nil)
	ns.Wait()

	if len(a.types) != 1 || len(b.types) != 1 {
		t.Errorf("每个渠道应收到一次: %v %v", a.types, b.types)
	}

	if NewNotificationService(&config.Config{}).Enabled() {
		t.Error("未启用通知时不应有渠道")
	}
}

func TestSeverityEmoji(t *testing.T) {
	tests := []struct {
		typ  event.EventType
		want string
	}{
		{event.EventTypeEmergencyStop, "🚨"},
		{event.EventTypeStopLoss, "⚠️"},
		{event.EventTypeTakeProfit, "💰"},
		{event.EventTypeEmergencyReset, "✅"},
		{event.EventTypeSignalReceived, "ℹ️"},
	}
	for _, tt := range tests {
		if got := severityEmoji(tt.typ); got != tt.want {
			t.Errorf("severityEmoji(%s) = %s, 期望 %s", tt.typ, got, tt.want)
		}
	}
}
