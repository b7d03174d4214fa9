package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tradeguard/event"
)

func TestWebSocketStreamsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	bus := event.NewEventBus(10)
	center := event.NewEventCenter(nil, bus, nil, &event.EventCenterConfig{Enabled: true})
	center.RegisterProcessor(hub)
	if err := center.Start(); err != nil {
		t.Fatalf("启动事件中心失败: %v", err)
	}
	defer center.Stop()

	ts := setupTestServer(t, "", func(d *Deps) { d.Hub = hub; d.Bus = bus })
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("连接 WebSocket 失败: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("连接数 = %d, 期望 1", hub.ClientCount())
	}

	bus.Emit(event.EventTypeStopLoss, map[string]interface{}{"symbol": "BTC_USDT", "pnl": -12.5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("读取消息失败: %v", err)
	}
	var msg struct {
		Type string `json:"type"`
		Data struct {
			Type     string                 `json:"type"`
			Severity string                 `json:"severity"`
			Data     map[string]interface{} `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("解析消息失败: %v", err)
	}
	if msg.Type != "event" || msg.Data.Type != string(event.EventTypeStopLoss) || msg.Data.Data["symbol"] != "BTC_USDT" {
		t.Errorf("消息内容错误: %s", data)
	}

	// 客户端断开后注销
	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Error("断开后应注销连接")
	}
}

func TestWebSocketDisabled(t *testing.T) {
	ts := setupTestServer(t, "", nil)
	w := ts.do(t, "GET", "/ws", "", "")
	if w.Code != 503 {
		t.Errorf("未启用 WebSocket 应返回 503, 实际 %d", w.Code)
	}
}

func TestHubBroadcastDropsWhenFull(t *testing.T) {
	hub := NewHub()
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.Broadcast("status", map[string]int{"i": i})
	}
	if len(hub.broadcast) != cap(hub.broadcast) {
		t.Errorf("缓冲区应已满: %d", len(hub.broadcast))
	}
}
