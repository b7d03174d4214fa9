package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"tradeguard/event"
	"tradeguard/logger"
)

const (
	writeWait      = 5 * time.Second
	statusInterval = 5 * time.Second
)

// wsMessage 推送给客户端的消息
type wsMessage struct {
	Type string      `json:"type"` // event / status
	Data interface{} `json:"data"`
}

// Hub WebSocket 中心，实现 event.EventProcessor 把事件推送给所有客户端
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewHub 创建 WebSocket 中心，需调用 Run 启动
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run 运行 WebSocket 中心，ctx 取消时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ProcessEvent 实现 event.EventProcessor
func (h *Hub) ProcessEvent(ev *event.Event) {
	if ev == nil {
		return
	}
	h.Broadcast("event", map[string]interface{}{
		"type":      ev.Type,
		"severity":  event.GetEventSeverity(ev.Type),
		"title":     event.GetEventTitle(ev.Type),
		"timestamp": ev.Timestamp,
		"data":      ev.Data,
	})
}

// Broadcast 广播消息，缓冲区满时丢弃
func (h *Hub) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		logger.Warn("⚠️ WebSocket 消息序列化失败: %v", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	h := s.deps.Hub
	if h == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WebSocket 未启用"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// 只读不处理，读失败即断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
			return
		}
	}
}

// broadcastStatus 定时推送引擎状态
func (s *Server) broadcastStatus(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.deps.Hub.ClientCount() > 0 {
				s.deps.Hub.Broadcast("status", s.deps.Engine.Status())
			}
		}
	}
}
