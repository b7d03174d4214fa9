package web

import (
	"time"

	"github.com/gin-gonic/gin"

	"tradeguard/event"
	"tradeguard/logger"
)

// AuditLog 写操作审计记录，经事件总线入库
type AuditLog struct {
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Status    string    `json:"status"` // success, failed
	Code      int       `json:"code"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
}

func (a AuditLog) data() map[string]interface{} {
	d := map[string]interface{}{
		"ip":         a.IP,
		"user_agent": a.UserAgent,
		"action":     a.Action,
		"resource":   a.Resource,
		"status":     a.Status,
		"code":       a.Code,
	}
	if a.ErrorMsg != "" {
		d["error"] = a.ErrorMsg
	}
	return d
}

// auditMiddleware 记录写操作（含认证失败）
func (s *Server) auditMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		entry := AuditLog{
			Timestamp: time.Now(),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Action:    c.Request.Method,
			Resource:  c.FullPath(),
			Status:    "success",
			Code:      c.Writer.Status(),
		}
		if entry.Resource == "" {
			entry.Resource = c.Request.URL.Path
		}
		if entry.Code >= 400 {
			entry.Status = "failed"
			entry.ErrorMsg = c.Errors.String()
		}

		logger.Info("📝 [审计] %s %s %s -> %d", entry.IP, entry.Action, entry.Resource, entry.Code)
		s.deps.Bus.Emit(event.EventTypeAPIAudit, entry.data())
	}
}
