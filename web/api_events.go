package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tradeguard/database"
)

// getEvents 事件列表，支持按类型、严重程度、事件源筛选
// GET /api/events?type=&severity=critical|warning|info&source=&start_time=&end_time=&limit=&offset=
func (s *Server) getEvents(c *gin.Context) {
	if s.deps.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "事件服务未启用"})
		return
	}
	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}
	limit, offset := parsePaging(c)

	events, err := s.deps.Events.GetEvents(c.Request.Context(), &database.EventFilter{
		Type:      c.Query("type"),
		Severity:  c.Query("severity"),
		Source:    c.Query("source"),
		StartTime: start,
		EndTime:   end,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
