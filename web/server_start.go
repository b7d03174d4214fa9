package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradeguard/config"
	"tradeguard/logger"
)

func newHTTPServer(cfg *config.Config, r *gin.Engine) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Start 启动Web服务器，ctx 取消时自动关闭
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if s.tokenHash == "" {
		logger.Warn("⚠️ 未配置 web.api_token_hash，写操作接口不做认证")
	}

	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("❌ Web服务器启动失败: %v", err)
		}
	}()

	if s.deps.Hub != nil {
		go s.broadcastStatus(ctx, statusInterval)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop 停止Web服务器
func (s *Server) Stop() {
	if s == nil || s.http == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		logger.Error("❌ Web服务器关闭失败: %v", err)
		return
	}
	logger.Info("✅ Web服务器已关闭")
}
