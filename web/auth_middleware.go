package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"tradeguard/logger"
)

// HashToken 生成 API token 的 bcrypt 哈希（写入 web.api_token_hash）
func HashToken(token string) (string, error) {
	if len(token) < 16 {
		return "", fmt.Errorf("API token 长度至少 16 位")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("生成 token 哈希失败: %v", err)
	}
	return string(hash), nil
}

// authMiddleware 校验 Authorization: Bearer <token>，未配置哈希时放行
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.tokenHash == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "缺少 API token"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.tokenHash), []byte(token)); err != nil {
			logger.Warn("⚠️ API 认证失败: %s %s (%s)", c.Request.Method, c.Request.URL.Path, c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API token 无效"})
			return
		}
		c.Next()
	}
}
