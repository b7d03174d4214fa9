package web

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"

	"tradeguard/config"
	"tradeguard/event"
	"tradeguard/logger"
	"tradeguard/safety"
)

// riskConfigRequest 风控参数更新请求，未传的字段保持原值
type riskConfigRequest struct {
	MaxDailyLoss         *float64 `json:"max_daily_loss"`
	MaxPositionSize      *float64 `json:"max_position_size"`
	StopLossPercentage   *float64 `json:"stop_loss_percentage"`
	MaxOpenPositions     *int     `json:"max_open_positions"`
	EmergencyStopEnabled *bool    `json:"emergency_stop_enabled"`
	MinTradeSize         *float64 `json:"min_trade_size"`
}

func (r riskConfigRequest) apply(base config.RiskConfig) config.RiskConfig {
	if r.MaxDailyLoss != nil {
		base.MaxDailyLoss = *r.MaxDailyLoss
	}
	if r.MaxPositionSize != nil {
		base.MaxPositionSize = *r.MaxPositionSize
	}
	if r.StopLossPercentage != nil {
		base.StopLossPercentage = *r.StopLossPercentage
	}
	if r.MaxOpenPositions != nil {
		base.MaxOpenPositions = *r.MaxOpenPositions
	}
	if r.EmergencyStopEnabled != nil {
		enabled := *r.EmergencyStopEnabled
		base.EmergencyStopEnabled = &enabled
	}
	if r.MinTradeSize != nil {
		base.MinTradeSize = *r.MinTradeSize
	}
	return base
}

// updateRiskConfig 更新风控参数
// 有热更新器时走热更新回调（并写回配置文件），否则直接更新风控管理器
func (s *Server) updateRiskConfig(c *gin.Context) {
	var req riskConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的配置格式: " + err.Error()})
		return
	}

	if s.deps.Reloader == nil {
		current := s.deps.Risk.Config()
		enabled := current.EmergencyStopEnabled
		next := req.apply(config.RiskConfig{
			MaxDailyLoss:         current.MaxDailyLoss,
			MaxPositionSize:      current.MaxPositionSize,
			StopLossPercentage:   current.StopLossPercentage,
			MaxOpenPositions:     current.MaxOpenPositions,
			EmergencyStopEnabled: &enabled,
			MinTradeSize:         current.MinTradeSize,
		})
		if err := s.deps.Risk.UpdateConfig(safety.RiskConfigFrom(next)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.deps.Bus.Emit(event.EventTypeConfigUpdated, map[string]interface{}{"section": "risk", "source": "api"})
		c.JSON(http.StatusOK, gin.H{"risk": s.deps.Risk.Config()})
		return
	}

	newCfg, err := s.deps.Reloader.GetCurrentConfig().Clone()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	newCfg.Risk = req.apply(newCfg.Risk)
	if err := newCfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var backup *config.BackupInfo
	if s.deps.ConfigPath != "" && s.deps.Backups != nil {
		backup, err = s.deps.Backups.SaveWithBackup(newCfg, s.deps.ConfigPath, "api: update risk config")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("保存配置失败: %v", err)})
			return
		}
	}

	diff, err := s.deps.Reloader.UpdateConfig(newCfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Info("⚙️ 风控参数已通过 API 更新 (%d 项变更)", len(diff.Changes))

	resp := gin.H{"risk": s.deps.Risk.Config(), "changes": diff.Changes}
	if backup != nil {
		resp["backup_id"] = backup.ID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listConfigBackups(c *gin.Context) {
	if s.deps.Backups == nil {
		c.JSON(http.StatusOK, gin.H{"backups": []interface{}{}})
		return
	}
	backups, err := s.deps.Backups.ListBackups()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups})
}

// restoreConfigBackup 从备份恢复配置文件并热更新，需要重启的变更在响应中标出
func (s *Server) restoreConfigBackup(c *gin.Context) {
	if s.deps.Backups == nil || s.deps.Reloader == nil || s.deps.ConfigPath == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "配置恢复未启用"})
		return
	}

	id := c.Param("id")
	cfg, previous, err := s.deps.Backups.Restore(id, s.deps.ConfigPath)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, fs.ErrNotExist) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	diff, err := s.deps.Reloader.UpdateConfig(cfg)
	if err != nil {
		logger.Error("❌ 备份 %s 已写回配置文件，但热更新失败: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("热更新失败: %v", err)})
		return
	}
	logger.Info("♻️ 配置已通过 API 从备份 %s 恢复 (%d 项变更)", id, len(diff.Changes))
	s.deps.Bus.Emit(event.EventTypeConfigUpdated, map[string]interface{}{
		"section":   "all",
		"source":    "api",
		"backup_id": id,
	})

	resp := gin.H{
		"risk":             s.deps.Risk.Config(),
		"changes":          diff.Changes,
		"requires_restart": diff.RequiresRestart,
	}
	if previous != nil {
		resp["previous_backup_id"] = previous.ID
	}
	c.JSON(http.StatusOK, resp)
}
