package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tradeguard/logger"
)

const (
	// BackupDir 默认备份目录
	BackupDir = "./config_backups"
	// MaxBackups 保留的备份数量
	MaxBackups = 50

	backupPrefix = "tradeguard-config."
	backupSuffix = ".yaml"
	backupLayout = "20060102T150405.000"
)

// BackupInfo 备份信息
type BackupInfo struct {
	ID          string    `json:"id"` // 文件名
	Timestamp   time.Time `json:"timestamp"`
	FilePath    string    `json:"file_path"`
	Size        int64     `json:"size"`
	Description string    `json:"description,omitempty"`
}

// BackupManager 配置文件备份。控制接口写配置前先备份，恢复时也会先备份当前文件
type BackupManager struct {
	backupDir  string
	maxBackups int
	now        func() time.Time
}

// NewBackupManager 创建备份管理器，dir 为空时使用默认目录
func NewBackupManager(dir string) *BackupManager {
	if dir == "" {
		dir = BackupDir
	}
	return &BackupManager{
		backupDir:  dir,
		maxBackups: MaxBackups,
		now:        time.Now,
	}
}

// SaveWithBackup 备份当前配置文件后写入新配置，文件不存在时不备份
func (bm *BackupManager) SaveWithBackup(cfg *Config, configPath string, description string) (*BackupInfo, error) {
	var info *BackupInfo
	if _, err := os.Stat(configPath); err == nil {
		info, err = bm.CreateBackup(configPath, description)
		if err != nil {
			return nil, err
		}
	}
	if err := SaveConfig(cfg, configPath); err != nil {
		return info, err
	}
	return info, nil
}

// CreateBackup 复制配置文件到备份目录
func (bm *BackupManager) CreateBackup(configPath string, description string) (*BackupInfo, error) {
	if err := os.MkdirAll(bm.backupDir, 0755); err != nil {
		return nil, fmt.Errorf("创建备份目录失败: %w", err)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	ts := bm.now()
	id := backupPrefix + ts.Format(backupLayout) + backupSuffix
	path := filepath.Join(bm.backupDir, id)
	// 同一毫秒内重复备份时顺延
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		ts = ts.Add(time.Millisecond)
		id = backupPrefix + ts.Format(backupLayout) + backupSuffix
		path = filepath.Join(bm.backupDir, id)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("写入备份文件失败: %w", err)
	}
	logger.Info("💾 配置已备份: %s (%s)", id, description)

	if err := bm.prune(); err != nil {
		logger.Warn("⚠️ 清理旧备份失败: %v", err)
	}

	stamp, _ := parseBackupID(id)
	return &BackupInfo{
		ID:          id,
		Timestamp:   stamp,
		FilePath:    path,
		Size:        int64(len(data)),
		Description: description,
	}, nil
}

// ListBackups 列出备份，最新的在前
func (bm *BackupManager) ListBackups() ([]*BackupInfo, error) {
	entries, err := os.ReadDir(bm.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*BackupInfo{}, nil
		}
		return nil, fmt.Errorf("读取备份目录失败: %w", err)
	}

	backups := make([]*BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stamp, err := parseBackupID(entry.Name())
		if err != nil {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, &BackupInfo{
			ID:        entry.Name(),
			Timestamp: stamp,
			FilePath:  filepath.Join(bm.backupDir, entry.Name()),
			Size:      fi.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Restore 校验备份后写回 configPath，写入前先备份当前文件。
// 返回恢复后的配置，由调用方交给热更新器生效
func (bm *BackupManager) Restore(backupID, configPath string) (*Config, *BackupInfo, error) {
	if _, err := parseBackupID(backupID); err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(filepath.Join(bm.backupDir, backupID))
	if err != nil {
		return nil, nil, fmt.Errorf("读取备份失败: %w", err)
	}
	cfg, err := LoadConfigFromBytes(data)
	if err != nil {
		return nil, nil, fmt.Errorf("备份 %s 无效: %w", backupID, err)
	}

	var previous *BackupInfo
	if _, err := os.Stat(configPath); err == nil {
		previous, err = bm.CreateBackup(configPath, "restore "+backupID)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return nil, previous, fmt.Errorf("写入配置文件失败: %w", err)
	}
	logger.Info("♻️ 配置已从备份恢复: %s", backupID)
	return cfg, previous, nil
}

// prune 删除超出数量的旧备份
func (bm *BackupManager) prune() error {
	backups, err := bm.ListBackups()
	if err != nil {
		return err
	}
	if len(backups) <= bm.maxBackups {
		return nil
	}
	for _, b := range backups[bm.maxBackups:] {
		if err := os.Remove(b.FilePath); err != nil {
			logger.Warn("⚠️ 删除旧备份失败 %s: %v", b.ID, err)
		}
	}
	return nil
}

// parseBackupID 校验备份文件名并解析时间，拒绝带路径的 ID
func parseBackupID(id string) (time.Time, error) {
	if id != filepath.Base(id) || !strings.HasPrefix(id, backupPrefix) || !strings.HasSuffix(id, backupSuffix) {
		return time.Time{}, fmt.Errorf("无效的备份 ID: %q", id)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(id, backupPrefix), backupSuffix)
	t, err := time.ParseInLocation(backupLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("无效的备份 ID: %q", id)
	}
	return t, nil
}
