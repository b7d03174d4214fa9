package config

import (
	"fmt"
	"strings"
	"sync"
)

// HotReloader 配置热更新器
type HotReloader struct {
	mu              sync.RWMutex
	currentConfig   *Config
	updateCallbacks []ConfigUpdateCallback
}

// ConfigUpdateCallback 配置更新回调函数类型
type ConfigUpdateCallback func(oldConfig, newConfig *Config, changes []ConfigChange) error

// NewHotReloader 创建热更新器
func NewHotReloader(initialConfig *Config) *HotReloader {
	return &HotReloader{
		currentConfig:   initialConfig,
		updateCallbacks: []ConfigUpdateCallback{},
	}
}

// RegisterCallback 注册配置更新回调
func (hr *HotReloader) RegisterCallback(callback ConfigUpdateCallback) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.updateCallbacks = append(hr.updateCallbacks, callback)
}

// UpdateConfig 更新配置（热更新）
// 需要重启的变更不会生效，只应用可热更新的部分，返回的差异中标记 RequiresRestart
func (hr *HotReloader) UpdateConfig(newConfig *Config) (*ConfigDiff, error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	diff := DiffConfig(hr.currentConfig, newConfig)
	if len(diff.Changes) == 0 {
		return diff, nil
	}

	hotReloadable := make([]ConfigChange, 0, len(diff.Changes))
	for _, change := range diff.Changes {
		if !change.RequiresRestart {
			hotReloadable = append(hotReloadable, change)
		}
	}

	target := newConfig
	if diff.RequiresRestart {
		partial, err := hr.applyHotReloadableChanges(hr.currentConfig, newConfig, hotReloadable)
		if err != nil {
			return nil, err
		}
		target = partial
	}

	if len(hotReloadable) > 0 {
		if err := hr.applyConfigUpdate(hr.currentConfig, target, hotReloadable); err != nil {
			return nil, fmt.Errorf("应用配置更新失败: %v", err)
		}
	}

	hr.currentConfig = target
	return diff, nil
}

// applyHotReloadableChanges 在旧配置副本上应用可热更新的变更
func (hr *HotReloader) applyHotReloadableChanges(oldConfig, newConfig *Config, changes []ConfigChange) (*Config, error) {
	result, err := oldConfig.Clone()
	if err != nil {
		return nil, fmt.Errorf("复制配置失败: %v", err)
	}

	for _, change := range changes {
		copyConfigField(result, newConfig, change.Path)
	}

	return result, nil
}

// copyConfigField 按路径复制可热更新的配置段
func copyConfigField(dest, src *Config, path string) {
	switch {
	case strings.HasPrefix(path, "trading."):
		// dry_run/paper_balance/symbols 需要重启，保留旧值
		keep := dest.Trading
		dest.Trading = src.Trading
		dest.Trading.DryRun = keep.DryRun
		dest.Trading.PaperBalance = keep.PaperBalance
		dest.Trading.Symbols = keep.Symbols
	case strings.HasPrefix(path, "risk."):
		dest.Risk = src.Risk
	case path == "system.log_level":
		dest.System.LogLevel = src.System.LogLevel
	}
}

// applyConfigUpdate 触发回调
func (hr *HotReloader) applyConfigUpdate(oldConfig, newConfig *Config, changes []ConfigChange) error {
	for _, callback := range hr.updateCallbacks {
		if err := callback(oldConfig, newConfig, changes); err != nil {
			return fmt.Errorf("配置更新回调执行失败: %v", err)
		}
	}
	return nil
}

// GetCurrentConfig 获取当前配置
func (hr *HotReloader) GetCurrentConfig() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.currentConfig
}
