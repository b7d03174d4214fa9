package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createValidConfig() *Config {
	cfg := &Config{}
	cfg.App.CurrentExchange = "gate"
	cfg.Exchanges = map[string]ExchangeConfig{
		"gate": {APIKey: "test_key", SecretKey: "test_secret", FeeRate: 0.002},
	}
	cfg.Trading.Symbols = []string{"btc_usdt", "ETH_USDT", "BTC_USDT"}
	cfg.Web.Port = 28888
	return cfg
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := createValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("有效配置验证失败: %v", err)
	}

	if len(cfg.Trading.Symbols) != 2 || cfg.Trading.Symbols[0] != "BTC_USDT" {
		t.Errorf("交易对未规范化/去重: %v", cfg.Trading.Symbols)
	}
	if !cfg.Trading.IsDryRun() {
		t.Error("默认应为模拟盘")
	}
	if !cfg.Risk.EmergencyStop() {
		t.Error("默认应允许紧急停止")
	}
	if cfg.Risk.MaxDailyLoss != 100 || cfg.Risk.MaxPositionSize != 500 || cfg.Risk.StopLossPercentage != 5 {
		t.Errorf("风控默认值不正确: %+v", cfg.Risk)
	}
	if cfg.Trading.MaxConcurrentTrades != 3 || cfg.Trading.MinConfidence != 0.6 {
		t.Errorf("交易默认值不正确: %+v", cfg.Trading)
	}
	if cfg.Resilience.RateLimit.Capacity != 10 || cfg.Resilience.RateLimit.WindowMs != 1000 {
		t.Errorf("限流默认值不正确: %+v", cfg.Resilience.RateLimit)
	}
	if cfg.Signals.Source != "queue" || cfg.Database.Type != "sqlite" {
		t.Errorf("信号/数据库默认值不正确: %s %s", cfg.Signals.Source, cfg.Database.Type)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"不支持的交易所", func(c *Config) { c.App.CurrentExchange = "ftx" }},
		{"没有交易对", func(c *Config) { c.Trading.Symbols = nil }},
		{"负数手续费", func(c *Config) { c.Exchanges["gate"] = ExchangeConfig{APIKey: "k", SecretKey: "s", FeeRate: -0.1} }},
		{"负数日亏损", func(c *Config) { c.Risk.MaxDailyLoss = -1 }},
		{"止损超过100%", func(c *Config) { c.Risk.StopLossPercentage = 150 }},
		{"置信度越界", func(c *Config) { c.Trading.MinConfidence = 1.5 }},
		{"负数限流容量", func(c *Config) { c.Resilience.RateLimit.Capacity = -5 }},
		{"未知信号来源", func(c *Config) { c.Signals.Source = "kafka" }},
		{"实盘缺少密钥", func(c *Config) {
			live := false
			c.Trading.DryRun = &live
			c.Exchanges["gate"] = ExchangeConfig{}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createValidConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("%s 应该报错", tt.name)
			}
		})
	}
}

func TestDryRunWithoutCredentials(t *testing.T) {
	cfg := createValidConfig()
	cfg.Exchanges = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("模拟盘不应要求 API 密钥: %v", err)
	}
}

func TestLoadConfigFromBytes(t *testing.T) {
	data := []byte(`
app:
  current_exchange: gate
trading:
  symbols: [BTC_USDT]
  dry_run: false
exchanges:
  gate:
    api_key: k
    secret_key: s
risk:
  max_daily_loss: 200
  emergency_stop_enabled: false
`)
	cfg, err := LoadConfigFromBytes(data)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Trading.IsDryRun() {
		t.Error("dry_run: false 应为实盘")
	}
	if cfg.Risk.EmergencyStop() {
		t.Error("emergency_stop_enabled: false 未生效")
	}
	if cfg.Risk.MaxDailyLoss != 200 {
		t.Errorf("期望 200, 得到 %.2f", cfg.Risk.MaxDailyLoss)
	}
}

func TestConfigDiff(t *testing.T) {
	oldCfg := createValidConfig()
	newCfg := createValidConfig()
	if err := oldCfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if err := newCfg.Validate(); err != nil {
		t.Fatal(err)
	}

	diff := DiffConfig(oldCfg, newCfg)
	if len(diff.Changes) != 0 {
		t.Errorf("预期无变更，得到 %d 个", len(diff.Changes))
	}

	newCfg.Risk.MaxDailyLoss = 300
	diff = DiffConfig(oldCfg, newCfg)
	if len(diff.Changes) != 1 || diff.Changes[0].Path != "risk.max_daily_loss" {
		t.Fatalf("预期 risk.max_daily_loss 变更，得到 %+v", diff.Changes)
	}
	if diff.RequiresRestart {
		t.Error("修改风控参数不应需要重启")
	}

	newCfg.Web.Port = 9999
	diff = DiffConfig(oldCfg, newCfg)
	foundRestart := false
	for _, c := range diff.Changes {
		if c.Path == "web.port" && c.RequiresRestart {
			foundRestart = true
		}
	}
	if !foundRestart {
		t.Error("修改 web.port 应该标记为需要重启")
	}
}

func TestHotReloader(t *testing.T) {
	initialCfg := createValidConfig()
	if err := initialCfg.Validate(); err != nil {
		t.Fatal(err)
	}
	reloader := NewHotReloader(initialCfg)

	var gotChanges []ConfigChange
	reloader.RegisterCallback(func(old, new *Config, changes []ConfigChange) error {
		gotChanges = changes
		return nil
	})

	newCfg, err := initialCfg.Clone()
	if err != nil {
		t.Fatal(err)
	}
	newCfg.Trading.CycleInterval = 15
	newCfg.Web.Port = 30000

	diff, err := reloader.UpdateConfig(newCfg)
	if err != nil {
		t.Fatalf("更新配置失败: %v", err)
	}
	if !diff.RequiresRestart {
		t.Error("web.port 变更应提示重启")
	}
	if len(gotChanges) != 1 {
		t.Errorf("回调应只收到可热更新的变更，得到 %+v", gotChanges)
	}

	current := reloader.GetCurrentConfig()
	if current.Trading.CycleInterval != 15 {
		t.Errorf("循环间隔未热更新: %d", current.Trading.CycleInterval)
	}
	if current.Web.Port != 28888 {
		t.Errorf("需要重启的端口不应被热更新: %d", current.Web.Port)
	}
	if initialCfg.Trading.CycleInterval == 15 {
		t.Error("热更新不应修改原配置对象")
	}
}

func TestConfigBackup(t *testing.T) {
	tempDir := t.TempDir()
	bm := NewBackupManager(filepath.Join(tempDir, "backups"))

	configPath := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("trading:\n  symbols: [BTC_USDT]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := createValidConfig()
	cfg.Risk.MaxDailyLoss = 250
	info, err := bm.SaveWithBackup(cfg, configPath, "修改风控参数")
	if err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if info == nil {
		t.Fatal("已有配置文件时应生成备份")
	}
	if _, err := os.Stat(info.FilePath); err != nil {
		t.Fatalf("备份文件不存在: %v", err)
	}

	backups, err := bm.ListBackups()
	if err != nil {
		t.Fatalf("列出备份失败: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("期望1个备份，实际%d个", len(backups))
	}

	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("重新加载失败: %v", err)
	}
	if loaded.Risk.MaxDailyLoss != 250 {
		t.Errorf("保存后的配置不正确: %.2f", loaded.Risk.MaxDailyLoss)
	}
}

func TestConfigBackupRestore(t *testing.T) {
	tempDir := t.TempDir()
	bm := NewBackupManager(filepath.Join(tempDir, "backups"))
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)
	bm.now = func() time.Time { return base }

	configPath := filepath.Join(tempDir, "config.yaml")
	original := createValidConfig()
	original.Risk.MaxDailyLoss = 100
	if err := SaveConfig(original, configPath); err != nil {
		t.Fatal(err)
	}

	updated := createValidConfig()
	updated.Risk.MaxDailyLoss = 300
	info, err := bm.SaveWithBackup(updated, configPath, "api: update risk config")
	if err != nil || info == nil {
		t.Fatalf("保存失败: %v", err)
	}

	restored, previous, err := bm.Restore(info.ID, configPath)
	if err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	if restored.Risk.MaxDailyLoss != 100 {
		t.Errorf("恢复后的配置不正确: %.2f", restored.Risk.MaxDailyLoss)
	}
	if previous == nil || previous.ID == info.ID {
		t.Fatalf("恢复前应备份当前文件，且同一时间的备份不应覆盖: %+v", previous)
	}
	loaded, err := LoadConfig(configPath)
	if err != nil || loaded.Risk.MaxDailyLoss != 100 {
		t.Errorf("配置文件未恢复: %v", err)
	}

	backups, err := bm.ListBackups()
	if err != nil || len(backups) != 2 {
		t.Fatalf("期望2个备份: %d %v", len(backups), err)
	}
	if backups[0].ID != previous.ID {
		t.Errorf("最新的备份应排在最前: %s", backups[0].ID)
	}

	for _, id := range []string{"../config.yaml", "config.yaml", backupPrefix + "bad" + backupSuffix, backupPrefix + "20260301T093000.000.yaml.bak"} {
		if _, _, err := bm.Restore(id, configPath); err == nil {
			t.Errorf("应拒绝无效的备份 ID: %s", id)
		}
	}
}

func TestConfigBackupPrune(t *testing.T) {
	tempDir := t.TempDir()
	bm := NewBackupManager(filepath.Join(tempDir, "backups"))
	bm.maxBackups = 3
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)
	n := 0
	bm.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}

	configPath := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("trading:\n  symbols: [BTC_USDT]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var last *BackupInfo
	for i := 0; i < 5; i++ {
		info, err := bm.CreateBackup(configPath, "")
		if err != nil {
			t.Fatal(err)
		}
		last = info
	}

	backups, err := bm.ListBackups()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 3 || backups[0].ID != last.ID {
		t.Errorf("应只保留最新的3个备份: %d", len(backups))
	}
}
