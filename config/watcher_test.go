package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigWatcherReportsReloadErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := createValidConfig()
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	reloader := NewHotReloader(loaded)
	reloader.RegisterCallback(func(old, new *Config, changes []ConfigChange) error {
		if new.Risk.MaxDailyLoss > 1000 {
			return fmt.Errorf("日亏损上限过大")
		}
		return nil
	})

	cw, err := NewConfigWatcher(path, reloader)
	if err != nil {
		t.Fatalf("创建监控器失败: %v", err)
	}
	defer cw.watcher.Close()

	var errs []error
	cw.SetErrorHandler(func(err error) { errs = append(errs, err) })

	ctx := context.Background()
	base := time.Now()
	touch := func(offset time.Duration) {
		t.Helper()
		mod := base.Add(offset)
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}

	// 无效 YAML
	if err := os.WriteFile(path, []byte("risk: [broken"), 0644); err != nil {
		t.Fatal(err)
	}
	touch(time.Second)
	cw.handleConfigChange(ctx)
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "重新加载配置失败") {
		t.Fatalf("无效 YAML 应上报错误: %v", errs)
	}

	// 回调拒绝
	bad, _ := loaded.Clone()
	bad.Risk.MaxDailyLoss = 5000
	if err := SaveConfig(bad, path); err != nil {
		t.Fatal(err)
	}
	touch(2 * time.Second)
	cw.handleConfigChange(ctx)
	if len(errs) != 2 || !strings.Contains(errs[1].Error(), "配置热更新失败") {
		t.Fatalf("回调失败应上报错误: %v", errs)
	}
	if reloader.GetCurrentConfig().Risk.MaxDailyLoss == 5000 {
		t.Error("失败的更新不应生效")
	}

	// 正常更新
	good, _ := loaded.Clone()
	good.Risk.MaxDailyLoss = 200
	if err := SaveConfig(good, path); err != nil {
		t.Fatal(err)
	}
	touch(3 * time.Second)
	cw.handleConfigChange(ctx)
	if len(errs) != 2 {
		t.Errorf("正常更新不应上报错误: %v", errs)
	}
	if got := reloader.GetCurrentConfig().Risk.MaxDailyLoss; got != 200 {
		t.Errorf("日亏损上限 = %v, 期望 200", got)
	}

	// 修改时间未变化时不重复处理
	touch(3 * time.Second)
	cw.handleConfigChange(ctx)
	if len(errs) != 2 {
		t.Errorf("未修改的文件不应重新加载: %v", errs)
	}
}
