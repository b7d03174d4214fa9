package engine

import (
	"context"
	"testing"
	"time"
)

func TestWatchdogAlertsOnStall(t *testing.T) {
	env := newTestEnv(t, 1000, nil)
	w := NewWatchdog(env.engine, time.Second, time.Hour)

	if w.Check() {
		t.Error("引擎未运行时不应告警")
	}

	ctx := context.Background()
	if err := env.engine.Start(ctx); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer env.engine.Stop(ctx)

	if w.Check() {
		t.Error("刚启动时不应告警")
	}

	base := time.Now()
	w.now = func() time.Time { return base.Add(10 * time.Minute) }
	if !w.Check() {
		t.Fatal("循环停滞时应告警")
	}
	if w.Check() {
		t.Error("冷却期内不应重复告警")
	}

	w.now = func() time.Time { return base.Add(2 * time.Hour) }
	if !w.Check() {
		t.Error("冷却期过后应再次告警")
	}
}
