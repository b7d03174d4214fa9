package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *GormDatabase {
	t.Helper()
	db, err := NewGormDatabase(&DBConfig{
		Type:         "sqlite",
		DSN:          filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("创建数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExecutionsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	execs := []*ExecutionRecord{
		{ExecutionID: "e1", Exchange: "gate", Symbol: "BTC_USDT", OrderID: "o1", Side: "buy", Amount: 0.1, Price: 50000, Status: "filled", ExecutedAt: base},
		{ExecutionID: "e2", Exchange: "gate", Symbol: "ETH_USDT", OrderID: "o2", Side: "buy", Amount: 1, Price: 3000, Status: "filled", ExecutedAt: base.Add(time.Minute)},
		{ExecutionID: "e3", Exchange: "gate", Symbol: "BTC_USDT", OrderID: "o3", Side: "sell", Amount: 0.1, Price: 51000, Status: "filled", ExecutedAt: base.Add(2 * time.Minute)},
	}
	if err := db.BatchSaveExecutions(ctx, execs); err != nil {
		t.Fatalf("批量保存失败: %v", err)
	}
	if err := db.SaveExecution(ctx, &ExecutionRecord{ExecutionID: "e1", Symbol: "BTC_USDT"}); err == nil {
		t.Error("重复的 execution_id 应写入失败")
	}

	got, err := db.GetExecutions(ctx, &ExecutionFilter{Symbol: "BTC_USDT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ExecutionID != "e3" {
		t.Errorf("应按时间倒序返回 BTC_USDT 的两条记录: %+v", got)
	}

	limited, err := db.GetExecutions(ctx, &ExecutionFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ExecutionID != "e2" {
		t.Errorf("分页结果错误: %+v", limited)
	}
}

func TestSumRealizedLoss(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	day := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	recs := []*PositionCloseRecord{
		{PositionID: "p1", Symbol: "BTC_USDT", RealizedPnL: -30, Reason: "STOP_LOSS", ClosedAt: day.Add(-time.Hour)},
		{PositionID: "p2", Symbol: "BTC_USDT", RealizedPnL: -20, Reason: "STOP_LOSS", ClosedAt: day.Add(time.Hour)},
		{PositionID: "p3", Symbol: "ETH_USDT", RealizedPnL: 5, Reason: "TAKE_PROFIT", ClosedAt: day.Add(2 * time.Hour)},
	}
	for _, r := range recs {
		if err := db.SavePositionClose(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	// 盈利不抵扣亏损
	sum, err := db.SumRealizedLoss(ctx, day)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 20 {
		t.Errorf("当日已实现亏损 = %.2f, 期望 20", sum)
	}

	empty, err := db.SumRealizedLoss(ctx, day.AddDate(0, 0, 1))
	if err != nil || empty != 0 {
		t.Errorf("无记录时应返回 0: %v %v", empty, err)
	}

	stops, err := db.GetPositionCloses(ctx, &PositionCloseFilter{Reason: "STOP_LOSS"})
	if err != nil || len(stops) != 2 {
		t.Errorf("按原因过滤错误: %d %v", len(stops), err)
	}
}

func TestRiskChecksAndSignals(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SaveRiskCheck(ctx, &RiskCheck{Symbol: "BTC_USDT", Side: "buy", Amount: 100, Approved: false, Reason: "Emergency stop is active"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveRiskCheck(ctx, &RiskCheck{Symbol: "BTC_USDT", Side: "buy", Amount: 100, Approved: true}); err != nil {
		t.Fatal(err)
	}
	rejected := false
	checks, err := db.GetRiskChecks(ctx, &RiskCheckFilter{Approved: &rejected})
	if err != nil || len(checks) != 1 || checks[0].Reason != "Emergency stop is active" {
		t.Errorf("按审批结果过滤错误: %+v %v", checks, err)
	}

	if err := db.SaveSignal(ctx, &SignalRecord{Symbol: "ETH_USDT", Action: "buy", Confidence: 0.8, IssuedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	sigs, err := db.GetSignals(ctx, nil)
	if err != nil || len(sigs) != 1 {
		t.Errorf("信号查询错误: %+v %v", sigs, err)
	}
}

func TestCleanupOldEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		if err := db.SaveEvent(ctx, &EventRecord{Type: "stop_loss", Severity: "warning", CreatedAt: now.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.SaveEvent(ctx, &EventRecord{Type: "stop_loss", Severity: "warning", CreatedAt: now.AddDate(0, 0, -40)}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveEvent(ctx, &EventRecord{Type: "emergency_stop", Severity: "critical", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	if err := db.CleanupOldEvents(ctx, "warning", 3, 30); err != nil {
		t.Fatalf("清理失败: %v", err)
	}

	warnings, err := db.GetEvents(ctx, &EventFilter{Severity: "warning"})
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 3 {
		t.Errorf("应保留最新 3 条 warning, 实际 %d", len(warnings))
	}
	critical, _ := db.GetEvents(ctx, &EventFilter{Severity: "critical"})
	if len(critical) != 1 {
		t.Error("其他级别不应被清理")
	}

	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping 失败: %v", err)
	}
}

func TestNewDatabaseRejectsUnknownType(t *testing.T) {
	if _, err := NewDatabase(&Config{Type: "oracle"}); err == nil {
		t.Error("不支持的数据库类型应返回错误")
	}
}
