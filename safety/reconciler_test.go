package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeguard/exchange"
	"tradeguard/lock"
)

// mockSource 模拟交易所持仓
type mockSource struct {
	positions []*exchange.TradingPosition
	err       error
}

func (m *mockSource) Name() string { return "mock" }

func (m *mockSource) GetCurrentPositions(ctx context.Context) ([]*exchange.TradingPosition, error) {
	return m.positions, m.err
}

// busyLock 锁总是被占用
type busyLock struct {
	lock.NopLock
}

func (busyLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, nil
}

func TestReconcilerDetectsMismatch(t *testing.T) {
	rm := newTestRiskManager(t, nil)
	rm.UpdatePositions([]*exchange.TradingPosition{
		openPosition("a", "A_USDT", exchange.SideBuy, 1, 10, 10),
		openPosition("b", "B_USDT", exchange.SideBuy, 2, 10, 10),
		openPosition("c", "C_USDT", exchange.SideBuy, 1, 10, 10),
	})
	src := &mockSource{positions: []*exchange.TradingPosition{
		openPosition("a", "A_USDT", exchange.SideBuy, 1, 10, 10),
		openPosition("b", "B_USDT", exchange.SideBuy, 1.5, 10, 10),
		openPosition("d", "D_USDT", exchange.SideBuy, 1, 10, 10),
	}}

	var got ReconcileResult
	r := NewReconciler(src, rm, lock.NewNopLock(), time.Minute)
	r.SetMismatchHandler(func(res ReconcileResult) { got = res })

	res, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("对账失败: %v", err)
	}
	if res.Matched != 1 || len(res.LocalOnly) != 1 || res.LocalOnly[0] != "C_USDT" ||
		len(res.RemoteOnly) != 1 || res.RemoteOnly[0] != "D_USDT" || len(res.AmountDiff) != 1 {
		t.Errorf("对账结果错误: %+v", res)
	}
	if got.Matched != 1 {
		t.Error("不一致时应回调")
	}

	// 以交易所为准修正本地持仓
	positions := rm.Positions()
	if len(positions) != 3 || positions[2].Symbol != "D_USDT" {
		t.Errorf("本地持仓未修正: %v", positions)
	}

	res, _ = r.Reconcile(context.Background())
	if !res.Consistent() || res.Matched != 3 {
		t.Errorf("修正后应一致: %+v", res)
	}
	if r.Last().Matched != 3 {
		t.Error("Last 应返回最近一次结果")
	}
}

func TestReconcilerSkipsWhenLocked(t *testing.T) {
	rm := newTestRiskManager(t, nil)
	src := &mockSource{err: errors.New("should not be called")}
	r := NewReconciler(src, rm, &busyLock{}, time.Minute)

	res, err := r.Reconcile(context.Background())
	if err != nil || !res.Skipped {
		t.Errorf("未拿到锁应跳过: %+v %v", res, err)
	}
}

func TestReconcilerSourceError(t *testing.T) {
	rm := newTestRiskManager(t, nil)
	r := NewReconciler(&mockSource{err: errors.New("boom")}, rm, nil, 0)
	if _, err := r.Reconcile(context.Background()); err == nil {
		t.Error("查询失败应返回错误")
	}
}
