package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeLock 内存锁，可注入续期失败
type fakeLock struct {
	NopLock
	mu        sync.Mutex
	held      map[string]bool
	extends   int
	extendErr error
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: make(map[string]bool)}
}

func (f *fakeLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLock) Unlock(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.held[key] {
		return ErrNotHeld
	}
	delete(f.held, key)
	return nil
}

func (f *fakeLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extends++
	return f.extendErr
}

func TestLeaseExclusiveAndRelease(t *testing.T) {
	l := newFakeLock()
	ctx := context.Background()

	lease, err := AcquireLease(ctx, l, "engine:gate", 30*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("获取锁失败: %v", err)
	}
	if _, err := AcquireLease(ctx, l, "engine:gate", 30*time.Millisecond, nil); err == nil {
		t.Error("锁已被持有时应失败")
	}

	time.Sleep(50 * time.Millisecond)
	l.mu.Lock()
	extends := l.extends
	l.mu.Unlock()
	if extends == 0 {
		t.Error("应在后台续期")
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("释放锁失败: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Errorf("重复释放应忽略: %v", err)
	}
	if _, err := AcquireLease(ctx, l, "engine:gate", time.Second, nil); err != nil {
		t.Errorf("释放后应能重新获取: %v", err)
	}
}

func TestLeaseLost(t *testing.T) {
	l := newFakeLock()
	l.extendErr = ErrNotHeld
	lost := make(chan error, 1)

	_, err := AcquireLease(context.Background(), l, "engine:gate", 30*time.Millisecond, func(err error) { lost <- err })
	if err != nil {
		t.Fatalf("获取锁失败: %v", err)
	}
	select {
	case err := <-lost:
		if !errors.Is(err, ErrNotHeld) {
			t.Errorf("丢锁原因错误: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("续期失败时应回调 onLost")
	}
}

func TestNewDistributedLockDisabled(t *testing.T) {
	l, err := NewDistributedLock(&Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if _, ok := l.(*NopLock); !ok {
		t.Errorf("未启用时应返回 NopLock, 实际 %T", l)
	}
}
