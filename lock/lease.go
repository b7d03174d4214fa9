package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradeguard/logger"
)

// Lease 持续续期的锁（保证同一账户只有一个引擎实例在交易）
type Lease struct {
	lock DistributedLock
	key  string
	ttl  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// AcquireLease 获取锁并在后台按 ttl/3 续期，续期失败时调用 onLost
func AcquireLease(ctx context.Context, l DistributedLock, key string, ttl time.Duration, onLost func(error)) (*Lease, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	ok, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("锁 %s 已被其他实例持有", key)
	}

	leaseCtx, cancel := context.WithCancel(context.Background())
	lease := &Lease{lock: l, key: key, ttl: ttl, cancel: cancel, done: make(chan struct{})}
	go lease.keepAlive(leaseCtx, onLost)
	logger.Info("🔒 已获取实例锁: %s (ttl %v)", key, ttl)
	return lease, nil
}

func (ls *Lease) keepAlive(ctx context.Context, onLost func(error)) {
	defer close(ls.done)
	interval := ls.ttl / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extCtx, cancel := context.WithTimeout(ctx, interval)
			err := ls.lock.Extend(extCtx, ls.key, ls.ttl)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("❌ 实例锁续期失败 %s: %v", ls.key, err)
				if onLost != nil {
					onLost(err)
				}
				return
			}
		}
	}
}

// Release 停止续期并释放锁
func (ls *Lease) Release(ctx context.Context) error {
	ls.mu.Lock()
	cancel := ls.cancel
	ls.cancel = nil
	ls.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-ls.done
	if err := ls.lock.Unlock(ctx, ls.key); err != nil {
		return err
	}
	logger.Info("🔓 已释放实例锁: %s", ls.key)
	return nil
}
