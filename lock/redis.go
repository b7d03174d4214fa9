package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 只有持有 token 的实例才能释放 / 延期
var (
	unlockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedisLock Redis 分布式锁实现
type RedisLock struct {
	client   *redis.Client
	prefix   string
	observer Observer

	mu       sync.Mutex
	tokens   map[string]string    // key -> token
	acquired map[string]time.Time // key -> 获取时间
}

// NewRedisLock 创建 Redis 分布式锁
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{
		client:   client,
		prefix:   prefix,
		tokens:   make(map[string]string),
		acquired: make(map[string]time.Time),
	}
}

// SetObserver 设置指标观测
func (r *RedisLock) SetObserver(o Observer) {
	r.observer = o
}

func (r *RedisLock) record(key, status string) {
	if r.observer != nil {
		r.observer.RecordLockAcquire(key, status)
	}
}

func (r *RedisLock) hold(key, token string) {
	r.mu.Lock()
	r.tokens[key] = token
	r.acquired[key] = time.Now()
	r.mu.Unlock()
}

// Lock 获取锁，阻塞直到成功或 ctx 结束
func (r *RedisLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := r.TryLock(ctx, key, ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			r.record(key, "timeout")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryLock 尝试获取锁，立即返回
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		r.record(key, "error")
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		r.record(key, "busy")
		return false, nil
	}
	r.hold(key, token)
	r.record(key, "acquired")
	return true, nil
}

// Unlock 释放锁
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	r.mu.Lock()
	token, exists := r.tokens[key]
	acquiredAt := r.acquired[key]
	delete(r.tokens, key)
	delete(r.acquired, key)
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotHeld, key)
	}

	if r.observer != nil {
		r.observer.RecordLockHoldDuration(key, time.Since(acquiredAt))
	}

	n, err := unlockScript.Run(ctx, r.client, []string{r.prefix + key}, token).Int64()
	if err != nil {
		return fmt.Errorf("redis unlock failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s (expired)", ErrNotHeld, key)
	}
	return nil
}

// Extend 延长锁的过期时间
func (r *RedisLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	r.mu.Lock()
	token, exists := r.tokens[key]
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotHeld, key)
	}

	n, err := extendScript.Run(ctx, r.client, []string{r.prefix + key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis extend failed: %w", err)
	}
	if n == 0 {
		r.mu.Lock()
		delete(r.tokens, key)
		delete(r.acquired, key)
		r.mu.Unlock()
		return fmt.Errorf("%w: %s (expired)", ErrNotHeld, key)
	}
	return nil
}

// Close 关闭连接
func (r *RedisLock) Close() error {
	return r.client.Close()
}

// Ping 检查连接
func (r *RedisLock) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
