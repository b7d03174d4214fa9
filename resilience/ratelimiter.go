package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 滑动窗口限流器
// 任意 window 长度的时间段内最多放行 capacity 个请求；超出时阻塞等待，从不丢弃请求
type RateLimiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	admitted []time.Time // 窗口内的放行时间，按时间递增

	onAdmit func(time.Time)
}

// RateLimiterStats 限流器快照
type RateLimiterStats struct {
	Capacity int           `json:"capacity"`
	InWindow int           `json:"in_window"`
	Window   time.Duration `json:"window"`
}

// NewRateLimiter 创建限流器
func NewRateLimiter(capacity int, window time.Duration) *RateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		capacity: capacity,
		window:   window,
		admitted: make([]time.Time, 0, capacity),
	}
}

// CheckLimit 等待直到当前窗口有空位
// 只有在 ctx 结束时返回错误（ctx.Err()），限流本身只表现为延迟
func (rl *RateLimiter) CheckLimit(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rl.mu.Lock()
		now := time.Now()
		rl.evict(now)
		if len(rl.admitted) < rl.capacity {
			rl.admitted = append(rl.admitted, now)
			hook := rl.onAdmit
			rl.mu.Unlock()
			if hook != nil {
				hook(now)
			}
			return nil
		}
		wait := rl.admitted[0].Add(rl.window).Sub(now)
		rl.mu.Unlock()

		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// evict 移除已滑出窗口的记录，调用方持有锁
func (rl *RateLimiter) evict(now time.Time) {
	i := 0
	for i < len(rl.admitted) && now.Sub(rl.admitted[i]) >= rl.window {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(rl.admitted, rl.admitted[i:])
	rl.admitted = rl.admitted[:n]
}

// Stats 当前窗口统计
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.evict(time.Now())
	return RateLimiterStats{
		Capacity: rl.capacity,
		InWindow: len(rl.admitted),
		Window:   rl.window,
	}
}
