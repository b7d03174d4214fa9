package resilience

import (
	"context"
	"time"
)

// MaxBackoff 重试等待上限
const MaxBackoff = 30 * time.Second

// BackoffDelay 第 attempt 次重试（从0开始）的等待时间: min(base*2^attempt, 30s)
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= MaxBackoff {
			return MaxBackoff
		}
	}
	if delay > MaxBackoff {
		return MaxBackoff
	}
	return delay
}

// Sleep 可被 context 取消的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
