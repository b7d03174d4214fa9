package signal

import (
	"context"
	"errors"
	"fmt"

	"tradeguard/exchange"
)

// ErrQueueFull 队列已满
var ErrQueueFull = errors.New("signal queue full")

// Queue 内存信号队列（Web 接口推送，引擎每轮取走）
type Queue struct {
	ch chan exchange.TradingSignal
}

// NewQueue 创建指定容量的队列
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{ch: make(chan exchange.TradingSignal, capacity)}
}

// Push 校验并入队，队列满时返回 ErrQueueFull
func (q *Queue) Push(s exchange.TradingSignal) error {
	s = s.Normalize()
	if err := s.Validate(); err != nil {
		return fmt.Errorf("无效信号: %w", err)
	}
	select {
	case q.ch <- s:
		return nil
	default:
		return ErrQueueFull
	}
}

// Fetch 取出当前队列中的全部信号，不阻塞
func (q *Queue) Fetch(ctx context.Context) ([]exchange.TradingSignal, error) {
	var out []exchange.TradingSignal
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case s := <-q.ch:
			out = append(out, s)
		default:
			return out, nil
		}
	}
}

// Len 队列中待处理的信号数
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap 队列容量
func (q *Queue) Cap() int {
	return cap(q.ch)
}
