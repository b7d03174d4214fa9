package signal

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"tradeguard/config"
	"tradeguard/exchange"
	"tradeguard/logger"
)

// Source 信号来源，每轮循环拉取一次，没有新信号时返回空切片
type Source interface {
	Fetch(ctx context.Context) ([]exchange.TradingSignal, error)
}

// NewSourceFromConfig 按配置创建信号来源
//
// queue 模式下返回的 *Queue 同时供 Web 接口推送信号。
func NewSourceFromConfig(cfg *config.Config) (Source, *Queue, error) {
	queue := NewQueue(cfg.Signals.QueueSize)

	switch cfg.Signals.Source {
	case "", "queue":
		logger.Info("📥 信号来源: 内存队列 (容量 %d)", cfg.Signals.QueueSize)
		return queue, queue, nil
	case "redis":
		rc := cfg.Signals.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		src := NewRedisSource(client, rc.Key, rc.BatchSize)
		logger.Info("📥 信号来源: Redis 列表 %s@%s (每轮最多 %d 条)", rc.Key, rc.Addr, rc.BatchSize)
		// API 推送的信号与 Redis 列表合并
		return NewMulti(queue, src), queue, nil
	default:
		return nil, nil, fmt.Errorf("不支持的信号来源: %s", cfg.Signals.Source)
	}
}

// Multi 依次从多个来源拉取并合并
type Multi struct {
	sources []Source
}

// NewMulti 合并多个信号来源
func NewMulti(sources ...Source) *Multi {
	return &Multi{sources: sources}
}

// Fetch 某个来源失败时仍返回其他来源的信号
func (m *Multi) Fetch(ctx context.Context) ([]exchange.TradingSignal, error) {
	var out []exchange.TradingSignal
	var firstErr error
	for _, s := range m.sources {
		signals, err := s.Fetch(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, signals...)
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	if firstErr != nil {
		logger.Warn("⚠️ 部分信号来源拉取失败: %v", firstErr)
	}
	return out, nil
}

// Close 关闭实现了 io.Closer 的来源（如 Redis 连接）
func (m *Multi) Close() error {
	var errs error
	for _, s := range m.sources {
		if c, ok := s.(io.Closer); ok {
			errs = multierr.Append(errs, c.Close())
		}
	}
	return errs
}
