package signal

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"tradeguard/exchange"
	"tradeguard/logger"
)

// listClient RedisSource 用到的命令
type listClient interface {
	LPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Close() error
}

// RedisSource 从 Redis 列表读取 JSON 信号（生产者 RPUSH，引擎 LPOP）
type RedisSource struct {
	client    listClient
	key       string
	batchSize int
}

// NewRedisSource 创建 Redis 信号来源
func NewRedisSource(client *redis.Client, key string, batchSize int) *RedisSource {
	return newRedisSource(client, key, batchSize)
}

func newRedisSource(client listClient, key string, batchSize int) *RedisSource {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &RedisSource{client: client, key: key, batchSize: batchSize}
}

// Fetch 一次最多弹出 batchSize 条，无法解析的条目记录后丢弃
func (r *RedisSource) Fetch(ctx context.Context) ([]exchange.TradingSignal, error) {
	raw, err := r.client.LPopCount(ctx, r.key, r.batchSize).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取 Redis 信号失败: %w", err)
	}

	signals := make([]exchange.TradingSignal, 0, len(raw))
	for _, item := range raw {
		s, err := decodeSignal(item)
		if err != nil {
			logger.Warn("⚠️ 丢弃无效信号 %q: %v", item, err)
			continue
		}
		signals = append(signals, s)
	}
	if len(signals) > 0 {
		logger.Debug("📥 从 %s 读取 %d 条信号", r.key, len(signals))
	}
	return signals, nil
}

// Publish 追加信号到列表尾部（测试工具与外部脚本使用）
func (r *RedisSource) Publish(ctx context.Context, s exchange.TradingSignal) error {
	data, err := json.Marshal(s.Normalize())
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.key, data).Err()
}

// Close 关闭连接
func (r *RedisSource) Close() error {
	return r.client.Close()
}

func decodeSignal(item string) (exchange.TradingSignal, error) {
	var s exchange.TradingSignal
	if err := json.Unmarshal([]byte(item), &s); err != nil {
		return s, err
	}
	s = s.Normalize()
	return s, s.Validate()
}
