package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tradeguard/config"
)

// Config 分布式锁配置
type Config struct {
	Enabled    bool
	Prefix     string
	DefaultTTL time.Duration
	Redis      RedisConfig
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// FromAppConfig 从系统配置转换
func FromAppConfig(cfg *config.Config) *Config {
	dl := cfg.DistributedLock
	return &Config{
		Enabled:    dl.Enabled,
		Prefix:     dl.Prefix,
		DefaultTTL: time.Duration(dl.DefaultTTL) * time.Second,
		Redis: RedisConfig{
			Addr:     dl.Redis.Addr,
			Password: dl.Redis.Password,
			DB:       dl.Redis.DB,
			PoolSize: dl.Redis.PoolSize,
		},
	}
}

// NewDistributedLock 根据配置创建分布式锁实例
// 如果未启用分布式锁，返回 NopLock
func NewDistributedLock(cfg *Config, observer Observer) (DistributedLock, error) {
	if !cfg.Enabled {
		return NewNopLock(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败 (%s): %w", cfg.Redis.Addr, err)
	}

	l := NewRedisLock(client, cfg.Prefix)
	if observer != nil {
		l.SetObserver(observer)
	}
	return l, nil
}
