package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisContextConfig 描述 Redis 工作上下文的连接参数。
type RedisContextConfig struct {
	Address    string
	Password   string
	DB         int
	KeyPrefix  string
	DefaultTTL time.Duration
}

// RedisContext 把工作上下文放在 Redis，借助其原生 TTL 完成过期。
// 多个助手进程共享同一台设备状态时使用。
type RedisContext struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedisContext 创建 Redis 工作上下文实例。
func NewRedisContext(cfg RedisContextConfig) (*RedisContext, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "aura:ctx:"
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisContext{client: client, prefix: prefix, defaultTTL: ttl}, nil
}

// Remember 写入条目并设置 TTL。
func (c *RedisContext) Remember(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("Redis 写入工作上下文失败: %w", err)
	}
	return nil
}

// Recall 读取条目，键不存在或已过期返回 false。
func (c *RedisContext) Recall(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("Redis 读取工作上下文失败: %w", err)
	}
	return value, true, nil
}

// Forget 删除条目。
func (c *RedisContext) Forget(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("Redis 删除工作上下文失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (c *RedisContext) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

var _ WorkingContext = (*RedisContext)(nil)
