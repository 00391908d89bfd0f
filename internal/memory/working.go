package memory

import (
	"context"
	"sync"
	"time"
)

type contextEntry struct {
	value     string
	expiresAt time.Time
}

// InProcessContext 用本地 map 实现工作上下文，进程退出即丢弃。
type InProcessContext struct {
	mu         sync.Mutex
	entries    map[string]contextEntry
	defaultTTL time.Duration
	now        func() time.Time
}

// NewInProcessContext 创建本地工作上下文。defaultTTL 在调用方传零 TTL 时生效。
func NewInProcessContext(defaultTTL time.Duration) *InProcessContext {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &InProcessContext{
		entries:    make(map[string]contextEntry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Remember 写入带绝对过期时间的条目。
func (c *InProcessContext) Remember(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = contextEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Recall 读取条目，过期条目在读取时惰性删除。
func (c *InProcessContext) Recall(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Forget 删除条目。
func (c *InProcessContext) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Compact 清理全部已过期条目，供调用方按需周期执行。
func (c *InProcessContext) Compact() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Close 对本地实现无需操作。
func (c *InProcessContext) Close() error {
	return nil
}

var _ WorkingContext = (*InProcessContext)(nil)
