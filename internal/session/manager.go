package session

import (
	"context"
	"sync"
	"time"

	"Aura-Agent/pkg/logger"
)

const defaultIdleTTL = 30 * time.Minute

// Manager 维护活跃会话表，空闲超过 TTL 的会话会被回收。
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idleTTL  time.Duration
}

// NewManager 创建会话管理器。
func NewManager(idleTTL time.Duration) *Manager {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &Manager{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
	}
}

// Get 返回指定会话，不存在时创建。
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		return sess
	}
	sess := newSession(id)
	m.sessions[id] = sess
	return sess
}

// Len 返回活跃会话数量。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep 回收空闲超时的会话，返回回收数量。
// 在途回合会被一并取消，避免泄漏等待中的 goroutine。
func (m *Manager) Sweep() int {
	deadline := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	var expired []*Session
	for id, sess := range m.sessions {
		if sess.idleSince().Before(deadline) {
			expired = append(expired, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		sess.Cancel()
		logger.L().Info("回收空闲会话", "session_id", sess.ID())
	}
	return len(expired)
}

// Run 周期性执行 Sweep，直到 ctx 结束。
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
