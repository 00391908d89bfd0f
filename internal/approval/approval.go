package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "Aura-Agent/internal/errors"
	"Aura-Agent/pkg/logger"
)

// 审批相关的错误码。
const (
	CodeApprovalTimeout xerrors.Code = "APPROVAL_TIMEOUT"
	CodeAlreadyResolved xerrors.Code = "APPROVAL_ALREADY_RESOLVED"
)

func init() {
	xerrors.Register(CodeApprovalTimeout, xerrors.Attributes{
		Message:  "审批请求超时",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeAlreadyResolved, xerrors.Attributes{
		Message:  "审批请求已被处理",
		Severity: xerrors.SeverityInfo,
	})
}

const defaultTimeout = 120 * time.Second

// Prompt 是一次待用户确认的审批请求。
type Prompt struct {
	CorrelationID string         `json:"correlation_id"`
	SessionID     string         `json:"session_id"`
	Tool          string         `json:"tool"`
	Args          map[string]any `json:"args"`
	Reason        string         `json:"reason"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
}

// Decision 是用户对审批请求的裁决。
type Decision struct {
	Approved  bool
	Actor     string
	DecidedAt time.Time
}

// Presenter 负责把审批请求递送到用户面前。
type Presenter interface {
	PresentApproval(ctx context.Context, prompt Prompt) error
}

type pendingApproval struct {
	prompt   Prompt
	result   chan Decision
	resolved bool
}

// Manager 管理在途审批请求的生命周期。
// 每个请求恰好收敛到一个终态：批准、拒绝、超时或随调用方取消而废弃，
// 之后任何针对同一 correlation ID 的裁决都会收到 AlreadyResolved。
type Manager struct {
	mu        sync.Mutex
	pending   map[string]*pendingApproval
	presenter Presenter
	timeout   time.Duration
}

// NewManager 创建审批管理器。presenter 可以为 nil，此时请求只能通过 Resolve 裁决。
func NewManager(presenter Presenter, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Manager{
		pending:   make(map[string]*pendingApproval),
		presenter: presenter,
		timeout:   timeout,
	}
}

// Request 发起一次审批并阻塞等待裁决。
// 超时返回 APPROVAL_TIMEOUT（语义上等同拒绝），调用方取消返回 CANCELLED。
func (m *Manager) Request(ctx context.Context, sessionID, tool string, args map[string]any, reason string) (*Decision, error) {
	now := time.Now()
	prompt := Prompt{
		CorrelationID: uuid.NewString(),
		SessionID:     sessionID,
		Tool:          tool,
		Args:          args,
		Reason:        reason,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.timeout),
	}

	entry := &pendingApproval{
		prompt: prompt,
		result: make(chan Decision, 1),
	}

	m.mu.Lock()
	m.pending[prompt.CorrelationID] = entry
	m.mu.Unlock()

	logger.Audit().Info("审批请求已发起",
		"correlation_id", prompt.CorrelationID,
		"session_id", sessionID,
		"tool", tool,
		"reason", reason,
	)

	if m.presenter != nil {
		if err := m.presenter.PresentApproval(ctx, prompt); err != nil {
			m.abandon(prompt.CorrelationID)
			return nil, err
		}
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case decision := <-entry.result:
		logger.Audit().Info("审批请求已裁决",
			"correlation_id", prompt.CorrelationID,
			"session_id", sessionID,
			"tool", tool,
			"approved", decision.Approved,
			"actor", decision.Actor,
		)
		return &decision, nil
	case <-timer.C:
		if !m.abandon(prompt.CorrelationID) {
			// 超时与裁决竞争时以先落地的为准。
			decision := <-entry.result
			return &decision, nil
		}
		logger.Audit().Warn("审批请求超时",
			"correlation_id", prompt.CorrelationID,
			"session_id", sessionID,
			"tool", tool,
		)
		return nil, xerrors.New(CodeApprovalTimeout, "用户未在时限内裁决",
			xerrors.WithMetadata("tool", tool))
	case <-ctx.Done():
		if !m.abandon(prompt.CorrelationID) {
			decision := <-entry.result
			return &decision, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "等待审批时会话被取消")
	}
}

// Resolve 裁决一个在途审批请求。
// correlation ID 不存在或已经收敛时返回 APPROVAL_ALREADY_RESOLVED。
func (m *Manager) Resolve(correlationID string, approved bool, actor string) error {
	m.mu.Lock()
	entry, ok := m.pending[correlationID]
	if !ok || entry.resolved {
		m.mu.Unlock()
		return xerrors.New(CodeAlreadyResolved, "审批请求不存在或已被处理",
			xerrors.WithMetadata("correlation_id", correlationID))
	}
	entry.resolved = true
	delete(m.pending, correlationID)
	m.mu.Unlock()

	entry.result <- Decision{
		Approved:  approved,
		Actor:     actor,
		DecidedAt: time.Now(),
	}
	return nil
}

// Pending 返回当前在途审批请求的快照，按创建时间排序。
func (m *Manager) Pending() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()

	prompts := make([]Prompt, 0, len(m.pending))
	for _, entry := range m.pending {
		prompts = append(prompts, entry.prompt)
	}
	sort.Slice(prompts, func(i, j int) bool {
		return prompts[i].CreatedAt.Before(prompts[j].CreatedAt)
	})
	return prompts
}

// abandon 把请求标记为收敛并从在途表里移除。
// 返回 false 表示请求已经被 Resolve 抢先裁决。
func (m *Manager) abandon(correlationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[correlationID]
	if !ok || entry.resolved {
		return false
	}
	entry.resolved = true
	delete(m.pending, correlationID)
	return true
}
