package session

import (
	"context"
	"sync"
	"time"

	xerrors "Aura-Agent/internal/errors"
	"Aura-Agent/internal/llm"
)

// CodeSessionCancelled 表示在途回合被新消息或会话关闭打断。
const CodeSessionCancelled xerrors.Code = "SESSION_CANCELLED"

func init() {
	xerrors.Register(CodeSessionCancelled, xerrors.Attributes{
		Message:  "会话回合被取消",
		Severity: xerrors.SeverityInfo,
	})
}

// State 是回合状态机的状态。
type State string

// 回合状态机：空闲 -> 等待模型 -> （等待工具 | 等待审批）* -> 完成。
const (
	StateIdle             State = "IDLE"
	StateAwaitingModel    State = "AWAITING_MODEL"
	StateAwaitingTool     State = "AWAITING_TOOL"
	StateAwaitingApproval State = "AWAITING_APPROVAL"
	StateDone             State = "DONE"
)

// Session 保存一个对话会话的历史与回合状态。
// 同一会话同一时刻至多一个在途回合，新消息会取消上一回合。
type Session struct {
	id string

	mu         sync.Mutex
	state      State
	history    []llm.Message
	lastActive time.Time
	cancelTurn context.CancelFunc
	turnSeq    uint64
}

func newSession(id string) *Session {
	return &Session{
		id:         id,
		state:      StateIdle,
		lastActive: time.Now(),
	}
}

// ID 返回会话标识。
func (s *Session) ID() string {
	return s.id
}

// State 返回当前回合状态。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState 更新回合状态并刷新活跃时间。
func (s *Session) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Append 追加一条历史消息。
func (s *Session) Append(msg llm.Message) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// History 返回历史消息的快照。
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]llm.Message, len(s.history))
	copy(snapshot, s.history)
	return snapshot
}

// BeginTurn 开启一个新回合。上一回合仍在途时先取消它。
// 返回的结束函数只会收尾自己这一回合，不影响后续回合。
func (s *Session) BeginTurn(parent context.Context) (context.Context, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancelTurn = cancel
	s.turnSeq++
	seq := s.turnSeq
	s.state = StateAwaitingModel
	s.lastActive = time.Now()

	end := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cancel()
		if s.turnSeq == seq {
			s.cancelTurn = nil
			s.state = StateDone
			s.lastActive = time.Now()
		}
	}
	return ctx, end
}

// Cancel 取消在途回合（若有），状态回落到空闲。
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
	s.turnSeq++
	s.state = StateIdle
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
