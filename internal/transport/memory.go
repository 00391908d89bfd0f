package transport

import (
	"context"
	"errors"
	"time"

	"Aura-Agent/internal/approval"
)

const defaultBuffer = 64

// MemoryOutbound 把出站消息放进进程内通道，开发与测试环境使用。
// 通道满时投递失败而不是阻塞编排器。
type MemoryOutbound struct {
	messages  chan Message
	approvals chan approval.Prompt
}

// NewMemoryOutbound 创建内存出站通道。
func NewMemoryOutbound(buffer int) *MemoryOutbound {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MemoryOutbound{
		messages:  make(chan Message, buffer),
		approvals: make(chan approval.Prompt, buffer),
	}
}

// Deliver 投递一条出站消息。
func (m *MemoryOutbound) Deliver(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	select {
	case m.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("出站消息通道已满")
	}
}

// PresentApproval 投递一条审批请求。
func (m *MemoryOutbound) PresentApproval(ctx context.Context, prompt approval.Prompt) error {
	select {
	case m.approvals <- prompt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("审批请求通道已满")
	}
}

// Messages 返回出站消息通道，供消费方读取。
func (m *MemoryOutbound) Messages() <-chan Message {
	return m.messages
}

// Approvals 返回审批请求通道，供消费方读取。
func (m *MemoryOutbound) Approvals() <-chan approval.Prompt {
	return m.approvals
}

// Close 对内存实现无需操作。
func (m *MemoryOutbound) Close() error {
	return nil
}

var _ Outbound = (*MemoryOutbound)(nil)
