package transport

import (
	"context"
	"time"

	"Aura-Agent/internal/approval"
)

// Message 是助手推送给用户的一条出站消息。
type Message struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// 出站消息类型。
const (
	KindReply  = "reply"
	KindNotice = "notice"
)

// Outbound 是出站通道的统一接口：递送回复、呈现审批请求。
// 实现决定消息最终落在哪里（内存通道、消息队列、推送服务）。
type Outbound interface {
	Deliver(ctx context.Context, msg Message) error
	PresentApproval(ctx context.Context, prompt approval.Prompt) error
	Close() error
}
