package llm

import (
	"context"
	"encoding/json"
	"strings"

	xerrors "Aura-Agent/internal/errors"
)

// 推理相关的错误码。超时与不可用分开，方便上层区分重试策略。
const (
	CodeInferenceTimeout     xerrors.Code = "INFERENCE_TIMEOUT"
	CodeInferenceUnavailable xerrors.Code = "INFERENCE_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeInferenceTimeout, xerrors.Attributes{
		Message:   "模型推理超时",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeInferenceUnavailable, xerrors.Attributes{
		Message:   "模型服务不可用",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// Message 表示对话中的一条消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// 消息角色常量，与 chat 协议保持一致。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Request 描述一次推理调用的完整上下文。
// System 由编排器拼装（人设、工具目录、记忆摘要），Messages 为会话历史。
type Request struct {
	SessionID string
	System    string
	Messages  []Message
}

// ToolCall 是模型请求执行的一次工具调用。
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Response 是模型推理得到的结构化输出。
// ToolCalls 非空时表示模型要求先执行工具，Reply 为面向用户的最终回复。
type Response struct {
	Thought   string
	Reply     string
	ToolCalls []ToolCall
}

// WantsTools 返回模型本轮是否请求了工具调用。
func (r *Response) WantsTools() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Chunk 是流式推理的一个增量片段。
type Chunk struct {
	Content string
	Done    bool
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	CompleteStream(ctx context.Context, req Request, emit func(Chunk) error) (*Response, error)
}

// ParseOutput 按约定解析模型输出。合法输出是一个 JSON 对象：
//
//	{"thought": "...", "reply": "..."}
//	{"thought": "...", "tool_calls": [{"tool": "...", "args": {...}}]}
//
// 模型经常把 JSON 包在 markdown 代码块里，这里做一次剥壳。
// 完全不是 JSON 时退化为纯文本回复，绝不因为格式问题丢弃一轮输出。
func ParseOutput(content string) *Response {
	content = strings.TrimSpace(content)
	stripped := stripCodeFence(content)

	var structured struct {
		Thought   string     `json:"thought"`
		Reply     string     `json:"reply"`
		ToolCalls []ToolCall `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(stripped), &structured); err != nil {
		return &Response{Reply: content}
	}

	resp := &Response{
		Thought:   strings.TrimSpace(structured.Thought),
		Reply:     strings.TrimSpace(structured.Reply),
		ToolCalls: structured.ToolCalls,
	}
	if resp.Reply == "" && len(resp.ToolCalls) == 0 {
		resp.Reply = content
	}
	return resp
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	trimmed := strings.TrimPrefix(content, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
