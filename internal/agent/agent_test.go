package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"Aura-Agent/internal/approval"
	"Aura-Agent/internal/bridge"
	xerrors "Aura-Agent/internal/errors"
	"Aura-Agent/internal/llm"
	"Aura-Agent/internal/memory"
	"Aura-Agent/internal/observability/alerting"
	"Aura-Agent/internal/policy"
	"Aura-Agent/internal/session"
	"Aura-Agent/internal/tool"
	"Aura-Agent/internal/transport"
)

// scriptedClient 按脚本顺序返回预置的模型响应。
type scriptedClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  []llm.Request
}

func (c *scriptedClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return &llm.Response{Reply: "好的"}, nil
	}
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, nil
}

func (c *scriptedClient) CompleteStream(ctx context.Context, req llm.Request, _ func(llm.Chunk) error) (*llm.Response, error) {
	return c.Complete(ctx, req)
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
	return nil
}

type fixture struct {
	client       *scriptedClient
	orchestrator *Orchestrator
	outbound     *transport.MemoryOutbound
	approvals    *approval.Manager
	sessions     *session.Manager
	alerts       *captureDispatcher
	executed     *executionLog
}

type executionLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *executionLog) record(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *executionLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func newFixture(t *testing.T, responses ...*llm.Response) *fixture {
	t.Helper()

	registry := tool.NewRegistry()
	defs := []tool.Definition{
		{
			Name: "read_calendar", Description: "读取日程", Risk: tool.RiskLow, Capability: "calendar",
			Args: []tool.ArgSpec{{Name: "date", Type: "string"}},
		},
		{
			Name: "send_sms", Description: "发送短信", Risk: tool.RiskMedium, Capability: "sms",
			Args: []tool.ArgSpec{
				{Name: "to", Type: "string", Required: true},
				{Name: "body", Type: "string", Required: true},
			},
		},
		{
			Name: "browse_web", Description: "浏览网页", Risk: tool.RiskLow, Capability: "web",
			Args: []tool.ArgSpec{{Name: "url", Type: "string", Required: true}},
		},
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}

	engine, err := policy.NewEngine(registry, nil)
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}

	outbound := transport.NewMemoryOutbound(16)
	approvals := approval.NewManager(outbound, time.Second)

	executed := &executionLog{}
	deviceBridge := bridge.New(registry)
	for _, name := range []string{"read_calendar", "send_sms", "browse_web"} {
		name := name
		deviceBridge.Handle(name, func(context.Context, map[string]any) (string, error) {
			executed.record(name)
			return "模拟结果", nil
		})
	}

	client := &scriptedClient{responses: responses}
	alerts := &captureDispatcher{}
	sessions := session.NewManager(time.Minute)
	working := memory.NewInProcessContext(time.Minute)

	orchestrator := New(client, registry, engine, approvals, deviceBridge, sessions, outbound,
		WithWorkingContext(working),
		WithAlerts(alerts),
		WithMaxToolRounds(3),
	)

	return &fixture{
		client:       client,
		orchestrator: orchestrator,
		outbound:     outbound,
		approvals:    approvals,
		sessions:     sessions,
		alerts:       alerts,
		executed:     executed,
	}
}

// autoResolve 扮演用户，在审批请求到达时裁决。
func (f *fixture) autoResolve(t *testing.T, approved bool) {
	t.Helper()
	go func() {
		select {
		case prompt := <-f.outbound.Approvals():
			if err := f.approvals.Resolve(prompt.CorrelationID, approved, "owner"); err != nil {
				t.Errorf("resolve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("approval prompt never delivered")
		}
	}()
}

func toolCall(name string, args map[string]any) *llm.Response {
	return &llm.Response{
		Thought:   "需要调用工具",
		ToolCalls: []llm.ToolCall{{Tool: name, Args: args}},
	}
}

func reply(text string) *llm.Response {
	return &llm.Response{Thought: "直接回答", Reply: text}
}

func TestHandleMessageDirectReply(t *testing.T) {
	f := newFixture(t, reply("今天没有日程"))

	result, err := f.orchestrator.HandleMessage(context.Background(), "s1", "我今天有什么安排？")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "今天没有日程" || result.Rounds != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if f.sessions.Get("s1").State() != session.StateDone {
		t.Fatalf("turn should end in DONE, got %q", f.sessions.Get("s1").State())
	}

	select {
	case msg := <-f.outbound.Messages():
		if msg.Kind != transport.KindReply || msg.Content != "今天没有日程" {
			t.Fatalf("unexpected outbound message: %+v", msg)
		}
	default:
		t.Fatalf("reply should be delivered outbound")
	}
}

func TestHandleMessageLowRiskTool(t *testing.T) {
	f := newFixture(t,
		toolCall("read_calendar", map[string]any{"date": "2026-08-28"}),
		reply("你今天没有安排"),
	)

	result, err := f.orchestrator.HandleMessage(context.Background(), "s1", "今天有什么安排？")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Rounds != 1 {
		t.Fatalf("unexpected rounds: %d", result.Rounds)
	}
	if got := f.executed.names(); len(got) != 1 || got[0] != "read_calendar" {
		t.Fatalf("low risk tool should auto-execute, got %v", got)
	}
	if len(f.outbound.Approvals()) != 0 {
		t.Fatalf("low risk tool must not request approval")
	}
}

func TestHandleMessageApprovalApproved(t *testing.T) {
	f := newFixture(t,
		toolCall("send_sms", map[string]any{"to": "mom", "body": "晚点到家"}),
		reply("短信已发出"),
	)
	f.autoResolve(t, true)

	result, err := f.orchestrator.HandleMessage(context.Background(), "s1", "给妈妈发短信说我晚点到家")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "短信已发出" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := f.executed.names(); len(got) != 1 || got[0] != "send_sms" {
		t.Fatalf("approved tool should execute, got %v", got)
	}
}

func TestHandleMessageApprovalRejected(t *testing.T) {
	f := newFixture(t,
		toolCall("send_sms", map[string]any{"to": "mom", "body": "hi"}),
		reply("好的，不发了"),
	)
	f.autoResolve(t, false)

	result, err := f.orchestrator.HandleMessage(context.Background(), "s1", "给妈妈发短信")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.executed.names()) != 0 {
		t.Fatalf("rejected tool must not execute, got %v", f.executed.names())
	}

	// 拒绝的观察结果要回灌给模型。
	history := f.sessions.Get("s1").History()
	var observed bool
	for _, msg := range history {
		if msg.Role == llm.RoleTool && strings.Contains(msg.Content, "用户拒绝") {
			observed = true
		}
	}
	if !observed {
		t.Fatalf("rejection observation missing from history: %+v", history)
	}
	if result.Reply != "好的，不发了" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHandleMessageInvalidArgsSkipApproval(t *testing.T) {
	f := newFixture(t,
		toolCall("send_sms", map[string]any{"to": "mom", "body": "hi", "bogus": "x"}),
		reply("参数有问题，我重新组织一下"),
	)

	result, err := f.orchestrator.HandleMessage(context.Background(), "s1", "给妈妈发短信")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.executed.names()) != 0 {
		t.Fatalf("invalid call must not execute, got %v", f.executed.names())
	}
	// 参数非法的调用在裁决之前就该被驳回，不应打扰用户。
	if len(f.outbound.Approvals()) != 0 {
		t.Fatalf("invalid call must not prompt for approval")
	}

	history := f.sessions.Get("s1").History()
	var observed bool
	for _, msg := range history {
		if msg.Role == llm.RoleTool && strings.Contains(msg.Content, "不接受参数") {
			observed = true
		}
	}
	if !observed {
		t.Fatalf("validation observation missing from history: %+v", history)
	}
	if result.Reply != "参数有问题，我重新组织一下" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHandleMessageApprovalTimeout(t *testing.T) {
	f := newFixture(t,
		toolCall("send_sms", map[string]any{"to": "mom", "body": "hi"}),
		reply("没有收到你的确认"),
	)
	// 没有人裁决，等待管理器超时。

	result, err := f.orchestrator.HandleMessage(context.Background(), "s1", "给妈妈发短信")
	if err != nil {
		t.Fatalf("timeout should degrade to an observation, got %v", err)
	}
	if len(f.executed.names()) != 0 {
		t.Fatalf("timed out tool must not execute, got %v", f.executed.names())
	}
	if result.Reply != "没有收到你的确认" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHandleMessageBuiltinDeny(t *testing.T) {
	f := newFixture(t,
		toolCall("browse_web", map[string]any{"url": "https://example.com"}),
		reply("这个操作被禁止了"),
	)

	result, err := f.orchestrator.HandleMessage(context.Background(), "s1", "帮我打开这个网页")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.executed.names()) != 0 {
		t.Fatalf("denied tool must never execute, got %v", f.executed.names())
	}
	if result.Reply != "这个操作被禁止了" {
		t.Fatalf("unexpected result: %+v", result)
	}

	f.alerts.mu.Lock()
	defer f.alerts.mu.Unlock()
	if len(f.alerts.events) != 1 || f.alerts.events[0].Tool != "browse_web" {
		t.Fatalf("builtin denial should raise an alert: %+v", f.alerts.events)
	}
}

func TestHandleMessageTurnLimit(t *testing.T) {
	// 脚本只有一条工具响应，耗尽后重复返回，模拟一直要工具的模型。
	f := newFixture(t, toolCall("read_calendar", nil))

	result, err := f.orchestrator.HandleMessage(context.Background(), "s1", "一直查日历")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.LimitHit {
		t.Fatalf("expected limit hit: %+v", result)
	}
	if result.Rounds != 3 {
		t.Fatalf("unexpected rounds: %d", result.Rounds)
	}
	if result.Reply == "" {
		t.Fatalf("limit hit should still produce a user-facing reply")
	}
}

func TestHandleMessageValidation(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orchestrator.HandleMessage(context.Background(), "s1", "  "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("empty text should be rejected, got %v", err)
	}
	if _, err := f.orchestrator.HandleMessage(context.Background(), "", "你好"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("empty session id should be rejected, got %v", err)
	}
}

func TestRememberRecentHonorsContextTTL(t *testing.T) {
	f := newFixture(t, reply("收到"))
	short := memory.NewInProcessContext(20 * time.Millisecond)
	WithWorkingContext(short)(f.orchestrator)

	if _, err := f.orchestrator.HandleMessage(context.Background(), "s1", "你好"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, err := short.Recall(context.Background(), workingKey("s1")); err != nil || !ok {
		t.Fatalf("recent reply should be remembered right after the turn: ok=%v err=%v", ok, err)
	}

	time.Sleep(60 * time.Millisecond)
	if value, ok, _ := short.Recall(context.Background(), workingKey("s1")); ok {
		t.Fatalf("entry should expire with the context's own ttl, still got %q", value)
	}
}

func TestBuildSystemPromptIncludesCatalogAndFacts(t *testing.T) {
	f := newFixture(t)
	store, err := memory.NewFileFactStore(t.TempDir())
	if err != nil {
		t.Fatalf("fact store: %v", err)
	}
	WithFactStore(store)(f.orchestrator)
	fact := &memory.Fact{Subject: "owner", Predicate: "likes", Object: "coffee", Confidence: 1}
	if err := store.Assert(context.Background(), fact); err != nil {
		t.Fatalf("assert: %v", err)
	}

	prompt := f.orchestrator.buildSystemPrompt(context.Background(), "s1")
	for _, want := range []string{"send_sms", "read_calendar", "owner likes coffee"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
