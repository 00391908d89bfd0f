package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Aura-Agent/internal/approval"
	"Aura-Agent/internal/bridge"
	xerrors "Aura-Agent/internal/errors"
	"Aura-Agent/internal/llm"
	"Aura-Agent/internal/memory"
	"Aura-Agent/internal/observability/alerting"
	"Aura-Agent/internal/observability/metrics"
	"Aura-Agent/internal/policy"
	"Aura-Agent/internal/session"
	"Aura-Agent/internal/tool"
	"Aura-Agent/internal/transport"
	"Aura-Agent/pkg/logger"
)

// CodeTurnLimitExceeded 表示单回合工具调用轮次超过上限。
const CodeTurnLimitExceeded xerrors.Code = "TURN_LIMIT_EXCEEDED"

func init() {
	xerrors.Register(CodeTurnLimitExceeded, xerrors.Attributes{
		Message:  "单回合工具调用轮次超限",
		Severity: xerrors.SeverityWarning,
	})
}

const (
	defaultMaxToolRounds = 5
	defaultMemoryDepth   = 10
)

// TurnResult 汇总一个回合的最终产出。
type TurnResult struct {
	SessionID string `json:"session_id"`
	Thought   string `json:"thought"`
	Reply     string `json:"reply"`
	Rounds    int    `json:"rounds"`
	LimitHit  bool   `json:"limit_hit,omitempty"`
}

// Orchestrator 驱动回合状态机，是系统的业务核心：
// 拼装提示词、调用模型、按策略裁决工具调用、执行并回灌观察结果。
// 任何工具执行必须先拿到 ALLOW 裁决或用户批准，没有旁路。
type Orchestrator struct {
	llmClient llm.Client
	registry  *tool.Registry
	policy    *policy.Engine
	approvals *approval.Manager
	bridge    *bridge.Bridge
	sessions  *session.Manager
	outbound  transport.Outbound

	facts         memory.FactStore
	working       memory.WorkingContext
	alerts        alerting.Dispatcher
	maxToolRounds int
	memoryDepth   int
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithFactStore 配置长期事实存储，提示词会带上最近的事实。
func WithFactStore(store memory.FactStore) Option {
	return func(o *Orchestrator) {
		o.facts = store
	}
}

// WithWorkingContext 配置短期工作上下文。
func WithWorkingContext(working memory.WorkingContext) Option {
	return func(o *Orchestrator) {
		o.working = working
	}
}

// WithMaxToolRounds 设置单回合允许的工具调用轮次上限。
func WithMaxToolRounds(rounds int) Option {
	return func(o *Orchestrator) {
		o.maxToolRounds = rounds
	}
}

// WithMemoryDepth 设置提示词中携带的事实条数。
func WithMemoryDepth(depth int) Option {
	return func(o *Orchestrator) {
		o.memoryDepth = depth
	}
}

// WithAlerts 配置安全告警分发器。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(o *Orchestrator) {
		o.alerts = dispatcher
	}
}

// New 创建编排器。llmClient、registry、policyEngine、deviceBridge 为必选项。
func New(
	llmClient llm.Client,
	registry *tool.Registry,
	policyEngine *policy.Engine,
	approvals *approval.Manager,
	deviceBridge *bridge.Bridge,
	sessions *session.Manager,
	outbound transport.Outbound,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		llmClient:     llmClient,
		registry:      registry,
		policy:        policyEngine,
		approvals:     approvals,
		bridge:        deviceBridge,
		sessions:      sessions,
		outbound:      outbound,
		maxToolRounds: defaultMaxToolRounds,
		memoryDepth:   defaultMemoryDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.maxToolRounds <= 0 {
		o.maxToolRounds = defaultMaxToolRounds
	}
	return o
}

// HandleMessage 处理一条用户消息，跑完整个回合后返回结果。
// 同一会话的上一在途回合会被本次消息取消。
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	if o.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}
	if sessionID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话标识不能为空")
	}

	sess := o.sessions.Get(sessionID)
	turnCtx, endTurn := sess.BeginTurn(ctx)
	defer endTurn()

	sess.Append(llm.Message{Role: llm.RoleUser, Content: text})

	start := time.Now()
	result, err := o.runTurn(turnCtx, sess)
	if err != nil {
		metrics.ObserveTurn("error", time.Since(start))
		if xerrors.ShouldAlert(err) {
			o.alert(ctx, alerting.Event{
				Code:      xerrors.CodeOf(err),
				Message:   err.Error(),
				Severity:  xerrors.SeverityOf(err),
				SessionID: sessionID,
			})
		}
		if turnCtx.Err() != nil && ctx.Err() == nil {
			return nil, xerrors.Wrap(session.CodeSessionCancelled, err, "回合被新消息取消")
		}
		return nil, err
	}
	if result.LimitHit {
		metrics.ObserveTurn("limit_hit", time.Since(start))
	} else {
		metrics.ObserveTurn("ok", time.Since(start))
	}

	o.rememberRecent(ctx, sess.ID(), result.Reply)
	o.deliver(ctx, sess.ID(), transport.KindReply, result.Reply)
	return result, nil
}

// Resolve 转发审批裁决，供接入层调用。
func (o *Orchestrator) Resolve(correlationID string, approved bool, actor string) error {
	return o.approvals.Resolve(correlationID, approved, actor)
}

func (o *Orchestrator) runTurn(ctx context.Context, sess *session.Session) (*TurnResult, error) {
	rounds := 0
	for {
		sess.SetState(session.StateAwaitingModel)
		resp, err := o.llmClient.Complete(ctx, llm.Request{
			SessionID: sess.ID(),
			System:    o.buildSystemPrompt(ctx, sess.ID()),
			Messages:  sess.History(),
		})
		if err != nil {
			return nil, err
		}

		if !resp.WantsTools() {
			sess.Append(llm.Message{Role: llm.RoleAssistant, Content: resp.Reply})
			return &TurnResult{
				SessionID: sess.ID(),
				Thought:   resp.Thought,
				Reply:     resp.Reply,
				Rounds:    rounds,
			}, nil
		}

		if rounds >= o.maxToolRounds {
			logger.L().Warn("工具调用轮次超限",
				"session_id", sess.ID(),
				"rounds", rounds,
			)
			reply := "这个请求需要的操作步骤太多，我先停下来了。请把任务拆小一点再试。"
			sess.Append(llm.Message{Role: llm.RoleAssistant, Content: reply})
			return &TurnResult{
				SessionID: sess.ID(),
				Reply:     reply,
				Rounds:    rounds,
				LimitHit:  true,
			}, nil
		}
		rounds++

		sess.Append(llm.Message{
			Role:    llm.RoleAssistant,
			Content: describeToolCalls(resp.ToolCalls),
		})
		for _, call := range resp.ToolCalls {
			observation, err := o.executeCall(ctx, sess, call)
			if err != nil {
				return nil, err
			}
			sess.Append(llm.Message{
				Role:    llm.RoleTool,
				Content: toolObservation(call.Tool, observation),
			})
		}
	}
}

// executeCall 对单个工具调用走完 校验、裁决、审批、执行 四步。
// 参数校验放在最前面：参数非法的调用不应该打扰用户审批。
// 返回回灌给模型的观察文本；只有会话级失败（取消、审批递送失败）才返回 error。
func (o *Orchestrator) executeCall(ctx context.Context, sess *session.Session, call llm.ToolCall) (string, error) {
	sess.SetState(session.StateAwaitingTool)

	args, err := o.registry.ValidateArgs(call.Tool, call.Args)
	if err != nil {
		return invalidCallObservation(call.Tool, err), nil
	}

	decision, err := o.policy.Evaluate(policy.Request{
		SessionID: sess.ID(),
		Tool:      call.Tool,
		Args:      args,
	})
	if err != nil {
		return fmt.Sprintf("工具 %s 不可用：%v。", call.Tool, err), nil
	}

	logger.Audit().Info("策略裁决",
		"session_id", sess.ID(),
		"tool", call.Tool,
		"verdict", string(decision.Verdict),
		"source", decision.Source,
	)

	switch decision.Verdict {
	case tool.VerdictDeny:
		if decision.Source == policy.SourceBuiltin {
			o.alert(ctx, alerting.Event{
				Code:      policy.CodePolicyDenied,
				Message:   decision.Reason,
				Severity:  xerrors.SeverityCritical,
				SessionID: sess.ID(),
				Tool:      call.Tool,
			})
		}
		return deniedObservation(call.Tool, decision.Reason), nil

	case tool.VerdictRequireApproval:
		sess.SetState(session.StateAwaitingApproval)
		granted, err := o.approvals.Request(ctx, sess.ID(), call.Tool, args, decision.Reason)
		if err != nil {
			switch xerrors.CodeOf(err) {
			case approval.CodeApprovalTimeout:
				return timeoutObservation(call.Tool), nil
			default:
				return "", err
			}
		}
		if !granted.Approved {
			return rejectedObservation(call.Tool), nil
		}
	}

	sess.SetState(session.StateAwaitingTool)
	observation, err := o.bridge.Execute(ctx, sess.ID(), call.Tool, args)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return failureObservation(call.Tool, err), nil
	}
	return observation, nil
}

func (o *Orchestrator) alert(ctx context.Context, event alerting.Event) {
	if o.alerts == nil {
		return
	}
	if err := o.alerts.Notify(ctx, event); err != nil {
		logger.L().Warn("安全告警分发失败", "code", string(event.Code), "error", err.Error())
	}
}

func (o *Orchestrator) rememberRecent(ctx context.Context, sessionID, reply string) {
	if o.working == nil || strings.TrimSpace(reply) == "" {
		return
	}
	// TTL 传零，由工作上下文自身配置的默认过期时间决定。
	if err := o.working.Remember(ctx, workingKey(sessionID), "上次回复: "+reply, 0); err != nil {
		logger.L().Warn("写入工作上下文失败", "session_id", sessionID, "error", err.Error())
	}
}

func (o *Orchestrator) deliver(ctx context.Context, sessionID, kind, content string) {
	if o.outbound == nil || strings.TrimSpace(content) == "" {
		return
	}
	msg := transport.Message{
		SessionID: sessionID,
		Kind:      kind,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := o.outbound.Deliver(ctx, msg); err != nil {
		logger.L().Warn("出站消息投递失败", "session_id", sessionID, "error", err.Error())
	}
}

func describeToolCalls(calls []llm.ToolCall) string {
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		names = append(names, call.Tool)
	}
	return "请求执行工具: " + strings.Join(names, ", ")
}
