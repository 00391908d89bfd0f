package policy

import (
	"fmt"
	"sort"
	"strings"

	xerrors "Aura-Agent/internal/errors"
	"Aura-Agent/internal/tool"
)

// ArgMatch 是规则的参数谓词：命中要求指定参数等于某个值或落在集合内。
type ArgMatch struct {
	Key    string   `yaml:"key"`
	Equals string   `yaml:"equals,omitempty"`
	In     []string `yaml:"in,omitempty"`
}

// Rule 是一条授权规则。Scope 支持精确工具名、后缀通配（如 "phone_*"）
// 与全局通配 "*"。Priority 数值越小优先级越高，同优先级按声明顺序生效。
type Rule struct {
	Scope    string       `yaml:"scope"`
	Verdict  tool.Verdict `yaml:"verdict"`
	Priority int          `yaml:"priority,omitempty"`
	When     []ArgMatch   `yaml:"when,omitempty"`
	Reason   string       `yaml:"reason,omitempty"`
}

// Request 描述一次待授权的工具调用。
type Request struct {
	SessionID string
	Tool      string
	Args      map[string]any
}

// Decision 是一次纯函数求值的结果，Source 标明裁决来源以便审计解释。
type Decision struct {
	Verdict tool.Verdict
	Source  string
	Reason  string
}

// 裁决来源。
const (
	SourceBuiltin = "builtin_denylist"
	SourceRule    = "rule"
	SourceDefault = "registry_default"
)

// builtinDenied 是硬编码的不可覆盖拒绝名单。
// 任何配置规则都无法放行其中的动作。
var builtinDenied = []string{
	"execute_shell",
	"modify_system_files",
	"install_unknown_apps",
	"share_passwords",
	"access_bank",
	"transfer_money",
	"request_root",
	"browse_web",
	"open_url",
	"network_scan",
}

// Engine 对 (工具, 参数) 做出 ALLOW/DENY/REQUIRE_APPROVAL 裁决。
// Evaluate 是纯函数：不做 I/O，不产生副作用，规则表可以被穷举测试。
type Engine struct {
	registry *tool.Registry
	rules    []Rule
}

// NewEngine 构造策略引擎。规则按优先级稳定排序，
// 同优先级保持声明顺序，保证裁决结果确定。
func NewEngine(registry *tool.Registry, rules []Rule) (*Engine, error) {
	if registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供工具目录")
	}
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	for i, rule := range ordered {
		if strings.TrimSpace(rule.Scope) == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("规则 #%d 缺少 scope", i))
		}
		if !tool.IsValidVerdict(rule.Verdict) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("规则 #%d 的裁决非法: %q", i, rule.Verdict))
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return &Engine{registry: registry, rules: ordered}, nil
}

// Evaluate 求值顺序：目录查找 → 内置拒绝名单 → 规则表（优先级+声明顺序）
// → 目录默认裁决。未注册的工具返回 ErrUnknownTool。
func (e *Engine) Evaluate(req Request) (Decision, error) {
	def, err := e.registry.Lookup(req.Tool)
	if err != nil {
		return Decision{}, err
	}

	for _, name := range builtinDenied {
		if name == req.Tool {
			return Decision{
				Verdict: tool.VerdictDeny,
				Source:  SourceBuiltin,
				Reason:  "动作位于不可覆盖的拒绝名单",
			}, nil
		}
	}

	for _, rule := range e.rules {
		if !scopeMatches(rule.Scope, req.Tool) {
			continue
		}
		if !argsMatch(rule.When, req.Args) {
			continue
		}
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("规则 %s 命中", rule.Scope)
		}
		return Decision{Verdict: rule.Verdict, Source: SourceRule, Reason: reason}, nil
	}

	return Decision{
		Verdict: def.DefaultVerdict(),
		Source:  SourceDefault,
		Reason:  fmt.Sprintf("风险级别 %s 的默认裁决", def.Risk),
	}, nil
}

func scopeMatches(scope, name string) bool {
	if scope == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(scope, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return scope == name
}

func argsMatch(matchers []ArgMatch, args map[string]any) bool {
	for _, matcher := range matchers {
		raw, ok := args[matcher.Key]
		if !ok {
			return false
		}
		value := fmt.Sprintf("%v", raw)
		if matcher.Equals != "" {
			if value != matcher.Equals {
				return false
			}
			continue
		}
		found := false
		for _, candidate := range matcher.In {
			if candidate == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ErrPolicyDenied 表示调用被策略拒绝。
var ErrPolicyDenied = xerrors.New(CodePolicyDenied, "policy denied")

const CodePolicyDenied xerrors.Code = "POLICY_DENIED"

func init() {
	xerrors.Register(CodePolicyDenied, xerrors.Attributes{
		Message:   "action denied by policy",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}
