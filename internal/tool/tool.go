package tool

import (
	xerrors "Aura-Agent/internal/errors"
)

// RiskTier 表示某个能力的敏感级别，驱动默认的授权行为。
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Verdict 是策略引擎针对一次调用的决定。
type Verdict string

const (
	VerdictAllow           Verdict = "allow"
	VerdictDeny            Verdict = "deny"
	VerdictRequireApproval Verdict = "require_approval"
)

// ArgSpec 描述工具参数表中的一个字段。
type ArgSpec struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Required    bool   `yaml:"required" json:"required"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// Definition 描述一个可被智能体请求执行的设备能力。
// 加载完成后不可变，由 Registry 持有。
type Definition struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Risk        RiskTier  `yaml:"risk" json:"risk"`
	Default     Verdict   `yaml:"default" json:"default,omitempty"`
	Capability  string    `yaml:"capability" json:"capability,omitempty"`
	Args        []ArgSpec `yaml:"args" json:"args,omitempty"`
}

// DefaultVerdict 返回该工具在没有策略规则命中时的默认裁决。
// 未显式配置时按风险级别映射：LOW 放行，MEDIUM/HIGH 需要人工批准。
// DENY 只能来自显式的拒绝规则。
func (d Definition) DefaultVerdict() Verdict {
	if d.Default != "" {
		return d.Default
	}
	switch d.Risk {
	case RiskLow:
		return VerdictAllow
	default:
		return VerdictRequireApproval
	}
}

var (
	// ErrUnknownTool 表示请求的工具未在目录中注册。
	ErrUnknownTool = xerrors.New(CodeUnknownTool, "unknown tool")
	// ErrDuplicateTool 表示同名工具已经注册。
	ErrDuplicateTool = xerrors.New(CodeDuplicateTool, "duplicate tool")
)

const (
	CodeUnknownTool   xerrors.Code = "UNKNOWN_TOOL"
	CodeDuplicateTool xerrors.Code = "DUPLICATE_TOOL"
	CodeInvalidArgs   xerrors.Code = "TOOL_ARGS_INVALID"
)

func init() {
	xerrors.Register(CodeUnknownTool, xerrors.Attributes{
		Message:   "unknown tool",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDuplicateTool, xerrors.Attributes{
		Message:   "duplicate tool",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidArgs, xerrors.Attributes{
		Message:   "tool arguments failed validation",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// IsValidRisk 检查风险级别是否为支持的枚举值。
func IsValidRisk(risk RiskTier) bool {
	switch risk {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// IsValidVerdict 检查裁决是否为支持的枚举值。
func IsValidVerdict(verdict Verdict) bool {
	switch verdict {
	case VerdictAllow, VerdictDeny, VerdictRequireApproval:
		return true
	default:
		return false
	}
}
