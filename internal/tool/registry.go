package tool

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	xerrors "Aura-Agent/internal/errors"
)

// Registry 持有进程内全部可调用能力的目录。
// 启动阶段从配置加载一次，之后视为只读状态。
type Registry struct {
	tools map[string]Definition
	names []string
}

// NewRegistry 创建一个空目录。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

// NewRegistryFrom 依次注册给定定义，遇到重名立即失败。
func NewRegistryFrom(defs []Definition) (*Registry, error) {
	r := NewRegistry()
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册一个工具定义，重名时返回 ErrDuplicateTool。
func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}
	if !IsValidRisk(def.Risk) {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("工具 %s 的风险级别非法: %q", name, def.Risk))
	}
	if def.Default != "" && !IsValidVerdict(def.Default) {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("工具 %s 的默认裁决非法: %q", name, def.Default))
	}
	if _, exists := r.tools[name]; exists {
		return xerrors.Wrap(CodeDuplicateTool, ErrDuplicateTool, fmt.Sprintf("工具 %s 已注册", name))
	}
	def.Name = name
	r.tools[name] = def
	r.names = append(r.names, name)
	sort.Strings(r.names)
	return nil
}

// Lookup 返回工具定义，未注册时返回 ErrUnknownTool。
func (r *Registry) Lookup(name string) (Definition, error) {
	def, ok := r.tools[name]
	if !ok {
		return Definition{}, xerrors.Wrap(CodeUnknownTool, ErrUnknownTool, fmt.Sprintf("工具 %s 未注册", name))
	}
	return def, nil
}

// List 返回按名称排序的目录快照，供拼装提示词使用。
func (r *Registry) List() []Definition {
	defs := make([]Definition, 0, len(r.names))
	for _, name := range r.names {
		defs = append(defs, r.tools[name])
	}
	return defs
}

// Len 返回已注册工具数量。
func (r *Registry) Len() int {
	return len(r.tools)
}

// ValidateArgs 按参数表校验调用参数：缺失的必填项与未知字段都会拒绝，
// 类型不匹配时尝试宽松转换（模型输出常把数字写成字符串）。
func (r *Registry) ValidateArgs(name string, args map[string]any) (map[string]any, error) {
	def, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	specs := make(map[string]ArgSpec, len(def.Args))
	for _, spec := range def.Args {
		specs[spec.Name] = spec
	}

	validated := make(map[string]any, len(args))
	for key, value := range args {
		spec, ok := specs[key]
		if !ok {
			return nil, xerrors.New(CodeInvalidArgs, fmt.Sprintf("工具 %s 不接受参数 %s", name, key))
		}
		coerced, err := coerceValue(spec, value)
		if err != nil {
			return nil, xerrors.Wrap(CodeInvalidArgs, err, fmt.Sprintf("工具 %s 参数 %s 非法", name, key))
		}
		validated[key] = coerced
	}
	for _, spec := range def.Args {
		if !spec.Required {
			continue
		}
		if _, ok := validated[spec.Name]; !ok {
			return nil, xerrors.New(CodeInvalidArgs, fmt.Sprintf("工具 %s 缺少必填参数 %s", name, spec.Name))
		}
	}
	return validated, nil
}

func coerceValue(spec ArgSpec, value any) (any, error) {
	switch spec.Type {
	case "", "string":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil
	case "int":
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			parsed, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("期望整数，得到 %q", v)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("期望整数，得到 %T", value)
		}
	case "number":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("期望数字，得到 %q", v)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("期望数字，得到 %T", value)
		}
	case "bool":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("期望布尔值，得到 %q", v)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("期望布尔值，得到 %T", value)
		}
	default:
		return nil, fmt.Errorf("参数类型 %q 不受支持", spec.Type)
	}
}
