package bridge

import (
	"context"
	"fmt"
	"sync"

	xerrors "Aura-Agent/internal/errors"
	"Aura-Agent/internal/tool"
	"Aura-Agent/pkg/logger"
)

// CodeExecutionFailed 表示工具在设备侧执行失败。
const CodeExecutionFailed xerrors.Code = "TOOL_EXECUTION_FAILED"

func init() {
	xerrors.Register(CodeExecutionFailed, xerrors.Attributes{
		Message:  "工具执行失败",
		Severity: xerrors.SeverityWarning,
	})
}

// ExecutorFunc 是单个工具在设备侧的执行函数，返回给模型的观察文本。
type ExecutorFunc func(ctx context.Context, args map[string]any) (string, error)

// Bridge 把工具调用分发到对应的设备执行器。
// 同一能力（电话、短信、日历）底层是独占的设备资源，
// 通过每能力一把互斥锁保证同能力调用串行执行。
type Bridge struct {
	registry *tool.Registry

	mu        sync.Mutex
	executors map[string]ExecutorFunc
	capLocks  map[string]*sync.Mutex
}

// New 创建一个空的设备桥。执行器需要逐个注册。
func New(registry *tool.Registry) *Bridge {
	return &Bridge{
		registry:  registry,
		executors: make(map[string]ExecutorFunc),
		capLocks:  make(map[string]*sync.Mutex),
	}
}

// Handle 注册工具名到执行器的映射，重复注册时后注册的生效。
func (b *Bridge) Handle(name string, fn ExecutorFunc) {
	b.mu.Lock()
	b.executors[name] = fn
	b.mu.Unlock()
}

// Execute 校验参数后执行工具。执行器内部的 panic 会被吞掉并
// 转换为执行失败错误，不允许单个工具拖垮整个进程。
func (b *Bridge) Execute(ctx context.Context, sessionID, name string, args map[string]any) (string, error) {
	def, err := b.registry.Lookup(name)
	if err != nil {
		return "", err
	}
	normalized, err := b.registry.ValidateArgs(name, args)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	fn, ok := b.executors[name]
	if !ok {
		b.mu.Unlock()
		return "", xerrors.New(CodeExecutionFailed,
			fmt.Sprintf("工具 %s 没有注册执行器", name))
	}
	capLock := b.lockFor(def.Capability)
	b.mu.Unlock()

	capLock.Lock()
	defer capLock.Unlock()

	observation, err := b.run(ctx, fn, normalized)
	if err != nil {
		logger.Audit().Warn("工具执行失败",
			"session_id", sessionID,
			"tool", name,
			"capability", def.Capability,
			"error", err.Error(),
		)
		if xerrors.CodeOf(err) != xerrors.CodeUnknown {
			return "", err
		}
		return "", xerrors.Wrap(CodeExecutionFailed, err,
			fmt.Sprintf("工具 %s 执行失败", name))
	}

	logger.Audit().Info("工具执行完成",
		"session_id", sessionID,
		"tool", name,
		"capability", def.Capability,
	)
	return observation, nil
}

// lockFor 必须在持有 b.mu 时调用。
func (b *Bridge) lockFor(capability string) *sync.Mutex {
	if capability == "" {
		capability = "default"
	}
	lock, ok := b.capLocks[capability]
	if !ok {
		lock = &sync.Mutex{}
		b.capLocks[capability] = lock
	}
	return lock
}

func (b *Bridge) run(ctx context.Context, fn ExecutorFunc, args map[string]any) (observation string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(CodeExecutionFailed, fmt.Sprintf("执行器 panic: %v", r))
		}
	}()
	return fn(ctx, args)
}
