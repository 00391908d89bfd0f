package agent

import (
	"context"
	"fmt"
	"strings"

	"Aura-Agent/internal/memory"
)

const systemPreamble = "" +
	"You are Aura, a personal assistant running on the user's phone. " +
	"Always respond with a compact JSON object. " +
	"To answer directly: {\"thought\": string, \"reply\": string}. " +
	"To use device tools first: {\"thought\": string, \"tool_calls\": [{\"tool\": string, \"args\": object}]}. " +
	"Only call tools listed in the catalog below. Use Chinese for the reply."

// buildSystemPrompt 拼装系统提示词：人设与输出约定、工具目录、
// 长期记忆里的相关事实、工作上下文里的短期状态。
func (o *Orchestrator) buildSystemPrompt(ctx context.Context, sessionID string) string {
	var builder strings.Builder
	builder.WriteString(systemPreamble)

	builder.WriteString("\n\n## 可用工具\n")
	for _, def := range o.registry.List() {
		builder.WriteString(fmt.Sprintf("- %s: %s", def.Name, def.Description))
		if len(def.Args) > 0 {
			parts := make([]string, 0, len(def.Args))
			for _, arg := range def.Args {
				label := arg.Name
				if arg.Required {
					label += "*"
				}
				parts = append(parts, fmt.Sprintf("%s(%s)", label, arg.Type))
			}
			builder.WriteString(" 参数: " + strings.Join(parts, ", "))
		}
		builder.WriteString("\n")
	}

	if facts := o.loadFacts(ctx); len(facts) > 0 {
		builder.WriteString("\n## 已知事实\n")
		for _, fact := range facts {
			builder.WriteString(fmt.Sprintf("- %s %s %s\n", fact.Subject, fact.Predicate, fact.Object))
		}
	}

	if recent := o.recallWorking(ctx, sessionID); recent != "" {
		builder.WriteString("\n## 近期状态\n")
		builder.WriteString(recent + "\n")
	}

	return builder.String()
}

func (o *Orchestrator) loadFacts(ctx context.Context) []memory.Fact {
	if o.facts == nil || o.memoryDepth <= 0 {
		return nil
	}
	facts, err := o.facts.Query(ctx, memory.Filter{Limit: o.memoryDepth})
	if err != nil {
		return nil
	}
	return facts
}

func (o *Orchestrator) recallWorking(ctx context.Context, sessionID string) string {
	if o.working == nil {
		return ""
	}
	value, ok, err := o.working.Recall(ctx, workingKey(sessionID))
	if err != nil || !ok {
		return ""
	}
	return value
}

func workingKey(sessionID string) string {
	return "session:" + sessionID + ":recent"
}

// 各类裁决对应的观察文本，回灌给模型继续推理。
func deniedObservation(toolName, reason string) string {
	if reason == "" {
		reason = "策略不允许该操作"
	}
	return fmt.Sprintf("工具 %s 被策略拒绝：%s。不要重试该工具。", toolName, reason)
}

func rejectedObservation(toolName string) string {
	return fmt.Sprintf("用户拒绝了 %s 的执行请求，操作未执行。", toolName)
}

func timeoutObservation(toolName string) string {
	return fmt.Sprintf("用户未在时限内确认 %s，按拒绝处理，操作未执行。", toolName)
}

func invalidCallObservation(toolName string, err error) string {
	return fmt.Sprintf("工具 %s 的调用无效：%v。请修正参数后再试。", toolName, err)
}

func failureObservation(toolName string, err error) string {
	return fmt.Sprintf("工具 %s 执行失败：%v。", toolName, err)
}

func toolObservation(toolName, observation string) string {
	return fmt.Sprintf("%s => %s", toolName, observation)
}
