package llm

import "testing"

func TestParseOutputReply(t *testing.T) {
	resp := ParseOutput(`{"thought":"直接回答","reply":"今天没有日程"}`)
	if resp.Thought != "直接回答" || resp.Reply != "今天没有日程" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.WantsTools() {
		t.Fatalf("reply output should not request tools")
	}
}

func TestParseOutputToolCalls(t *testing.T) {
	resp := ParseOutput(`{"thought":"先查日历","tool_calls":[{"tool":"read_calendar","args":{"date":"2026-08-28"}}]}`)
	if !resp.WantsTools() {
		t.Fatalf("expected tool calls: %+v", resp)
	}
	if resp.ToolCalls[0].Tool != "read_calendar" {
		t.Fatalf("unexpected tool call: %+v", resp.ToolCalls[0])
	}
	if resp.ToolCalls[0].Args["date"] != "2026-08-28" {
		t.Fatalf("unexpected args: %+v", resp.ToolCalls[0].Args)
	}
}

func TestParseOutputCodeFence(t *testing.T) {
	content := "```json\n{\"thought\":\"x\",\"reply\":\"好的\"}\n```"
	resp := ParseOutput(content)
	if resp.Reply != "好的" {
		t.Fatalf("fenced JSON should be unwrapped: %+v", resp)
	}
}

func TestParseOutputPlainText(t *testing.T) {
	resp := ParseOutput("我不确定你的意思。")
	if resp.Reply != "我不确定你的意思。" {
		t.Fatalf("plain text should become the reply: %+v", resp)
	}
	if resp.WantsTools() {
		t.Fatalf("plain text should not request tools")
	}
}
