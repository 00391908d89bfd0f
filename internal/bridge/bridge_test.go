package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	xerrors "Aura-Agent/internal/errors"
	"Aura-Agent/internal/tool"
)

func newTestRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	registry := tool.NewRegistry()
	defs := []tool.Definition{
		{
			Name: "send_sms", Risk: tool.RiskMedium, Capability: "sms",
			Args: []tool.ArgSpec{
				{Name: "to", Type: "string", Required: true},
				{Name: "body", Type: "string", Required: true},
			},
		},
		{
			Name: "send_whatsapp", Risk: tool.RiskMedium, Capability: "sms",
			Args: []tool.ArgSpec{
				{Name: "to", Type: "string", Required: true},
				{Name: "body", Type: "string", Required: true},
			},
		},
		{
			Name: "read_calendar", Risk: tool.RiskLow, Capability: "calendar",
			Args: []tool.ArgSpec{{Name: "date", Type: "string"}},
		},
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}
	return registry
}

func TestExecuteSuccess(t *testing.T) {
	registry := newTestRegistry(t)
	b := New(registry)
	b.Handle("send_sms", func(_ context.Context, args map[string]any) (string, error) {
		return "短信已发送给 " + args["to"].(string), nil
	})

	observation, err := b.Execute(context.Background(), "s1", "send_sms",
		map[string]any{"to": "mom", "body": "晚上回家吃饭"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observation != "短信已发送给 mom" {
		t.Fatalf("unexpected observation: %q", observation)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	b := New(newTestRegistry(t))
	if _, err := b.Execute(context.Background(), "s1", "missing", nil); !errors.Is(err, tool.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestExecuteInvalidArgs(t *testing.T) {
	b := New(newTestRegistry(t))
	b.Handle("send_sms", func(context.Context, map[string]any) (string, error) {
		t.Error("executor should not run on invalid args")
		return "", nil
	})

	_, err := b.Execute(context.Background(), "s1", "send_sms", map[string]any{"to": "mom"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestExecuteMissingExecutor(t *testing.T) {
	b := New(newTestRegistry(t))
	_, err := b.Execute(context.Background(), "s1", "read_calendar", nil)
	if xerrors.CodeOf(err) != CodeExecutionFailed {
		t.Fatalf("expected TOOL_EXECUTION_FAILED, got %v", err)
	}
}

func TestExecutePanicRecovered(t *testing.T) {
	b := New(newTestRegistry(t))
	b.Handle("read_calendar", func(context.Context, map[string]any) (string, error) {
		panic("device offline")
	})

	_, err := b.Execute(context.Background(), "s1", "read_calendar", nil)
	if xerrors.CodeOf(err) != CodeExecutionFailed {
		t.Fatalf("panic should become TOOL_EXECUTION_FAILED, got %v", err)
	}
}

func TestExecuteFailureWrapped(t *testing.T) {
	b := New(newTestRegistry(t))
	b.Handle("read_calendar", func(context.Context, map[string]any) (string, error) {
		return "", errors.New("calendar provider down")
	})

	_, err := b.Execute(context.Background(), "s1", "read_calendar", nil)
	if xerrors.CodeOf(err) != CodeExecutionFailed {
		t.Fatalf("plain error should be wrapped, got %v", err)
	}
}

func TestExecuteCapabilitySerialized(t *testing.T) {
	b := New(newTestRegistry(t))

	var mu sync.Mutex
	inflight, maxSeen := 0, 0
	slowExecutor := func(context.Context, map[string]any) (string, error) {
		mu.Lock()
		inflight++
		if inflight > maxSeen {
			maxSeen = inflight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inflight--
		mu.Unlock()
		return "ok", nil
	}
	b.Handle("send_sms", slowExecutor)
	b.Handle("send_whatsapp", slowExecutor)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		name := "send_sms"
		if i%2 == 1 {
			name = "send_whatsapp"
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, _ = b.Execute(context.Background(), "s1", name,
				map[string]any{"to": "mom", "body": "hi"})
		}(name)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxSeen != 1 {
		t.Fatalf("same capability must execute serially, saw %d concurrent", maxSeen)
	}
}

func TestRegisterSimulated(t *testing.T) {
	registry := newTestRegistry(t)
	b := New(registry)
	RegisterSimulated(b)

	observation, err := b.Execute(context.Background(), "s1", "send_sms",
		map[string]any{"to": "mom", "body": "到家了"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observation == "" {
		t.Fatalf("simulated executor should return an observation")
	}
}
