package session

import (
	"context"
	"testing"
	"time"

	"Aura-Agent/internal/llm"
)

func TestBeginTurnCancelsPrevious(t *testing.T) {
	sess := newSession("s1")

	first, endFirst := sess.BeginTurn(context.Background())
	if sess.State() != StateAwaitingModel {
		t.Fatalf("new turn should enter AWAITING_MODEL, got %q", sess.State())
	}

	second, endSecond := sess.BeginTurn(context.Background())
	select {
	case <-first.Done():
	default:
		t.Fatalf("starting a new turn should cancel the previous one")
	}
	select {
	case <-second.Done():
		t.Fatalf("the new turn context should stay live")
	default:
	}

	// 旧回合的收尾不得影响新回合的状态。
	endFirst()
	if sess.State() != StateAwaitingModel {
		t.Fatalf("stale end should not touch state, got %q", sess.State())
	}

	endSecond()
	if sess.State() != StateDone {
		t.Fatalf("current turn end should mark DONE, got %q", sess.State())
	}
}

func TestCancelResetsState(t *testing.T) {
	sess := newSession("s1")
	ctx, end := sess.BeginTurn(context.Background())

	sess.Cancel()
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("cancel should abort the in-flight turn")
	}
	if sess.State() != StateIdle {
		t.Fatalf("cancel should reset to IDLE, got %q", sess.State())
	}

	end()
	if sess.State() != StateIdle {
		t.Fatalf("stale end after cancel should be a no-op, got %q", sess.State())
	}
}

func TestHistorySnapshot(t *testing.T) {
	sess := newSession("s1")
	sess.Append(llm.Message{Role: llm.RoleUser, Content: "你好"})
	sess.Append(llm.Message{Role: llm.RoleAssistant, Content: "你好，我在"})

	snapshot := sess.History()
	if len(snapshot) != 2 {
		t.Fatalf("unexpected history length: %d", len(snapshot))
	}
	snapshot[0].Content = "改写"
	if sess.History()[0].Content != "你好" {
		t.Fatalf("history snapshot should be a copy")
	}
}

func TestManagerGetCreates(t *testing.T) {
	manager := NewManager(time.Minute)
	a := manager.Get("s1")
	b := manager.Get("s1")
	if a != b {
		t.Fatalf("same id should return the same session")
	}
	if manager.Len() != 1 {
		t.Fatalf("unexpected session count: %d", manager.Len())
	}
}

func TestManagerSweep(t *testing.T) {
	manager := NewManager(time.Minute)
	stale := manager.Get("stale")
	fresh := manager.Get("fresh")

	ctx, _ := stale.BeginTurn(context.Background())
	stale.mu.Lock()
	stale.lastActive = time.Now().Add(-2 * time.Minute)
	stale.mu.Unlock()

	if removed := manager.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept session, got %d", removed)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("sweeping should cancel the in-flight turn")
	}
	if manager.Len() != 1 {
		t.Fatalf("fresh session should survive, count %d", manager.Len())
	}
	if manager.Get("fresh") != fresh {
		t.Fatalf("fresh session instance should be retained")
	}
}
