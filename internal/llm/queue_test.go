package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	xerrors "Aura-Agent/internal/errors"
)

// stubBackend 是可编程的后端，记录被调用的顺序。
type stubBackend struct {
	mu       sync.Mutex
	order    []string
	inflight int
	maxSeen  int
	delay    time.Duration
	fail     error
	failures int
}

func (s *stubBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	s.order = append(s.order, req.SessionID)
	s.inflight++
	if s.inflight > s.maxSeen {
		s.maxSeen = s.inflight
	}
	fail := s.fail
	if s.failures > 0 {
		s.failures--
	} else if s.failures == 0 && s.fail != nil && !s.permanent() {
		fail = nil
	}
	delay := s.delay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	return &Response{Reply: "ok"}, nil
}

func (s *stubBackend) permanent() bool {
	return s.failures < 0
}

func (s *stubBackend) CompleteStream(ctx context.Context, req Request, emit func(Chunk) error) (*Response, error) {
	return s.Complete(ctx, req)
}

func TestSerializerSingleSlot(t *testing.T) {
	backend := &stubBackend{delay: 10 * time.Millisecond}
	serializer := NewSerializer(backend, SerializerConfig{CallTimeout: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := serializer.Complete(context.Background(), Request{SessionID: "s"}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if backend.maxSeen != 1 {
		t.Fatalf("backend saw %d concurrent calls, want 1", backend.maxSeen)
	}
}

func TestSerializerFIFO(t *testing.T) {
	backend := &stubBackend{delay: 5 * time.Millisecond}
	serializer := NewSerializer(backend, SerializerConfig{CallTimeout: time.Second})

	// 先占住槽位，保证后续请求都进入等待队列。
	blocker := make(chan struct{})
	go func() {
		_, _ = serializer.Complete(context.Background(), Request{SessionID: "warmup"})
		close(blocker)
	}()
	<-blocker

	first := make(chan struct{})
	backend.mu.Lock()
	backend.delay = 30 * time.Millisecond
	backend.mu.Unlock()
	go func() {
		close(first)
		_, _ = serializer.Complete(context.Background(), Request{SessionID: "hold"})
	}()
	<-first
	time.Sleep(5 * time.Millisecond)

	var wg sync.WaitGroup
	sessions := []string{"a", "b", "c", "d"}
	for _, id := range sessions {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = serializer.Complete(context.Background(), Request{SessionID: id})
		}(id)
		// 错开入队时间，确定到达顺序。
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	got := backend.order[len(backend.order)-4:]
	for i, id := range sessions {
		if got[i] != id {
			t.Fatalf("FIFO order broken: got %v want %v", got, sessions)
		}
	}
}

func TestSerializerTimeout(t *testing.T) {
	backend := &stubBackend{delay: time.Second}
	serializer := NewSerializer(backend, SerializerConfig{CallTimeout: 20 * time.Millisecond})

	_, err := serializer.Complete(context.Background(), Request{SessionID: "s"})
	if xerrors.CodeOf(err) != CodeInferenceTimeout {
		t.Fatalf("expected INFERENCE_TIMEOUT, got %v", err)
	}
}

func TestSerializerRetryExhausted(t *testing.T) {
	backend := &stubBackend{fail: errors.New("connection refused"), failures: -1}
	serializer := NewSerializer(backend, SerializerConfig{
		CallTimeout: time.Second,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
	})

	_, err := serializer.Complete(context.Background(), Request{SessionID: "s"})
	if xerrors.CodeOf(err) != CodeInferenceUnavailable {
		t.Fatalf("expected INFERENCE_UNAVAILABLE, got %v", err)
	}

	backend.mu.Lock()
	calls := len(backend.order)
	backend.mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestSerializerRetryRecovers(t *testing.T) {
	backend := &stubBackend{fail: errors.New("transient"), failures: 1}
	serializer := NewSerializer(backend, SerializerConfig{
		CallTimeout: time.Second,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
	})

	resp, err := serializer.Complete(context.Background(), Request{SessionID: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Reply != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSerializerWaiterCancelled(t *testing.T) {
	backend := &stubBackend{delay: 100 * time.Millisecond}
	serializer := NewSerializer(backend, SerializerConfig{CallTimeout: time.Second})

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = serializer.Complete(context.Background(), Request{SessionID: "hold"})
	}()
	<-started
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := serializer.Complete(ctx, Request{SessionID: "cancelled"})
	if xerrors.CodeOf(err) != xerrors.CodeCancelled {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}
