package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	xerrors "Aura-Agent/internal/errors"
	"Aura-Agent/pkg/logger"
)

const (
	defaultCallTimeout = 60 * time.Second
	defaultMaxRetries  = 2
	defaultBackoffBase = 500 * time.Millisecond
	maxBackoff         = 8 * time.Second
)

// SerializerConfig 控制串行化器的超时与重试行为。
type SerializerConfig struct {
	CallTimeout time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

// Serializer 把并发的推理请求收敛为对后端的严格串行调用。
// 本地推理后端同一时刻只能服务一个请求，排队顺序必须是先来先服务，
// 否则多会话场景下后到的会话可能饿死先到的会话。
type Serializer struct {
	backend     Client
	callTimeout time.Duration
	maxRetries  int
	backoffBase time.Duration

	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// NewSerializer 包装一个后端客户端，返回满足 Client 接口的串行化器。
func NewSerializer(backend Client, cfg SerializerConfig) *Serializer {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	return &Serializer{
		backend:     backend,
		callTimeout: cfg.CallTimeout,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
	}
}

// Complete 排队后调用后端，失败时按指数退避重试。
// 单次调用超时返回 INFERENCE_TIMEOUT，重试耗尽返回 INFERENCE_UNAVAILABLE。
func (s *Serializer) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, attempt); err != nil {
				return nil, err
			}
			logger.L().Warn("重试模型推理",
				"session_id", req.SessionID,
				"attempt", attempt,
			)
		}

		resp, err := s.invoke(ctx, req)
		if err == nil {
			return resp, nil
		}
		if xerrors.CodeOf(err) == CodeInferenceTimeout || xerrors.CodeOf(err) == xerrors.CodeCancelled {
			return nil, err
		}
		lastErr = err
	}
	return nil, xerrors.Wrap(CodeInferenceUnavailable, lastErr, "模型服务连续失败，放弃重试")
}

// CompleteStream 排队后以流式方式调用后端。
// 流一旦开始向调用方吐出片段就无法安全重试，所以只尝试一次。
func (s *Serializer) CompleteStream(ctx context.Context, req Request, emit func(Chunk) error) (*Response, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	resp, err := s.backend.CompleteStream(callCtx, req, emit)
	if err != nil {
		return nil, s.classify(ctx, callCtx, err)
	}
	return resp, nil
}

func (s *Serializer) invoke(ctx context.Context, req Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	resp, err := s.backend.Complete(callCtx, req)
	if err != nil {
		return nil, s.classify(ctx, callCtx, err)
	}
	return resp, nil
}

// classify 把后端错误归入本包的错误码。
// 调用方取消优先于单次超时，两者都命中时按取消处理。
func (s *Serializer) classify(ctx, callCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return xerrors.Wrap(xerrors.CodeCancelled, err, "推理请求被取消")
	}
	if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
		return xerrors.Wrap(CodeInferenceTimeout, err, "单次推理调用超时")
	}
	return err
}

func (s *Serializer) sleep(ctx context.Context, attempt int) error {
	delay := s.backoffBase << (attempt - 1)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "等待重试时被取消")
	}
}

// acquire 占用唯一的推理槽位。槽位被占用时按到达顺序排队等待。
func (s *Serializer) acquire(ctx context.Context) error {
	s.mu.Lock()
	if !s.busy {
		s.busy = true
		s.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, waiter := range s.waiters {
			if waiter == ready {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "排队等待推理时被取消")
			}
		}
		// 槽位已经授予但调用方同时被取消，转交给下一位。
		s.releaseLocked()
		s.mu.Unlock()
		return xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "排队等待推理时被取消")
	}
}

func (s *Serializer) release() {
	s.mu.Lock()
	s.releaseLocked()
	s.mu.Unlock()
}

// releaseLocked 把槽位交给队首等待者，没有等待者时置空闲。
func (s *Serializer) releaseLocked() {
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(next)
		return
	}
	s.busy = false
}

var _ Client = (*Serializer)(nil)
