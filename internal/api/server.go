package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"Aura-Agent/internal/agent"
	"Aura-Agent/internal/approval"
	"Aura-Agent/internal/auth"
	xerrors "Aura-Agent/internal/errors"
	"Aura-Agent/internal/llm"
	"Aura-Agent/internal/memory"
	"Aura-Agent/internal/policy"
	"Aura-Agent/internal/session"
	"Aura-Agent/internal/tool"
)

// Server 负责暴露 REST 接口，供设备侧 App 驱动助手。
type Server struct {
	addr         string
	orchestrator *agent.Orchestrator
	approvals    *approval.Manager
	facts        memory.FactStore
	authService  *auth.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orchestrator *agent.Orchestrator, approvals *approval.Manager, facts memory.FactStore, authService *auth.Service) *Server {
	return &Server{
		addr:         addr,
		orchestrator: orchestrator,
		approvals:    approvals,
		facts:        facts,
		authService:  authService,
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/messages", s.handleMessages)
	mux.HandleFunc("/api/v1/approvals", s.handleApprovals)
	mux.HandleFunc("/api/v1/facts", s.handleFacts)

	var handler http.Handler = mux
	if s.authService != nil {
		handler = s.authService.Middleware()(handler)
	}

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleMessages 接收用户消息并同步跑完一个回合。
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.orchestrator == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	result, err := s.orchestrator.HandleMessage(r.Context(), req.SessionID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleApprovals 查询在途审批或提交裁决。
func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.approvals.Pending())
	case http.MethodPost:
		var req struct {
			CorrelationID string `json:"correlation_id"`
			Approved      bool   `json:"approved"`
			Actor         string `json:"actor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		if req.CorrelationID == "" {
			http.Error(w, "correlation_id 不能为空", http.StatusBadRequest)
			return
		}
		if err := s.approvals.Resolve(req.CorrelationID, req.Approved, req.Actor); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleFacts 查询或写入长期记忆里的事实。
func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	if s.facts == nil {
		http.Error(w, "事实库未初始化", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		filter := memory.Filter{
			Subject:   r.URL.Query().Get("subject"),
			Predicate: r.URL.Query().Get("predicate"),
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				filter.Limit = parsed
			}
		}
		facts, err := s.facts.Query(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, facts)
	case http.MethodPost:
		var fact memory.Fact
		if err := json.NewDecoder(r.Body).Decode(&fact); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		if err := s.facts.Assert(r.Context(), &fact); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, fact)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 按错误码映射 HTTP 状态并返回结构化错误体。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument, tool.CodeInvalidArgs:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, tool.CodeUnknownTool:
		status = http.StatusNotFound
	case xerrors.CodeConflict, approval.CodeAlreadyResolved:
		status = http.StatusConflict
	case policy.CodePolicyDenied:
		status = http.StatusForbidden
	case approval.CodeApprovalTimeout, xerrors.CodeTimeout, llm.CodeInferenceTimeout:
		status = http.StatusGatewayTimeout
	case llm.CodeInferenceUnavailable, xerrors.CodePersistenceFailure:
		status = http.StatusServiceUnavailable
	case session.CodeSessionCancelled, xerrors.CodeCancelled:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{
		"code":    string(code),
		"message": err.Error(),
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
