package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/history"
	"ChainPilot/internal/orchestrator"
	"ChainPilot/internal/session"
	"ChainPilot/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部前端驱动会话。
type Server struct {
	addr  string
	core  *orchestrator.Orchestrator
	store history.Store
}

// NewServer 构造 API 服务实例。store 可以为 nil，此时历史接口不可用。
func NewServer(addr string, core *orchestrator.Orchestrator, store history.Store) *Server {
	return &Server{addr: addr, core: core, store: store}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat", s.handleChat)
	mux.HandleFunc("/api/v1/reply", s.handleReply)
	mux.HandleFunc("/api/v1/history", s.handleHistory)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
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

// ChatRequest 是一次用户消息。SessionID 为空时创建新会话。
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse 携带助手回复。
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// handleChat 处理用户消息。补参、确认仍在等待中的错误会转成
// 对用户友好的提示，内部细节只进日志。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message 不能为空", http.StatusBadRequest)
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	reply, err := s.core.Handle(r.Context(), sessionID, req.Message)
	if err != nil {
		logger.L().Error("会话处理失败",
			slog.String("session_id", sessionID),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		if reply == "" {
			reply = orchestrator.FriendlyMessage(err)
		}
	}
	writeJSON(w, http.StatusOK, ChatResponse{SessionID: sessionID, Reply: reply})
}

// ReplyRequest 是前端转交的用户响应：补参文本或确认令牌。
type ReplyRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
	Token     string `json:"token,omitempty"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		http.Error(w, "session_id 不能为空", http.StatusBadRequest)
		return
	}
	delivered := s.core.Reply(req.SessionID, session.Reply{Text: req.Text, Token: req.Token})
	if !delivered {
		http.Error(w, "该会话没有等待中的提示", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "历史存储未启用", http.StatusServiceUnavailable)
		return
	}

	opts := history.ListOptions{
		SessionID:  r.URL.Query().Get("session_id"),
		GraphID:    r.URL.Query().Get("graph_id"),
		Capability: r.URL.Query().Get("capability"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		opts.Statuses = strings.Split(raw, ",")
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts.Limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			opts.Offset = parsed
		}
	}

	records, err := s.store.List(r.Context(), opts)
	if err != nil {
		http.Error(w, "查询历史失败", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
