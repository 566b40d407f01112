package session

import (
	"context"
	"sync"
	"time"

	xerrors "ChainPilot/internal/errors"
)

// PromptKind 区分等待用户的两类提示。
type PromptKind string

const (
	PromptParameters   PromptKind = "parameters"
	PromptConfirmation PromptKind = "confirmation"
)

// Reply 是前端转交的一次用户响应：自由文本或确认令牌之一。
type Reply struct {
	Text  string `json:"text,omitempty"`
	Token string `json:"token,omitempty"`
}

// ErrPromptConflict 表示该会话已有未决提示。同一会话同一时刻
// 只允许一个未决提示，避免确认与补参对话交错。
var ErrPromptConflict = xerrors.New(xerrors.CodeInvalidArgument, "会话已有未决提示")

// Pending 是一次可等待的用户请求。取代旧式的"订阅-超时-退订"监听器：
// 超时语义在这里是第一等路径，且注销是确定性的。
type Pending struct {
	SessionID string
	Kind      PromptKind
	Prompt    string
	// AcceptToken/DeclineToken 仅在确认提示时填写。
	AcceptToken  string
	DeclineToken string
	CreatedAt    time.Time
	Timeout      time.Duration

	replyCh chan Reply
	once    sync.Once
}

// resolve 投递用户响应。重复投递只有第一次生效。
func (p *Pending) resolve(reply Reply) bool {
	delivered := false
	p.once.Do(func() {
		p.replyCh <- reply
		delivered = true
	})
	return delivered
}

// Await 等待用户响应。超时返回 PROMPT_TIMEOUT；上下文取消优先。
func (p *Pending) Await(ctx context.Context) (Reply, error) {
	timer := time.NewTimer(p.Timeout)
	defer timer.Stop()
	select {
	case reply := <-p.replyCh:
		return reply, nil
	case <-timer.C:
		return Reply{}, xerrors.New(xerrors.CodePromptTimeout, "")
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// PendingRegistry 按会话维护未决提示。
type PendingRegistry struct {
	mu      sync.Mutex
	pending map[string]*Pending
}

// NewPendingRegistry 创建空的未决提示注册表。
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{pending: make(map[string]*Pending)}
}

// Create 为会话登记一个新的未决提示。已有未决提示时返回冲突。
func (r *PendingRegistry) Create(sessionID string, kind PromptKind, prompt string, timeout time.Duration) (*Pending, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[sessionID]; exists {
		return nil, ErrPromptConflict
	}
	p := &Pending{
		SessionID: sessionID,
		Kind:      kind,
		Prompt:    prompt,
		CreatedAt: time.Now(),
		Timeout:   timeout,
		replyCh:   make(chan Reply, 1),
	}
	r.pending[sessionID] = p
	return p, nil
}

// Resolve 把用户响应投递给会话的未决提示。没有未决提示时返回 false。
func (r *PendingRegistry) Resolve(sessionID string, reply Reply) bool {
	r.mu.Lock()
	p, ok := r.pending[sessionID]
	if ok {
		delete(r.pending, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	return p.resolve(reply)
}

// Discard 注销会话的未决提示（等待方超时或取消后调用）。
func (r *PendingRegistry) Discard(sessionID string) {
	r.mu.Lock()
	delete(r.pending, sessionID)
	r.mu.Unlock()
}

// Outstanding 返回会话当前的未决提示。
func (r *PendingRegistry) Outstanding(sessionID string) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[sessionID]
	return p, ok
}
