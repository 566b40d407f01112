package session

import (
	"context"
	"log/slog"

	"ChainPilot/pkg/logger"
)

// OutboundKind 标记发往前端的消息类型。
type OutboundKind string

const (
	OutboundReply        OutboundKind = "reply"
	OutboundPrompt       OutboundKind = "prompt"
	OutboundConfirmation OutboundKind = "confirmation"
)

// Outbound 是发往消息前端的一条输出。确认提示携带两个不透明的
// 关联令牌，前端把用户点选的令牌原样送回。
type Outbound struct {
	Kind         OutboundKind `json:"kind"`
	Content      string       `json:"content"`
	AcceptToken  string       `json:"accept_token,omitempty"`
	DeclineToken string       `json:"decline_token,omitempty"`
}

// Outbox 把输出消息交给外部的消息前端。呈现格式由前端负责。
type Outbox interface {
	Deliver(ctx context.Context, sessionID string, message Outbound) error
}

// LogOutbox 在没有接入真实前端时把输出写入日志，便于本地联调。
type LogOutbox struct{}

// Deliver 实现 Outbox。
func (LogOutbox) Deliver(_ context.Context, sessionID string, message Outbound) error {
	logger.L().Info("向前端投递消息",
		slog.String("session_id", sessionID),
		slog.String("kind", string(message.Kind)),
		slog.String("content", message.Content),
	)
	return nil
}

var _ Outbox = LogOutbox{}
