package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ChainPilot/internal/capability"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/session"
	"ChainPilot/pkg/logger"
)

const defaultConfirmTimeout = 60 * time.Second

// Confirmer 在敏感能力执行前征求用户的显式确认。
// 超时与未知令牌一律按拒绝处理：资金相关的操作宁可少做不可多做。
type Confirmer struct {
	pending *session.PendingRegistry
	outbox  session.Outbox
	timeout time.Duration
}

// NewConfirmer 构造确认门。
func NewConfirmer(pending *session.PendingRegistry, outbox session.Outbox, timeout time.Duration) *Confirmer {
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	return &Confirmer{pending: pending, outbox: outbox, timeout: timeout}
}

// Confirm 征求确认。接受返回 nil；拒绝返回 USER_DECLINED；
// 超时返回 PROMPT_TIMEOUT。两种失败都只中止当前任务及其依赖者。
func (c *Confirmer) Confirm(ctx context.Context, sess *session.Session, desc *capability.Descriptor, task *Task) error {
	acceptToken := uuid.NewString()
	declineToken := uuid.NewString()
	text := fmt.Sprintf("即将执行敏感操作 %s，参数: %s。请确认或取消。",
		desc.Name, renderArgs(task.Args))

	pending, err := c.pending.Create(sess.ID, session.PromptConfirmation, text, c.timeout)
	if err != nil {
		return err
	}
	pending.AcceptToken = acceptToken
	pending.DeclineToken = declineToken

	sess.Context.Append(session.RoleAssistant, text)
	if err := c.outbox.Deliver(ctx, sess.ID, session.Outbound{
		Kind:         session.OutboundConfirmation,
		Content:      text,
		AcceptToken:  acceptToken,
		DeclineToken: declineToken,
	}); err != nil {
		c.pending.Discard(sess.ID)
		return xerrors.Wrap(xerrors.CodeBridgeFailure, err, "确认提示投递失败")
	}

	reply, err := pending.Await(ctx)
	if err != nil {
		c.pending.Discard(sess.ID)
		logger.Audit().Info("确认提示超时，按拒绝处理",
			slog.String("session_id", sess.ID),
			slog.String("capability", desc.Name),
			slog.String("task", task.Alias),
		)
		return err
	}

	if reply.Token == acceptToken {
		logger.Audit().Info("用户确认执行",
			slog.String("session_id", sess.ID),
			slog.String("capability", desc.Name),
			slog.String("task", task.Alias),
		)
		return nil
	}
	logger.Audit().Info("用户拒绝执行",
		slog.String("session_id", sess.ID),
		slog.String("capability", desc.Name),
		slog.String("task", task.Alias),
	)
	return xerrors.New(xerrors.CodeUserDeclined, "用户拒绝了 "+desc.Name)
}

// renderArgs 把参数渲染为人类可读的 key=value 列表。
func renderArgs(args map[string]any) string {
	if len(args) == 0 {
		return "(无)"
	}
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, args[key]))
	}
	return strings.Join(parts, ", ")
}
