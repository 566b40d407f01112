package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ChainPilot/internal/capability"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/session"
	"ChainPilot/pkg/logger"
)

const (
	defaultResolveTimeout = 30 * time.Second
	defaultResolveRounds  = 3
)

// Resolver 校验任务参数并在字段缺失时向用户发起有界的补参对话。
type Resolver struct {
	pending *session.PendingRegistry
	outbox  session.Outbox
	timeout time.Duration
	rounds  int
}

// NewResolver 构造参数解析器。timeout/rounds 非法时回落默认值。
func NewResolver(pending *session.PendingRegistry, outbox session.Outbox, timeout time.Duration, rounds int) *Resolver {
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	if rounds <= 0 {
		rounds = defaultResolveRounds
	}
	return &Resolver{pending: pending, outbox: outbox, timeout: timeout, rounds: rounds}
}

// Resolve 解析任务参数。缺字段时逐轮提示用户补齐；用户未响应
// 返回 PROMPT_TIMEOUT，仅中止当前任务。
func (r *Resolver) Resolve(ctx context.Context, sess *session.Session, desc *capability.Descriptor, task *Task) error {
	args, err := ParseArgs(task.RawArgs)
	if err != nil {
		return err
	}

	missing := missingParams(desc.RequiredParams, args)
	for round := 0; len(missing) > 0; round++ {
		if round >= r.rounds {
			return xerrors.New(xerrors.CodeInvalidArgument,
				"多轮补参后仍缺少参数: "+strings.Join(missing, ", "))
		}
		reply, err := r.prompt(ctx, sess, desc.Name, missing)
		if err != nil {
			return err
		}
		merged := parseKeyValues(reply.Text)
		for key, value := range merged {
			args[key] = value
		}
		sess.Context.Append(session.RoleUser, reply.Text)
		missing = missingParams(desc.RequiredParams, args)
	}

	task.Args = args
	return nil
}

// prompt 发出一条补参提示并等待同会话的下一条用户消息。
func (r *Resolver) prompt(ctx context.Context, sess *session.Session, capabilityName string, missing []string) (session.Reply, error) {
	text := fmt.Sprintf("执行 %s 还需要以下参数: %s。请按 key=value 格式逐项补充，多个参数用换行或逗号分隔。",
		capabilityName, strings.Join(missing, ", "))

	pending, err := r.pending.Create(sess.ID, session.PromptParameters, text, r.timeout)
	if err != nil {
		return session.Reply{}, err
	}
	sess.Context.Append(session.RoleAssistant, text)
	if err := r.outbox.Deliver(ctx, sess.ID, session.Outbound{
		Kind:    session.OutboundPrompt,
		Content: text,
	}); err != nil {
		r.pending.Discard(sess.ID)
		return session.Reply{}, xerrors.Wrap(xerrors.CodeBridgeFailure, err, "补参提示投递失败")
	}

	reply, err := pending.Await(ctx)
	if err != nil {
		r.pending.Discard(sess.ID)
		logger.L().Info("补参提示未获响应",
			slog.String("session_id", sess.ID),
			slog.String("capability", capabilityName),
		)
		return session.Reply{}, err
	}
	return reply, nil
}

// missingParams 返回按字典序排列的缺失字段。空字符串视为缺失。
func missingParams(required []string, args map[string]any) []string {
	var missing []string
	for _, field := range required {
		value, ok := args[field]
		if !ok || value == nil {
			missing = append(missing, field)
			continue
		}
		if text, isString := value.(string); isString && strings.TrimSpace(text) == "" {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

// parseKeyValues 解析用户按 key=value 语法补充的参数。
// 换行、逗号、分号都是合法分隔符；值一律按字符串合并。
func parseKeyValues(text string) map[string]string {
	result := make(map[string]string)
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ',' || r == ';'
	})
	for _, token := range tokens {
		idx := strings.Index(token, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(token[:idx])
		value := strings.TrimSpace(token[idx+1:])
		if key == "" {
			continue
		}
		result[key] = value
	}
	return result
}
