package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/graph"
	"ChainPilot/internal/history"
	"ChainPilot/internal/planner"
	"ChainPilot/internal/session"
	"ChainPilot/pkg/logger"
)

// Orchestrator 是会话边界的总入口：接收用户消息，咨询规划器，
// 把动作提案展开为任务图并执行，最后汇总结果、落库历史。
type Orchestrator struct {
	sessions   *session.Manager
	gateway    *planner.Gateway
	builder    *graph.Builder
	executor   *graph.Executor
	summarizer *graph.Summarizer
	store      history.Store
}

// New 构造编排器。store 可以为 nil，此时不落库。
func New(sessions *session.Manager, gateway *planner.Gateway, builder *graph.Builder,
	executor *graph.Executor, summarizer *graph.Summarizer, store history.Store) *Orchestrator {
	return &Orchestrator{
		sessions:   sessions,
		gateway:    gateway,
		builder:    builder,
		executor:   executor,
		summarizer: summarizer,
		store:      store,
	}
}

// Handle 处理一条用户消息并返回助手回复。内部错误原样返回，
// 由接入层统一转成对用户友好的提示。
func (o *Orchestrator) Handle(ctx context.Context, sessionID, text string) (string, error) {
	sess := o.sessions.GetOrCreate(sessionID)
	// 同一会话串行处理，保证历史追加与未决提示的顺序。
	sess.Lock()
	defer sess.Unlock()

	sess.Context.Append(session.RoleUser, text)

	proposal, err := o.gateway.Consult(ctx, sess.Context.Messages())
	if err != nil {
		return "", err
	}
	if proposal.Kind == planner.KindText {
		sess.Context.Append(session.RoleAssistant, proposal.Content)
		return proposal.Content, nil
	}

	g, err := o.builder.Build(proposal)
	if err != nil {
		return "", err
	}

	closing, runErr := o.executor.Run(ctx, sess, g)
	reply := o.summarizer.Summarize(g, closing)
	sess.Context.Append(session.RoleAssistant, reply)

	o.persist(ctx, sess.ID, g)

	if runErr != nil {
		return reply, runErr
	}
	return reply, nil
}

// Reply 把前端转交的用户响应投递给会话的未决提示。
func (o *Orchestrator) Reply(sessionID string, reply session.Reply) bool {
	return o.sessions.Pending().Resolve(sessionID, reply)
}

// persist 把一张执行完的图整体落库。落库失败只记日志。
func (o *Orchestrator) persist(ctx context.Context, sessionID string, g *graph.Graph) {
	if o.store == nil {
		return
	}
	graphID := uuid.NewString()
	tasks := g.Tasks()
	records := make([]*history.Record, 0, len(tasks))
	now := time.Now().Unix()
	for _, task := range tasks {
		record := &history.Record{
			ID:         task.ID,
			SessionID:  sessionID,
			GraphID:    graphID,
			Alias:      task.Alias,
			Capability: task.Name,
			ArgsDigest: task.IdentityKey(),
			Status:     string(task.Status),
			ServedBy:   task.ServedBy,
			Attempts:   task.Attempts,
			Memoized:   task.Memoized,
			CreatedAt:  now,
		}
		if task.Failure != nil {
			record.ErrorCode = string(task.Failure.Code)
			record.LastError = task.Failure.Message
			record.Alternates = task.Failure.Alternates
		}
		if task.Status == graph.StatusSucceeded {
			if data, err := json.Marshal(task.Payload); err == nil {
				record.Payload = string(data)
			}
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return
	}
	if err := o.store.Save(ctx, records...); err != nil {
		logger.L().Error("历史记录落库失败",
			slog.String("session_id", sessionID),
			slog.String("graph_id", graphID),
			slog.String("error", err.Error()),
		)
	}
}

// FriendlyMessage 把内部错误转成面向用户的提示，避免泄露内部细节。
func FriendlyMessage(err error) string {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeUserDeclined:
		return "好的，已取消该操作。"
	case xerrors.CodePromptTimeout:
		return "等待回复超时，本次操作已取消。需要时请重新发起。"
	case xerrors.CodeInvalidArgument:
		return "参数不完整或不正确，无法继续执行。"
	default:
		return "服务暂时开小差了，请稍后再试。"
	}
}
