package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ChainPilot/internal/capability"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/planner"
	"ChainPilot/internal/session"
	"ChainPilot/pkg/logger"
)

const (
	defaultMaxAttempts      = 3
	defaultFallbackAttempts = 2
	defaultFollowUpBudget   = 4
	defaultRetryBackoff     = 200 * time.Millisecond
)

// FailureNotifier 在任务穷尽重试与备选后收到通知。
// 告警通道（AMQP、日志）各自实现该接口。
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, sessionID string, task *Task)
}

// Executor 按依赖顺序执行任务图：深度优先推进依赖、去重相同调用、
// 有界重试、失败后走备选链，并在任务完成后咨询规划器追加后续任务。
type Executor struct {
	registry *capability.Registry
	catalog  *capability.Catalog
	resolver *Resolver
	confirm  *Confirmer
	gateway  *planner.Gateway
	builder  *Builder
	notifier FailureNotifier

	maxAttempts      int
	fallbackAttempts int
	followUpBudget   int
	retryBackoff     time.Duration
}

// ExecutorOption 调整执行器的重试与预算参数。
type ExecutorOption func(*Executor)

// WithMaxAttempts 设置主能力的最大尝试次数。
func WithMaxAttempts(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithFallbackAttempts 设置每个备选能力的尝试次数。
func WithFallbackAttempts(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.fallbackAttempts = n
		}
	}
}

// WithFollowUpBudget 设置单次执行中规划器可追加的任务上限。
func WithFollowUpBudget(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 0 {
			e.followUpBudget = n
		}
	}
}

// WithRetryBackoff 设置重试间隔基数。测试中可设为 0。
func WithRetryBackoff(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d >= 0 {
			e.retryBackoff = d
		}
	}
}

// WithFailureNotifier 注册失败告警通道。
func WithFailureNotifier(n FailureNotifier) ExecutorOption {
	return func(e *Executor) { e.notifier = n }
}

// NewExecutor 构造图执行器。
func NewExecutor(registry *capability.Registry, catalog *capability.Catalog,
	resolver *Resolver, confirm *Confirmer, gateway *planner.Gateway, builder *Builder,
	opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:         registry,
		catalog:          catalog,
		resolver:         resolver,
		confirm:          confirm,
		gateway:          gateway,
		builder:          builder,
		maxAttempts:      defaultMaxAttempts,
		fallbackAttempts: defaultFallbackAttempts,
		followUpBudget:   defaultFollowUpBudget,
		retryBackoff:     defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run 把图推进到没有待执行任务为止。单个任务失败只中止它的
// 依赖者，其余任务照常执行。返回规划器在追加阶段给出的最后一条
// 文本回复（可能为空），供结果汇总使用。
func (e *Executor) Run(ctx context.Context, sess *session.Session, g *Graph) (string, error) {
	visiting := make(map[string]bool)
	followUps := 0
	closing := ""
	for {
		if err := ctx.Err(); err != nil {
			return closing, err
		}
		task := g.NextPending()
		if task == nil {
			return closing, nil
		}
		e.execute(ctx, sess, g, task, visiting)
		// 成功与终局失败都回馈给规划器，失败也可能引出补救动作。
		// 缓存命中没有产生新结果，不再咨询。
		if task.Memoized {
			continue
		}
		text, appended := e.followUp(ctx, sess, g, task, followUps)
		if appended {
			followUps++
		}
		if text != "" {
			closing = text
		}
	}
}

// execute 执行单个任务：先递归推进依赖，再走解析、确认、调用、
// 备选的完整流程。
func (e *Executor) execute(ctx context.Context, sess *session.Session, g *Graph, task *Task, visiting map[string]bool) {
	if task.Terminal() {
		return
	}
	if visiting[task.Alias] {
		// 构建期保证无环，这里只做兜底。
		logger.L().Warn("任务依赖成环，中止", slog.String("task", task.Alias))
		e.fail(ctx, sess, task, xerrors.New(CodeDependencyAborted, "任务依赖成环"), nil)
		return
	}
	visiting[task.Alias] = true
	defer delete(visiting, task.Alias)

	for _, dep := range task.DependsOn {
		depTask, ok := g.ByAlias(dep)
		if !ok {
			logger.L().Warn("任务引用了图中不存在的依赖，跳过",
				slog.String("task", task.Alias), slog.String("depends_on", dep))
			continue
		}
		e.execute(ctx, sess, g, depTask, visiting)
		if depTask.Status == StatusFailed {
			e.fail(ctx, sess, task, xerrors.New(CodeDependencyAborted,
				fmt.Sprintf("依赖任务 %s 失败", dep)), nil)
			return
		}
	}

	task.Status = StatusRunning

	desc, err := e.registry.Get(task.Name)
	if err != nil {
		e.fail(ctx, sess, task, err, nil)
		return
	}

	if err := e.resolver.Resolve(ctx, sess, desc, task); err != nil {
		e.fail(ctx, sess, task, err, nil)
		return
	}

	// 参数定形之后才能算出调用身份。命中缓存直接复用结果。
	key := task.IdentityKey()
	if cached, ok := g.Memoized(key); ok {
		task.Payload = cached.Payload
		task.ServedBy = cached.ServedBy
		task.Memoized = true
		e.succeed(sess, task, false)
		return
	}

	if desc.Sensitive {
		if err := e.confirm.Confirm(ctx, sess, desc, task); err != nil {
			e.fail(ctx, sess, task, err, nil)
			return
		}
	}

	payload, primaryErr := e.attempt(ctx, sess, desc, task, e.maxAttempts)
	if primaryErr == nil {
		task.Payload = payload
		g.Memoize(key, task)
		e.succeed(sess, task, true)
		return
	}
	// 用户在重试间隙取消或未响应时任务就此终结，不再打扰备选链。
	switch xerrors.CodeOf(primaryErr) {
	case xerrors.CodeUserDeclined, xerrors.CodePromptTimeout:
		e.fail(ctx, sess, task, primaryErr, nil)
		return
	}

	payload, tried, served := e.tryFallbacks(ctx, sess, task)
	if served != "" {
		task.Payload = payload
		task.ServedBy = served
		g.Memoize(key, task)
		e.succeed(sess, task, true)
		return
	}
	// 终局失败呈现主能力的原始错误，并列出尝试过的备选。
	e.fail(ctx, sess, task, primaryErr, tried)
}

// attempt 调用一个能力处理器，对可恢复错误做有界重试。
// 数据不足视为软失败，照常计入重试预算，耗尽后交给备选链处理。
func (e *Executor) attempt(ctx context.Context, sess *session.Session, desc *capability.Descriptor, task *Task, maxAttempts int) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			// 敏感能力每次重试前重新确认，给用户中途取消的机会。
			if desc.Sensitive {
				if err := e.confirm.Confirm(ctx, sess, desc, task); err != nil {
					return nil, err
				}
			}
			if e.retryBackoff > 0 {
				time.Sleep(e.retryBackoff * time.Duration(attempt-1))
			}
		}
		task.Attempts++
		payload, err := desc.Handler(ctx, task.Args, sess.ID)
		if err == nil {
			if !insufficient(e.catalog.PolicyFor(desc.Name), payload) {
				return payload, nil
			}
			err = xerrors.New(xerrors.CodeInsufficientData,
				desc.Name+" 返回的结果不足以回答")
		}
		lastErr = err
		if !xerrors.Recoverable(err) {
			return nil, err
		}
		logger.L().Warn("能力调用失败，准备重试",
			slog.String("capability", desc.Name),
			slog.String("task", task.Alias),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return nil, xerrors.Wrap(xerrors.CodeRetriesExhausted, lastErr,
		fmt.Sprintf("%s 重试 %d 次后仍失败", desc.Name, maxAttempts))
}

// tryFallbacks 按目录声明的顺序尝试备选能力。备选复用主能力已
// 解析的参数；缺参或确认被拒的备选记录后跳过，不再追问用户。
func (e *Executor) tryFallbacks(ctx context.Context, sess *session.Session, task *Task) (any, []string, string) {
	var tried []string
	for _, name := range e.catalog.FallbacksFor(task.Name) {
		alt, err := e.registry.Get(name)
		if err != nil {
			logger.L().Warn("备选能力未注册，跳过", slog.String("fallback", name))
			tried = append(tried, name)
			continue
		}
		if len(missingParams(alt.RequiredParams, task.Args)) > 0 {
			logger.L().Warn("备选能力缺少必需参数，跳过",
				slog.String("fallback", name), slog.String("task", task.Alias))
			tried = append(tried, name)
			continue
		}
		if alt.Sensitive {
			if err := e.confirm.Confirm(ctx, sess, alt, task); err != nil {
				tried = append(tried, name)
				continue
			}
		}
		payload, err := e.attempt(ctx, sess, alt, task, e.fallbackAttempts)
		tried = append(tried, name)
		if err == nil {
			logger.L().Info("备选能力接管成功",
				slog.String("capability", task.Name),
				slog.String("fallback", name),
				slog.String("task", task.Alias),
			)
			return payload, tried, name
		}
		logger.L().Warn("备选能力同样失败",
			slog.String("fallback", name),
			slog.String("error", err.Error()),
		)
	}
	return nil, tried, ""
}

// succeed 落定成功状态，并把结果以函数消息回放进会话历史。
// 缓存命中不重复回放。
func (e *Executor) succeed(sess *session.Session, task *Task, replay bool) {
	task.Status = StatusSucceeded
	task.FinishedAt = time.Now().UnixMilli()
	if replay {
		sess.Context.AppendNamed(session.RoleFunction, task.Name, renderPayload(task.Payload))
	}
}

// fail 落定失败状态并触发告警。失败结果同样以函数消息回放进会话
// 历史，规划器据此才有机会提出补救动作。
func (e *Executor) fail(ctx context.Context, sess *session.Session, task *Task, cause error, alternates []string) {
	task.Status = StatusFailed
	task.FinishedAt = time.Now().UnixMilli()
	task.Failure = &Failure{
		Code:       xerrors.CodeOf(cause),
		Message:    cause.Error(),
		Alternates: alternates,
	}
	sess.Context.AppendNamed(session.RoleFunction, task.Name, renderFailure(task.Failure))
	logger.Audit().Warn("任务终局失败",
		slog.String("session_id", sess.ID),
		slog.String("task", task.Alias),
		slog.String("capability", task.Name),
		slog.String("code", string(task.Failure.Code)),
		slog.Int("attempts", task.Attempts),
		slog.Any("alternates", alternates),
	)
	if e.notifier != nil && xerrors.ShouldAlertError(cause) {
		e.notifier.NotifyFailure(ctx, sess.ID, task)
	}
}

// followUp 在任务成功后咨询规划器。规划器提议新动作且预算未尽时
// 追加依赖本任务的后续任务；给出文本则作为收尾回复返回。
func (e *Executor) followUp(ctx context.Context, sess *session.Session, g *Graph, task *Task, used int) (string, bool) {
	if e.gateway == nil || e.builder == nil {
		return "", false
	}
	proposal, err := e.gateway.Consult(ctx, sess.Context.Messages())
	if err != nil {
		logger.L().Warn("追加咨询失败，结束本轮规划", slog.String("error", err.Error()))
		return "", false
	}
	if proposal.Kind == planner.KindText {
		return proposal.Content, false
	}
	if used >= e.followUpBudget {
		logger.L().Info("规划器追加预算已用尽，忽略新动作",
			slog.String("action", proposal.Name))
		return "", false
	}
	if err := e.builder.Expand(g, proposal, []string{task.Alias}); err != nil {
		logger.L().Warn("追加任务展开失败", slog.String("error", err.Error()))
		return "", false
	}
	return "", true
}

// insufficient 按能力声明的策略判定"结构上成功但内容不足"的结果。
func insufficient(policy capability.InsufficientDataPolicy, payload any) bool {
	if policy == capability.PolicyNever {
		return false
	}
	switch v := payload.(type) {
	case nil:
		return true
	case string:
		if strings.TrimSpace(v) == "" {
			return true
		}
		if policy == capability.PolicyDefault && strings.Contains(strings.ToLower(v), "\"error\"") {
			return true
		}
	case map[string]any:
		if len(v) == 0 {
			return true
		}
		if policy == capability.PolicyDefault {
			if _, hasError := v["error"]; hasError {
				return true
			}
		}
	case []any:
		return len(v) == 0
	}
	return false
}

// renderFailure 把失败结果序列化为回放文本。
func renderFailure(f *Failure) string {
	data, err := json.Marshal(f)
	if err != nil {
		return f.Error()
	}
	return string(data)
}

// renderPayload 把能力结果序列化为回放文本。
func renderPayload(payload any) string {
	if payload == nil {
		return "null"
	}
	if text, ok := payload.(string); ok {
		return text
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}
