package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/graph"
	"ChainPilot/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog  Channel = "log"
	ChannelAMQP Channel = "amqp"
)

// Event 描述一次需要告警的任务失败事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	SessionID  string            `json:"session_id"`
	TaskAlias  string            `json:"task_alias"`
	Capability string            `json:"capability"`
	Attempts   int               `json:"attempts"`
	Alternates []string          `json:"alternates,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher struct {
	notifiers map[Channel]Notifier
}

// NewDispatcher 创建事件分发器。
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &Dispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *Dispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// NotifyFailure 实现图执行器的失败通知接口：把终局失败的任务
// 转成告警事件广播出去。告警失败只记日志，不影响主流程。
func (d *Dispatcher) NotifyFailure(ctx context.Context, sessionID string, task *graph.Task) {
	if d == nil || task == nil || task.Failure == nil {
		return
	}
	event := Event{
		Code:       task.Failure.Code,
		Message:    task.Failure.Message,
		Severity:   xerrors.SeverityCritical,
		SessionID:  sessionID,
		TaskAlias:  task.Alias,
		Capability: task.Name,
		Attempts:   task.Attempts,
		Alternates: task.Failure.Alternates,
		OccurredAt: time.Now(),
	}
	if err := d.Notify(ctx, event); err != nil {
		logger.L().Error("告警投递失败",
			slog.String("session_id", sessionID),
			slog.String("task", task.Alias),
			slog.String("error", err.Error()),
		)
	}
}

// LogNotifier 把告警写入审计日志，是兜底渠道。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 记录告警。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	logger.Audit().Error("能力调用告警",
		slog.String("code", string(event.Code)),
		slog.String("session_id", event.SessionID),
		slog.String("task", event.TaskAlias),
		slog.String("capability", event.Capability),
		slog.Int("attempts", event.Attempts),
		slog.Any("alternates", event.Alternates),
		slog.String("message", event.Message),
	)
	return nil
}
