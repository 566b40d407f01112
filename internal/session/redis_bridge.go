package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ChainPilot/pkg/logger"
)

// RedisBridgeConfig 描述 Redis 回复桥的连接参数。
type RedisBridgeConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisBridge 通过 Redis list 传递前端回复：前端进程 LPUSH，
// 编排核心 BRPOP 后投递给本地注册表。
type RedisBridge struct {
	client   *redis.Client
	registry *PendingRegistry
	queue    string
	wait     time.Duration
}

type bridgeEnvelope struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
	Token     string `json:"token,omitempty"`
}

// NewRedisBridge 创建 Redis 回复桥。
func NewRedisBridge(cfg RedisBridgeConfig, registry *PendingRegistry) (*RedisBridge, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "chainpilot:replies"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisBridge{client: client, registry: registry, queue: queue, wait: wait}, nil
}

// Push 把用户响应写入 Redis 队列。
func (b *RedisBridge) Push(ctx context.Context, sessionID string, reply Reply) error {
	payload, err := json.Marshal(bridgeEnvelope{
		SessionID: sessionID,
		Text:      reply.Text,
		Token:     reply.Token,
	})
	if err != nil {
		return fmt.Errorf("序列化用户响应失败: %w", err)
	}
	if err := b.client.LPush(ctx, b.queue, payload).Err(); err != nil {
		return fmt.Errorf("Redis 投递用户响应失败: %w", err)
	}
	return nil
}

// Run 循环消费 Redis 队列并把响应交给注册表，直到上下文取消。
func (b *RedisBridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		values, err := b.client.BRPop(ctx, b.wait, b.queue).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return err
			}
			if err == redis.Nil {
				continue
			}
			return fmt.Errorf("Redis 读取用户响应失败: %w", err)
		}
		if len(values) != 2 {
			continue
		}
		var envelope bridgeEnvelope
		if err := json.Unmarshal([]byte(values[1]), &envelope); err != nil {
			logger.L().Warn("丢弃无法解析的前端回复", slog.String("payload", values[1]))
			continue
		}
		if !b.registry.Resolve(envelope.SessionID, Reply{Text: envelope.Text, Token: envelope.Token}) {
			logger.L().Debug("回复到达时会话没有未决提示",
				slog.String("session_id", envelope.SessionID))
		}
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBridge) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

var _ ReplyBridge = (*RedisBridge)(nil)
