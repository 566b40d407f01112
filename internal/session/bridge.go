package session

import (
	"context"
)

// ReplyBridge 把前端的用户响应送达未决提示注册表。
// 单进程部署用 MemoryBridge；前端与编排核心分离部署时用 RedisBridge。
type ReplyBridge interface {
	// Push 投递某会话的一次用户响应。
	Push(ctx context.Context, sessionID string, reply Reply) error
	Close() error
}

// MemoryBridge 直接把响应转交给本进程的注册表。
type MemoryBridge struct {
	registry *PendingRegistry
}

// NewMemoryBridge 创建进程内直连桥。
func NewMemoryBridge(registry *PendingRegistry) *MemoryBridge {
	return &MemoryBridge{registry: registry}
}

// Push 实现 ReplyBridge。没有未决提示的响应被静默丢弃：
// 提示超时后迟到的回复不应产生任何效果。
func (b *MemoryBridge) Push(_ context.Context, sessionID string, reply Reply) error {
	b.registry.Resolve(sessionID, reply)
	return nil
}

// Close 对内存桥无需操作。
func (b *MemoryBridge) Close() error { return nil }

var _ ReplyBridge = (*MemoryBridge)(nil)
