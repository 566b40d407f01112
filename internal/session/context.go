package session

import (
	"sync"
	"time"
)

// Role 标记会话消息的来源。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleFunction 表示一次能力调用的结果回放。
	RoleFunction Role = "function"
)

// Message 是会话历史中的一条记录。Name 仅在 RoleFunction 时填写，
// 记录产生结果的能力名。
type Message struct {
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// ConversationContext 保存一个会话的规范历史。历史只追加不修改，
// 供规划器回放的裁剪视图由上下文窗口管理器另行派生。
type ConversationContext struct {
	mu       sync.RWMutex
	messages []Message
}

// NewConversationContext 创建空的会话历史。
func NewConversationContext() *ConversationContext {
	return &ConversationContext{}
}

// Append 追加一条消息。
func (c *ConversationContext) Append(role Role, content string) {
	c.AppendNamed(role, "", content)
}

// AppendNamed 追加一条带来源名的消息。
func (c *ConversationContext) AppendNamed(role Role, name, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{
		Role:      role,
		Name:      name,
		Content:   content,
		CreatedAt: time.Now().Unix(),
	})
}

// Messages 返回历史的副本。
func (c *ConversationContext) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Message(nil), c.messages...)
}

// Len 返回历史长度。
func (c *ConversationContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
