package session

import (
	"sync"
	"time"
)

// Session 表示一个终端用户的会话。会话独占自己的历史与在途任务图，
// 不与其他会话共享任何可变状态。
type Session struct {
	ID      string
	Context *ConversationContext
	Created time.Time

	// mu 串行化同一会话内的话轮处理：一个会话同一时刻只推进一张图。
	mu sync.Mutex
}

// Lock 获取会话的话轮锁。
func (s *Session) Lock() { s.mu.Lock() }

// Unlock 释放会话的话轮锁。
func (s *Session) Unlock() { s.mu.Unlock() }

// Manager 维护进程内全部会话。
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	pending  *PendingRegistry
}

// NewManager 创建会话管理器。
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		pending:  NewPendingRegistry(),
	}
}

// GetOrCreate 返回既有会话，不存在时创建。
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := &Session{
		ID:      id,
		Context: NewConversationContext(),
		Created: time.Now(),
	}
	m.sessions[id] = s
	return s
}

// Get 返回既有会话。
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Pending 返回未决提示注册表。
func (m *Manager) Pending() *PendingRegistry {
	return m.pending
}

// Count 返回会话数量。
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
