package history

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "ChainPilot/internal/errors"
)

// MemoryStore 以内存方式保存调用记录，主要用于测试与无库部署。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Save 实现 Store 接口。同 ID 记录覆盖更新。
func (m *MemoryStore) Save(_ context.Context, records ...*Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().Unix()
	for _, record := range records {
		if record == nil || record.ID == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
		}
		clone := cloneRecord(record)
		if clone.CreatedAt == 0 {
			clone.CreatedAt = now
		}
		clone.UpdatedAt = now
		m.records[clone.ID] = clone
	}
	return nil
}

// Get 返回指定记录。
func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(record), nil
}

// List 按过滤条件返回记录。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	m.mu.RLock()
	matched := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		if opts.matches(record) {
			matched = append(matched, record)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.UpdatedAt != b.UpdatedAt {
			if opts.Order == SortByUpdatedAsc {
				return a.UpdatedAt < b.UpdatedAt
			}
			return a.UpdatedAt > b.UpdatedAt
		}
		return a.ID < b.ID
	})

	if opts.Offset >= len(matched) {
		return []*Record{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	result := make([]*Record, 0, len(matched))
	for _, record := range matched {
		result = append(result, cloneRecord(record))
	}
	return result, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func cloneRecord(record *Record) *Record {
	clone := *record
	clone.Alternates = append([]string(nil), record.Alternates...)
	return &clone
}
