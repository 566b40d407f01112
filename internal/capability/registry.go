package capability

import (
	"log/slog"
	"sort"
	"sync"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/pkg/logger"
)

// Registry 保存进程内全部可调用能力。启动阶段完成注册后只读，
// 供所有会话共享。
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]*Descriptor
}

// NewRegistry 创建空的能力注册表。
func NewRegistry() *Registry {
	return &Registry{capabilities: make(map[string]*Descriptor)}
}

// Register 注册一个能力。重名注册返回冲突错误。
func (r *Registry) Register(desc *Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.capabilities[desc.Name]; exists {
		return xerrors.New(CodeCapabilityConflict, "能力重复注册: "+desc.Name)
	}
	r.capabilities[desc.Name] = desc
	logger.L().Debug("能力注册完成",
		slog.String("capability", desc.Name),
		slog.Bool("sensitive", desc.Sensitive),
		slog.Int("required_params", len(desc.RequiredParams)),
	)
	return nil
}

// MustRegister 注册失败时直接 panic，用于启动阶段的静态装配。
func (r *Registry) MustRegister(desc *Descriptor) {
	if err := r.Register(desc); err != nil {
		panic(err)
	}
}

// Get 按名称返回能力描述符，未注册时返回 UNKNOWN_CAPABILITY。
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.capabilities[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnknownCapability, "未注册的能力: "+name)
	}
	return desc, nil
}

// Has 判断能力是否已注册。
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.capabilities[name]
	return ok
}

// Names 返回排序后的全部能力名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalogue 返回全部能力的模式信息（不含处理器），按名称排序，
// 用于每次规划器咨询时回放能力目录。
func (r *Registry) Catalogue() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]Descriptor, 0, len(r.capabilities))
	for _, desc := range r.capabilities {
		schemas = append(schemas, desc.Schema())
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Count 返回已注册能力数量。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.capabilities)
}
