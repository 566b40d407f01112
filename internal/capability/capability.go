package capability

import (
	"context"

	xerrors "ChainPilot/internal/errors"
)

// Handler 是能力的统一调用约定。批量参数由图构建器负责展开，
// 处理器只需要处理单个取值。
type Handler func(ctx context.Context, args map[string]any, sessionID string) (any, error)

// InsufficientDataPolicy 决定如何判定"结构上成功但内容为空"的结果。
// 默认的启发式是一个已知不精确的浅层检查，因此按能力单独配置。
type InsufficientDataPolicy string

const (
	// PolicyDefault 同时检查空载荷与自述错误的载荷。
	PolicyDefault InsufficientDataPolicy = "default"
	// PolicyEmptyOnly 仅把空载荷视为数据不足。
	PolicyEmptyOnly InsufficientDataPolicy = "empty_only"
	// PolicyNever 一切结构化成功结果都算成功。
	PolicyNever InsufficientDataPolicy = "never"
)

// Descriptor 描述一个已注册的能力：调用入口与参数模式共用同一事实来源。
type Descriptor struct {
	Name           string
	Description    string
	RequiredParams []string
	// BatchParam 声明允许以数组形式批量传入的单值参数名。
	BatchParam   string
	Sensitive    bool
	Insufficient InsufficientDataPolicy
	Handler      Handler
}

// Validate 检查描述符是否完整。
func (d *Descriptor) Validate() error {
	if d == nil || d.Name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "能力名称不能为空")
	}
	if d.Handler == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "能力 "+d.Name+" 缺少处理器")
	}
	if d.Insufficient == "" {
		d.Insufficient = PolicyDefault
	}
	return nil
}

// Schema 返回去掉处理器的描述符副本，用于回放给规划器。
func (d *Descriptor) Schema() Descriptor {
	clone := *d
	clone.Handler = nil
	clone.RequiredParams = append([]string(nil), d.RequiredParams...)
	return clone
}

const (
	CodeCapabilityConflict xerrors.Code = "CAPABILITY_CONFLICT"
)

func init() {
	xerrors.Register(CodeCapabilityConflict, xerrors.Attributes{
		Message:   "capability already registered",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}
