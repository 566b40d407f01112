package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	xerrors "ChainPilot/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Failure 是任务的结构化失败结果。降级链耗尽时 Message 保留最初的
// 失败原因，Alternates 记录依次尝试过的备选能力。
type Failure struct {
	Code       xerrors.Code `json:"code"`
	Message    string       `json:"message"`
	Alternates []string     `json:"alternates,omitempty"`
}

// Error 把失败渲染为单行描述。
func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	if len(f.Alternates) > 0 {
		return fmt.Sprintf("[%s] %s (已尝试备选: %s)", f.Code, f.Message, strings.Join(f.Alternates, ", "))
	}
	return fmt.Sprintf("[%s] %s", f.Code, f.Message)
}

// Task 是任务图中的一个节点。去重身份是 (能力名, 规范化参数)。
type Task struct {
	ID    string
	Alias string
	Name  string
	// RawArgs 是规划器给出的原始参数：对象或 JSON 字符串。
	RawArgs any
	// Args 是参数解析器校验合并后的最终参数。
	Args      map[string]any
	DependsOn []string
	Status    Status
	// Payload 是成功结果；Failure 是结构化失败。两者互斥。
	Payload any
	Failure *Failure
	// Attempts 统计真实发生的能力调用次数（含备选）。
	Attempts int
	// ServedBy 在降级成功时记录实际提供结果的备选能力名。
	ServedBy string
	// Memoized 标记结果来自同一图内的同身份任务，并未实际调用。
	Memoized   bool
	FinishedAt int64
}

// Terminal 判断任务是否已到达终态。
func (t *Task) Terminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// IdentityKey 返回任务的去重身份。优先使用解析后的参数，
// 未解析时尽力规范化原始参数。
func (t *Task) IdentityKey() string {
	args := t.Args
	if args == nil {
		if parsed, err := ParseArgs(t.RawArgs); err == nil {
			args = parsed
		}
	}
	return t.Name + "|" + canonicalArgs(args)
}

// canonicalArgs 把参数序列化为键序稳定的 JSON。
// encoding/json 对 map 按键排序，正好给出规范形式。
func canonicalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(encoded)
}

// ParseArgs 把原始参数统一解析为键值表。接受对象或 JSON 编码的
// 字符串；无法解析的 JSON 是终态校验错误。
func ParseArgs(raw any) (map[string]any, error) {
	switch value := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		clone := make(map[string]any, len(value))
		for k, v := range value {
			clone[k] = v
		}
		return clone, nil
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return map[string]any{}, nil
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "参数 JSON 无法解析")
		}
		return parsed, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("不支持的参数类型 %T", raw))
	}
}

const (
	// CodeDependencyAborted 表示前置任务被用户拒绝或提示超时，
	// 依赖它的任务随之中止。
	CodeDependencyAborted xerrors.Code = "DEPENDENCY_ABORTED"
)

func init() {
	xerrors.Register(CodeDependencyAborted, xerrors.Attributes{
		Message:   "dependency aborted by user",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
