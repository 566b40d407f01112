package history

import (
	"context"

	xerrors "ChainPilot/internal/errors"
)

// Record 是一次能力调用的持久化记录：会话、所属图、调用身份、
// 最终状态与失败明细。一张图执行完毕后整体落库。
type Record struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"session_id"`
	GraphID    string   `json:"graph_id"`
	Alias      string   `json:"alias"`
	Capability string   `json:"capability"`
	ArgsDigest string   `json:"args_digest"`
	Status     string   `json:"status"`
	ServedBy   string   `json:"served_by,omitempty"`
	Attempts   int      `json:"attempts"`
	Alternates []string `json:"alternates,omitempty"`
	ErrorCode  string   `json:"error_code,omitempty"`
	LastError  string   `json:"last_error,omitempty"`
	Payload    string   `json:"payload,omitempty"`
	Memoized   bool     `json:"memoized"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
}

var (
	// ErrRecordNotFound 表示指定的记录不存在。
	ErrRecordNotFound = xerrors.New(xerrors.CodeStorageFailure, "record not found",
		xerrors.WithSeverity(xerrors.SeverityInfo), xerrors.WithAlert(false))
	// ErrRecordConflict 表示记录 ID 已存在。
	ErrRecordConflict = xerrors.New(xerrors.CodeStorageFailure, "record conflict",
		xerrors.WithSeverity(xerrors.SeverityWarning), xerrors.WithAlert(false))
)

// Store 抽象了调用记录的持久化接口。
type Store interface {
	Save(ctx context.Context, records ...*Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	Close() error
}
