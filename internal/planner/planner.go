package planner

import (
	"context"

	"ChainPilot/internal/capability"
	"ChainPilot/internal/session"
)

// Request 是一次规划器咨询的完整输入：裁剪后的会话窗口与能力目录。
type Request struct {
	Messages     []session.Message
	Capabilities []capability.Descriptor
}

// Client 定义了调用规划器（大模型）的统一接口，返回原始文本。
// 文本到提案的解析由 Gateway 完成。
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProposalKind 区分规划器的两类回复。
type ProposalKind string

const (
	// KindText 表示规划器给出终局的文本回复。
	KindText ProposalKind = "text"
	// KindAction 表示规划器提议调用一个能力。
	KindAction ProposalKind = "action"
)

// Proposal 是规划器一次咨询的结构化结果。
type Proposal struct {
	Kind    ProposalKind
	Content string
	// Name/Arguments 仅在 KindAction 时填写。Arguments 保持未经校验的
	// 原始键值，参数校验属于参数解析器的职责。
	Name      string
	Arguments map[string]any
	// Template 是规划器点名的多步模板，可为空。
	Template string
}
