package planner

import (
	"context"
	"encoding/json"
	"strings"

	"ChainPilot/internal/capability"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/session"
)

// CatalogueSource 提供当前的能力目录，每次咨询时取最新快照。
type CatalogueSource interface {
	Catalogue() []capability.Descriptor
}

// Gateway 包装每一次规划器咨询：裁剪上下文、附带能力目录、
// 把原始回复解析为文本或动作提案。
type Gateway struct {
	client    Client
	window    Window
	catalogue CatalogueSource
}

// NewGateway 构造规划器网关。
func NewGateway(client Client, window Window, catalogue CatalogueSource) *Gateway {
	return &Gateway{client: client, window: window, catalogue: catalogue}
}

// Consult 执行一次咨询。规划器自身的故障（含无法解析的回复）
// 以 PLANNER_FAILURE 上抛，由会话边界统一兜底。
func (g *Gateway) Consult(ctx context.Context, history []session.Message) (*Proposal, error) {
	if g.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置规划器客户端")
	}
	raw, err := g.client.Complete(ctx, Request{
		Messages:     g.window.Trim(history),
		Capabilities: g.catalogue.Catalogue(),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlannerFailure, err, "规划器咨询失败")
	}
	return ParseProposal(raw)
}

// ParseProposal 从规划器的原始文本中提取提案。回复中出现
// {"action": ...} JSON 对象时解析为动作，否则整体视为文本回复。
func ParseProposal(raw string) (*Proposal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, xerrors.New(xerrors.CodePlannerFailure, "规划器回复为空")
	}

	start := strings.Index(raw, `{"action"`)
	if start < 0 {
		return &Proposal{Kind: KindText, Content: raw}, nil
	}
	end := matchBrace(raw, start)
	if end <= start {
		return nil, xerrors.New(xerrors.CodePlannerFailure, "规划器动作 JSON 括号不匹配")
	}

	var envelope struct {
		Action struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
			Template  string         `json:"template"`
		} `json:"action"`
	}
	if err := json.Unmarshal([]byte(raw[start:end]), &envelope); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlannerFailure, err, "规划器动作 JSON 解析失败")
	}
	if strings.TrimSpace(envelope.Action.Name) == "" {
		return nil, xerrors.New(xerrors.CodePlannerFailure, "规划器动作缺少能力名称")
	}
	return &Proposal{
		Kind:      KindAction,
		Name:      envelope.Action.Name,
		Arguments: envelope.Action.Arguments,
		Template:  envelope.Action.Template,
	}, nil
}

// matchBrace 返回与 start 处左花括号配对的右括号之后的下标。
// 跳过字符串字面量内部的括号。
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return i + 1
				}
			}
		}
	}
	return start
}
