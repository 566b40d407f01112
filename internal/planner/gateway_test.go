package planner

import (
	"context"
	"testing"

	"ChainPilot/internal/capability"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/session"
)

func TestParseProposalText(t *testing.T) {
	proposal, err := ParseProposal("以太坊当前 gas 约为 12 gwei。")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if proposal.Kind != KindText {
		t.Fatalf("纯文本应解析为文本提案")
	}
}

func TestParseProposalAction(t *testing.T) {
	raw := `先查一下价格。{"action": {"name": "price_lookup", "arguments": {"symbol": "ETH"}}}`
	proposal, err := ParseProposal(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if proposal.Kind != KindAction || proposal.Name != "price_lookup" {
		t.Fatalf("unexpected proposal: %+v", proposal)
	}
	if proposal.Arguments["symbol"] != "ETH" {
		t.Fatalf("参数解析异常: %+v", proposal.Arguments)
	}
}

func TestParseProposalActionWithTemplate(t *testing.T) {
	raw := `{"action": {"name": "portfolio_report", "template": "portfolio_report", "arguments": {"address": "0xabc"}}}`
	proposal, err := ParseProposal(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if proposal.Template != "portfolio_report" {
		t.Fatalf("模板字段丢失: %+v", proposal)
	}
}

func TestParseProposalBraceInsideString(t *testing.T) {
	raw := `{"action": {"name": "price_alert", "arguments": {"note": "when {ETH} dips"}}}`
	proposal, err := ParseProposal(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if proposal.Arguments["note"] != "when {ETH} dips" {
		t.Fatalf("字符串内的括号应被跳过: %+v", proposal.Arguments)
	}
}

func TestParseProposalMalformed(t *testing.T) {
	cases := []string{
		"",
		`{"action": {"name": "price_lookup"`,
		`{"action": {"arguments": {"symbol": "ETH"}}}`,
	}
	for _, raw := range cases {
		if _, err := ParseProposal(raw); xerrors.CodeOf(err) != xerrors.CodePlannerFailure {
			t.Fatalf("ParseProposal(%q) 应返回 PLANNER_FAILURE, got %v", raw, err)
		}
	}
}

type scriptedClient struct {
	responses []string
	err       error
	requests  []Request
}

func (c *scriptedClient) Complete(_ context.Context, req Request) (string, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	if len(c.responses) == 0 {
		return "", nil
	}
	next := c.responses[0]
	c.responses = c.responses[1:]
	return next, nil
}

type staticCatalogue []capability.Descriptor

func (s staticCatalogue) Catalogue() []capability.Descriptor { return s }

func TestGatewayConsultAttachesCatalogue(t *testing.T) {
	client := &scriptedClient{responses: []string{"好的，已了解。"}}
	catalogue := staticCatalogue{{Name: "gas_price", Description: "查询 gas"}}
	gateway := NewGateway(client, NewWindow(0, 0, 0), catalogue)

	history := []session.Message{{Role: session.RoleUser, Content: "gas 多少"}}
	proposal, err := gateway.Consult(context.Background(), history)
	if err != nil {
		t.Fatalf("consult: %v", err)
	}
	if proposal.Kind != KindText {
		t.Fatalf("unexpected proposal: %+v", proposal)
	}
	if len(client.requests) != 1 || len(client.requests[0].Capabilities) != 1 {
		t.Fatalf("咨询请求应携带能力目录: %+v", client.requests)
	}
}

func TestGatewayConsultWrapsClientError(t *testing.T) {
	client := &scriptedClient{err: xerrors.New(xerrors.CodeTimeout, "上游超时")}
	gateway := NewGateway(client, NewWindow(0, 0, 0), staticCatalogue{})

	_, err := gateway.Consult(context.Background(), nil)
	if xerrors.CodeOf(err) != xerrors.CodePlannerFailure {
		t.Fatalf("客户端错误应包装为 PLANNER_FAILURE, got %v", err)
	}
}
