package graph

import (
	"strings"
	"testing"

	xerrors "ChainPilot/internal/errors"
)

func TestSummarizeClosingComesFirst(t *testing.T) {
	g := New()
	g.Append(&Task{Alias: "price", Name: "price_lookup",
		Status: StatusSucceeded, Payload: map[string]any{"price": 2500.0}})

	s := NewSummarizer(0, 0)
	out := s.Summarize(g, "ETH 现价约 2500 美元。")

	parts := strings.SplitN(out, "\n\n", 2)
	if len(parts) != 2 || parts[0] != "ETH 现价约 2500 美元。" {
		t.Fatalf("收尾文本应排在最前: %q", out)
	}
	if !strings.Contains(parts[1], "price:") {
		t.Fatalf("任务结果应跟在后面: %q", parts[1])
	}
}

func TestSummarizeAnnotatesFallbackAndMemo(t *testing.T) {
	g := New()
	g.Append(&Task{Alias: "primary", Name: "price_lookup",
		Status: StatusSucceeded, Payload: "2500", ServedBy: "price_backup"})
	g.Append(&Task{Alias: "again", Name: "price_lookup",
		Status: StatusSucceeded, Payload: "2500", Memoized: true})

	out := NewSummarizer(0, 0).Summarize(g, "")
	if !strings.Contains(out, "（由备选 price_backup 提供）") {
		t.Fatalf("应标注备选来源: %q", out)
	}
	if !strings.Contains(out, "（复用前序结果）") {
		t.Fatalf("应标注缓存复用: %q", out)
	}
}

func TestSummarizeReportsFailures(t *testing.T) {
	g := New()
	g.Append(&Task{Alias: "broken", Name: "price_lookup", Status: StatusFailed,
		Failure: &Failure{Code: xerrors.CodeUnavailable, Message: "行情源宕机"}})

	out := NewSummarizer(0, 0).Summarize(g, "")
	if !strings.Contains(out, "broken: 执行失败（") || !strings.Contains(out, "行情源宕机") {
		t.Fatalf("失败任务应带错误信息: %q", out)
	}
}

func TestSummarizeClipsLongPayloads(t *testing.T) {
	g := New()
	g.Append(&Task{Alias: "long", Name: "chain_snapshot",
		Status: StatusSucceeded, Payload: strings.Repeat("x", 50)})

	out := NewSummarizer(10, 0).Summarize(g, "")
	if !strings.Contains(out, "xxxxxxxxxx… [truncated from 50 chars]") {
		t.Fatalf("超长结果应截断并标注原始长度: %q", out)
	}
}

func TestSummarizeTaskBudgetOverflow(t *testing.T) {
	g := New()
	for i := 0; i < 5; i++ {
		g.Append(&Task{Name: "chain_snapshot",
			Status: StatusSucceeded, Payload: "ok"})
	}

	out := NewSummarizer(0, 3).Summarize(g, "")
	if !strings.Contains(out, "…… 以及另外 2 项任务") {
		t.Fatalf("超出条数预算应折叠: %q", out)
	}
}
