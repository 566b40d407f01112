package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"ChainPilot/internal/capability"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/session"
)

func TestParseKeyValuesSeparators(t *testing.T) {
	got := parseKeyValues("a=1, b=2;c=3\nd= hello world ")
	want := map[string]string{"a": "1", "b": "2", "c": "3", "d": "hello world"}
	if len(got) != len(want) {
		t.Fatalf("unexpected result: %+v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("key %s: got %q want %q", k, got[k], v)
		}
	}
}

func TestParseKeyValuesIgnoresMalformedTokens(t *testing.T) {
	got := parseKeyValues("=nokey, plain text, ok=yes")
	if len(got) != 1 || got["ok"] != "yes" {
		t.Fatalf("缺少键名或没有等号的片段应被忽略: %+v", got)
	}
}

func TestResolverMergesRepliesAsStrings(t *testing.T) {
	sessions := session.NewManager()
	outbox := &scriptedOutbox{pending: sessions.Pending()}
	outbox.onPrompt = func(session.Outbound) *session.Reply {
		return &session.Reply{Text: "threshold=5"}
	}
	r := NewResolver(sessions.Pending(), outbox, 100*time.Millisecond, 3)

	desc := &capability.Descriptor{Name: "price_alert", RequiredParams: []string{"symbol", "threshold"}}
	task := &Task{Name: "price_alert", RawArgs: map[string]any{"symbol": "ETH", "threshold": 0.0}}

	sess := sessions.GetOrCreate("s1")
	// 数值 0 是合法取值，不算缺失。
	if err := r.Resolve(context.Background(), sess, desc, task); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if task.Args["threshold"] != 0.0 {
		t.Fatalf("已有参数不应被追问覆盖: %+v", task.Args)
	}

	// 真正缺失时走补参对话，回复按字符串并入。
	task2 := &Task{Name: "price_alert", RawArgs: map[string]any{"symbol": "ETH"}}
	if err := r.Resolve(context.Background(), sess, desc, task2); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if task2.Args["threshold"] != "5" {
		t.Fatalf("补充的值应以字符串合并: %+v", task2.Args)
	}
	if len(outbox.delivered) != 1 {
		t.Fatalf("只应发出一次补参提示, got %d", len(outbox.delivered))
	}
}

func TestResolverBoundedRounds(t *testing.T) {
	sessions := session.NewManager()
	outbox := &scriptedOutbox{pending: sessions.Pending()}
	outbox.onPrompt = func(session.Outbound) *session.Reply {
		// 用户每轮都答非所问。
		return &session.Reply{Text: "我不知道"}
	}
	r := NewResolver(sessions.Pending(), outbox, 100*time.Millisecond, 2)

	desc := &capability.Descriptor{Name: "wallet_balance", RequiredParams: []string{"address"}}
	task := &Task{Name: "wallet_balance"}

	sess := sessions.GetOrCreate("s1")
	err := r.Resolve(context.Background(), sess, desc, task)
	if !errors.Is(err, xerrors.New(xerrors.CodeInvalidArgument, "")) {
		t.Fatalf("轮次耗尽应返回 INVALID_ARGUMENT: %v", err)
	}
	if len(outbox.delivered) != 2 {
		t.Fatalf("提示次数应受轮次上限约束, got %d", len(outbox.delivered))
	}
}

func TestResolverPromptTimeout(t *testing.T) {
	sessions := session.NewManager()
	outbox := &scriptedOutbox{pending: sessions.Pending()}
	// 前端永不回复。
	r := NewResolver(sessions.Pending(), outbox, 50*time.Millisecond, 3)

	desc := &capability.Descriptor{Name: "wallet_balance", RequiredParams: []string{"address"}}
	task := &Task{Name: "wallet_balance"}

	sess := sessions.GetOrCreate("s1")
	err := r.Resolve(context.Background(), sess, desc, task)
	if !errors.Is(err, xerrors.New(xerrors.CodePromptTimeout, "")) {
		t.Fatalf("未响应应返回 PROMPT_TIMEOUT: %v", err)
	}
}

func TestResolverBlankStringCountsAsMissing(t *testing.T) {
	missing := missingParams([]string{"address", "symbol"},
		map[string]any{"address": "  ", "symbol": "ETH"})
	if len(missing) != 1 || missing[0] != "address" {
		t.Fatalf("空白字符串应视为缺失: %v", missing)
	}
}
