package capability

import (
	"context"
	stdErrors "errors"
	"testing"

	xerrors "ChainPilot/internal/errors"
)

func noopHandler(_ context.Context, _ map[string]any, _ string) (any, error) {
	return "ok", nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	desc := &Descriptor{
		Name:           "price_lookup",
		Description:    "查询代币价格",
		RequiredParams: []string{"symbol"},
		Handler:        noopHandler,
	}
	if err := reg.Register(desc); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := reg.Get("price_lookup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "price_lookup" || len(got.RequiredParams) != 1 {
		t.Fatalf("unexpected descriptor: %+v", got)
	}
	if got.Insufficient != PolicyDefault {
		t.Fatalf("默认数据不足策略应为 default, got %s", got.Insufficient)
	}
}

func TestRegistryUnknownCapability(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("no_such_capability")
	if err == nil {
		t.Fatalf("未注册能力应返回错误")
	}
	if xerrors.CodeOf(err) != xerrors.CodeUnknownCapability {
		t.Fatalf("错误码应为 UNKNOWN_CAPABILITY, got %s", xerrors.CodeOf(err))
	}
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	desc := &Descriptor{Name: "gas_price", Handler: noopHandler}
	if err := reg.Register(desc); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(&Descriptor{Name: "gas_price", Handler: noopHandler}); err == nil {
		t.Fatalf("重复注册应失败")
	}
}

func TestRegistryRejectsInvalidDescriptor(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&Descriptor{Name: "", Handler: noopHandler}); err == nil {
		t.Fatalf("空名称应被拒绝")
	}
	if err := reg.Register(&Descriptor{Name: "broken"}); err == nil {
		t.Fatalf("缺少处理器应被拒绝")
	}
	if !stdErrors.Is(reg.Register(&Descriptor{Name: "broken"}),
		xerrors.New(xerrors.CodeInvalidArgument, "")) {
		t.Fatalf("校验失败应返回 INVALID_ARGUMENT")
	}
}

func TestRegistryCatalogueSortedAndHandlerFree(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"wallet_balance", "gas_price", "price_lookup"} {
		if err := reg.Register(&Descriptor{Name: name, Handler: noopHandler}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	catalogue := reg.Catalogue()
	if len(catalogue) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(catalogue))
	}
	if catalogue[0].Name != "gas_price" || catalogue[2].Name != "wallet_balance" {
		t.Fatalf("目录应按名称排序: %+v", catalogue)
	}
	for _, entry := range catalogue {
		if entry.Handler != nil {
			t.Fatalf("目录快照不应携带处理器")
		}
	}
}
