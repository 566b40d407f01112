package graph

import (
	"context"
	"testing"

	"ChainPilot/internal/capability"
	"ChainPilot/internal/planner"
)

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	handler := func(_ context.Context, _ map[string]any, _ string) (any, error) {
		return "ok", nil
	}
	descriptors := []*capability.Descriptor{
		{Name: "price_lookup", RequiredParams: []string{"symbol"}, BatchParam: "symbol", Handler: handler},
		{Name: "wallet_balance", RequiredParams: []string{"address"}, Handler: handler},
		{Name: "chain_snapshot", Handler: handler},
	}
	for _, desc := range descriptors {
		if err := reg.Register(desc); err != nil {
			t.Fatalf("register %s: %v", desc.Name, err)
		}
	}
	return reg
}

func testCatalog(t *testing.T) *capability.Catalog {
	t.Helper()
	const manifest = `
capabilities:
  - name: price_lookup
    required_params: [symbol]
    batch_param: symbol
  - name: wallet_balance
    required_params: [address]
  - name: chain_snapshot
templates:
  - name: portfolio_report
    steps:
      - alias: snapshot
        capability: chain_snapshot
      - alias: balances
        capability: wallet_balance
        depends_on: [snapshot]
`
	catalog, err := capability.ParseCatalog([]byte(manifest))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return catalog
}

func TestBuildSingleTask(t *testing.T) {
	builder := NewBuilder(testRegistry(t), testCatalog(t))
	g, err := builder.Build(&planner.Proposal{
		Kind:      planner.KindAction,
		Name:      "wallet_balance",
		Arguments: map[string]any{"address": "0xabc"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("expected 1 task, got %d", g.Len())
	}
	task := g.Tasks()[0]
	if task.Name != "wallet_balance" || task.Alias != "wallet_balance" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if len(task.DependsOn) != 0 {
		t.Fatalf("单任务不应有依赖: %+v", task.DependsOn)
	}
	if task.ID == "" {
		t.Fatalf("任务应分配 ID")
	}
}

func TestBuildTemplateExpansion(t *testing.T) {
	builder := NewBuilder(testRegistry(t), testCatalog(t))
	g, err := builder.Build(&planner.Proposal{
		Kind:      planner.KindAction,
		Name:      "portfolio_report",
		Arguments: map[string]any{"address": "0xabc"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.Len() != 2 {
		t.Fatalf("expected 2 tasks, got %d", g.Len())
	}

	balances, ok := g.ByAlias("balances")
	if !ok {
		t.Fatalf("balances 任务缺失")
	}
	if len(balances.DependsOn) != 1 || balances.DependsOn[0] != "snapshot" {
		t.Fatalf("模板依赖未带入: %+v", balances.DependsOn)
	}
	if balances.RawArgs.(map[string]any)["address"] != "0xabc" {
		t.Fatalf("模板参数未带入: %+v", balances.RawArgs)
	}
}

func TestBuildBatchFanOut(t *testing.T) {
	builder := NewBuilder(testRegistry(t), testCatalog(t))
	g, err := builder.Build(&planner.Proposal{
		Kind:      planner.KindAction,
		Name:      "price_lookup",
		Arguments: map[string]any{"symbol": []any{"ETH", "BTC", "SOL"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.Len() != 3 {
		t.Fatalf("批量参数应扇出 3 个任务, got %d", g.Len())
	}
	for i, task := range g.Tasks() {
		if len(task.DependsOn) != 0 {
			t.Fatalf("兄弟任务之间不应有依赖: %+v", task)
		}
		args := task.RawArgs.(map[string]any)
		want := []string{"ETH", "BTC", "SOL"}[i]
		if args["symbol"] != want {
			t.Fatalf("第 %d 个任务应携带 %s, got %v", i, want, args["symbol"])
		}
	}
}

func TestBuildBatchRequiresArrayValue(t *testing.T) {
	builder := NewBuilder(testRegistry(t), testCatalog(t))
	g, err := builder.Build(&planner.Proposal{
		Kind:      planner.KindAction,
		Name:      "price_lookup",
		Arguments: map[string]any{"symbol": "ETH"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("标量批量参数应退化为单任务, got %d", g.Len())
	}
}

func TestExpandAppendsWithExternalDependency(t *testing.T) {
	builder := NewBuilder(testRegistry(t), testCatalog(t))
	g := New()
	g.Append(&Task{Alias: "seed", Name: "chain_snapshot"})

	err := builder.Expand(g, &planner.Proposal{
		Kind:      planner.KindAction,
		Name:      "price_lookup",
		Arguments: map[string]any{"symbol": "ETH"},
	}, []string{"seed"})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	appended, ok := g.ByAlias("price_lookup")
	if !ok {
		t.Fatalf("追加任务缺失")
	}
	if len(appended.DependsOn) != 1 || appended.DependsOn[0] != "seed" {
		t.Fatalf("外部依赖未带入: %+v", appended.DependsOn)
	}
}

func TestAppendAliasConflictGetsSuffix(t *testing.T) {
	g := New()
	first := g.Append(&Task{Alias: "lookup", Name: "price_lookup"})
	second := g.Append(&Task{Alias: "lookup", Name: "price_lookup"})
	if first.Alias == second.Alias {
		t.Fatalf("别名冲突应重命名: %s vs %s", first.Alias, second.Alias)
	}
	if _, ok := g.ByAlias(second.Alias); !ok {
		t.Fatalf("重命名后的别名应可检索")
	}
}
