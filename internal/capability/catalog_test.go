package capability

import (
	"context"
	"testing"
)

const sampleCatalog = `
capabilities:
  - name: price_lookup
    description: 查询代币价格
    required_params: [symbol]
    batch_param: symbol
    fallbacks: [price_lookup_backup]
  - name: price_lookup_backup
    description: 备用行情源
    required_params: [symbol]
  - name: transfer
    description: 链上转账
    required_params: [to, amount]
    sensitive: true
    insufficient_data: never
templates:
  - name: portfolio_report
    steps:
      - alias: snapshot
        capability: chain_snapshot
      - alias: balances
        capability: wallet_balance
        depends_on: [snapshot]
`

func TestParseCatalog(t *testing.T) {
	catalog, err := ParseCatalog([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	entry, ok := catalog.Entry("price_lookup")
	if !ok {
		t.Fatalf("price_lookup 应在目录中")
	}
	if entry.BatchParam != "symbol" || len(entry.Required) != 1 {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	if fallbacks := catalog.FallbacksFor("price_lookup"); len(fallbacks) != 1 || fallbacks[0] != "price_lookup_backup" {
		t.Fatalf("unexpected fallbacks: %v", fallbacks)
	}
	if fallbacks := catalog.FallbacksFor("transfer"); fallbacks != nil {
		t.Fatalf("transfer 未声明备选, got %v", fallbacks)
	}

	if policy := catalog.PolicyFor("transfer"); policy != PolicyNever {
		t.Fatalf("transfer 策略应为 never, got %s", policy)
	}
	if policy := catalog.PolicyFor("price_lookup"); policy != PolicyDefault {
		t.Fatalf("未声明策略应回落 default, got %s", policy)
	}

	tpl, ok := catalog.Template("portfolio_report")
	if !ok || len(tpl.Steps) != 2 {
		t.Fatalf("模板解析异常: %+v", tpl)
	}
	if tpl.Steps[1].DependsOn[0] != "snapshot" {
		t.Fatalf("模板步骤依赖解析异常: %+v", tpl.Steps[1])
	}
}

func TestParseCatalogRejectsDuplicates(t *testing.T) {
	const duplicated = `
capabilities:
  - name: gas_price
  - name: gas_price
`
	if _, err := ParseCatalog([]byte(duplicated)); err == nil {
		t.Fatalf("重名能力应解析失败")
	}
}

func TestCatalogBindSkipsMissingHandlers(t *testing.T) {
	catalog, err := ParseCatalog([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	reg := NewRegistry()
	handlers := map[string]Handler{
		"price_lookup": func(_ context.Context, _ map[string]any, _ string) (any, error) {
			return map[string]any{"price": 1.0}, nil
		},
	}
	if err := catalog.Bind(reg, handlers); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if !reg.Has("price_lookup") {
		t.Fatalf("提供了处理器的能力应被注册")
	}
	if reg.Has("transfer") {
		t.Fatalf("未提供处理器的能力不应注册")
	}

	desc, err := reg.Get("price_lookup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if desc.BatchParam != "symbol" {
		t.Fatalf("目录元数据应带入注册表: %+v", desc)
	}
}
