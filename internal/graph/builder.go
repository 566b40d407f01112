package graph

import (
	"fmt"
	"log/slog"

	"ChainPilot/internal/capability"
	"ChainPilot/internal/planner"
	"ChainPilot/pkg/logger"
)

// Builder 把一个规划器提案展开为任务图：命中模板时按模板声明的
// 步骤与依赖实例化；参数中出现声明的批量字段时按元素扇出为互不
// 依赖的兄弟任务；否则生成单个无依赖任务。
type Builder struct {
	registry *capability.Registry
	catalog  *capability.Catalog
}

// NewBuilder 构造任务图构建器。
func NewBuilder(registry *capability.Registry, catalog *capability.Catalog) *Builder {
	return &Builder{registry: registry, catalog: catalog}
}

// Build 为提案创建新图。
func (b *Builder) Build(proposal *planner.Proposal) (*Graph, error) {
	g := New()
	if err := b.Expand(g, proposal, nil); err != nil {
		return nil, err
	}
	return g, nil
}

// Expand 把提案展开进既有图。dependsOn 非空时，展开出的每个任务都
// 依赖这些别名（执行器追加后续任务时使用）。
func (b *Builder) Expand(g *Graph, proposal *planner.Proposal, dependsOn []string) error {
	templateName := proposal.Template
	if templateName == "" {
		// 规划器可以直接用模板名充当动作名。
		if _, ok := b.catalog.Template(proposal.Name); ok {
			templateName = proposal.Name
		}
	}
	if templateName != "" {
		if tpl, ok := b.catalog.Template(templateName); ok {
			b.expandTemplate(g, tpl, proposal.Arguments, dependsOn)
			return nil
		}
		logger.L().Warn("提案引用了未知模板，按单任务处理", slog.String("template", templateName))
	}

	if batch := b.batchValues(proposal); batch != nil {
		b.expandBatch(g, proposal, batch, dependsOn)
		return nil
	}

	g.Append(&Task{
		Name:      proposal.Name,
		RawArgs:   cloneArguments(proposal.Arguments),
		DependsOn: dependsOn,
	})
	return nil
}

// expandTemplate 按模板声明的步骤与依赖实例化任务。模板内的依赖
// 别名加上模板外部注入的依赖共同生效。
func (b *Builder) expandTemplate(g *Graph, tpl *capability.Template, args map[string]any, dependsOn []string) {
	for _, step := range tpl.Steps {
		alias := step.Alias
		if alias == "" {
			alias = step.Capability
		}
		deps := append([]string(nil), dependsOn...)
		deps = append(deps, step.DependsOn...)
		g.Append(&Task{
			Alias:     alias,
			Name:      step.Capability,
			RawArgs:   cloneArguments(args),
			DependsOn: deps,
		})
	}
}

// batchValues 返回批量参数的元素列表。仅当能力声明了批量字段，
// 且该字段实际传入数组时才扇出。
func (b *Builder) batchValues(proposal *planner.Proposal) []any {
	desc, err := b.registry.Get(proposal.Name)
	if err != nil || desc.BatchParam == "" {
		return nil
	}
	value, ok := proposal.Arguments[desc.BatchParam]
	if !ok {
		return nil
	}
	values, ok := value.([]any)
	if !ok || len(values) == 0 {
		return nil
	}
	return values
}

// expandBatch 为数组中的每个元素生成一个独立的兄弟任务：
// 单值参数名替换为对应元素，兄弟之间没有依赖，后续可以并行执行。
func (b *Builder) expandBatch(g *Graph, proposal *planner.Proposal, values []any, dependsOn []string) {
	desc, _ := b.registry.Get(proposal.Name)
	for i, value := range values {
		args := cloneArguments(proposal.Arguments)
		args[desc.BatchParam] = value
		g.Append(&Task{
			Alias:     fmt.Sprintf("%s#%d", proposal.Name, i+1),
			Name:      proposal.Name,
			RawArgs:   args,
			DependsOn: dependsOn,
		})
	}
}

func cloneArguments(args map[string]any) map[string]any {
	clone := make(map[string]any, len(args))
	for k, v := range args {
		clone[k] = v
	}
	return clone
}
