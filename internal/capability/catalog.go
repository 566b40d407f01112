package capability

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/pkg/logger"
)

// Catalog 是声明式的能力目录：参数模式、敏感标记、降级链与多步模板。
// 启动阶段加载一次，运行期间只读。
type Catalog struct {
	Capabilities   []CatalogEntry           `yaml:"capabilities"`
	Templates      []Template               `yaml:"templates"`
	byName         map[string]*CatalogEntry
	templateByName map[string]*Template
}

// CatalogEntry 描述目录中一个能力的静态元数据。
type CatalogEntry struct {
	Name         string                 `yaml:"name"`
	Description  string                 `yaml:"description"`
	Required     []string               `yaml:"required_params"`
	BatchParam   string                 `yaml:"batch_param"`
	Sensitive    bool                   `yaml:"sensitive"`
	Insufficient InsufficientDataPolicy `yaml:"insufficient_data"`
	Fallbacks    []string               `yaml:"fallbacks"`
}

// Template 声明一个多步任务模板，步骤间通过别名表达依赖。
type Template struct {
	Name  string         `yaml:"name"`
	Steps []TemplateStep `yaml:"steps"`
}

// TemplateStep 是模板中的一步。
type TemplateStep struct {
	Alias      string   `yaml:"alias"`
	Capability string   `yaml:"capability"`
	DependsOn  []string `yaml:"depends_on"`
}

// LoadCatalog 解析 YAML 能力目录文件。
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "能力目录路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取能力目录失败: %w", err)
	}
	return ParseCatalog(content)
}

// ParseCatalog 从 YAML 内容构建目录。
func ParseCatalog(content []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return nil, fmt.Errorf("解析能力目录失败: %w", err)
	}
	if err := catalog.index(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

func (c *Catalog) index() error {
	c.byName = make(map[string]*CatalogEntry, len(c.Capabilities))
	for i := range c.Capabilities {
		entry := &c.Capabilities[i]
		if entry.Name == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "目录中存在未命名的能力")
		}
		if _, dup := c.byName[entry.Name]; dup {
			return xerrors.New(CodeCapabilityConflict, "目录中能力重复声明: "+entry.Name)
		}
		if entry.Insufficient == "" {
			entry.Insufficient = PolicyDefault
		}
		c.byName[entry.Name] = entry
	}
	c.templateByName = make(map[string]*Template, len(c.Templates))
	for i := range c.Templates {
		tpl := &c.Templates[i]
		if tpl.Name == "" || len(tpl.Steps) == 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, "模板缺少名称或步骤")
		}
		if _, dup := c.templateByName[tpl.Name]; dup {
			return xerrors.New(xerrors.CodeInvalidArgument, "模板重复声明: "+tpl.Name)
		}
		seen := make(map[string]struct{}, len(tpl.Steps))
		for _, step := range tpl.Steps {
			if step.Capability == "" {
				return xerrors.New(xerrors.CodeInvalidArgument, "模板 "+tpl.Name+" 存在缺少能力名的步骤")
			}
			alias := step.Alias
			if alias == "" {
				alias = step.Capability
			}
			// 依赖只允许指向已经出现过的别名，由此保证模板无环。
			for _, dep := range step.DependsOn {
				if _, ok := seen[dep]; !ok {
					logger.L().Warn("模板依赖指向未声明的步骤，构图时将被跳过",
						slog.String("template", tpl.Name),
						slog.String("step", alias),
						slog.String("dependency", dep),
					)
				}
			}
			seen[alias] = struct{}{}
		}
		c.templateByName[tpl.Name] = tpl
	}
	return nil
}

// Entry 返回目录中声明的能力元数据。
func (c *Catalog) Entry(name string) (*CatalogEntry, bool) {
	if c == nil {
		return nil, false
	}
	entry, ok := c.byName[name]
	return entry, ok
}

// Template 返回指定名称的模板。
func (c *Catalog) Template(name string) (*Template, bool) {
	if c == nil {
		return nil, false
	}
	tpl, ok := c.templateByName[name]
	return tpl, ok
}

// FallbacksFor 返回能力的降级链（有序备选能力名），未声明时返回 nil。
func (c *Catalog) FallbacksFor(name string) []string {
	entry, ok := c.Entry(name)
	if !ok || len(entry.Fallbacks) == 0 {
		return nil
	}
	return append([]string(nil), entry.Fallbacks...)
}

// PolicyFor 返回能力的数据不足判定策略。
func (c *Catalog) PolicyFor(name string) InsufficientDataPolicy {
	if entry, ok := c.Entry(name); ok {
		return entry.Insufficient
	}
	return PolicyDefault
}

// Bind 把处理器装配进注册表：目录提供模式，代码提供实现。
// 目录中声明但未提供处理器的能力视为远端能力，跳过并记录日志。
func (c *Catalog) Bind(reg *Registry, handlers map[string]Handler) error {
	for i := range c.Capabilities {
		entry := &c.Capabilities[i]
		handler, ok := handlers[entry.Name]
		if !ok {
			logger.L().Info("目录能力未提供本地处理器，跳过注册", slog.String("capability", entry.Name))
			continue
		}
		desc := &Descriptor{
			Name:           entry.Name,
			Description:    entry.Description,
			RequiredParams: append([]string(nil), entry.Required...),
			BatchParam:     entry.BatchParam,
			Sensitive:      entry.Sensitive,
			Insufficient:   entry.Insufficient,
			Handler:        handler,
		}
		if err := reg.Register(desc); err != nil {
			return err
		}
	}
	return nil
}
