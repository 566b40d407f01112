package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 ChainPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Logger       LoggerConfig       `json:"logger"`
	Planner      PlannerConfig      `json:"planner"`
	Catalog      CatalogConfig      `json:"catalog"`
	History      HistoryConfig      `json:"history"`
	Bridge       BridgeConfig       `json:"bridge"`
	Chain        ChainConfig        `json:"chain"`
	Alerting     AlertingConfig     `json:"alerting"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggerConfig 控制主日志与审计日志的输出。
type LoggerConfig struct {
	Level        string   `json:"level"`
	Format       string   `json:"format"`
	Outputs      []string `json:"outputs"`
	AuditEnabled bool     `json:"audit_enabled"`
	AuditPath    string   `json:"audit_path"`
}

// PlannerConfig 描述规划器后端的调用方式。
type PlannerConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
	// HistoryUser/HistoryAssistant 控制送入规划器的近期消息条数，
	// TruncateChars 控制单条消息的长度上限。
	HistoryUser      int `json:"history_user"`
	HistoryAssistant int `json:"history_assistant"`
	TruncateChars    int `json:"truncate_chars"`
}

// OpenAIConfig 描述 OpenAI 兼容端点的连接信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// CatalogConfig 指定能力目录文件的位置。
type CatalogConfig struct {
	Path string `json:"path"`
}

// HistoryConfig 描述调用历史的持久化后端。
type HistoryConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// BridgeConfig 描述前端回复桥的后端。driver 为 memory 时回复
// 只能通过进程内 API 投递。
type BridgeConfig struct {
	Driver   string `json:"driver"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// ChainConfig 包含访问区块链节点所需的 RPC 地址。
type ChainConfig struct {
	Name   string `json:"name"`
	RPCURL string `json:"rpc_url"`
}

// AlertingConfig 描述告警队列的连接信息。为空时只写审计日志。
type AlertingConfig struct {
	AMQPURL string `json:"amqp_url"`
	Queue   string `json:"queue"`
}

// OrchestratorConfig 控制执行器的重试与预算参数。
type OrchestratorConfig struct {
	MaxAttempts           int `json:"max_attempts"`
	FallbackAttempts      int `json:"fallback_attempts"`
	FollowUpBudget        int `json:"follow_up_budget"`
	PromptTimeoutSeconds  int `json:"prompt_timeout_seconds"`
	ConfirmTimeoutSeconds int `json:"confirm_timeout_seconds"`
	ResolveRounds         int `json:"resolve_rounds"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if len(c.Logger.Outputs) == 0 {
		c.Logger.Outputs = []string{"stdout"}
	}
	if c.Logger.AuditEnabled && c.Logger.AuditPath == "" {
		c.Logger.AuditPath = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.Planner.Provider == "" {
		c.Planner.Provider = "openai"
	}
	if c.Planner.HistoryUser <= 0 {
		c.Planner.HistoryUser = 6
	}
	if c.Planner.HistoryAssistant <= 0 {
		c.Planner.HistoryAssistant = 6
	}
	if c.Planner.TruncateChars <= 0 {
		c.Planner.TruncateChars = 2000
	}

	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(baseDir, "catalog.yaml")
	} else if !filepath.IsAbs(c.Catalog.Path) {
		c.Catalog.Path = filepath.Join(baseDir, c.Catalog.Path)
	}

	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}
	if c.Bridge.Driver == "" {
		c.Bridge.Driver = "memory"
	}

	if c.Orchestrator.MaxAttempts <= 0 {
		c.Orchestrator.MaxAttempts = 3
	}
	if c.Orchestrator.FallbackAttempts <= 0 {
		c.Orchestrator.FallbackAttempts = 2
	}
	if c.Orchestrator.FollowUpBudget <= 0 {
		c.Orchestrator.FollowUpBudget = 4
	}
	if c.Orchestrator.PromptTimeoutSeconds <= 0 {
		c.Orchestrator.PromptTimeoutSeconds = 30
	}
	if c.Orchestrator.ConfirmTimeoutSeconds <= 0 {
		c.Orchestrator.ConfirmTimeoutSeconds = 60
	}
	if c.Orchestrator.ResolveRounds <= 0 {
		c.Orchestrator.ResolveRounds = 3
	}
}
