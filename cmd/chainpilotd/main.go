package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ChainPilot/internal/api"
	"ChainPilot/internal/capability"
	"ChainPilot/internal/chain"
	"ChainPilot/internal/config"
	"ChainPilot/internal/graph"
	"ChainPilot/internal/history"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/internal/orchestrator"
	"ChainPilot/internal/planner"
	"ChainPilot/internal/planner/openai"
	"ChainPilot/internal/session"
	"ChainPilot/pkg/logger"
)

// main 是 ChainPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("chainpilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CHAINPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chainpilot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:   cfg.Logger.Level,
		Format:  cfg.Logger.Format,
		Outputs: cfg.Logger.Outputs,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logger.AuditEnabled,
			Path:    cfg.Logger.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Close()

	// 能力目录与注册表。
	catalog, err := capability.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	registry := capability.NewRegistry()

	handlers := map[string]capability.Handler{}
	if cfg.Chain.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, chain.Config{
			Name:   cfg.Chain.Name,
			RPCURL: cfg.Chain.RPCURL,
		})
		if err != nil {
			return err
		}
		defer chainClient.Close()
		for name, handler := range chain.Handlers(chainClient) {
			handlers[name] = handler
		}
	}
	if err := catalog.Bind(registry, handlers); err != nil {
		return err
	}

	// 会话层：未决提示注册表加前端回复桥。
	sessions := session.NewManager()
	switch cfg.Bridge.Driver {
	case "", "memory":
	case "redis":
		bridge, err := session.NewRedisBridge(session.RedisBridgeConfig{
			Address:  cfg.Bridge.Address,
			Password: cfg.Bridge.Password,
			DB:       cfg.Bridge.DB,
			Queue:    cfg.Bridge.Queue,
		}, sessions.Pending())
		if err != nil {
			return err
		}
		defer bridge.Close()
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.L().Error("Redis 回复桥退出", slog.String("error", err.Error()))
			}
		}()
	default:
		logger.L().Warn("未知的回复桥 driver，回退为 memory", slog.String("driver", cfg.Bridge.Driver))
	}
	var outbox session.Outbox = session.LogOutbox{}

	// 规划器。
	plannerClient, err := openai.NewClient(openai.Config{
		APIKey:  cfg.Planner.OpenAI.APIKey,
		BaseURL: cfg.Planner.OpenAI.BaseURL,
		Model:   cfg.Planner.OpenAI.Model,
		Timeout: time.Duration(cfg.Planner.OpenAI.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	window := planner.NewWindow(cfg.Planner.HistoryUser, cfg.Planner.HistoryAssistant, cfg.Planner.TruncateChars)
	gateway := planner.NewGateway(plannerClient, window, registry)

	// 历史存储。
	var store history.Store
	switch cfg.History.Driver {
	case "", "memory":
		store = history.NewMemoryStore()
	case "mysql":
		store, err = history.NewMySQLStore(ctx, cfg.History.DSN)
		if err != nil {
			return err
		}
	default:
		logger.L().Warn("未知的历史存储 driver，回退为 memory", slog.String("driver", cfg.History.Driver))
		store = history.NewMemoryStore()
	}
	defer store.Close()

	// 告警。
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.AMQPURL != "" {
		amqpNotifier, err := alerting.NewAMQPNotifier(alerting.AMQPConfig{
			URL:     cfg.Alerting.AMQPURL,
			Queue:   cfg.Alerting.Queue,
			Durable: true,
		})
		if err != nil {
			return err
		}
		defer amqpNotifier.Close()
		notifiers = append(notifiers, amqpNotifier)
	}
	dispatcher := alerting.NewDispatcher(notifiers...)

	// 图执行流水线。
	promptTimeout := time.Duration(cfg.Orchestrator.PromptTimeoutSeconds) * time.Second
	confirmTimeout := time.Duration(cfg.Orchestrator.ConfirmTimeoutSeconds) * time.Second
	resolver := graph.NewResolver(sessions.Pending(), outbox, promptTimeout, cfg.Orchestrator.ResolveRounds)
	confirmer := graph.NewConfirmer(sessions.Pending(), outbox, confirmTimeout)
	builder := graph.NewBuilder(registry, catalog)
	executor := graph.NewExecutor(registry, catalog, resolver, confirmer, gateway, builder,
		graph.WithMaxAttempts(cfg.Orchestrator.MaxAttempts),
		graph.WithFallbackAttempts(cfg.Orchestrator.FallbackAttempts),
		graph.WithFollowUpBudget(cfg.Orchestrator.FollowUpBudget),
		graph.WithFailureNotifier(dispatcher),
	)
	summarizer := graph.NewSummarizer(0, 0)

	core := orchestrator.New(sessions, gateway, builder, executor, summarizer, store)

	logger.L().Info("chainpilotd 启动",
		slog.String("address", cfg.Server.Address),
		slog.Int("capabilities", registry.Count()),
	)
	return api.NewServer(cfg.Server.Address, core, store).Start(ctx)
}
