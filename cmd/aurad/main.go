package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"Aura-Agent/internal/agent"
	"Aura-Agent/internal/api"
	"Aura-Agent/internal/approval"
	"Aura-Agent/internal/auth"
	"Aura-Agent/internal/bridge"
	"Aura-Agent/internal/config"
	"Aura-Agent/internal/llm"
	"Aura-Agent/internal/llm/ollama"
	"Aura-Agent/internal/llm/openai"
	"Aura-Agent/internal/memory"
	"Aura-Agent/internal/observability/alerting"
	"Aura-Agent/internal/observability/metrics"
	"Aura-Agent/internal/policy"
	"Aura-Agent/internal/session"
	"Aura-Agent/internal/tool"
	"Aura-Agent/internal/transport"
	"Aura-Agent/pkg/logger"
)

// main 是 Aura 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("aurad 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AURA_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "aura.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Audit: logger.AuditConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "audit.log"),
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	registry, err := tool.LoadCatalog(cfg.Tools.CatalogPath)
	if err != nil {
		return err
	}

	rules, err := policy.LoadRules(cfg.Policy.RulesPath)
	if err != nil {
		return err
	}
	policyEngine, err := policy.NewEngine(registry, rules)
	if err != nil {
		return err
	}

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}
	serialized := llm.NewSerializer(llmClient, llm.SerializerConfig{
		CallTimeout: cfg.LLMCallTimeout(),
		MaxRetries:  cfg.LLM.MaxRetries,
		BackoffBase: cfg.LLMBackoff(),
	})

	factStore, err := createFactStore(ctx, cfg, dataDir)
	if err != nil {
		return err
	}
	defer factStore.Close()

	working, err := createWorkingContext(cfg)
	if err != nil {
		return err
	}
	defer working.Close()

	outbound, err := createOutbound(cfg)
	if err != nil {
		return err
	}
	defer outbound.Close()

	approvals := approval.NewManager(outbound, cfg.ApprovalTimeout())

	deviceBridge := bridge.New(registry)
	bridge.RegisterSimulated(deviceBridge)

	sessions := session.NewManager(cfg.SessionIdleTTL())
	go sessions.Run(ctx, time.Minute)

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerts.WebhookURL})
	}
	alerts := alerting.NewFanout(notifiers...)

	orchestrator := agent.New(
		serialized,
		registry,
		policyEngine,
		approvals,
		deviceBridge,
		sessions,
		outbound,
		agent.WithFactStore(factStore),
		agent.WithWorkingContext(working),
		agent.WithMaxToolRounds(cfg.Agent.MaxToolRounds),
		agent.WithMemoryDepth(cfg.Agent.MemoryDepth),
		agent.WithAlerts(alerts),
	)

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Warn("指标服务异常退出", "error", err.Error())
			}
		}()
	}

	authService := auth.NewService(cfg.Server.OwnerToken)
	server := api.NewServer(cfg.Server.Address, orchestrator, approvals, factStore, authService)

	logger.L().Info("aurad 已启动",
		"address", cfg.Server.Address,
		"llm_provider", cfg.LLM.Provider,
		"tools", registry.Len(),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "ollama":
		return ollama.NewClient(ollama.Config{
			BaseURL: cfg.LLM.Ollama.BaseURL,
			Model:   cfg.LLM.Ollama.Model,
			Timeout: cfg.LLMCallTimeout(),
		})
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("AURA_OPENAI_API_KEY"))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 AURA_OPENAI_API_KEY")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLMCallTimeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createFactStore(ctx context.Context, cfg *config.Config, dataDir string) (memory.FactStore, error) {
	switch cfg.Memory.Facts.Driver {
	case "", "file":
		return memory.NewFileFactStore(dataDir)
	case "mysql":
		return memory.NewMySQLFactStore(ctx, memory.MySQLConfig{DSN: cfg.Memory.Facts.DSN})
	default:
		return nil, fmt.Errorf("未知的事实库驱动: %s", cfg.Memory.Facts.Driver)
	}
}

func createWorkingContext(cfg *config.Config) (memory.WorkingContext, error) {
	switch cfg.Memory.Working.Driver {
	case "", "memory":
		return memory.NewInProcessContext(cfg.WorkingTTL()), nil
	case "redis":
		return memory.NewRedisContext(memory.RedisContextConfig{
			Address:    cfg.Memory.Working.Address,
			Password:   cfg.Memory.Working.Password,
			DB:         cfg.Memory.Working.DB,
			DefaultTTL: cfg.WorkingTTL(),
		})
	default:
		return nil, fmt.Errorf("未知的工作上下文驱动: %s", cfg.Memory.Working.Driver)
	}
}

func createOutbound(cfg *config.Config) (transport.Outbound, error) {
	switch cfg.Outbound.Driver {
	case "", "memory":
		return transport.NewMemoryOutbound(0), nil
	case "rabbitmq":
		return transport.NewRabbitMQOutbound(transport.RabbitMQConfig{
			URL:           cfg.Outbound.URL,
			MessageQueue:  cfg.Outbound.MessageQueue,
			ApprovalQueue: cfg.Outbound.ApprovalQueue,
			Durable:       true,
		})
	default:
		return nil, fmt.Errorf("未知的出站通道驱动: %s", cfg.Outbound.Driver)
	}
}
