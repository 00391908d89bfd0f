package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 Aura 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Tools    ToolsConfig    `json:"tools"`
	Policy   PolicyConfig   `json:"policy"`
	Approval ApprovalConfig `json:"approval"`
	LLM      LLMConfig      `json:"llm"`
	Memory   MemoryConfig   `json:"memory"`
	Outbound OutboundConfig `json:"outbound"`
	Agent    AgentConfig    `json:"agent"`
	Alerts   AlertsConfig   `json:"alerts"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与访问令牌。
// MetricsAddress 为空时不启动指标端口。
type ServerConfig struct {
	Address        string `json:"address"`
	OwnerToken     string `json:"owner_token"`
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 控制进程日志的级别与输出格式。
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// AlertsConfig 配置安全告警的外部回调，允许为空。
type AlertsConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// ToolsConfig 指定工具目录文件的位置。
type ToolsConfig struct {
	CatalogPath string `json:"catalog_path"`
}

// PolicyConfig 指定策略规则文件的位置，允许为空。
type PolicyConfig struct {
	RulesPath string `json:"rules_path"`
}

// ApprovalConfig 控制审批等待行为。
type ApprovalConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider           string       `json:"provider"`
	OpenAI             OpenAIConfig `json:"openai"`
	Ollama             OllamaConfig `json:"ollama"`
	CallTimeoutSeconds int          `json:"call_timeout_seconds"`
	MaxRetries         int          `json:"max_retries"`
	BackoffMillis      int          `json:"backoff_millis"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用信息。
type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// OllamaConfig 描述本地 Ollama 服务的调用信息。
type OllamaConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// MemoryConfig 统一描述长期事实库与短期工作上下文的后端。
type MemoryConfig struct {
	Facts   FactStoreConfig      `json:"facts"`
	Working WorkingContextConfig `json:"working"`
}

// FactStoreConfig 选择事实库后端：file 或 mysql。
type FactStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// WorkingContextConfig 选择工作上下文后端：memory 或 redis。
type WorkingContextConfig struct {
	Driver     string `json:"driver"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// OutboundConfig 选择出站通道后端：memory 或 rabbitmq。
type OutboundConfig struct {
	Driver        string `json:"driver"`
	URL           string `json:"url"`
	MessageQueue  string `json:"message_queue"`
	ApprovalQueue string `json:"approval_queue"`
}

// AgentConfig 控制编排器的回合行为。
type AgentConfig struct {
	MaxToolRounds      int `json:"max_tool_rounds"`
	MemoryDepth        int `json:"memory_depth"`
	SessionIdleMinutes int `json:"session_idle_minutes"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
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

// ApprovalTimeout 返回审批超时时间。
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.Approval.TimeoutSeconds) * time.Second
}

// LLMCallTimeout 返回单次推理调用超时时间。
func (c *Config) LLMCallTimeout() time.Duration {
	return time.Duration(c.LLM.CallTimeoutSeconds) * time.Second
}

// LLMBackoff 返回重试退避的基准间隔。
func (c *Config) LLMBackoff() time.Duration {
	return time.Duration(c.LLM.BackoffMillis) * time.Millisecond
}

// WorkingTTL 返回工作上下文的默认过期时间。
func (c *Config) WorkingTTL() time.Duration {
	return time.Duration(c.Memory.Working.TTLSeconds) * time.Second
}

// SessionIdleTTL 返回会话空闲回收时间。
func (c *Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.Agent.SessionIdleMinutes) * time.Minute
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Tools.CatalogPath == "" {
		c.Tools.CatalogPath = filepath.Join(baseDir, "tools.yaml")
	} else if !filepath.IsAbs(c.Tools.CatalogPath) {
		c.Tools.CatalogPath = filepath.Join(baseDir, c.Tools.CatalogPath)
	}

	if c.Policy.RulesPath != "" && !filepath.IsAbs(c.Policy.RulesPath) {
		c.Policy.RulesPath = filepath.Join(baseDir, c.Policy.RulesPath)
	}

	if c.Approval.TimeoutSeconds <= 0 {
		c.Approval.TimeoutSeconds = 120
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.LLM.CallTimeoutSeconds <= 0 {
		c.LLM.CallTimeoutSeconds = 60
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}
	if c.LLM.BackoffMillis <= 0 {
		c.LLM.BackoffMillis = 500
	}

	if c.Memory.Facts.Driver == "" {
		c.Memory.Facts.Driver = "file"
	}
	if c.Memory.Working.Driver == "" {
		c.Memory.Working.Driver = "memory"
	}
	if c.Memory.Working.TTLSeconds <= 0 {
		c.Memory.Working.TTLSeconds = 300
	}

	if c.Outbound.Driver == "" {
		c.Outbound.Driver = "memory"
	}

	if c.Agent.MaxToolRounds <= 0 {
		c.Agent.MaxToolRounds = 5
	}
	if c.Agent.MemoryDepth <= 0 {
		c.Agent.MemoryDepth = 10
	}
	if c.Agent.SessionIdleMinutes <= 0 {
		c.Agent.SessionIdleMinutes = 30
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
