package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DefaultModel       = "claude-sonnet-4-5-20250929"
	DefaultBrand       = "fashionhub"
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 18790
	DefaultBufSize     = 100
	DefaultMetricsPath = "/metrics"
	DefaultLogLevel    = "info"

	DefaultMaxHistory  = 20
	DefaultMaxTokens   = 4000
	DefaultIdleTimeout = "30m"

	DefaultComposerRetries     = 2
	DefaultComposerBackoffMs   = 1000
	DefaultComposerTimeoutMs   = 20000
	DefaultComposerMaxTokens   = 500
	DefaultComposerTemperature = 0.7

	DefaultResolverTemperature = 0.3
	DefaultResolverMaxTokens   = 150
	DefaultResolverTimeoutMs   = 8000
	DefaultContinueThreshold   = 0.7

	DefaultToolRetries      = 1
	DefaultToolRetryDelayMs = 250
	DefaultToolTimeoutMs    = 5000

	DefaultHandoffPrefix = "cx:handoff"
)

type Config struct {
	Agent        AgentConfig        `json:"agent"`
	Provider     ProviderConfig     `json:"provider"`
	Conversation ConversationConfig `json:"conversation"`
	Composer     ComposerConfig     `json:"composer"`
	Resolver     ResolverConfig     `json:"resolver"`
	Tools        ToolsConfig        `json:"tools"`
	Store        StoreConfig        `json:"store"`
	Handoff      HandoffConfig      `json:"handoff"`
	Channels     ChannelsConfig     `json:"channels"`
	Gateway      GatewayConfig      `json:"gateway"`
	Log          LogConfig          `json:"log"`
}

type AgentConfig struct {
	Model        string `json:"model"`
	DefaultBrand string `json:"defaultBrand"`
	BrandsDir    string `json:"brandsDir"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ConversationConfig struct {
	MaxHistory  int    `json:"maxHistory"`
	MaxTokens   int    `json:"maxTokens"`
	IdleTimeout string `json:"idleTimeout"`
}

type ComposerConfig struct {
	MaxRetries       int     `json:"maxRetries"`
	InitialBackoffMs int     `json:"initialBackoffMs"`
	TimeoutMs        int     `json:"timeoutMs"`
	MaxTokens        int     `json:"maxTokens"`
	Temperature      float64 `json:"temperature"`
}

type ResolverConfig struct {
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"maxTokens"`
	TimeoutMs         int     `json:"timeoutMs"`
	ContinueThreshold float64 `json:"continueThreshold"`
}

type ToolsConfig struct {
	MaxRetries   int `json:"maxRetries"`
	RetryDelayMs int `json:"retryDelayMs"`
	TimeoutMs    int `json:"timeoutMs"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type HandoffConfig struct {
	Enabled   bool   `json:"enabled"`
	RedisAddr string `json:"redisAddr"`
	RedisDB   int    `json:"redisDb"`
	KeyPrefix string `json:"keyPrefix"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	Brand     string   `json:"brand,omitempty"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type GatewayConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	MetricsPath string `json:"metricsPath"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

func DefaultConfig() *Config {
	dir := ConfigDir()
	return &Config{
		Agent: AgentConfig{
			Model:        DefaultModel,
			DefaultBrand: DefaultBrand,
			BrandsDir:    filepath.Join(dir, "brands"),
		},
		Conversation: ConversationConfig{
			MaxHistory:  DefaultMaxHistory,
			MaxTokens:   DefaultMaxTokens,
			IdleTimeout: DefaultIdleTimeout,
		},
		Composer: ComposerConfig{
			MaxRetries:       DefaultComposerRetries,
			InitialBackoffMs: DefaultComposerBackoffMs,
			TimeoutMs:        DefaultComposerTimeoutMs,
			MaxTokens:        DefaultComposerMaxTokens,
			Temperature:      DefaultComposerTemperature,
		},
		Resolver: ResolverConfig{
			Temperature:       DefaultResolverTemperature,
			MaxTokens:         DefaultResolverMaxTokens,
			TimeoutMs:         DefaultResolverTimeoutMs,
			ContinueThreshold: DefaultContinueThreshold,
		},
		Tools: ToolsConfig{
			MaxRetries:   DefaultToolRetries,
			RetryDelayMs: DefaultToolRetryDelayMs,
			TimeoutMs:    DefaultToolTimeoutMs,
		},
		Store: StoreConfig{
			DBPath: filepath.Join(dir, "data", "cxagent.db"),
		},
		Handoff: HandoffConfig{
			KeyPrefix: DefaultHandoffPrefix,
		},
		Gateway: GatewayConfig{
			Host:        DefaultHost,
			Port:        DefaultPort,
			MetricsPath: DefaultMetricsPath,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".cxagent")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("CXAGENT_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("CXAGENT_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if brand := os.Getenv("CXAGENT_BRAND"); brand != "" {
		cfg.Agent.DefaultBrand = brand
	}
	if dir := os.Getenv("CXAGENT_BRANDS_DIR"); dir != "" {
		cfg.Agent.BrandsDir = dir
	}
	if dbPath := os.Getenv("CXAGENT_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if addr := os.Getenv("CXAGENT_REDIS_ADDR"); addr != "" {
		cfg.Handoff.RedisAddr = addr
		cfg.Handoff.Enabled = true
	}
	if enabled := os.Getenv("CXAGENT_HANDOFF_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Handoff.Enabled = parsed
		}
	}
	if token := os.Getenv("CXAGENT_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if level := os.Getenv("CXAGENT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = def.Agent.Model
	}
	if cfg.Agent.DefaultBrand == "" {
		cfg.Agent.DefaultBrand = def.Agent.DefaultBrand
	}
	if cfg.Agent.BrandsDir == "" {
		cfg.Agent.BrandsDir = def.Agent.BrandsDir
	}
	if cfg.Conversation.MaxHistory <= 0 {
		cfg.Conversation.MaxHistory = DefaultMaxHistory
	}
	if cfg.Conversation.MaxTokens <= 0 {
		cfg.Conversation.MaxTokens = DefaultMaxTokens
	}
	if cfg.Conversation.IdleTimeout == "" {
		cfg.Conversation.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Composer.InitialBackoffMs <= 0 {
		cfg.Composer.InitialBackoffMs = DefaultComposerBackoffMs
	}
	if cfg.Composer.TimeoutMs <= 0 {
		cfg.Composer.TimeoutMs = DefaultComposerTimeoutMs
	}
	if cfg.Composer.MaxTokens <= 0 {
		cfg.Composer.MaxTokens = DefaultComposerMaxTokens
	}
	if cfg.Resolver.MaxTokens <= 0 {
		cfg.Resolver.MaxTokens = DefaultResolverMaxTokens
	}
	if cfg.Resolver.TimeoutMs <= 0 {
		cfg.Resolver.TimeoutMs = DefaultResolverTimeoutMs
	}
	if cfg.Resolver.ContinueThreshold <= 0 {
		cfg.Resolver.ContinueThreshold = DefaultContinueThreshold
	}
	if cfg.Tools.TimeoutMs <= 0 {
		cfg.Tools.TimeoutMs = DefaultToolTimeoutMs
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = def.Store.DBPath
	}
	if cfg.Handoff.KeyPrefix == "" {
		cfg.Handoff.KeyPrefix = DefaultHandoffPrefix
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = DefaultHost
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
	if cfg.Gateway.MetricsPath == "" {
		cfg.Gateway.MetricsPath = DefaultMetricsPath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

// Validate rejects values that would break conversation invariants at runtime.
func (c *Config) Validate() error {
	if c.Conversation.MaxHistory < 2 {
		return fmt.Errorf("conversation.maxHistory must be at least 2, got %d", c.Conversation.MaxHistory)
	}
	if c.Composer.MaxRetries < 0 {
		return fmt.Errorf("composer.maxRetries must not be negative")
	}
	if c.Tools.MaxRetries < 0 {
		return fmt.Errorf("tools.maxRetries must not be negative")
	}
	if c.Resolver.ContinueThreshold > 1 {
		return fmt.Errorf("resolver.continueThreshold must be within (0, 1], got %v", c.Resolver.ContinueThreshold)
	}
	if _, err := time.ParseDuration(c.Conversation.IdleTimeout); err != nil {
		return fmt.Errorf("conversation.idleTimeout: %w", err)
	}
	return nil
}

func (c *Config) IdleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Conversation.IdleTimeout)
	if err != nil {
		d, _ = time.ParseDuration(DefaultIdleTimeout)
	}
	return d
}

func (c *Config) ComposerBackoff() time.Duration { return Millis(c.Composer.InitialBackoffMs) }

func (c *Config) ComposerTimeout() time.Duration { return Millis(c.Composer.TimeoutMs) }

func (c *Config) ResolverTimeout() time.Duration { return Millis(c.Resolver.TimeoutMs) }

func (c *Config) ToolRetryDelay() time.Duration { return Millis(c.Tools.RetryDelayMs) }

func (c *Config) ToolTimeout() time.Duration { return Millis(c.Tools.TimeoutMs) }

func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
