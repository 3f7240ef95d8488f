package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Provider names accepted in LLM_PROVIDER.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

const (
	defaultGroqBaseURL = "https://api.groq.com/openai/v1"
	defaultGroqModel   = "llama-3.1-8b-instant"
	defaultArkBaseURL  = "https://ark.cn-beijing.volces.com/api/v3"
	defaultTimeout     = 45 * time.Second
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Store  StoreConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
// 模型密钥在此不做强制校验，启动服务前需调用 AIConfig.Validate。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Store: store, Log: logCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8001"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8001" 或 "127.0.0.1:8001"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string
	APIKey       string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	MaxTokens    *int
	Timeout      time.Duration
	HistoryLimit int
}

// Validate fails when the provider cannot be called, most commonly because
// its API key is missing.
func (c AIConfig) Validate() error {
	switch c.Provider {
	case ProviderGroq, ProviderOpenAI, ProviderArk:
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%s API key missing: set %s", c.Provider, apiKeyEnv(c.Provider))
	}
	if c.Model == "" {
		return fmt.Errorf("LLM_MODEL is required for provider %s", c.Provider)
	}
	return nil
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	timeout := c.Timeout
	retries := 0
	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Timeout:     &timeout,
		RetryTimes:  &retries,
	}

	return ark.NewChatModel(ctx, cfg)
}

func apiKeyEnv(provider string) string {
	switch provider {
	case ProviderArk:
		return "ARK_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return "GROQ_API_KEY"
	}
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderGroq))

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		val := 0.2
		temperature = &val
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("LLM_TIMEOUT", defaultTimeout)
	if err != nil {
		return AIConfig{}, err
	}
	if timeout <= 0 {
		return AIConfig{}, fmt.Errorf("invalid LLM_TIMEOUT value %q: must be positive", os.Getenv("LLM_TIMEOUT"))
	}

	historyLimit := 10
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return AIConfig{}, fmt.Errorf("invalid CHAT_HISTORY_LIMIT value %d: must not be negative", *override)
		}
		historyLimit = *override
	}

	cfg := AIConfig{
		Provider:     provider,
		APIKey:       strings.TrimSpace(os.Getenv(apiKeyEnv(provider))),
		Model:        strings.TrimSpace(os.Getenv("LLM_MODEL")),
		BaseURL:      strings.TrimSpace(os.Getenv("LLM_BASE_URL")),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		Timeout:      timeout,
		HistoryLimit: historyLimit,
	}

	switch provider {
	case ProviderGroq:
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultGroqBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = defaultGroqModel
		}
	case ProviderArk:
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultArkBaseURL
		}
	}

	return cfg, nil
}

// Store backends accepted in CHAT_STORE_BACKEND.
const (
	StoreJSON = "json"
	StoreBolt = "bolt"
)

// StoreConfig 描述会话持久化配置。
type StoreConfig struct {
	Backend string
	Path    string
}

func loadStoreConfig() (StoreConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("CHAT_STORE_BACKEND", StoreJSON))

	var defaultPath string
	switch backend {
	case StoreJSON:
		defaultPath = "chats.json"
	case StoreBolt:
		defaultPath = "chats.bolt"
	default:
		return StoreConfig{}, fmt.Errorf("invalid CHAT_STORE_BACKEND value %q: want %s or %s", backend, StoreJSON, StoreBolt)
	}

	return StoreConfig{
		Backend: backend,
		Path:    getEnvOrDefault("CHAT_STORE_PATH", defaultPath),
	}, nil
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level slog.Level
	File  string
}

func loadLogConfig() (LogConfig, error) {
	var level slog.Level
	raw := getEnvOrDefault("LOG_LEVEL", "info")
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
	}

	return LogConfig{
		Level: level,
		File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
