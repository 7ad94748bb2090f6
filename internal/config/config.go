package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Chat     ChatConfig     `yaml:"chat"`
	Agent    AgentConfig    `yaml:"agent"`
	AI       AIConfig       `yaml:"-"`
}

// Load 从环境变量加载配置，CONFIG_FILE 指向的 YAML 文件作为底稿。
func Load() (*Config, error) {
	return LoadFile(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
}

// LoadFile reads the optional YAML file at path and then applies environment
// overrides. Environment values always win over the file.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	server, err := loadServerConfig(cfg.Server)
	if err != nil {
		return nil, err
	}

	database, err := loadDatabaseConfig(cfg.Database)
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}

	agent, err := loadAgentConfig(cfg.Agent)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Database: database,
		Storage:  storage,
		Chat:     loadChatConfig(cfg.Chat),
		Agent:    agent,
		AI:       ai,
	}, nil
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{MaxConnections: 10, ConnectTimeout: 5 * time.Second},
		Storage:  StorageConfig{LocalPath: "uploads", RemoteEnabled: true},
		Chat:     ChatConfig{ConversationsPath: "data/conversations.json", DefaultOwner: "local-user"},
		Agent:    AgentConfig{Provider: "ark", Timeout: 5 * time.Minute},
	}
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(base ServerConfig) (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		return base, nil
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// DatabaseConfig describes the optional remote Postgres backend. An empty URL
// means the process runs in local mode.
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConnections int32         `yaml:"max_connections"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Enabled 表示是否配置了远端数据库。
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

func loadDatabaseConfig(base DatabaseConfig) (DatabaseConfig, error) {
	cfg := base
	cfg.URL = getEnvOrDefault("DATABASE_URL", base.URL)

	maxConns, err := parseOptionalIntEnv("DB_MAX_CONNECTIONS")
	if err != nil {
		return DatabaseConfig{}, err
	}
	if maxConns != nil {
		if *maxConns < 1 {
			return DatabaseConfig{}, fmt.Errorf("invalid DB_MAX_CONNECTIONS value %d", *maxConns)
		}
		cfg.MaxConnections = int32(*maxConns)
	}

	timeout, err := parseOptionalDurationEnv("DB_CONNECT_TIMEOUT")
	if err != nil {
		return DatabaseConfig{}, err
	}
	if timeout != nil {
		cfg.ConnectTimeout = *timeout
	}

	return cfg, nil
}

// StorageConfig 描述附件存储配置。
type StorageConfig struct {
	LocalPath     string `yaml:"local_path"`
	RemoteEnabled bool   `yaml:"remote_enabled"`
}

func loadStorageConfig(base StorageConfig) (StorageConfig, error) {
	remote, err := parseBoolEnv("STORAGE_REMOTE_ENABLED", base.RemoteEnabled)
	if err != nil {
		return StorageConfig{}, err
	}

	return StorageConfig{
		LocalPath:     getEnvOrDefault("STORAGE_PATH", base.LocalPath),
		RemoteEnabled: remote,
	}, nil
}

// ChatConfig 描述会话存储配置。
type ChatConfig struct {
	ConversationsPath string `yaml:"conversations_path"`
	// DefaultOwner is the user id conversations are mirrored under in the
	// remote record store.
	DefaultOwner string `yaml:"default_owner"`
}

func loadChatConfig(base ChatConfig) ChatConfig {
	return ChatConfig{
		ConversationsPath: getEnvOrDefault("CONVERSATIONS_PATH", base.ConversationsPath),
		DefaultOwner:      getEnvOrDefault("DEFAULT_OWNER", base.DefaultOwner),
	}
}

// AgentConfig selects the agent collaborator used for chat turns.
type AgentConfig struct {
	Provider        string        `yaml:"provider"`
	Timeout         time.Duration `yaml:"timeout"`
	AnthropicAPIKey string        `yaml:"-"`
	AnthropicModel  string        `yaml:"anthropic_model"`
	MaxTokens       int           `yaml:"max_tokens"`
}

func loadAgentConfig(base AgentConfig) (AgentConfig, error) {
	cfg := base
	cfg.Provider = strings.ToLower(getEnvOrDefault("AGENT_PROVIDER", base.Provider))
	switch cfg.Provider {
	case "ark", "anthropic", "echo":
	default:
		return AgentConfig{}, fmt.Errorf("invalid AGENT_PROVIDER value %q", cfg.Provider)
	}

	timeout, err := parseOptionalDurationEnv("AGENT_TIMEOUT")
	if err != nil {
		return AgentConfig{}, err
	}
	if timeout != nil {
		cfg.Timeout = *timeout
	}

	maxTokens, err := parseOptionalIntEnv("ANTHROPIC_MAX_TOKENS")
	if err != nil {
		return AgentConfig{}, err
	}
	if maxTokens != nil {
		cfg.MaxTokens = *maxTokens
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	cfg.AnthropicAPIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.AnthropicModel = getEnvOrDefault("ANTHROPIC_MODEL", base.AnthropicModel)
	return cfg, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
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

// parseOptionalDurationEnv 接受 "30s" 形式的时长，纯数字按秒处理。
func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		d := time.Duration(seconds) * time.Second
		return &d, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &d, nil
}
