package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// VectorStoreConfig selects and parameterizes the vector backend.
type VectorStoreConfig struct {
	Backend    string `yaml:"backend"` // json | qdrant | postgres | redis
	Dimensions int    `yaml:"dimensions"`
	Collection string `yaml:"collection"`
	DataPath   string `yaml:"data_path"` // json backend file location
	QdrantDSN  string `yaml:"qdrant_dsn"`
	PGConnStr  string `yaml:"pg_conn_str"`
	RedisAddr  string `yaml:"redis_addr"`
}

// MemoryConfig selects the memory backend and retention bounds.
type MemoryConfig struct {
	Backend  string `yaml:"backend"` // memory | postgres | redis
	MaxTurns int    `yaml:"max_turns"`
	TTLHours int    `yaml:"ttl_hours"`
}

// LLMConfig holds provider coordinates for chat and embeddings.
type LLMConfig struct {
	Provider        string `yaml:"provider"` // openai | anthropic | demo
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	ChatDeployment  string `yaml:"chat_deployment"`
	EmbedDeployment string `yaml:"embed_deployment"`
	AnthropicKey    string `yaml:"anthropic_key"`
}

// ModerationConfig holds content-safety coordinates and the flag threshold.
type ModerationConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Threshold string `yaml:"threshold"` // Low | Medium | High
}

// Config is the root configuration for the service.
type Config struct {
	Host                  string            `yaml:"host"`
	Port                  int               `yaml:"port"`
	LogLevel              string            `yaml:"log_level"`
	LogPath               string            `yaml:"log_path"`
	DemoMode              bool              `yaml:"demo_mode"`
	FixturesPath          string            `yaml:"fixtures_path"`
	TracePath             string            `yaml:"trace_path"`
	VectorStore           VectorStoreConfig `yaml:"vector_store"`
	Memory                MemoryConfig      `yaml:"memory"`
	LLM                   LLMConfig         `yaml:"llm"`
	Moderation            ModerationConfig  `yaml:"moderation"`
	RedactionEnabled      bool              `yaml:"redaction_enabled"`
	MaxTokensPerRequest   int               `yaml:"max_tokens_per_request"`
	VectorSearchTopK      int               `yaml:"vector_search_top_k"`
	AuditRetentionDays    int               `yaml:"audit_log_retention_days"`
	MaxConcurrentRequests int               `yaml:"max_concurrent_requests"`
	RequestTimeoutSeconds int               `yaml:"request_timeout_seconds"`
	StageTimeoutSeconds   int               `yaml:"stage_timeout_seconds"`
}

// Default returns a config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Host:     "0.0.0.0",
		Port:     8080,
		LogLevel: "info",
		VectorStore: VectorStoreConfig{
			Backend:    "json",
			Dimensions: 1536,
			Collection: "ohs_chunks",
			DataPath:   "./data/vectors.json",
		},
		Memory: MemoryConfig{
			Backend:  "memory",
			MaxTurns: 10,
			TTLHours: 24,
		},
		LLM:                   LLMConfig{Provider: "openai"},
		Moderation:            ModerationConfig{Threshold: "Medium"},
		RedactionEnabled:      true,
		MaxTokensPerRequest:   4096,
		VectorSearchTopK:      10,
		AuditRetentionDays:    90,
		MaxConcurrentRequests: 10,
		RequestTimeoutSeconds: 60,
		StageTimeoutSeconds:   30,
		FixturesPath:          "./data/fixtures",
		TracePath:             "./data/traces",
	}
}

// Load reads the optional YAML file, then applies environment overrides on
// top. A missing file is not an error; malformed YAML is.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	boolFromEnv("DEMO_MODE", &c.DemoMode)
	strFromEnv("VECTOR_STORE", &c.VectorStore.Backend)
	strFromEnv("QDRANT_ENDPOINT", &c.VectorStore.QdrantDSN)
	strFromEnv("PG_CONN_STR", &c.VectorStore.PGConnStr)
	strFromEnv("REDIS_ADDR", &c.VectorStore.RedisAddr)
	strFromEnv("MEMORY_BACKEND", &c.Memory.Backend)
	intFromEnv("CONVERSATION_MAX_TURNS", &c.Memory.MaxTurns)
	intFromEnv("MEMORY_TTL_HOURS", &c.Memory.TTLHours)
	strFromEnv("AOAI_ENDPOINT", &c.LLM.Endpoint)
	strFromEnv("AOAI_API_KEY", &c.LLM.APIKey)
	strFromEnv("AOAI_CHAT_DEPLOYMENT", &c.LLM.ChatDeployment)
	strFromEnv("AOAI_EMB_DEPLOYMENT", &c.LLM.EmbedDeployment)
	strFromEnv("ANTHROPIC_API_KEY", &c.LLM.AnthropicKey)
	strFromEnv("LLM_PROVIDER", &c.LLM.Provider)
	strFromEnv("CONTENT_SAFETY_ENDPOINT", &c.Moderation.Endpoint)
	strFromEnv("CONTENT_SAFETY_KEY", &c.Moderation.APIKey)
	strFromEnv("CONTENT_SAFETY_THRESHOLD", &c.Moderation.Threshold)
	boolFromEnv("REDACTION_ENABLED", &c.RedactionEnabled)
	intFromEnv("MAX_TOKENS_PER_REQUEST", &c.MaxTokensPerRequest)
	intFromEnv("VECTOR_SEARCH_TOP_K", &c.VectorSearchTopK)
	intFromEnv("AUDIT_LOG_RETENTION_DAYS", &c.AuditRetentionDays)
	intFromEnv("MAX_CONCURRENT_REQUESTS", &c.MaxConcurrentRequests)
	strFromEnv("FIXTURES_PATH", &c.FixturesPath)
	strFromEnv("TRACE_PATH", &c.TracePath)
	strFromEnv("LOG_LEVEL", &c.LogLevel)
	strFromEnv("LOG_PATH", &c.LogPath)
	strFromEnv("HOST", &c.Host)
	intFromEnv("PORT", &c.Port)
	if c.DemoMode {
		c.LLM.Provider = "demo"
	}
}

func (c *Config) validate() error {
	switch c.VectorStore.Backend {
	case "json", "qdrant", "postgres", "redis":
	default:
		return fmt.Errorf("unsupported vector store backend: %s", c.VectorStore.Backend)
	}
	switch c.Memory.Backend {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("unsupported memory backend: %s", c.Memory.Backend)
	}
	switch strings.ToLower(c.Moderation.Threshold) {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("unsupported moderation threshold: %s", c.Moderation.Threshold)
	}
	if c.VectorStore.Dimensions <= 0 {
		return fmt.Errorf("vector dimensions must be positive, got %d", c.VectorStore.Dimensions)
	}
	if c.MaxTokensPerRequest <= 0 {
		return fmt.Errorf("max tokens per request must be positive, got %d", c.MaxTokensPerRequest)
	}
	return nil
}

func strFromEnv(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func intFromEnv(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func boolFromEnv(key string, dst *bool) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
