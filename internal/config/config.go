// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.agent/config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can check with errors.Is().
// Sensitive values (API keys, the database password) are never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the completion provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidMaxRounds indicates the round bound is out of range.
	ErrInvalidMaxRounds = errors.New("invalid max rounds")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedding dimension does not
	// match the vector schema.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidRAGTopK indicates the retrieval top-k is out of range.
	ErrInvalidRAGTopK = errors.New("invalid rag top-k")

	// ErrInvalidRAGMinSimilarity indicates the similarity cutoff is out of range.
	ErrInvalidRAGMinSimilarity = errors.New("invalid rag min similarity")

	// ErrInvalidMCPServerURL indicates the tool server URL is invalid.
	ErrInvalidMCPServerURL = errors.New("invalid MCP server URL")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Completion provider identifiers used in Config.Provider.
const (
	ProviderGroq   = "groq"
	ProviderGoogle = "google"
)

// Default model names per provider.
const (
	DefaultGroqModel   = "llama-3.1-8b-instant"
	DefaultGoogleModel = "gemini-2.0-flash-exp"

	// DefaultEmbedderModel feeds the pgvector schema; its output is truncated
	// to EmbedderDimension. See the conversation_embeddings migration.
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultEmbedderDimension matches the vector(768) column.
	DefaultEmbedderDimension = 768
)

// Config stores application configuration.
type Config struct {
	// Completion provider and model
	Provider    string  `mapstructure:"provider"`
	ModelName   string  `mapstructure:"model_name"` // empty means provider default
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	// API keys. SENSITIVE: never log these.
	GroqAPIKey   string `mapstructure:"groq_api_key"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`

	// Orchestration
	SystemPrompt string `mapstructure:"system_prompt"`
	MaxRounds    int    `mapstructure:"max_rounds"`

	// Tool server
	MCPServerURL string `mapstructure:"mcp_server_url"`

	// HTTP server
	Addr string `mapstructure:"addr"`

	// Retrieval
	EmbedderModel     string  `mapstructure:"embedder_model"`
	EmbedderDimension int     `mapstructure:"embedder_dimension"`
	RAGTopK           int     `mapstructure:"rag_top_k"`
	RAGMinSimilarity  float64 `mapstructure:"rag_min_similarity"`

	// Storage (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".agent")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// Model returns the configured model name, falling back to the provider
// default when unset.
func (c *Config) Model() string {
	if c.ModelName != "" {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderGoogle:
		return DefaultGoogleModel
	default:
		return DefaultGroqModel
	}
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Completion defaults
	viper.SetDefault("provider", ProviderGroq)
	viper.SetDefault("model_name", "")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2000)

	// Orchestration defaults
	viper.SetDefault("system_prompt", "You are a helpful assistant.")
	viper.SetDefault("max_rounds", 5)

	// Tool server defaults
	viper.SetDefault("mcp_server_url", "http://localhost:8080/mcp")

	// HTTP defaults
	viper.SetDefault("addr", "127.0.0.1:3000")

	// Retrieval defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dimension", DefaultEmbedderDimension)
	viper.SetDefault("rag_top_k", 5)
	viper.SetDefault("rag_min_similarity", 0.7)

	// PostgreSQL defaults (local development database)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "agent")
	viper.SetDefault("postgres_password", "agent_dev_password")
	viper.SetDefault("postgres_db_name", "agent")
	viper.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment variables explicitly. Hardcoded keys
// cannot fail to bind; a panic here is a bug, not a runtime condition.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Secrets
	mustBind("groq_api_key", "GROQ_API_KEY")
	mustBind("gemini_api_key", "GEMINI_API_KEY")

	// Provider selection and overrides
	mustBind("provider", "LLM_PROVIDER")
	mustBind("model_name", "AGENT_MODEL_NAME")
	mustBind("system_prompt", "AGENT_SYSTEM_PROMPT")
	mustBind("addr", "AGENT_ADDR")

	// Tool server
	mustBind("mcp_server_url", "MCP_SERVER_URL")

	// NOTE: DATABASE_URL is parsed separately in parseDatabaseURL, not via
	// Viper, so it can override the individual postgres_* keys as a unit.
}
