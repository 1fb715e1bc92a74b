package config

import (
	"errors"
	"testing"
)

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_NilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() error = %v, want ErrConfigNil", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"unknown provider", func(c *Config) { c.Provider = "openai" }, ErrInvalidProvider},
		{"missing groq key", func(c *Config) { c.GroqAPIKey = "" }, ErrMissingAPIKey},
		{"missing gemini key", func(c *Config) { c.GeminiAPIKey = "" }, ErrMissingAPIKey},
		{"temperature too high", func(c *Config) { c.Temperature = 2.5 }, ErrInvalidTemperature},
		{"temperature negative", func(c *Config) { c.Temperature = -0.1 }, ErrInvalidTemperature},
		{"max tokens zero", func(c *Config) { c.MaxTokens = 0 }, ErrInvalidMaxTokens},
		{"max rounds zero", func(c *Config) { c.MaxRounds = 0 }, ErrInvalidMaxRounds},
		{"max rounds too high", func(c *Config) { c.MaxRounds = 100 }, ErrInvalidMaxRounds},
		{"empty embedder model", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"wrong embedder dimension", func(c *Config) { c.EmbedderDimension = 1536 }, ErrInvalidEmbedderDimension},
		{"rag top-k zero", func(c *Config) { c.RAGTopK = 0 }, ErrInvalidRAGTopK},
		{"rag similarity above one", func(c *Config) { c.RAGMinSimilarity = 1.5 }, ErrInvalidRAGMinSimilarity},
		{"empty mcp url", func(c *Config) { c.MCPServerURL = "" }, ErrInvalidMCPServerURL},
		{"non-http mcp url", func(c *Config) { c.MCPServerURL = "ftp://tools" }, ErrInvalidMCPServerURL},
		{"empty postgres host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"postgres port out of range", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty postgres db", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"empty postgres password", func(c *Config) { c.PostgresPassword = "" }, ErrInvalidPostgresPassword},
		{"deprecated ssl mode", func(c *Config) { c.PostgresSSLMode = "prefer" }, ErrInvalidPostgresSSLMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_GoogleProviderNeedsNoGroqKey(t *testing.T) {
	cfg := validConfig()
	cfg.Provider = ProviderGoogle
	cfg.GroqAPIKey = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}
