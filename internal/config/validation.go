package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Provider and API keys. The embedder always runs on Gemini, so its key
	// is required regardless of the completion provider.
	switch c.Provider {
	case ProviderGroq:
		if c.GroqAPIKey == "" {
			return fmt.Errorf("%w: GROQ_API_KEY environment variable is required for provider %q",
				ErrMissingAPIKey, ProviderGroq)
		}
	case ProviderGoogle:
		// Gemini key checked below.
	default:
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidProvider, c.Provider, []string{ProviderGroq, ProviderGoogle})
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.Model() == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum randomness).
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 1048576 {
		return fmt.Errorf("%w: must be between 1 and 1,048,576, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.MaxRounds < 1 || c.MaxRounds > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidMaxRounds, c.MaxRounds)
	}

	// Retrieval configuration
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimension != DefaultEmbedderDimension {
		// The vector(768) schema column fixes the dimension; a mismatch would
		// fail on every insert.
		return fmt.Errorf("%w: must be %d to match the vector schema, got %d",
			ErrInvalidEmbedderDimension, DefaultEmbedderDimension, c.EmbedderDimension)
	}
	if c.RAGTopK < 1 || c.RAGTopK > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidRAGTopK, c.RAGTopK)
	}
	if c.RAGMinSimilarity < 0 || c.RAGMinSimilarity > 1 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidRAGMinSimilarity, c.RAGMinSimilarity)
	}

	// Tool server
	if c.MCPServerURL == "" {
		return fmt.Errorf("%w: mcp_server_url cannot be empty", ErrInvalidMCPServerURL)
	}
	if u, err := url.Parse(c.MCPServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q must be an http or https URL", ErrInvalidMCPServerURL, c.MCPServerURL)
	}

	// PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "agent_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}

	// Modern SSL modes only; allow/prefer are deprecated and MITM vulnerable.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
