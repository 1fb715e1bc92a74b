package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/genai"

	"github.com/beautibuk/agent/db"
	"github.com/beautibuk/agent/internal/agent"
	"github.com/beautibuk/agent/internal/config"
	"github.com/beautibuk/agent/internal/embedding"
	"github.com/beautibuk/agent/internal/llm"
	"github.com/beautibuk/agent/internal/log"
	"github.com/beautibuk/agent/internal/rag"
	"github.com/beautibuk/agent/internal/registry"
	"github.com/beautibuk/agent/internal/session"
	"github.com/beautibuk/agent/internal/vector"
)

// clientVersion identifies this client to the MCP tool server.
const clientVersion = "0.1.0"

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	provider, err := provideProvider(cfg, genaiClient)
	if err != nil {
		return nil, err
	}
	a.Provider = provider

	embedder, err := embedding.NewGemini(genaiClient, cfg.EmbedderModel, cfg.EmbedderDimension)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	vectors, err := vector.NewStore(pool, cfg.EmbedderDimension, logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	a.Vectors = vectors

	retriever, err := rag.NewRetriever(embedder, vectors, logger,
		rag.WithTopK(cfg.RAGTopK),
		rag.WithMinSimilarity(cfg.RAGMinSimilarity),
	)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	a.Retriever = retriever

	sessions, err := session.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	a.Sessions = sessions

	reg := registry.NewClient("agent", clientVersion, logger)
	if err := reg.ConnectHTTP(ctx, cfg.MCPServerURL); err != nil {
		return nil, fmt.Errorf("connecting to tool server: %w", err)
	}
	a.Registry = reg

	orch, err := agent.New(agent.Config{
		Provider:     provider,
		Registry:     reg,
		Sessions:     sessions,
		Retriever:    retriever,
		Logger:       logger,
		SystemPrompt: cfg.SystemPrompt,
		MaxRounds:    cfg.MaxRounds,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orch

	return a, nil
}

// provideProvider selects the completion provider from the configuration.
func provideProvider(cfg *config.Config, genaiClient *genai.Client) (llm.Provider, error) {
	llmCfg := llm.Config{
		Model:           cfg.Model(),
		Temperature:     cfg.Temperature,
		MaxOutputTokens: int32(cfg.MaxTokens), // #nosec G115 -- bounded by config validation
	}

	switch cfg.Provider {
	case config.ProviderGroq:
		return llm.NewGroq(cfg.GroqAPIKey, llmCfg)
	case config.ProviderGoogle:
		return llm.NewGemini(genaiClient, llmCfg)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidProvider, cfg.Provider)
	}
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
