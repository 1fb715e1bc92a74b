// Package app provides application initialization and dependency wiring.
//
// Setup builds the full component graph: database pool, completion provider,
// embedder, stores, retriever, tool registry and orchestrator. Entry points
// (serve command, tests) consume the assembled App.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beautibuk/agent/internal/agent"
	"github.com/beautibuk/agent/internal/config"
	"github.com/beautibuk/agent/internal/llm"
	"github.com/beautibuk/agent/internal/log"
	"github.com/beautibuk/agent/internal/rag"
	"github.com/beautibuk/agent/internal/registry"
	"github.com/beautibuk/agent/internal/session"
	"github.com/beautibuk/agent/internal/vector"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	DBPool       *pgxpool.Pool
	Provider     llm.Provider
	Registry     *registry.Client
	Sessions     *session.Store
	Vectors      *vector.Store
	Retriever    *rag.Retriever
	Orchestrator *agent.Orchestrator
}

// Close releases all resources. Safe to call on a partially built App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.Registry != nil {
		if err := a.Registry.Close(); err != nil && a.Logger != nil {
			a.Logger.Warn("closing tool registry", "error", err)
		}
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
	return nil
}
