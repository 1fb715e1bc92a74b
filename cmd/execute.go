// Package cmd contains the command-line entry points.
//
// Following the pattern of standard Go CLI tools, all application logic
// lives here and main.go stays a minimal shim.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/beautibuk/agent/internal/log"
)

// Execute is the main entry point. It routes the first argument to a
// subcommand; with no arguments the HTTP server starts.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			return runServe()
		case "version", "--version", "-v":
			fmt.Print(versionInfo())
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		default:
			printHelp()
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	}
	return runServe()
}

// initLogger initializes the structured logger. The DEBUG environment
// variable (any value) enables debug level.
func initLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.New(cfg)
}

func printHelp() {
	fmt.Println("agent - conversational agent server")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  agent              Start the HTTP server (default)")
	fmt.Println("  agent serve        Start the HTTP server")
	fmt.Println("  agent version      Show version information")
	fmt.Println("  agent help         Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  LLM_PROVIDER       Completion provider: groq (default) or google")
	fmt.Println("  GROQ_API_KEY       Required when LLM_PROVIDER is groq")
	fmt.Println("  GEMINI_API_KEY     Required: used for embeddings and the google provider")
	fmt.Println("  DATABASE_URL       PostgreSQL connection URL")
	fmt.Println("  MCP_SERVER_URL     Tool server endpoint")
	fmt.Println("  AGENT_ADDR         Listen address (default 127.0.0.1:3000)")
	fmt.Println("  DEBUG              Enable debug logging")
}
