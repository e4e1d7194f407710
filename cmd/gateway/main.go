// Command gateway is the nulpoint AI gateway server.
//
// It reads gateway.toml from the working directory (environment variables
// take precedence) and starts three listeners: the OpenAI-compatible chat
// ingress, the admin API with the dashboard, and the gRPC chat service.
//
// Quick-start against a local Ollama:
//
//	AI_GATEWAY_PROVIDERS_OLLAMA_ENDPOINT=http://localhost:11434 ./gateway
//
// See gateway.example.toml for all available settings.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nulpointcorp/ai-gateway/internal/app"
	"github.com/nulpointcorp/ai-gateway/internal/config"
	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/pkg/version"
)

func main() {
	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration. Exits with a descriptive error when no provider
	// endpoint is set.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// All subsystems share this logger; the admin surface can flip its
	// verbosity at runtime.
	lg := logger.New(os.Stdout, cfg.Logging.Verbose)

	a, err := app.New(ctx, cfg, lg, version.Version)
	if err != nil {
		lg.Error("main", "startup failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		lg.Error("main", "gateway stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
