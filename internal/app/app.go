// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initLogging   — sink shipper for Splunk/Datadog/Elastic/ClickHouse
//  2. initState     — config store, cache, rate limiter, analytics, metrics
//  3. initProviders — the six vendor adapters over the live store
//  4. initServers   — public gateway, admin API, gRPC service
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/ai-gateway/internal/admin"
	"github.com/nulpointcorp/ai-gateway/internal/analytics"
	"github.com/nulpointcorp/ai-gateway/internal/cache"
	"github.com/nulpointcorp/ai-gateway/internal/config"
	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	anthropicprov "github.com/nulpointcorp/ai-gateway/internal/providers/anthropic"
	cohereprov "github.com/nulpointcorp/ai-gateway/internal/providers/cohere"
	geminiprov "github.com/nulpointcorp/ai-gateway/internal/providers/gemini"
	mistralprov "github.com/nulpointcorp/ai-gateway/internal/providers/mistral"
	ollamaprov "github.com/nulpointcorp/ai-gateway/internal/providers/ollama"
	openaiprov "github.com/nulpointcorp/ai-gateway/internal/providers/openai"
	"github.com/nulpointcorp/ai-gateway/internal/proxy"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
	"github.com/nulpointcorp/ai-gateway/internal/rpc"
)

// shutdownTimeout bounds the admin server drain during shutdown.
const shutdownTimeout = 10 * time.Second

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *logger.Logger

	shipper *logger.Shipper
	chSink  *logger.ClickHouseSink

	store    *config.Store
	memCache *cache.Store
	limiter  *ratelimit.Limiter
	stats    *analytics.Analytics
	prom     *metrics.Registry

	provs  map[string]providers.Provider
	health *proxy.HealthChecker

	gw       *proxy.Gateway
	adminAPI *admin.Server
	grpcAPI  *rpc.Server
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"logging", a.initLogging},
		{"state", a.initState},
		{"providers", a.initProviders},
		{"servers", a.initServers},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the three listeners and blocks until ctx is cancelled or a
// server fails. It shuts the app down gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Gateway.Port)
	adminAddr := fmt.Sprintf(":%d", a.cfg.Gateway.AdminPort)
	grpcAddr := fmt.Sprintf(":%d", a.cfg.Gateway.GRPCPort)

	a.log.Info("app", "starting gateway", map[string]any{
		"version":    a.version,
		"addr":       addr,
		"admin_addr": adminAddr,
		"grpc_addr":  grpcAddr,
		"providers":  a.store.ConfiguredProviders(),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.ListenAndServe(addr)
	})
	g.Go(func() error {
		return a.adminAPI.ListenAndServe(adminAddr)
	})
	g.Go(func() error {
		return a.grpcAPI.ListenAndServe(grpcAddr)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.shutdownServers()
		return nil
	})

	err := g.Wait()
	a.Close()
	return err
}

// shutdownServers drains the listeners so the serve goroutines return.
func (a *App) shutdownServers() {
	a.log.Info("app", "shutting down", nil)

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.grpcAPI != nil {
		a.grpcAPI.GracefulStop()
	}
	if a.adminAPI != nil {
		if err := a.adminAPI.Shutdown(drainCtx); err != nil {
			a.log.Error("app", "admin shutdown error", map[string]any{"error": err.Error()})
		}
	}
	if a.gw != nil {
		if err := a.gw.Shutdown(); err != nil {
			a.log.Error("app", "gateway shutdown error", map[string]any{"error": err.Error()})
		}
	}
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times.
func (a *App) Close() {
	if a.health != nil {
		a.health.Close()
		a.health = nil
	}
	if a.memCache != nil {
		a.memCache.Close()
		a.memCache = nil
	}
	if a.shipper != nil {
		// Drains buffered log entries before the sinks go away.
		if err := a.shipper.Close(); err != nil {
			a.log.Error("app", "shipper close error", map[string]any{"error": err.Error()})
		}
		a.shipper = nil
	}
	if a.chSink != nil {
		if err := a.chSink.Close(); err != nil {
			a.log.Error("app", "clickhouse close error", map[string]any{"error": err.Error()})
		}
		a.chSink = nil
	}
}

// Gateway exposes the wired gateway, mainly for tests.
func (a *App) Gateway() *proxy.Gateway { return a.gw }

// buildProviders constructs all six adapters over the live store. Slots
// without an endpoint stay registered; they answer NotConfigured until an
// admin write fills them in.
func buildProviders(store *config.Store) map[string]providers.Provider {
	return map[string]providers.Provider{
		"openai":    openaiprov.New(store),
		"anthropic": anthropicprov.New(store),
		"gemini":    geminiprov.New(store),
		"ollama":    ollamaprov.New(store),
		"mistral":   mistralprov.New(store),
		"cohere":    cohereprov.New(store),
	}
}
