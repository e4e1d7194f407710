package app

import (
	"context"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/admin"
	"github.com/nulpointcorp/ai-gateway/internal/analytics"
	"github.com/nulpointcorp/ai-gateway/internal/cache"
	"github.com/nulpointcorp/ai-gateway/internal/config"
	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/proxy"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
	"github.com/nulpointcorp/ai-gateway/internal/rpc"
)

// initLogging attaches the sink shipper when any external sink is enabled.
// A sink that fails to connect is skipped with a warning; shipping is
// fire-and-forget and must never keep the gateway from starting.
func (a *App) initLogging(ctx context.Context) error {
	var sinks []logger.Sink

	if c := a.cfg.Logging.Splunk; c.Enabled {
		sinks = append(sinks, &logger.SplunkSink{Endpoint: c.Endpoint, Token: c.Token})
	}
	if c := a.cfg.Logging.Datadog; c.Enabled {
		sinks = append(sinks, &logger.DatadogSink{Endpoint: c.Endpoint, APIKey: c.APIKey, Service: c.Service})
	}
	if c := a.cfg.Logging.Elastic; c.Enabled {
		sinks = append(sinks, &logger.ElasticSink{Endpoint: c.Endpoint, Index: c.Index, APIKey: c.APIKey})
	}
	if c := a.cfg.Logging.ClickHouse; c.Enabled {
		sink, err := logger.NewClickHouseSink(ctx, logger.ClickHouseConfig{
			Addr:     c.Addr,
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
			Table:    c.Table,
		})
		if err != nil {
			a.log.Warn("app", "clickhouse sink unavailable, skipping", map[string]any{
				"addr":  c.Addr,
				"error": err.Error(),
			})
		} else {
			a.chSink = sink
			sinks = append(sinks, sink)
		}
	}

	if len(sinks) == 0 {
		return nil
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}

	a.shipper = logger.NewShipper(a.baseCtx, a.log.Slog(), sinks...)
	a.log.SetShipper(a.shipper)
	a.log.Info("app", "log shipping enabled", map[string]any{"sinks": names})
	return nil
}

// initState builds the runtime store and the in-memory service state.
func (a *App) initState(_ context.Context) error {
	a.store = config.NewStore(a.cfg)

	a.memCache = cache.NewStore(
		a.baseCtx,
		time.Duration(a.cfg.Cache.TTLSeconds)*time.Second,
		a.cfg.Cache.MaxEntries,
	)

	a.limiter = ratelimit.New()
	if p := a.cfg.RateLimit.Default; p != nil {
		a.limiter.SetDefaultPlan(*p)
	}

	a.stats = analytics.New()

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)
	return nil
}

// initProviders registers the six adapters over the live store.
func (a *App) initProviders(_ context.Context) error {
	a.provs = buildProviders(a.store)
	return nil
}

// initServers assembles the gateway pipeline and the two management
// surfaces around it.
func (a *App) initServers(_ context.Context) error {
	if a.cfg.Gateway.HealthChecks {
		a.health = proxy.NewHealthChecker(a.baseCtx, a.provs, a.store, a.prom, a.log)
	}

	a.gw = proxy.NewGateway(proxy.Options{
		Store:               a.store,
		Providers:           a.provs,
		Cache:               a.memCache,
		Limiter:             a.limiter,
		Analytics:           a.stats,
		Metrics:             a.prom,
		Logger:              a.log,
		Health:              a.health,
		Version:             a.version,
		RefreshCreatedOnHit: a.cfg.Cache.RefreshCreatedOnHit,
	})

	a.adminAPI = admin.New(admin.Options{
		Store:    a.store,
		Stats:    a.stats,
		Cache:    a.memCache,
		Limiter:  a.limiter,
		Routes:   a.gw.Routes(),
		Breakers: a.gw.Breakers(),
		Health:   a.health,
		Metrics:  a.prom,
		Logger:   a.log,
		Version:  a.version,
	})

	a.grpcAPI = rpc.New(rpc.Options{
		Gateway:   a.gw,
		Analytics: a.stats,
		Metrics:   a.prom,
		Logger:    a.log,
	})
	return nil
}
