// Package proxy is the request pipeline of the gateway and the public
// HTTP ingress in front of it.
//
// Per request the pipeline runs in a fixed order: rate limit, cache
// lookup, provider dispatch with failover, guardrails, cache insert,
// and analytics last. Guardrails run on every response about to be
// served, cached ones included, so a policy change applies to old
// entries immediately.
//
// Cache, limiter, metrics, and health checker are optional and
// nil-safe; tests wire only what they exercise.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-gateway/internal/analytics"
	"github.com/nulpointcorp/ai-gateway/internal/cache"
	"github.com/nulpointcorp/ai-gateway/internal/config"
	"github.com/nulpointcorp/ai-gateway/internal/guardrails"
	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
	"github.com/nulpointcorp/ai-gateway/pkg/apierr"
)

// providerHeader selects the primary provider for an HTTP chat request.
const providerHeader = "x-llm-provider"

const (
	xCacheHeader = "X-Cache"
	xCacheHIT    = "HIT"
	xCacheMISS   = "MISS"
	xCacheBYPASS = "BYPASS"
)

// statusClientClosedRequest is the nginx convention for a client that
// cancelled mid-flight. The client never reads it; logs and metrics do.
const statusClientClosedRequest = 499

// Gateway owns the per-request pipeline. The HTTP and gRPC ingresses
// both funnel into Complete; rate limiting and response caching apply
// only on the HTTP side.
type Gateway struct {
	store     *config.Store
	providers map[string]providers.Provider
	cache     *cache.Store
	limiter   *ratelimit.Limiter
	stats     *analytics.Analytics
	metrics   *metrics.Registry
	log       *logger.Logger
	routes    *RouteTable
	breakers  *BreakerSet
	upstream  *fasthttp.Client
	health    *HealthChecker
	version   string

	refreshCreatedOnHit bool

	srv *fasthttp.Server
}

// Options configures a Gateway. Store and Providers are required;
// everything else degrades gracefully when absent.
type Options struct {
	Store     *config.Store
	Providers map[string]providers.Provider
	Cache     *cache.Store
	Limiter   *ratelimit.Limiter
	Analytics *analytics.Analytics
	Metrics   *metrics.Registry
	Logger    *logger.Logger
	Routes    *RouteTable
	Health    *HealthChecker
	Version   string

	// RefreshCreatedOnHit rewrites the created timestamp when serving
	// from cache instead of returning the original one.
	RefreshCreatedOnHit bool
}

// NewGateway wires the pipeline. It does not start listening; see
// ListenAndServe and Serve.
func NewGateway(opts Options) *Gateway {
	g := &Gateway{
		store:               opts.Store,
		providers:           opts.Providers,
		cache:               opts.Cache,
		limiter:             opts.Limiter,
		stats:               opts.Analytics,
		metrics:             opts.Metrics,
		log:                 opts.Logger,
		routes:              opts.Routes,
		health:              opts.Health,
		version:             opts.Version,
		refreshCreatedOnHit: opts.RefreshCreatedOnHit,
	}
	if g.stats == nil {
		g.stats = analytics.New()
	}
	if g.log == nil {
		g.log = logger.New(nil, false)
	}
	if g.routes == nil {
		g.routes = NewRouteTable()
	}
	if g.version == "" {
		g.version = "dev"
	}
	g.breakers = NewBreakerSet(DefaultCBConfig(), g.metrics)
	g.upstream = &fasthttp.Client{
		ReadTimeout:         passthroughTimeout,
		WriteTimeout:        passthroughTimeout,
		MaxConnsPerHost:     512,
		MaxIdleConnDuration: time.Minute,
	}
	return g
}

// Routes exposes the passthrough table for the admin surface.
func (g *Gateway) Routes() *RouteTable { return g.routes }

// Breakers exposes the passthrough circuit breakers for the admin surface.
func (g *Gateway) Breakers() *BreakerSet { return g.breakers }

// Complete runs the pipeline for one chat completion. The fingerprint
// and therefore the cache slot are keyed to the primary provider even
// when failover ends up serving the response. bypass skips the cache
// on both sides, lookup and insert, without touching the hit or miss
// counters. The bool result reports whether the response came from
// cache.
func (g *Gateway) Complete(ctx context.Context, primary string, req *providers.ChatRequest, requestID string, bypass bool) (*providers.ChatResponse, bool, error) {
	start := time.Now()
	req.Normalize()

	useCache := g.cache != nil && !bypass
	cacheFlag := xCacheBYPASS
	var fp string
	if useCache {
		cacheFlag = xCacheMISS
		fp = cache.Fingerprint(primary, req)
		if cached, ok := g.cache.Get(fp); ok {
			return g.serveCached(primary, cached, fp, requestID, start)
		}
		g.stats.CacheMiss()
		if g.metrics != nil {
			g.metrics.CacheMiss()
		}
	}

	resp, served, err := g.dispatch(ctx, primary, req, requestID)
	if err != nil {
		g.stats.Failure(served)
		if g.metrics != nil {
			g.metrics.RecordChat(served, "error", strings.ToLower(cacheFlag), time.Since(start))
		}
		return nil, false, err
	}

	text, gerr := guardrails.Apply(g.store.Guardrails(), resp.Text())
	if gerr != nil {
		return nil, false, g.rejectByGuardrails(served, gerr, requestID, cacheFlag, start)
	}
	resp.SetText(text)

	if useCache {
		g.cache.Set(fp, primary, resp)
		if g.metrics != nil {
			g.metrics.SetCacheEntries(g.cache.Len())
		}
	}

	g.stats.Success(served)
	g.stats.AddTokens(served, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if g.metrics != nil {
		g.metrics.RecordChat(served, "success", strings.ToLower(cacheFlag), time.Since(start))
		g.metrics.AddTokens(served, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	g.log.Info("proxy", "request completed", map[string]any{
		"request_id":    requestID,
		"provider":      served,
		"primary":       primary,
		"cache":         strings.ToLower(cacheFlag),
		"latency_ms":    time.Since(start).Milliseconds(),
		"input_tokens":  resp.Usage.PromptTokens,
		"output_tokens": resp.Usage.CompletionTokens,
	})
	return resp, false, nil
}

// serveCached finishes a request from a cache hit. Guardrails still run
// on the cached text, so a hit can turn into a rejection if the policy
// tightened since insertion.
func (g *Gateway) serveCached(primary string, resp *providers.ChatResponse, fp, requestID string, start time.Time) (*providers.ChatResponse, bool, error) {
	g.stats.CacheHit()
	if g.metrics != nil {
		g.metrics.CacheHit()
	}

	text, gerr := guardrails.Apply(g.store.Guardrails(), resp.Text())
	if gerr != nil {
		return nil, true, g.rejectByGuardrails(primary, gerr, requestID, xCacheHIT, start)
	}
	resp.SetText(text)
	if g.refreshCreatedOnHit {
		resp.Created = time.Now().Unix()
	}

	g.stats.Success(primary)
	if g.metrics != nil {
		g.metrics.RecordChat(primary, "success", strings.ToLower(xCacheHIT), time.Since(start))
	}
	g.log.Debug("cache", "served from cache", map[string]any{
		"request_id":  requestID,
		"provider":    primary,
		"fingerprint": fp,
		"latency_ms":  time.Since(start).Milliseconds(),
	})
	return resp, true, nil
}

// rejectByGuardrails books a guardrails rejection everywhere it counts
// and returns the typed error. The response is never cached.
func (g *Gateway) rejectByGuardrails(provider string, gerr error, requestID, cacheFlag string, start time.Time) error {
	err := providers.GuardrailsError(provider, gerr)
	g.stats.RecordError(provider, string(providers.KindGuardrails), err.Error(), requestID)
	g.stats.Failure(provider)
	if g.metrics != nil {
		g.metrics.RecordError(provider, string(providers.KindGuardrails))
		g.metrics.RecordChat(provider, "error", strings.ToLower(cacheFlag), time.Since(start))
	}
	g.log.Warn("guardrails", "response rejected", map[string]any{
		"request_id": requestID,
		"provider":   provider,
		"error":      gerr.Error(),
	})
	return err
}

// handleChatCompletions is the POST /v1/chat/completions handler.
func (g *Gateway) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	requestID := requestIDFrom(ctx)

	var req providers.ChatRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		g.rejectBadRequest(ctx, requestID, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		g.rejectBadRequest(ctx, requestID, err.Error())
		return
	}

	primary := string(ctx.Request.Header.Peek(providerHeader))
	if primary == "" {
		g.rejectBadRequest(ctx, requestID, "missing "+providerHeader+" header")
		return
	}
	if !providers.Known(primary) {
		g.rejectBadRequest(ctx, requestID, "unknown provider "+strconv.Quote(primary))
		return
	}

	bypass := hasNoCache(&ctx.Request.Header)
	resp, hit, err := g.Complete(ctx, primary, &req, requestID, bypass)
	if err != nil {
		g.writeDispatchError(ctx, err)
		return
	}

	switch {
	case bypass:
		ctx.Response.Header.Set(xCacheHeader, xCacheBYPASS)
	case hit:
		ctx.Response.Header.Set(xCacheHeader, xCacheHIT)
	default:
		ctx.Response.Header.Set(xCacheHeader, xCacheMISS)
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

// hasNoCache reports whether the request asked to skip the cache.
func hasNoCache(h *fasthttp.RequestHeader) bool {
	cc := string(h.Peek(fasthttp.HeaderCacheControl))
	return strings.Contains(strings.ToLower(cc), "no-cache")
}

// rejectBadRequest books a client-input failure and answers 400.
func (g *Gateway) rejectBadRequest(ctx *fasthttp.RequestCtx, requestID, msg string) {
	g.stats.Failure("")
	g.stats.RecordError("", string(providers.KindBadRequest), msg, requestID)
	if g.metrics != nil {
		g.metrics.RecordError("", string(providers.KindBadRequest))
	}
	g.log.Warn("http", "request rejected", map[string]any{
		"request_id": requestID,
		"error":      msg,
	})
	apierr.Write(ctx, fasthttp.StatusBadRequest, msg)
}

// writeDispatchError maps pipeline errors onto the public error surface.
// The gateway answers 5xx for anything upstream; the upstream status
// itself is preserved inside the error body, not on the wire.
func (g *Gateway) writeDispatchError(ctx *fasthttp.RequestCtx, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		apierr.Write(ctx, fasthttp.StatusGatewayTimeout, "upstream request timed out: "+err.Error())
		return
	}

	var pe *providers.Error
	if !errors.As(err, &pe) {
		apierr.Write(ctx, fasthttp.StatusBadGateway, err.Error())
		return
	}

	switch pe.Kind {
	case providers.KindBadRequest:
		apierr.Write(ctx, fasthttp.StatusBadRequest, pe.Error())
	case providers.KindNotConfigured, providers.KindInvalidConfig:
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable, pe.Error())
	case providers.KindCancelled:
		apierr.Write(ctx, statusClientClosedRequest, pe.Error())
	default:
		apierr.Write(ctx, fasthttp.StatusBadGateway, pe.Error())
	}
}

// handleHealth is the GET /health liveness endpoint. It always answers
// 200; degradation shows up in the body, not the status code.
func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	if g.health == nil {
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"status":  HealthOK,
			"version": g.version,
		})
		return
	}
	snap := g.health.Snapshot()
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"status":         snap.Status,
		"version":        g.version,
		"uptime_seconds": snap.UptimeSeconds,
		"providers":      snap.Providers,
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "encode response: "+err.Error())
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
