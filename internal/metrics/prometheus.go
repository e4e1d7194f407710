// Package metrics provides the Prometheus registry for the gateway.
//
// All metrics live in a private registry (not the global default) so they
// don't interfere with host-level metrics when the gateway is embedded in
// other applications. The exposition handler is served by the admin server.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_inflight_requests
	inFlight prometheus.Gauge

	// gateway_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// gateway_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// gateway_chat_requests_total{provider,outcome}
	chatRequestsTotal *prometheus.CounterVec

	// gateway_chat_duration_seconds{provider,cache}
	chatDuration *prometheus.HistogramVec

	// cache_hits_total / cache_misses_total
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// gateway_cache_entries
	cacheEntries prometheus.Gauge

	// gateway_failover_events_total{from,to}
	failoverEvents *prometheus.CounterVec

	// gateway_failover_exhausted_total{primary}
	failoverExhausted *prometheus.CounterVec

	// gateway_ratelimit_total{result,plan_type}
	rateLimitTotal *prometheus.CounterVec

	// gateway_tokens_total{provider,direction}
	tokensTotal *prometheus.CounterVec

	// provider_errors_total{provider,error_type}
	providerErrors *prometheus.CounterVec

	// gateway_provider_health{provider}
	providerHealth *prometheus.GaugeVec

	// circuit_breaker_state{route} — 0=closed, 1=open, 2=half-open
	breakerState *prometheus.GaugeVec

	// gateway_circuit_breaker_transitions_total{route,to_state}
	breakerTransitions *prometheus.CounterVec

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	cbMu        sync.Mutex
	lastCBState map[string]float64
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]float64),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the gateway",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, includes cache + upstream)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		chatRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_chat_requests_total",
				Help: "Chat completion calls by serving provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		chatDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_chat_duration_seconds",
				Help:    "Chat completion duration by primary provider and cache result",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "cache"},
		),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),

		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_cache_entries",
			Help: "Entries currently held by the response cache",
		}),

		failoverEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_failover_events_total",
				Help: "Failover attempts from one provider to the next",
			},
			[]string{"from", "to"},
		),

		failoverExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_failover_exhausted_total",
				Help: "Requests that exhausted every configured provider",
			},
			[]string{"primary"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ratelimit_total",
				Help: "Rate limit decisions by plan tier",
			},
			[]string{"result", "plan_type"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_total",
				Help: "Token usage derived from upstream usage fields",
			},
			[]string{"provider", "direction"},
		),

		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_errors_total",
				Help: "Total provider errors by type",
			},
			[]string{"provider", "error_type"},
		),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_provider_health",
				Help: "Provider health status (1=ok, 0=degraded)",
			},
			[]string{"provider"},
		),

		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Passthrough route breaker state (0=closed,1=open,2=half-open)",
			},
			[]string{"route"},
		),

		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_breaker_transitions_total",
				Help: "Breaker transitions to a new state",
			},
			[]string{"route", "to_state"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.chatRequestsTotal,
		r.chatDuration,
		r.cacheHits,
		r.cacheMisses,
		r.cacheEntries,
		r.failoverEvents,
		r.failoverExhausted,
		r.rateLimitTotal,
		r.tokensTotal,
		r.providerErrors,
		r.providerHealth,
		r.breakerState,
		r.breakerTransitions,
		r.buildInfo,
	)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics for one handled request.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// RecordChat records one chat completion: the provider that served (or last
// attempted), the outcome, and whether the cache answered.
func (r *Registry) RecordChat(provider, outcome, cache string, dur time.Duration) {
	if provider == "" {
		provider = "none"
	}
	r.chatRequestsTotal.WithLabelValues(provider, outcome).Inc()
	r.chatDuration.WithLabelValues(provider, cache).Observe(dur.Seconds())
}

func (r *Registry) CacheHit()  { r.cacheHits.Inc() }
func (r *Registry) CacheMiss() { r.cacheMisses.Inc() }

// SetCacheEntries tracks the cache size gauge.
func (r *Registry) SetCacheEntries(n int) { r.cacheEntries.Set(float64(n)) }

func (r *Registry) RecordFailover(from, to string) {
	r.failoverEvents.WithLabelValues(from, to).Inc()
}

func (r *Registry) RecordFailoverExhausted(primary string) {
	r.failoverExhausted.WithLabelValues(primary).Inc()
}

// RecordRateLimit records one limiter decision. planType is empty for
// unlimited callers.
func (r *Registry) RecordRateLimit(allowed bool, planType string) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	if planType == "" {
		planType = "none"
	}
	r.rateLimitTotal.WithLabelValues(result, planType).Inc()
}

func (r *Registry) AddTokens(provider string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

func (r *Registry) RecordError(provider, errType string) {
	if provider == "" {
		provider = "none"
	}
	r.providerErrors.WithLabelValues(provider, errType).Inc()
}

func (r *Registry) SetProviderHealth(provider string, ok bool) {
	if ok {
		r.providerHealth.WithLabelValues(provider).Set(1)
		return
	}
	r.providerHealth.WithLabelValues(provider).Set(0)
}

// SetBreakerState sets the breaker gauge for a passthrough route and counts
// a transition when the state changed.
func (r *Registry) SetBreakerState(route string, state int64) {
	r.breakerState.WithLabelValues(route).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[route]
	if !ok || prev != float64(state) {
		r.lastCBState[route] = float64(state)
		r.breakerTransitions.WithLabelValues(route, strconv.FormatInt(state, 10)).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

// Handler returns the exposition handler for the admin server.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
