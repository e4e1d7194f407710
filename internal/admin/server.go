// Package admin is the management HTTP surface on the second port.
//
// Every resource follows the same contract: GET snapshots the current
// value under the owning lock, POST decodes a capped JSON body with
// unknown fields rejected, validates, replaces the value under the
// lock, and echoes the stored result. Writes take effect on the next
// gateway request; nothing here restarts anything.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nulpointcorp/ai-gateway/internal/analytics"
	"github.com/nulpointcorp/ai-gateway/internal/cache"
	"github.com/nulpointcorp/ai-gateway/internal/config"
	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/proxy"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
	"github.com/nulpointcorp/ai-gateway/pkg/apierr"
)

// maxBodyBytes caps every admin request body at 1 MiB.
const maxBodyBytes = 1 << 20

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
)

// Server is the admin API. It mutates the same stores the gateway
// reads, so everything it changes is live immediately.
type Server struct {
	store    *config.Store
	stats    *analytics.Analytics
	cache    *cache.Store
	limiter  *ratelimit.Limiter
	routes   *proxy.RouteTable
	breakers *proxy.BreakerSet
	health   *proxy.HealthChecker
	metrics  *metrics.Registry
	log      *logger.Logger
	version  string

	srv *http.Server
}

// Options configures a Server. Store is required; nil optionals
// disable the endpoints that need them.
type Options struct {
	Store    *config.Store
	Stats    *analytics.Analytics
	Cache    *cache.Store
	Limiter  *ratelimit.Limiter
	Routes   *proxy.RouteTable
	Breakers *proxy.BreakerSet
	Health   *proxy.HealthChecker
	Metrics  *metrics.Registry
	Logger   *logger.Logger
	Version  string
}

// New builds the admin server. It does not start listening; see
// ListenAndServe and Serve.
func New(opts Options) *Server {
	s := &Server{
		store:    opts.Store,
		stats:    opts.Stats,
		cache:    opts.Cache,
		limiter:  opts.Limiter,
		routes:   opts.Routes,
		breakers: opts.Breakers,
		health:   opts.Health,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		version:  opts.Version,
	}
	if s.stats == nil {
		s.stats = analytics.New()
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New()
	}
	if s.routes == nil {
		s.routes = proxy.NewRouteTable()
	}
	if s.breakers == nil {
		s.breakers = proxy.NewBreakerSet(proxy.DefaultCBConfig(), opts.Metrics)
	}
	if s.log == nil {
		s.log = logger.New(nil, false)
	}
	if s.version == "" {
		s.version = "dev"
	}
	return s
}

// Handler returns the routed admin handler. Tests drive it directly
// through httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recovery)
	r.Use(s.requestLog)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/dashboard", s.handleDashboard)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/system-prompt", s.handleGetSystemPrompt)
	r.Post("/system-prompt", s.handleSetSystemPrompt)

	r.Get("/guardrails", s.handleGetGuardrails)
	r.Post("/guardrails", s.handleSetGuardrails)

	r.Get("/logging", s.handleGetLogging)
	r.Post("/logging", s.handleSetLogging)

	r.Get("/cache", s.handleListCache)
	r.Post("/cache/clear", s.handleClearCache)

	r.Get("/providers", s.handleListProviders)
	r.Post("/providers", s.handleSetProvider)

	r.Route("/ratelimit", func(r chi.Router) {
		r.Get("/default", s.handleGetDefaultPlan)
		r.Post("/default", s.handleSetDefaultPlan)
		r.Delete("/default", s.handleDeleteDefaultPlan)
		r.Get("/wildcard", s.handleGetWildcardPlan)
		r.Post("/wildcard", s.handleSetWildcardPlan)
		r.Delete("/wildcard", s.handleDeleteWildcardPlan)
		r.Get("/clients", s.handleListClientPlans)
		r.Post("/clients/{ip}", s.handleSetClientPlan)
		r.Delete("/clients/{ip}", s.handleDeleteClientPlan)
	})

	r.Get("/routes", s.handleListRoutes)
	r.Post("/routes", s.handleSetRoute)
	r.Delete("/routes/{name}", s.handleDeleteRoute)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierr.WriteHTTP(w, http.StatusNotFound, "not found")
	})

	return r
}

func (s *Server) server() *http.Server {
	if s.srv == nil {
		s.srv = &http.Server{
			Handler:      s.Handler(),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		}
	}
	return s.srv
}

// ListenAndServe blocks serving the admin API on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := s.server()
	srv.Addr = addr
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve blocks serving the admin API on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	err := s.server().Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight admin requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ── Middleware ───────────────────────────────────────────────────────────────

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("admin", "handler panic", map[string]any{
					"path":  r.URL.Path,
					"panic": rec,
				})
				apierr.WriteHTTP(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("admin", "request", map[string]any{
			"method":     r.Method,
			"path":       r.URL.Path,
			"latency_ms": time.Since(start).Milliseconds(),
		})
	})
}

// ── JSON helpers ─────────────────────────────────────────────────────────────

// decodeJSON reads a capped body into v, rejecting unknown fields.
// On failure it writes the 400 itself and reports false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		apierr.WriteHTTP(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeJSON marshals before touching the response so an encoding
// failure can still become a clean 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		apierr.WriteHTTP(w, http.StatusInternalServerError, "encoding error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
