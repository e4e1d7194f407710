package admin

import (
	"net/http"

	"github.com/nulpointcorp/ai-gateway/internal/guardrails"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/proxy"
	"github.com/nulpointcorp/ai-gateway/pkg/apierr"
)

// ── Health and stats ─────────────────────────────────────────────────────────

// handleHealth mirrors the ingress /health shape so both ports report
// the same snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  proxy.HealthOK,
			"version": s.version,
		})
		return
	}
	snap := s.health.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         snap.Status,
		"version":        s.version,
		"uptime_seconds": snap.UptimeSeconds,
		"providers":      snap.Providers,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// ── System prompt ────────────────────────────────────────────────────────────

type systemPromptBody struct {
	SystemPrompt string `json:"systemPrompt"`
}

func (s *Server) handleGetSystemPrompt(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, systemPromptBody{SystemPrompt: s.store.SystemPrompt()})
}

func (s *Server) handleSetSystemPrompt(w http.ResponseWriter, r *http.Request) {
	var body systemPromptBody
	if !decodeJSON(w, r, &body) {
		return
	}
	s.store.SetSystemPrompt(body.SystemPrompt)
	s.log.Info("admin", "system prompt updated", map[string]any{
		"length": len(body.SystemPrompt),
	})
	writeJSON(w, http.StatusOK, systemPromptBody{SystemPrompt: s.store.SystemPrompt()})
}

// ── Guardrails ───────────────────────────────────────────────────────────────

func (s *Server) handleGetGuardrails(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Guardrails())
}

func (s *Server) handleSetGuardrails(w http.ResponseWriter, r *http.Request) {
	var cfg guardrails.Config
	if !decodeJSON(w, r, &cfg) {
		return
	}
	switch {
	case cfg.MinLength < 0 || cfg.MaxLength < 0:
		apierr.WriteHTTP(w, http.StatusBadRequest, "length bounds must be non-negative")
		return
	case cfg.MaxLength > 0 && cfg.MaxLength < cfg.MinLength:
		apierr.WriteHTTP(w, http.StatusBadRequest, "maxLength must be at least minLength")
		return
	case cfg.RequireDisclaimer && cfg.Disclaimer == "":
		apierr.WriteHTTP(w, http.StatusBadRequest, "disclaimer is required when requireDisclaimer is set")
		return
	}
	s.store.SetGuardrails(cfg)
	s.log.Info("admin", "guardrails updated", map[string]any{
		"banned_phrases": len(cfg.BannedPhrases),
		"min_length":     cfg.MinLength,
		"max_length":     cfg.MaxLength,
	})
	writeJSON(w, http.StatusOK, s.store.Guardrails())
}

// ── Logging ──────────────────────────────────────────────────────────────────

type loggingBody struct {
	Verbose bool `json:"verbose"`
}

func (s *Server) handleGetLogging(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, loggingBody{Verbose: s.store.Verbose()})
}

// handleSetLogging flips both the stored flag and the live logger
// level, so the change applies to the next line written.
func (s *Server) handleSetLogging(w http.ResponseWriter, r *http.Request) {
	var body loggingBody
	if !decodeJSON(w, r, &body) {
		return
	}
	s.store.SetVerbose(body.Verbose)
	s.log.SetVerbose(body.Verbose)
	s.log.Info("admin", "logging updated", map[string]any{"verbose": body.Verbose})
	writeJSON(w, http.StatusOK, loggingBody{Verbose: s.store.Verbose()})
}

// ── Cache ────────────────────────────────────────────────────────────────────

func (s *Server) handleListCache(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		apierr.WriteHTTP(w, http.StatusServiceUnavailable, "cache disabled")
		return
	}
	entries := s.cache.Entries()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(entries),
		"ttlSeconds": int(s.cache.TTL().Seconds()),
		"maxEntries": s.cache.MaxEntries(),
		"entries":    entries,
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		apierr.WriteHTTP(w, http.StatusServiceUnavailable, "cache disabled")
		return
	}
	n := s.cache.Clear()
	if s.metrics != nil {
		s.metrics.SetCacheEntries(0)
	}
	s.log.Info("admin", "cache cleared", map[string]any{"evicted": n})
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// ── Provider slots ───────────────────────────────────────────────────────────

// providerView is a slot as reported to the admin client. The API key
// itself never leaves the process.
type providerView struct {
	Name       string `json:"name"`
	Model      string `json:"model,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	APIKeySet  bool   `json:"apiKeySet"`
	Configured bool   `json:"configured"`
}

type providerUpdate struct {
	Name     string `json:"name"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
}

func viewOf(name string, cfg providers.Config) providerView {
	return providerView{
		Name:       name,
		Model:      cfg.Model,
		Endpoint:   cfg.Endpoint,
		APIKeySet:  cfg.APIKey != "",
		Configured: cfg.Configured(),
	}
}

// handleListProviders reports all six slots in declaration order,
// configured or not, so the operator sees what is missing.
func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	slots := s.store.Providers()
	views := make([]providerView, 0, len(providers.Names))
	for _, name := range providers.Names {
		views = append(views, viewOf(name, slots[name]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": views})
}

// handleSetProvider replaces one slot wholesale. Posting an empty
// endpoint deconfigures the slot and removes it from failover.
func (s *Server) handleSetProvider(w http.ResponseWriter, r *http.Request) {
	var body providerUpdate
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Name == "" {
		apierr.WriteHTTP(w, http.StatusBadRequest, "name is required")
		return
	}
	cfg := providers.Config{
		APIKey:   body.APIKey,
		Model:    body.Model,
		Endpoint: body.Endpoint,
	}
	if err := s.store.SetProviderConfig(body.Name, cfg); err != nil {
		apierr.WriteHTTP(w, http.StatusBadRequest, "unknown provider "+body.Name)
		return
	}
	s.log.Info("admin", "provider config updated", map[string]any{
		"provider":   body.Name,
		"configured": cfg.Configured(),
	})
	writeJSON(w, http.StatusOK, viewOf(body.Name, cfg))
}
