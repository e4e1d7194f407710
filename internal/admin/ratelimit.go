package admin

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
	"github.com/nulpointcorp/ai-gateway/pkg/apierr"
)

// decodePlan reads and validates a plan body, writing the error
// response itself on failure.
func decodePlan(w http.ResponseWriter, r *http.Request) (ratelimit.Plan, bool) {
	var p ratelimit.Plan
	if !decodeJSON(w, r, &p) {
		return ratelimit.Plan{}, false
	}
	if !p.Valid() {
		apierr.WriteHTTP(w, http.StatusBadRequest, "requests and windowSeconds must be positive")
		return ratelimit.Plan{}, false
	}
	return p, true
}

// ── Default plan ─────────────────────────────────────────────────────────────

func (s *Server) handleGetDefaultPlan(w http.ResponseWriter, _ *http.Request) {
	p, ok := s.limiter.DefaultPlan()
	if !ok {
		apierr.WriteHTTP(w, http.StatusNotFound, "no default plan")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleSetDefaultPlan installs the fallback budget. The limiter
// resets window state for IPs without their own plan so the new
// budget starts from a clean window.
func (s *Server) handleSetDefaultPlan(w http.ResponseWriter, r *http.Request) {
	p, ok := decodePlan(w, r)
	if !ok {
		return
	}
	s.limiter.SetDefaultPlan(p)
	s.log.Info("admin", "default plan updated", map[string]any{
		"requests": p.Requests,
		"window_s": p.WindowSeconds,
	})
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteDefaultPlan(w http.ResponseWriter, _ *http.Request) {
	if !s.limiter.ClearDefaultPlan() {
		apierr.WriteHTTP(w, http.StatusNotFound, "no default plan")
		return
	}
	s.log.Info("admin", "default plan removed", nil)
	w.WriteHeader(http.StatusNoContent)
}

// ── Wildcard plan ────────────────────────────────────────────────────────────

func (s *Server) handleGetWildcardPlan(w http.ResponseWriter, _ *http.Request) {
	p, ok := s.limiter.ClientPlan(ratelimit.WildcardIP)
	if !ok {
		apierr.WriteHTTP(w, http.StatusNotFound, "no wildcard plan")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetWildcardPlan(w http.ResponseWriter, r *http.Request) {
	p, ok := decodePlan(w, r)
	if !ok {
		return
	}
	s.limiter.SetClientPlan(ratelimit.WildcardIP, p)
	s.log.Info("admin", "wildcard plan updated", map[string]any{
		"requests": p.Requests,
		"window_s": p.WindowSeconds,
	})
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteWildcardPlan(w http.ResponseWriter, _ *http.Request) {
	if !s.limiter.DeleteClientPlan(ratelimit.WildcardIP) {
		apierr.WriteHTTP(w, http.StatusNotFound, "no wildcard plan")
		return
	}
	s.log.Info("admin", "wildcard plan removed", nil)
	w.WriteHeader(http.StatusNoContent)
}

// ── Client plans ─────────────────────────────────────────────────────────────

// handleListClientPlans reports per-IP plans. The wildcard sentinel
// lives in the same map but has its own resource, so it is filtered
// out here.
func (s *Server) handleListClientPlans(w http.ResponseWriter, _ *http.Request) {
	all := s.limiter.ClientPlans()
	delete(all, ratelimit.WildcardIP)
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(all),
		"plans": all,
	})
}

func (s *Server) handleSetClientPlan(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if net.ParseIP(ip) == nil {
		apierr.WriteHTTP(w, http.StatusBadRequest, "invalid ip")
		return
	}
	p, ok := decodePlan(w, r)
	if !ok {
		return
	}
	s.limiter.SetClientPlan(ip, p)
	s.log.Info("admin", "client plan updated", map[string]any{
		"ip":       ip,
		"requests": p.Requests,
		"window_s": p.WindowSeconds,
	})
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteClientPlan(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if !s.limiter.DeleteClientPlan(ip) {
		apierr.WriteHTTP(w, http.StatusNotFound, "no plan for "+ip)
		return
	}
	s.log.Info("admin", "client plan removed", map[string]any{"ip": ip})
	w.WriteHeader(http.StatusNoContent)
}
