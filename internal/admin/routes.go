package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nulpointcorp/ai-gateway/internal/proxy"
	"github.com/nulpointcorp/ai-gateway/pkg/apierr"
)

// routeView is a passthrough route with its live breaker state.
type routeView struct {
	Name         string `json:"name"`
	Upstream     string `json:"upstream"`
	BreakerState string `json:"breakerState"`
}

func (s *Server) handleListRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := s.routes.List()
	views := make([]routeView, 0, len(routes))
	for _, rt := range routes {
		views = append(views, routeView{
			Name:         rt.Name,
			Upstream:     rt.Upstream,
			BreakerState: s.breakers.State(rt.Name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": views})
}

func (s *Server) handleSetRoute(w http.ResponseWriter, r *http.Request) {
	var rt proxy.Route
	if !decodeJSON(w, r, &rt) {
		return
	}
	if err := s.routes.Set(rt); err != nil {
		apierr.WriteHTTP(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info("admin", "route updated", map[string]any{
		"route":    rt.Name,
		"upstream": rt.Upstream,
	})
	writeJSON(w, http.StatusOK, routeView{
		Name:         rt.Name,
		Upstream:     rt.Upstream,
		BreakerState: s.breakers.State(rt.Name),
	})
}

func (s *Server) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.routes.Delete(name) {
		apierr.WriteHTTP(w, http.StatusNotFound, "no route "+name)
		return
	}
	s.log.Info("admin", "route removed", map[string]any{"route": name})
	w.WriteHeader(http.StatusNoContent)
}
