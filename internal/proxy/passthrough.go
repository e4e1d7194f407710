package proxy

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-gateway/pkg/apierr"
)

// passthroughTimeout bounds one forwarded round trip.
const passthroughTimeout = 30 * time.Second

// Route is one passthrough target: requests to /{name}/... are
// forwarded to the upstream base URL with the remaining path appended.
type Route struct {
	Name     string `json:"name"`
	Upstream string `json:"upstream"`
}

// RouteTable is the concurrent registry behind the passthrough surface.
// The admin API mutates it at runtime.
type RouteTable struct {
	mu     sync.RWMutex
	routes map[string]Route
}

func NewRouteTable() *RouteTable {
	return &RouteTable{routes: make(map[string]Route)}
}

// Set validates and upserts a route.
func (t *RouteTable) Set(r Route) error {
	if r.Name == "" || strings.ContainsAny(r.Name, "/ ") {
		return fmt.Errorf("invalid route name %q", r.Name)
	}
	u, err := url.Parse(r.Upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream %q (need scheme://host)", r.Upstream)
	}
	t.mu.Lock()
	t.routes[r.Name] = r
	t.mu.Unlock()
	return nil
}

// Get returns the route for name.
func (t *RouteTable) Get(name string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[name]
	return r, ok
}

// Delete removes a route and reports whether it existed.
func (t *RouteTable) Delete(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.routes[name]
	delete(t.routes, name)
	return ok
}

// List returns all routes sorted by name.
func (t *RouteTable) List() []Route {
	t.mu.RLock()
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// handlePassthrough forwards a request whose first path segment matches
// a registered route. Each route has its own circuit breaker; an open
// breaker answers 503 without touching the upstream.
func (g *Gateway) handlePassthrough(ctx *fasthttp.RequestCtx) {
	name, rest := splitServicePath(string(ctx.Path()))
	route, ok := g.routes.Get(name)
	if !ok {
		apierr.Write(ctx, fasthttp.StatusNotFound, "not found")
		return
	}
	if !g.breakers.Allow(route.Name) {
		g.log.Warn("passthrough", "circuit open", map[string]any{
			"request_id": requestIDFrom(ctx),
			"service":    route.Name,
		})
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable, "service "+route.Name+" temporarily unavailable")
		return
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	ctx.Request.CopyTo(req)
	target := strings.TrimSuffix(route.Upstream, "/") + rest
	if qs := ctx.QueryArgs().QueryString(); len(qs) > 0 {
		target += "?" + string(qs)
	}
	req.SetRequestURI(target)
	req.Header.SetHost(string(req.URI().Host()))

	if err := g.upstream.DoTimeout(req, resp, passthroughTimeout); err != nil {
		g.breakers.RecordFailure(route.Name)
		g.log.Warn("passthrough", "upstream request failed", map[string]any{
			"request_id": requestIDFrom(ctx),
			"service":    route.Name,
			"target":     target,
			"error":      err.Error(),
		})
		apierr.Write(ctx, fasthttp.StatusBadGateway, "upstream request failed: "+err.Error())
		return
	}

	if resp.StatusCode() >= fasthttp.StatusInternalServerError {
		g.breakers.RecordFailure(route.Name)
	} else {
		g.breakers.RecordSuccess(route.Name)
	}
	resp.CopyTo(&ctx.Response)
}

// splitServicePath splits "/svc/a/b" into ("svc", "/a/b").
func splitServicePath(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/")
	name, rest, found := strings.Cut(trimmed, "/")
	if !found {
		return name, "/"
	}
	return name, "/" + rest
}
