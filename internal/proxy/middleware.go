package proxy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/pkg/apierr"
)

const requestIDKey = "request_id"

// recovery turns handler panics into a 500 so one bad request cannot
// take the listener down.
func (g *Gateway) recovery(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("http", "handler panic", map[string]any{
					"request_id": requestIDFrom(ctx),
					"path":       string(ctx.Path()),
					"panic":      fmt.Sprint(r),
				})
				apierr.Write(ctx, fasthttp.StatusInternalServerError, "internal server error")
			}
		}()
		next(ctx)
	}
}

// requestID mints a time-ordered id for every request. The id ties all
// log lines of one request together; it is never exposed to clients.
func requestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		ctx.SetUserValue(requestIDKey, id.String())
		next(ctx)
	}
}

// requestIDFrom reads the id minted by the requestID middleware.
func requestIDFrom(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue(requestIDKey).(string)
	return id
}

// rateLimit enforces the per-IP plan before any other work on the
// route. Whenever a plan applied, the limiter decision is mirrored in
// RateLimit-* response headers, on allowed responses too.
func (g *Gateway) rateLimit(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if g.limiter == nil {
			next(ctx)
			return
		}

		ip := clientIP(ctx)
		res := g.limiter.Check(ip)
		if res.PlanType != "" {
			h := &ctx.Response.Header
			h.Set("RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("RateLimit-Reset", strconv.Itoa(res.ResetSeconds))
		}
		if g.metrics != nil {
			g.metrics.RecordRateLimit(res.Allowed, res.PlanType)
		}
		if !res.Allowed {
			rid := requestIDFrom(ctx)
			g.stats.Failure("")
			g.stats.RecordError("", string(providers.KindRateLimited), "rate limit exceeded", rid)
			g.log.Warn("ratelimit", "request rejected", map[string]any{
				"request_id": rid,
				"ip":         ip,
				"plan_type":  res.PlanType,
				"reset":      res.ResetSeconds,
			})
			apierr.WriteRateLimited(ctx, res.Limit, res.Remaining, res.ResetSeconds, res.PlanType)
			return
		}
		next(ctx)
	}
}

// clientIP prefers the first hop of X-Forwarded-For over the socket
// peer, matching what the limiter keys plans on.
func clientIP(ctx *fasthttp.RequestCtx) string {
	if v := ctx.Request.Header.Peek(fasthttp.HeaderXForwardedFor); len(v) > 0 {
		first, _, _ := strings.Cut(string(v), ",")
		return strings.TrimSpace(first)
	}
	return ctx.RemoteIP().String()
}

// observe wraps a named route with in-flight and latency accounting.
func (g *Gateway) observe(route string, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if g.metrics == nil {
		return next
	}
	return func(ctx *fasthttp.RequestCtx) {
		g.metrics.IncInFlight()
		start := time.Now()
		next(ctx)
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start))
	}
}

// applyMiddleware wraps h so the first element runs outermost.
func applyMiddleware(h fasthttp.RequestHandler, mw ...func(fasthttp.RequestHandler) fasthttp.RequestHandler) fasthttp.RequestHandler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
