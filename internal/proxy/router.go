package proxy

import (
	"net"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

const (
	serverReadTimeout  = 60 * time.Second
	serverWriteTimeout = 60 * time.Second
)

// Handler builds the public ingress: the chat endpoint, liveness, and a
// catch-all that forwards unknown paths through the passthrough table.
// Rate limiting applies to the chat route only.
func (g *Gateway) Handler() fasthttp.RequestHandler {
	r := router.New()
	r.POST("/v1/chat/completions", g.observe("chat_completions", g.rateLimit(g.handleChatCompletions)))
	r.GET("/health", g.observe("health", g.handleHealth))
	r.NotFound = g.observe("passthrough", g.handlePassthrough)
	return applyMiddleware(r.Handler, g.recovery, requestID)
}

func (g *Gateway) server() *fasthttp.Server {
	if g.srv == nil {
		g.srv = &fasthttp.Server{
			Handler:      g.Handler(),
			Name:         "ai-gateway/" + g.version,
			ReadTimeout:  serverReadTimeout,
			WriteTimeout: serverWriteTimeout,
		}
	}
	return g.srv
}

// ListenAndServe blocks serving the public ingress on addr.
func (g *Gateway) ListenAndServe(addr string) error {
	return g.server().ListenAndServe(addr)
}

// Serve blocks serving the ingress on an existing listener. Tests use
// it with in-memory listeners.
func (g *Gateway) Serve(ln net.Listener) error {
	return g.server().Serve(ln)
}

// Shutdown drains in-flight requests and stops the health checker.
func (g *Gateway) Shutdown() error {
	if g.health != nil {
		g.health.Close()
	}
	if g.srv == nil {
		return nil
	}
	return g.srv.Shutdown()
}
