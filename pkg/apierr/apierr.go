// Package apierr writes the gateway's JSON error bodies.
//
// Every error surface uses the flat envelope {"error": "<message>"}. Rate
// limit denials extend it with the limiter decision and mirror the values
// in RateLimit-* response headers.
package apierr

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/valyala/fasthttp"
)

type envelope struct {
	Error string `json:"error"`
}

type rateLimitBody struct {
	Error     string `json:"error"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Reset     int    `json:"reset"`
	PlanType  string `json:"planType"`
}

// Write sends the flat error envelope with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: message})
	ctx.SetBody(body)
}

// WriteRateLimited sends the 429 with the limiter decision in both the body
// and the RateLimit-* headers.
func WriteRateLimited(ctx *fasthttp.RequestCtx, limit, remaining, reset int, planType string) {
	ctx.Response.Header.Set("RateLimit-Limit", strconv.Itoa(limit))
	ctx.Response.Header.Set("RateLimit-Remaining", strconv.Itoa(remaining))
	ctx.Response.Header.Set("RateLimit-Reset", strconv.Itoa(reset))
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(reset))

	ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(rateLimitBody{
		Error:     "rate limit exceeded",
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
		PlanType:  planType,
	})
	ctx.SetBody(body)
}

// WriteHTTP sends the flat error envelope on a net/http response; the admin
// server uses this.
func WriteHTTP(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: message})
}
