package apierr

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/valyala/fasthttp"
)

func TestWriteFlatEnvelope(t *testing.T) {
	var ctx fasthttp.RequestCtx
	Write(&ctx, fasthttp.StatusBadRequest, "messages must contain exactly one user message")

	if got := ctx.Response.StatusCode(); got != fasthttp.StatusBadRequest {
		t.Errorf("status = %d, want 400", got)
	}
	if ct := string(ctx.Response.Header.ContentType()); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(body) != 1 || body["error"] != "messages must contain exactly one user message" {
		t.Errorf("body = %v, want flat {error}", body)
	}
}

func TestWriteRateLimitedHeadersAndBody(t *testing.T) {
	var ctx fasthttp.RequestCtx
	WriteRateLimited(&ctx, 2, 0, 42, "wildcard")

	if got := ctx.Response.StatusCode(); got != fasthttp.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", got)
	}
	for header, want := range map[string]string{
		"RateLimit-Limit":     "2",
		"RateLimit-Remaining": "0",
		"RateLimit-Reset":     "42",
		"Retry-After":         "42",
	} {
		if got := string(ctx.Response.Header.Peek(header)); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	var body struct {
		Error     string `json:"error"`
		Limit     int    `json:"limit"`
		Remaining int    `json:"remaining"`
		Reset     int    `json:"reset"`
		PlanType  string `json:"planType"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Error != "rate limit exceeded" || body.Limit != 2 || body.Reset != 42 || body.PlanType != "wildcard" {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, 404, "route not found")

	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["error"] != "route not found" {
		t.Errorf("body = %v", body)
	}
}
