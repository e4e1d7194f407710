package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

type staticSource map[string]providers.Config

func (s staticSource) ProviderConfig(name string) (providers.Config, bool) {
	cfg, ok := s[name]
	return cfg, ok && cfg.Configured()
}

func newTestProvider(srv *httptest.Server) *Provider {
	return New(staticSource{
		"openai": {APIKey: "mock-api-key", Model: "gpt-4o-mini", Endpoint: srv.URL},
	})
}

func baseRequest() *providers.ProxyRequest {
	return &providers.ProxyRequest{
		Messages:    []providers.Message{{Role: "user", Content: "Hello"}},
		Temperature: 0.7,
		MaxTokens:   1000,
		RequestID:   "req-mock-1",
	}
}

func TestProvider_Name(t *testing.T) {
	p := New(staticSource{})
	if p.Name() != "openai" {
		t.Fatalf("expected 'openai', got %q", p.Name())
	}
}

func TestProvider_Request_Success(t *testing.T) {
	responseBody := chatResponse{
		ID:    "cmpl-upstream-123",
		Model: "gpt-4o-mini-2024",
		Choices: []choice{
			{Message: &chatMessage{Role: "assistant", Content: "Hi there!"}, FinishReason: "stop"},
		},
		Usage: usage{PromptTokens: 8, CompletionTokens: 4},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected path /v1/chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer mock-api-key" {
			t.Errorf("missing or wrong Authorization header: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}

		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if body.Model != "gpt-4o-mini" {
			t.Errorf("expected model 'gpt-4o-mini', got %q", body.Model)
		}
		if body.Temperature != 0.7 {
			t.Errorf("expected temperature 0.7, got %v", body.Temperature)
		}
		if body.MaxTokens != 1000 {
			t.Errorf("expected max_tokens 1000, got %d", body.MaxTokens)
		}
		if len(body.Messages) != 1 || body.Messages[0].Role != "user" || body.Messages[0].Content != "Hello" {
			t.Errorf("unexpected messages: %v", body.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(responseBody)
	}))
	defer srv.Close()

	p := newTestProvider(srv)
	resp, err := p.Request(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Errorf("expected gateway-minted id, got %q", resp.ID)
	}
	if resp.Model != "gpt-4o-mini-2024" {
		t.Errorf("expected upstream model echo, got %q", resp.Model)
	}
	if resp.Text() != "Hi there!" {
		t.Errorf("expected content 'Hi there!', got %q", resp.Text())
	}
	if resp.Usage.PromptTokens != 8 || resp.Usage.CompletionTokens != 4 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("expected total tokens 12, got %d", resp.Usage.TotalTokens)
	}
}

func TestProvider_Request_MergesSystemPrompts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if len(body.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(body.Messages))
		}
		if body.Messages[0].Role != "system" || body.Messages[0].Content != "You are helpful. Respond tersely." {
			t.Errorf("unexpected system message: %+v", body.Messages[0])
		}
		if body.Messages[1].Role != "user" || body.Messages[1].Content != "Hello" {
			t.Errorf("unexpected user message: %+v", body.Messages[1])
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []choice{{Message: &chatMessage{Role: "assistant", Content: "ok"}}},
		})
	}))
	defer srv.Close()

	req := baseRequest()
	req.Messages = []providers.Message{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "Hello"},
	}
	req.SystemPrompt = "Respond tersely."

	p := newTestProvider(srv)
	if _, err := p.Request(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProvider_Request_NotConfigured(t *testing.T) {
	p := New(staticSource{})
	_, err := p.Request(context.Background(), baseRequest())
	if providers.KindOf(err) != providers.KindNotConfigured {
		t.Fatalf("expected ProviderNotConfigured, got %v", err)
	}
}

func TestProvider_Request_MissingAPIKey(t *testing.T) {
	p := New(staticSource{
		"openai": {Model: "gpt-4o-mini", Endpoint: "http://localhost:19001"},
	})
	_, err := p.Request(context.Background(), baseRequest())
	if providers.KindOf(err) != providers.KindInvalidConfig {
		t.Fatalf("expected InvalidConfig, got %v", err)
	}
}

func TestProvider_Request_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(chatResponse{
			Error: &apiErr{Message: "Rate limit exceeded", Type: "rate_limit_error"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(srv)
	_, err := p.Request(context.Background(), baseRequest())
	if err == nil {
		t.Fatal("expected error for 429, got nil")
	}

	var perr *providers.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *providers.Error, got %T: %v", err, err)
	}
	if perr.Kind != providers.HTTPKind(429) {
		t.Errorf("expected kind HTTP_429, got %q", perr.Kind)
	}
	if perr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", perr.StatusCode)
	}
	if perr.Message != "Rate limit exceeded" {
		t.Errorf("expected upstream message, got %q", perr.Message)
	}
	if !strings.Contains(perr.Body, "rate_limit_error") {
		t.Errorf("expected raw body preserved, got %q", perr.Body)
	}
}

func TestProvider_Request_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p := newTestProvider(srv)
	_, err := p.Request(context.Background(), baseRequest())
	if providers.KindOf(err) != providers.KindDecode {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestProvider_Request_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestProvider(srv)
	_, err := p.Request(ctx, baseRequest())
	if providers.KindOf(err) != providers.KindCancelled {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestProvider_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/v1/models" {
			t.Errorf("expected path /v1/models, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer mock-api-key" {
			t.Errorf("missing or wrong Authorization header: %s", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestProvider(srv)
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProvider_HealthCheck_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newTestProvider(srv)
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error for 401, got nil")
	}
}
