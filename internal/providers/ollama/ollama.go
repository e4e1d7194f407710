// Package ollama adapts canonical chat requests to a local Ollama
// server. Ollama needs no API key, and local models run slowly, so the
// client gets a longer timeout than the hosted vendors.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const (
	providerName = "ollama"
	maxErrorBody = 4096
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model           string       `json:"model"`
	Message         *chatMessage `json:"message,omitempty"`
	Done            bool         `json:"done"`
	PromptEvalCount int          `json:"prompt_eval_count"`
	EvalCount       int          `json:"eval_count"`
	Error           string       `json:"error,omitempty"`
}

type Provider struct {
	source providers.ConfigSource
	client *http.Client
}

type Option func(*Provider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

func New(source providers.ConfigSource, opts ...Option) *Provider {
	p := &Provider{
		source: source,
		client: providers.NewHTTPClient(providers.OllamaTimeout),
	}

	for _, o := range opts {
		o(p)
	}

	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) HealthCheck(ctx context.Context) error {
	cfg, ok := p.source.ProviderConfig(providerName)
	if !ok {
		return providers.NotConfigured(providerName)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: health check: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: health check: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ChatResponse, error) {
	cfg, ok := p.source.ProviderConfig(providerName)
	if !ok {
		return nil, providers.NotConfigured(providerName)
	}

	body, err := buildRequest(cfg.Model, req)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, providers.TransportError(providerName, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}
	return handleResponse(cfg.Model, resp)
}

func buildRequest(model string, req *providers.ProxyRequest) ([]byte, error) {
	msgs := make([]chatMessage, 0, 2)
	if sys := req.OutboundSystem(); sys != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: sys})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.OutboundUser()})

	data, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}

func handleResponse(model string, resp *http.Response) (*providers.ChatResponse, error) {
	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, providers.DecodeError(providerName, err)
	}

	content := ""
	if cr.Message != nil {
		content = cr.Message.Content
	}
	if cr.Model != "" {
		model = cr.Model
	}

	return providers.NewResponse(model, content, providers.Usage{
		PromptTokens:     cr.PromptEvalCount,
		CompletionTokens: cr.EvalCount,
	}), nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	perr := providers.HTTPError(providerName, resp.StatusCode, string(body))
	var cr chatResponse
	if json.Unmarshal(body, &cr) == nil && cr.Error != "" {
		perr.Message = cr.Error
	}
	return perr
}
