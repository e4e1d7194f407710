// Package cohere adapts canonical chat requests to the Cohere chat API.
// Cohere separates the live turn from prior context: the user prompt goes
// in the message field, the merged system prompt in preamble, and every
// other canonical message in chat_history with uppercased vendor roles.
package cohere

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
	providerName = "cohere"
	maxErrorBody = 4096
)

type chatRequest struct {
	Model       string        `json:"model"`
	Message     string        `json:"message"`
	ChatHistory []historyTurn `json:"chat_history,omitempty"`
	Preamble    string        `json:"preamble,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type historyTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type chatResponse struct {
	Text         string `json:"text"`
	GenerationID string `json:"generation_id"`
	Meta         meta   `json:"meta"`
}

type meta struct {
	Tokens tokens `json:"tokens"`
}

type tokens struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiErr struct {
	Message string `json:"message"`
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
		client: providers.NewHTTPClient(providers.ProviderTimeout),
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

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("cohere: health check: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("cohere: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cohere: health check: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ChatResponse, error) {
	cfg, ok := p.source.ProviderConfig(providerName)
	if !ok {
		return nil, providers.NotConfigured(providerName)
	}
	if cfg.APIKey == "" {
		return nil, providers.MissingAPIKey(providerName)
	}

	body, err := buildRequest(cfg.Model, req)
	if err != nil {
		return nil, fmt.Errorf("cohere: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, providers.TransportError(providerName, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
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
	cr := chatRequest{
		Model:       model,
		Message:     req.OutboundUser(),
		Preamble:    req.OutboundSystem(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	// The first user message became the live turn; everything else keeps
	// its position in chat_history.
	seenUser := false
	for _, m := range req.Messages {
		if m.Role == "user" && !seenUser {
			seenUser = true
			continue
		}
		cr.ChatHistory = append(cr.ChatHistory, historyTurn{
			Role:    historyRole(m.Role),
			Message: m.Content,
		})
	}

	data, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}

func historyRole(role string) string {
	switch role {
	case "system":
		return "SYSTEM"
	case "assistant":
		return "CHATBOT"
	default:
		return "USER"
	}
}

func handleResponse(model string, resp *http.Response) (*providers.ChatResponse, error) {
	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, providers.DecodeError(providerName, err)
	}

	return providers.NewResponse(model, cr.Text, providers.Usage{
		PromptTokens:     cr.Meta.Tokens.InputTokens,
		CompletionTokens: cr.Meta.Tokens.OutputTokens,
	}), nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	perr := providers.HTTPError(providerName, resp.StatusCode, string(body))
	var ae apiErr
	if json.Unmarshal(body, &ae) == nil && ae.Message != "" {
		perr.Message = ae.Message
	}
	return perr
}
