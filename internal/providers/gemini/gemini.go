// Package gemini adapts canonical chat requests to the Gemini
// OpenAI-compatibility surface. The chat verb is appended to the
// configured endpoint with a colon, Google's RPC-style URL convention.
package gemini

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
	providerName = "gemini"
	chatVerb     = ":chatCompletions"
	maxErrorBody = 4096
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
	Error   *apiErr  `json:"error,omitempty"`
}

type choice struct {
	Message      *chatMessage `json:"message,omitempty"`
	FinishReason string       `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiErr struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
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

// HealthCheck probes the bare endpoint. The compat surface has no models
// listing, so anything below 500 counts as reachable.
func (p *Provider) HealthCheck(ctx context.Context) error {
	cfg, ok := p.source.ProviderConfig(providerName)
	if !ok {
		return providers.NotConfigured(providerName)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("gemini: health check: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("gemini: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("gemini: health check: status %d", resp.StatusCode)
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
		return nil, fmt.Errorf("gemini: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint+chatVerb, bytes.NewReader(body))
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
	msgs := make([]chatMessage, 0, 2)
	if sys := req.OutboundSystem(); sys != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: sys})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.OutboundUser()})

	data, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
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
	if len(cr.Choices) > 0 && cr.Choices[0].Message != nil {
		content = cr.Choices[0].Message.Content
	}
	if cr.Model != "" {
		model = cr.Model
	}

	return providers.NewResponse(model, content, providers.Usage{
		PromptTokens:     cr.Usage.PromptTokens,
		CompletionTokens: cr.Usage.CompletionTokens,
		TotalTokens:      cr.Usage.TotalTokens,
	}), nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	perr := providers.HTTPError(providerName, resp.StatusCode, string(body))
	var cr chatResponse
	if json.Unmarshal(body, &cr) == nil && cr.Error != nil && cr.Error.Message != "" {
		perr.Message = cr.Error.Message
	}
	return perr
}
