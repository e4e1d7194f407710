// Package anthropic adapts canonical chat requests to the Anthropic
// messages API. The merged system prompt travels as a synthetic system
// role inside the messages array rather than the vendor's top-level
// system field, so all adapters share one body-building convention.
package anthropic

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
	providerName  = "anthropic"
	versionHeader = "2023-06-01"
	maxErrorBody  = 4096
)

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
		return fmt.Errorf("anthropic: health check: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("anthropic-version", versionHeader)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("anthropic: health check: status %d", resp.StatusCode)
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
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, providers.TransportError(providerName, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	httpReq.Header.Set("anthropic-version", versionHeader)
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
	msgs := make([]apiMessage, 0, 2)
	if sys := req.OutboundSystem(); sys != "" {
		msgs = append(msgs, apiMessage{Role: "system", Content: sys})
	}
	msgs = append(msgs, apiMessage{Role: "user", Content: req.OutboundUser()})

	data, err := json.Marshal(messagesRequest{
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
	var mr messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, providers.DecodeError(providerName, err)
	}

	content := ""
	if len(mr.Content) > 0 {
		content = mr.Content[0].Text
	}
	if mr.Model != "" {
		model = mr.Model
	}

	return providers.NewResponse(model, content, providers.Usage{
		PromptTokens:     mr.Usage.InputTokens,
		CompletionTokens: mr.Usage.OutputTokens,
	}), nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	perr := providers.HTTPError(providerName, resp.StatusCode, string(body))
	var mr messagesResponse
	if json.Unmarshal(body, &mr) == nil && mr.Error != nil && mr.Error.Message != "" {
		perr.Message = mr.Error.Message
	}
	return perr
}
