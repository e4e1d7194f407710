// Package providers defines the canonical request/response model shared by
// all LLM provider adapters (OpenAI, Anthropic, Gemini, Ollama, Mistral,
// Cohere) and the Provider interface each adapter implements.
//
// The canonical shapes follow the OpenAI chat-completion contract. Adapters
// translate them to the vendor wire format and back; everything upstream of
// the adapters (dispatcher, cache, ingress) speaks only these types.
package providers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Defaults applied during request normalization and the shared vendor
// HTTP client timeouts.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000

	ProviderTimeout = 30 * time.Second
	OllamaTimeout   = 60 * time.Second
)

// Names lists the provider slots in configuration order. This order is a
// documented contract: failover walks configured providers exactly in this
// sequence (primary first).
var Names = []string{"openai", "anthropic", "gemini", "ollama", "mistral", "cohere"}

// Known reports whether name is one of the six provider slots.
func Known(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

type (
	// Message is a single turn in a conversation.
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// Usage — token usage as reported by the vendor (zero when absent).
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	// Choice is one completion alternative. The gateway always emits
	// exactly one.
	Choice struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	}

	// ChatRequest — canonical client request.
	ChatRequest struct {
		Messages    []Message `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	// ChatResponse — canonical gateway response.
	ChatResponse struct {
		ID      string   `json:"id"`
		Object  string   `json:"object"`
		Created int64    `json:"created"`
		Model   string   `json:"model"`
		Choices []Choice `json:"choices"`
		Usage   Usage    `json:"usage"`
	}

	// ProxyRequest is what the dispatcher hands an adapter: the client's
	// messages plus the gateway-level system prompt to merge in, with
	// defaults already applied.
	ProxyRequest struct {
		Messages     []Message
		SystemPrompt string
		Temperature  float64
		MaxTokens    int
		RequestID    string
	}
)

// ObjectChatCompletion is the constant object field of every response.
const ObjectChatCompletion = "chat.completion"

// Validate enforces the canonical message invariants: at most one system
// message and exactly one user message with non-empty content.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return BadRequest("messages must not be empty")
	}
	var system, user int
	for _, m := range r.Messages {
		switch m.Role {
		case "system":
			system++
		case "user":
			user++
			if strings.TrimSpace(m.Content) == "" {
				return BadRequest("user message content must not be empty")
			}
		case "assistant":
			// allowed, ignored by adapters
		default:
			return BadRequest("unknown message role " + strconv.Quote(m.Role))
		}
	}
	if system > 1 {
		return BadRequest("at most one system message is allowed")
	}
	if user != 1 {
		return BadRequest("exactly one user message is required")
	}
	return nil
}

// Normalize applies the forwarding defaults in place.
func (r *ChatRequest) Normalize() {
	if r.Temperature == 0 {
		r.Temperature = DefaultTemperature
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
}

// Clone returns a copy safe to mutate independently of the receiver.
func (r *ChatResponse) Clone() *ChatResponse {
	cp := *r
	cp.Choices = make([]Choice, len(r.Choices))
	copy(cp.Choices, r.Choices)
	return &cp
}

// Text returns the assistant text of the first choice ("" when absent).
func (r *ChatResponse) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// SetText replaces the assistant text of the first choice.
func (r *ChatResponse) SetText(text string) {
	if len(r.Choices) > 0 {
		r.Choices[0].Message.Content = text
	}
}

// NewResponse builds the canonical envelope around the given assistant text.
// The id is time-ordered so responses sort by creation.
func NewResponse(model, text string, usage Usage) *ChatResponse {
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return &ChatResponse{
		ID:      NewResponseID(),
		Object:  ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: usage,
	}
}

// NewResponseID mints a gateway response id ("chatcmpl-" + ULID).
func NewResponseID() string {
	return "chatcmpl-" + ulid.Make().String()
}

// Config is one provider slot. A slot is configured iff Endpoint is
// non-empty.
type Config struct {
	APIKey   string `json:"apiKey"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
}

// Configured reports whether the slot can serve requests.
func (c Config) Configured() bool { return c.Endpoint != "" }

// ConfigSource yields the live configuration for a provider slot. The
// config store implements it; adapters consult it on every call so admin
// updates take effect without a restart.
type ConfigSource interface {
	ProviderConfig(name string) (Config, bool)
}

// Provider — one upstream LLM vendor.
type Provider interface {
	Name() string
	Request(ctx context.Context, req *ProxyRequest) (*ChatResponse, error)
	HealthCheck(ctx context.Context) error
}
