package providers

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msgs    []Message
		wantErr string
	}{
		{
			name: "user only",
			msgs: []Message{{Role: "user", Content: "hi"}},
		},
		{
			name: "system plus user",
			msgs: []Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}},
		},
		{
			name: "assistant turns tolerated",
			msgs: []Message{
				{Role: "user", Content: "hi"},
				{Role: "assistant", Content: "hello"},
			},
		},
		{
			name:    "empty messages",
			msgs:    nil,
			wantErr: "messages must not be empty",
		},
		{
			name:    "no user message",
			msgs:    []Message{{Role: "system", Content: "be brief"}},
			wantErr: "exactly one user message",
		},
		{
			name: "two user messages",
			msgs: []Message{
				{Role: "user", Content: "a"},
				{Role: "user", Content: "b"},
			},
			wantErr: "exactly one user message",
		},
		{
			name: "two system messages",
			msgs: []Message{
				{Role: "system", Content: "a"},
				{Role: "system", Content: "b"},
				{Role: "user", Content: "hi"},
			},
			wantErr: "at most one system message",
		},
		{
			name:    "blank user content",
			msgs:    []Message{{Role: "user", Content: "   "}},
			wantErr: "must not be empty",
		},
		{
			name:    "unknown role",
			msgs:    []Message{{Role: "robot", Content: "hi"}},
			wantErr: "unknown message role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &ChatRequest{Messages: tt.msgs}
			err := req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %q, want substring %q", err, tt.wantErr)
			}
			if KindOf(err) != KindBadRequest {
				t.Fatalf("KindOf = %q, want %q", KindOf(err), KindBadRequest)
			}
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	req := &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}
	req.Normalize()
	if req.Temperature != DefaultTemperature {
		t.Errorf("Temperature = %v, want %v", req.Temperature, DefaultTemperature)
	}
	if req.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, DefaultMaxTokens)
	}

	req = &ChatRequest{Temperature: 0.2, MaxTokens: 50}
	req.Normalize()
	if req.Temperature != 0.2 || req.MaxTokens != 50 {
		t.Errorf("explicit values overwritten: %+v", req)
	}
}

func TestJoinSystem(t *testing.T) {
	tests := []struct {
		request, gateway, want string
	}{
		{"Be polite.", "Respond tersely.", "Be polite. Respond tersely."},
		{"", "Respond tersely.", "Respond tersely."},
		{"Be polite.", "", "Be polite."},
		{"", "", ""},
		{"  Be polite.  ", " Respond tersely. ", "Be polite. Respond tersely."},
	}
	for _, tt := range tests {
		if got := JoinSystem(tt.request, tt.gateway); got != tt.want {
			t.Errorf("JoinSystem(%q, %q) = %q, want %q", tt.request, tt.gateway, got, tt.want)
		}
	}
}

func TestOutboundPrompts(t *testing.T) {
	req := &ProxyRequest{
		Messages: []Message{
			{Role: "system", Content: "Be polite."},
			{Role: "user", Content: "hi"},
		},
		SystemPrompt: "Respond tersely.",
	}
	if got := req.OutboundSystem(); got != "Be polite. Respond tersely." {
		t.Errorf("OutboundSystem() = %q", got)
	}
	if got := req.OutboundUser(); got != "hi" {
		t.Errorf("OutboundUser() = %q", got)
	}
}

func TestNewResponseEnvelope(t *testing.T) {
	resp := NewResponse("gpt-4", "hello", Usage{PromptTokens: 1, CompletionTokens: 2})

	if resp.Object != ObjectChatCompletion {
		t.Errorf("Object = %q, want %q", resp.Object, ObjectChatCompletion)
	}
	if resp.ID == "" || !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Errorf("ID = %q, want chatcmpl- prefix", resp.ID)
	}
	if resp.Created <= 0 {
		t.Errorf("Created = %d, want > 0", resp.Created)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("len(Choices) = %d, want 1", len(resp.Choices))
	}
	c := resp.Choices[0]
	if c.Message.Role != "assistant" || c.Message.Content != "hello" || c.FinishReason != "stop" {
		t.Errorf("choice = %+v", c)
	}
	if resp.Usage.TotalTokens != 3 {
		t.Errorf("TotalTokens = %d, want 3", resp.Usage.TotalTokens)
	}
}

func TestResponseIDsTimeOrdered(t *testing.T) {
	a := NewResponseID()
	b := NewResponseID()
	if a >= b {
		t.Errorf("ids not increasing: %q then %q", a, b)
	}
}

func TestCloneIsolation(t *testing.T) {
	orig := NewResponse("m", "text", Usage{})
	cp := orig.Clone()
	cp.SetText("changed")
	if orig.Text() != "text" {
		t.Errorf("mutating clone changed original: %q", orig.Text())
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{BadRequest("x"), KindBadRequest},
		{NotConfigured("cohere"), KindNotConfigured},
		{MissingAPIKey("openai"), KindInvalidConfig},
		{HTTPError("openai", 503, "oops"), HTTPKind(503)},
		{TransportError("gemini", errors.New("refused")), KindTransport},
		{TransportError("gemini", context.Canceled), KindCancelled},
		{DecodeError("ollama", errors.New("bad json")), KindDecode},
		{GuardrailsError("mistral", errors.New("banned")), KindGuardrails},
		{errors.New("plain"), Kind("Unknown")},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.kind {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.kind)
		}
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(GuardrailsError("openai", errors.New("banned"))) {
		t.Error("guardrails errors must not fail over")
	}
	if Retryable(TransportError("openai", context.Canceled)) {
		t.Error("cancelled requests must not fail over")
	}
	if Retryable(BadRequest("bad")) {
		t.Error("validation errors must not fail over")
	}
	if !Retryable(HTTPError("openai", 500, "")) {
		t.Error("upstream 5xx should fail over")
	}
	if !Retryable(TransportError("openai", errors.New("refused"))) {
		t.Error("transport errors should fail over")
	}
}

func TestHTTPErrorPreservesStatusAndBody(t *testing.T) {
	err := HTTPError("anthropic", 418, `{"type":"error"}`)
	if err.HTTPStatus() != 418 {
		t.Errorf("HTTPStatus() = %d, want 418", err.HTTPStatus())
	}
	if err.Body != `{"type":"error"}` {
		t.Errorf("Body = %q", err.Body)
	}
	if !strings.Contains(err.Error(), "418") {
		t.Errorf("Error() = %q, want status in message", err.Error())
	}
}

func TestKnown(t *testing.T) {
	for _, name := range Names {
		if !Known(name) {
			t.Errorf("Known(%q) = false", name)
		}
	}
	if Known("bedrock") {
		t.Error(`Known("bedrock") = true`)
	}
}
