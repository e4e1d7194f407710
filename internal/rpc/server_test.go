package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nulpointcorp/ai-gateway/internal/analytics"
	"github.com/nulpointcorp/ai-gateway/internal/cache"
	"github.com/nulpointcorp/ai-gateway/internal/config"
	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/proxy"
)

// --- helpers ----------------------------------------------------------------

// funcProvider adapts a plain function to the Provider interface.
type funcProvider struct {
	name string
	fn   func(ctx context.Context, req *providers.ProxyRequest) (*providers.ChatResponse, error)
}

func (p *funcProvider) Name() string { return p.name }

func (p *funcProvider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ChatResponse, error) {
	return p.fn(ctx, req)
}

func (p *funcProvider) HealthCheck(context.Context) error { return nil }

func okProvider(name, text string) *funcProvider {
	return &funcProvider{
		name: name,
		fn: func(_ context.Context, _ *providers.ProxyRequest) (*providers.ChatResponse, error) {
			return providers.NewResponse("model-"+name, text, providers.Usage{PromptTokens: 10, CompletionTokens: 5}), nil
		},
	}
}

func failingProvider(name string, err error) *funcProvider {
	return &funcProvider{
		name: name,
		fn: func(_ context.Context, _ *providers.ProxyRequest) (*providers.ChatResponse, error) {
			return nil, err
		},
	}
}

// rpcFixture is a served Server plus a client connection into it.
type rpcFixture struct {
	srv   *Server
	store *config.Store
	stats *analytics.Analytics
	conn  *grpc.ClientConn
}

// newFixture builds a gateway with the named slots configured, serves
// it over bufconn, and dials it with the JSON content-subtype.
func newFixture(t *testing.T, provs map[string]providers.Provider, configured []string, mod func(*proxy.Options)) *rpcFixture {
	t.Helper()

	slots := make(map[string]providers.Config, len(configured))
	for _, name := range configured {
		slots[name] = providers.Config{
			APIKey:   "mock-api-key",
			Model:    "model-" + name,
			Endpoint: "http://" + name + ".test",
		}
	}
	store := config.NewStore(&config.Config{
		SystemPrompt: "Respond tersely.",
		Providers:    slots,
	})
	stats := analytics.New()

	opts := proxy.Options{
		Store:     store,
		Providers: provs,
		Analytics: stats,
		Logger:    logger.New(io.Discard, false),
		Version:   "test",
	}
	if mod != nil {
		mod(&opts)
	}

	srv := New(Options{
		Gateway:   proxy.NewGateway(opts),
		Analytics: stats,
		Logger:    logger.New(io.Discard, false),
	})

	lis := bufconn.Listen(1 << 20)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(lis) }()
	t.Cleanup(func() {
		srv.GracefulStop()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		t.Fatalf("grpc client: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &rpcFixture{srv: srv, store: store, stats: stats, conn: conn}
}

func (f *rpcFixture) invoke(t *testing.T, in *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out ChatCompletionResponse
	if err := f.conn.Invoke(ctx, ChatCompletionMethod, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func userMessages(text string) []Message {
	return []Message{{Role: "user", Content: text}}
}

// --- tests ------------------------------------------------------------------

func TestChatCompletionServed(t *testing.T) {
	var got atomic.Pointer[providers.ProxyRequest]
	prov := &funcProvider{
		name: "openai",
		fn: func(_ context.Context, req *providers.ProxyRequest) (*providers.ChatResponse, error) {
			got.Store(req)
			return providers.NewResponse("model-openai", "pong", providers.Usage{PromptTokens: 10, CompletionTokens: 5}), nil
		},
	}
	f := newFixture(t, map[string]providers.Provider{"openai": prov}, []string{"openai"}, nil)

	out, err := f.invoke(t, &ChatCompletionRequest{
		LLMProvider: "openai",
		Messages:    userMessages("ping"),
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if !strings.HasPrefix(out.ID, "chatcmpl-") {
		t.Errorf("id = %q, want chatcmpl- prefix", out.ID)
	}
	if out.Object != providers.ObjectChatCompletion {
		t.Errorf("object = %q", out.Object)
	}
	if out.Model != "model-openai" {
		t.Errorf("model = %q", out.Model)
	}
	if len(out.Choices) != 1 || out.Choices[0].Message.Content != "pong" {
		t.Fatalf("choices = %+v", out.Choices)
	}
	if out.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q", out.Choices[0].FinishReason)
	}
	if out.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", out.Usage.TotalTokens)
	}

	// The adapter must see the same normalized request HTTP dispatch
	// produces: defaults applied, system prompt from the store.
	req := got.Load()
	if req == nil {
		t.Fatal("provider never called")
	}
	if req.Temperature != providers.DefaultTemperature {
		t.Errorf("temperature = %v, want default", req.Temperature)
	}
	if req.MaxTokens != providers.DefaultMaxTokens {
		t.Errorf("max tokens = %d, want default", req.MaxTokens)
	}
	if req.SystemPrompt != "Respond tersely." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if req.RequestID == "" {
		t.Error("request id not minted")
	}

	snap := f.stats.Snapshot()
	if snap.SuccessfulRequests != 1 || snap.RequestsByProvider["openai"] != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestChatCompletionExplicitParams(t *testing.T) {
	var got atomic.Pointer[providers.ProxyRequest]
	prov := &funcProvider{
		name: "mistral",
		fn: func(_ context.Context, req *providers.ProxyRequest) (*providers.ChatResponse, error) {
			got.Store(req)
			return providers.NewResponse("model-mistral", "ok", providers.Usage{}), nil
		},
	}
	f := newFixture(t, map[string]providers.Provider{"mistral": prov}, []string{"mistral"}, nil)

	if _, err := f.invoke(t, &ChatCompletionRequest{
		LLMProvider: "mistral",
		Messages:    userMessages("ping"),
		Temperature: 0.2,
		MaxTokens:   64,
	}); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	req := got.Load()
	if req.Temperature != 0.2 || req.MaxTokens != 64 {
		t.Errorf("forwarded params = (%v, %d), want (0.2, 64)", req.Temperature, req.MaxTokens)
	}
}

func TestChatCompletionValidationErrors(t *testing.T) {
	f := newFixture(t, map[string]providers.Provider{"openai": okProvider("openai", "pong")}, []string{"openai"}, nil)

	cases := []struct {
		name string
		in   *ChatCompletionRequest
		want string
	}{
		{
			name: "missing provider",
			in:   &ChatCompletionRequest{Messages: userMessages("hi")},
			want: "llm_provider is required",
		},
		{
			name: "unknown provider",
			in:   &ChatCompletionRequest{LLMProvider: "aws", Messages: userMessages("hi")},
			want: `unknown provider "aws"`,
		},
		{
			name: "no messages",
			in:   &ChatCompletionRequest{LLMProvider: "openai"},
			want: "messages must not be empty",
		},
		{
			name: "two user messages",
			in: &ChatCompletionRequest{
				LLMProvider: "openai",
				Messages: []Message{
					{Role: "user", Content: "one"},
					{Role: "user", Content: "two"},
				},
			},
			want: "exactly one user message is required",
		},
		{
			name: "unknown role",
			in: &ChatCompletionRequest{
				LLMProvider: "openai",
				Messages:    []Message{{Role: "tool", Content: "x"}},
			},
			want: "unknown message role",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.invoke(t, tc.in)
			st, ok := status.FromError(err)
			if !ok {
				t.Fatalf("err = %v, want a status error", err)
			}
			if st.Code() != codes.InvalidArgument {
				t.Fatalf("code = %v, want InvalidArgument", st.Code())
			}
			if !strings.Contains(st.Message(), tc.want) {
				t.Errorf("message = %q, want substring %q", st.Message(), tc.want)
			}
		})
	}

	snap := f.stats.Snapshot()
	if snap.FailedRequests != int64(len(cases)) {
		t.Errorf("failed requests = %d, want %d", snap.FailedRequests, len(cases))
	}
	if snap.ErrorsByType[string(providers.KindBadRequest)] != int64(len(cases)) {
		t.Errorf("errors by type = %+v", snap.ErrorsByType)
	}
}

func TestChatCompletionUnconfiguredProvider(t *testing.T) {
	f := newFixture(t, map[string]providers.Provider{
		"openai":    okProvider("openai", "pong"),
		"anthropic": okProvider("anthropic", "pong"),
	}, []string{"openai"}, nil)

	_, err := f.invoke(t, &ChatCompletionRequest{
		LLMProvider: "anthropic",
		Messages:    userMessages("hi"),
	})
	if got := status.Code(err); got != codes.FailedPrecondition {
		t.Fatalf("code = %v, want FailedPrecondition (err %v)", got, err)
	}
	if msg := status.Convert(err).Message(); !strings.Contains(msg, "not configured") {
		t.Errorf("message = %q", msg)
	}
}

func TestChatCompletionUpstreamFailure(t *testing.T) {
	f := newFixture(t, map[string]providers.Provider{
		"openai": failingProvider("openai", providers.HTTPError("openai", 500, "boom")),
	}, []string{"openai"}, nil)

	_, err := f.invoke(t, &ChatCompletionRequest{
		LLMProvider: "openai",
		Messages:    userMessages("hi"),
	})
	if got := status.Code(err); got != codes.Unavailable {
		t.Fatalf("code = %v, want Unavailable (err %v)", got, err)
	}
	if msg := status.Convert(err).Message(); !strings.Contains(msg, "status=500") {
		t.Errorf("message = %q, want upstream status preserved", msg)
	}
}

func TestChatCompletionFailsOver(t *testing.T) {
	f := newFixture(t, map[string]providers.Provider{
		"openai":    failingProvider("openai", providers.HTTPError("openai", 502, "down")),
		"anthropic": okProvider("anthropic", "rescued"),
	}, []string{"openai", "anthropic"}, nil)

	out, err := f.invoke(t, &ChatCompletionRequest{
		LLMProvider: "openai",
		Messages:    userMessages("hi"),
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Model != "model-anthropic" {
		t.Errorf("model = %q, want the failover target", out.Model)
	}
	if out.Choices[0].Message.Content != "rescued" {
		t.Errorf("content = %q", out.Choices[0].Message.Content)
	}
}

func TestChatCompletionBypassesCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cs := cache.NewStore(ctx, time.Hour, 0)
	t.Cleanup(cs.Close)

	var calls atomic.Int64
	prov := &funcProvider{
		name: "openai",
		fn: func(_ context.Context, _ *providers.ProxyRequest) (*providers.ChatResponse, error) {
			calls.Add(1)
			return providers.NewResponse("model-openai", "pong", providers.Usage{}), nil
		},
	}
	f := newFixture(t, map[string]providers.Provider{"openai": prov}, []string{"openai"}, func(o *proxy.Options) {
		o.Cache = cs
	})

	in := &ChatCompletionRequest{LLMProvider: "openai", Messages: userMessages("ping")}
	for range 2 {
		if _, err := f.invoke(t, in); err != nil {
			t.Fatalf("invoke: %v", err)
		}
	}

	if n := calls.Load(); n != 2 {
		t.Errorf("provider calls = %d, want 2 (no caching)", n)
	}
	if cs.Len() != 0 {
		t.Errorf("cache entries = %d, want 0", cs.Len())
	}
	snap := f.stats.Snapshot()
	if snap.CacheHits != 0 || snap.CacheMisses != 0 {
		t.Errorf("cache counters = %d/%d, want untouched", snap.CacheHits, snap.CacheMisses)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"bad request", providers.BadRequest("messages must not be empty"), codes.InvalidArgument},
		{"not configured", providers.NotConfigured("gemini"), codes.FailedPrecondition},
		{"missing key", providers.MissingAPIKey("openai"), codes.FailedPrecondition},
		{"cancelled", providers.TransportError("openai", context.Canceled), codes.Canceled},
		{"bare cancellation", context.Canceled, codes.Canceled},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"wrapped deadline", providers.TransportError("openai", context.DeadlineExceeded), codes.DeadlineExceeded},
		{"upstream status", providers.HTTPError("openai", 500, "boom"), codes.Unavailable},
		{"guardrails", providers.GuardrailsError("openai", errors.New("response too short")), codes.Unavailable},
		{"untyped", errors.New("connection reset"), codes.Unavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := status.Code(statusFromError(tc.err)); got != tc.want {
				t.Errorf("code = %v, want %v", got, tc.want)
			}
		})
	}
}
