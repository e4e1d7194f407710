package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// Service identity. ChatCompletionMethod is the full method string
// clients pass to Invoke; proto/aigateway.proto documents the same
// schema for clients that prefer generated stubs.
const (
	ServiceName          = "aigateway.v1.AIGateway"
	ChatCompletionMethod = "/aigateway.v1.AIGateway/ChatCompletion"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest mirrors the HTTP chat body plus the provider
// selection the HTTP ingress carries in the x-llm-provider header.
// Zero temperature and max_tokens take the forwarding defaults, same
// as omitting them over HTTP.
type ChatCompletionRequest struct {
	LLMProvider string    `json:"llm_provider"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int32     `json:"max_tokens,omitempty"`
}

// Choice is one completion alternative. The gateway always emits
// exactly one.
type Choice struct {
	Index        int32   `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token consumption as the vendor counted it.
type Usage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CompletionTokens int32 `json:"completion_tokens"`
	TotalTokens      int32 `json:"total_tokens"`
}

// ChatCompletionResponse is the canonical completion envelope, field
// for field the same shape the HTTP ingress returns.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// chatRequest converts the wire request into the canonical form the
// dispatch pipeline understands.
func (r *ChatCompletionRequest) chatRequest() *providers.ChatRequest {
	out := &providers.ChatRequest{
		Messages:    make([]providers.Message, len(r.Messages)),
		Temperature: r.Temperature,
		MaxTokens:   int(r.MaxTokens),
	}
	for i, m := range r.Messages {
		out.Messages[i] = providers.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// responseFrom converts a canonical response into the wire shape.
func responseFrom(resp *providers.ChatResponse) *ChatCompletionResponse {
	out := &ChatCompletionResponse{
		ID:      resp.ID,
		Object:  resp.Object,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: make([]Choice, len(resp.Choices)),
		Usage: Usage{
			PromptTokens:     int32(resp.Usage.PromptTokens),
			CompletionTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:      int32(resp.Usage.TotalTokens),
		},
	}
	for i, c := range resp.Choices {
		out.Choices[i] = Choice{
			Index:        int32(c.Index),
			Message:      Message{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: c.FinishReason,
		}
	}
	return out
}

// AIGatewayServer is the service contract, shaped like the interface a
// protoc-gen-go-grpc run over proto/aigateway.proto would emit.
type AIGatewayServer interface {
	ChatCompletion(context.Context, *ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// RegisterAIGatewayServer registers impl on s under ServiceName.
func RegisterAIGatewayServer(s grpc.ServiceRegistrar, impl AIGatewayServer) {
	s.RegisterService(&aiGatewayServiceDesc, impl)
}

func chatCompletionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ChatCompletionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AIGatewayServer).ChatCompletion(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ChatCompletionMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AIGatewayServer).ChatCompletion(ctx, req.(*ChatCompletionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// aiGatewayServiceDesc is the hand-written service descriptor. It is
// what generated code would contain for a single unary method.
var aiGatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AIGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ChatCompletion",
			Handler:    chatCompletionHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/aigateway.proto",
}
