// Package rpc is the gRPC ingress of the gateway.
//
// It exposes a single unary method, aigateway.v1.AIGateway/ChatCompletion,
// that funnels into the same dispatch pipeline as the HTTP ingress with
// two deliberate differences: no rate limiting and no response cache.
// Every gRPC call reaches a live provider.
//
// The service runs without generated code. Messages are plain structs,
// the service descriptor is written by hand, and a JSON codec carries
// the messages on the wire; proto/aigateway.proto documents the schema.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nulpointcorp/ai-gateway/internal/analytics"
	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/proxy"
)

// Server hosts the AIGateway service on top of the shared pipeline.
type Server struct {
	gw      *proxy.Gateway
	stats   *analytics.Analytics
	metrics *metrics.Registry
	log     *logger.Logger

	grpcSrv *grpc.Server
}

// Options configures a Server. Gateway is required; everything else
// degrades gracefully when absent.
type Options struct {
	Gateway   *proxy.Gateway
	Analytics *analytics.Analytics
	Metrics   *metrics.Registry
	Logger    *logger.Logger
}

// New wires the server and registers the service. It does not start
// listening; see ListenAndServe and Serve.
func New(opts Options) *Server {
	s := &Server{
		gw:      opts.Gateway,
		stats:   opts.Analytics,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
	if s.stats == nil {
		s.stats = analytics.New()
	}
	if s.log == nil {
		s.log = logger.New(nil, false)
	}
	s.grpcSrv = grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(s.recovery, s.observe),
	)
	RegisterAIGatewayServer(s.grpcSrv, s)
	return s
}

// ChatCompletion implements AIGatewayServer. Validation mirrors the
// HTTP handler; the dispatch always bypasses the response cache.
func (s *Server) ChatCompletion(ctx context.Context, in *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	requestID := newRequestID()

	if in.LLMProvider == "" {
		return nil, s.reject(requestID, "llm_provider is required")
	}
	if !providers.Known(in.LLMProvider) {
		return nil, s.reject(requestID, "unknown provider "+strconv.Quote(in.LLMProvider))
	}
	req := in.chatRequest()
	if err := req.Validate(); err != nil {
		return nil, s.reject(requestID, err.Error())
	}

	resp, _, err := s.gw.Complete(ctx, in.LLMProvider, req, requestID, true)
	if err != nil {
		return nil, statusFromError(err)
	}
	return responseFrom(resp), nil
}

// ListenAndServe serves on addr until Stop or GracefulStop.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves on lis. A stopped server returns nil.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// GracefulStop drains in-flight calls, then stops the server.
func (s *Server) GracefulStop() { s.grpcSrv.GracefulStop() }

// Stop closes all connections immediately.
func (s *Server) Stop() { s.grpcSrv.Stop() }

// reject books a client-input failure the same way the HTTP ingress
// does and returns the InvalidArgument status.
func (s *Server) reject(requestID, msg string) error {
	s.stats.Failure("")
	s.stats.RecordError("", string(providers.KindBadRequest), msg, requestID)
	if s.metrics != nil {
		s.metrics.RecordError("", string(providers.KindBadRequest))
	}
	s.log.Warn("grpc", "request rejected", map[string]any{
		"request_id": requestID,
		"error":      msg,
	})
	return status.Error(codes.InvalidArgument, msg)
}

// statusFromError maps pipeline errors onto gRPC codes, mirroring the
// HTTP status mapping: client input InvalidArgument, unusable slot
// FailedPrecondition, cancellation Canceled, timeout DeadlineExceeded,
// anything upstream Unavailable.
func statusFromError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "upstream request timed out: "+err.Error())
	}

	var pe *providers.Error
	if !errors.As(err, &pe) {
		if errors.Is(err, context.Canceled) {
			return status.Error(codes.Canceled, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	}

	switch pe.Kind {
	case providers.KindBadRequest:
		return status.Error(codes.InvalidArgument, pe.Error())
	case providers.KindNotConfigured, providers.KindInvalidConfig:
		return status.Error(codes.FailedPrecondition, pe.Error())
	case providers.KindCancelled:
		return status.Error(codes.Canceled, pe.Error())
	default:
		return status.Error(codes.Unavailable, pe.Error())
	}
}

// newRequestID mints the same time-ordered id the HTTP middleware uses.
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// recovery turns a handler panic into Internal instead of tearing down
// the transport.
func (s *Server) recovery(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("grpc", "handler panic", map[string]any{
				"method": info.FullMethod,
				"panic":  fmt.Sprint(r),
			})
			resp = nil
			err = status.Error(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}

// observe logs one line per call at debug level.
func (s *Server) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug("grpc", "request", map[string]any{
		"method":     info.FullMethod,
		"code":       status.Code(err).String(),
		"latency_ms": time.Since(start).Milliseconds(),
	})
	return resp, err
}
