package providers

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for analytics and HTTP mapping. Upstream HTTP
// failures use the dynamic "HTTP_<status>" form produced by HTTPKind.
type Kind string

const (
	KindBadRequest    Kind = "BadRequest"
	KindNotConfigured Kind = "ProviderNotConfigured"
	KindInvalidConfig Kind = "InvalidConfig"
	KindTransport     Kind = "TransportError"
	KindDecode        Kind = "DecodeError"
	KindGuardrails    Kind = "GuardrailsCheckFailed"
	KindRateLimited   Kind = "RateLimitExceeded"
	KindCancelled     Kind = "Cancelled"
	KindAllFailed     Kind = "AllProvidersFailed"
)

// HTTPKind returns the kind for an upstream HTTP status.
func HTTPKind(status int) Kind {
	return Kind(fmt.Sprintf("HTTP_%d", status))
}

// Error is the typed failure produced anywhere along the dispatch path.
// StatusCode and Body are set only for upstream HTTP failures.
type Error struct {
	Kind       Kind
	Provider   string
	Message    string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix = e.Provider + ": " + prefix
	}
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status=%d)", prefix, e.Message, e.StatusCode)
	case e.Message != "":
		return prefix + ": " + e.Message
	case e.Err != nil:
		return prefix + ": " + e.Err.Error()
	default:
		return prefix
	}
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus implements StatusCoder with the upstream status, so the
// ingress can preserve it in the error body.
func (e *Error) HTTPStatus() int { return e.StatusCode }

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// BadRequest builds a client-input validation error.
func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

// NotConfigured reports a provider slot without an endpoint.
func NotConfigured(provider string) *Error {
	return &Error{Kind: KindNotConfigured, Provider: provider, Message: "provider is not configured"}
}

// MissingAPIKey reports a configured slot whose key is required but empty.
func MissingAPIKey(provider string) *Error {
	return &Error{Kind: KindInvalidConfig, Provider: provider, Message: "no API key configured"}
}

// HTTPError wraps a non-2xx upstream response. body is truncated by the
// adapters before it gets here.
func HTTPError(provider string, status int, body string) *Error {
	return &Error{
		Kind:       HTTPKind(status),
		Provider:   provider,
		Message:    fmt.Sprintf("upstream returned status %d", status),
		StatusCode: status,
		Body:       body,
	}
}

// TransportError wraps a failed HTTP round trip. Context cancellation and
// deadline expiry keep their own kinds so analytics can tell them apart.
func TransportError(provider string, err error) *Error {
	kind := KindTransport
	if errors.Is(err, context.Canceled) {
		kind = KindCancelled
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// DecodeError wraps an unparsable upstream body.
func DecodeError(provider string, err error) *Error {
	return &Error{Kind: KindDecode, Provider: provider, Err: err}
}

// GuardrailsError marks a response rejected by the guardrails filter.
func GuardrailsError(provider string, err error) *Error {
	return &Error{Kind: KindGuardrails, Provider: provider, Err: err}
}

// KindOf extracts the analytics kind from any error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	return Kind("Unknown")
}

// Retryable reports whether a failed attempt may be retried on another
// provider. Guardrail rejections and client cancellation never fail over.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindGuardrails, KindCancelled, KindBadRequest:
		return false
	}
	return true
}
