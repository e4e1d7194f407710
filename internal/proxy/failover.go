package proxy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// allProvidersTag is the provider label on the terminal analytics entry
// written when every failover candidate failed.
const allProvidersTag = "all-providers"

// dispatch resolves the primary slot and walks the failover candidates.
// The string result is the provider that produced the response, or the
// last one attempted when everything failed.
//
// An unconfigured primary fails immediately; failover never rescues a
// request the operator routed at a dead slot on purpose.
func (g *Gateway) dispatch(ctx context.Context, primary string, req *providers.ChatRequest, requestID string) (*providers.ChatResponse, string, error) {
	configured := g.store.ConfiguredProviders()
	if !slices.Contains(configured, primary) {
		err := providers.NotConfigured(primary)
		g.recordAttempt(primary, err, requestID, 0)
		return nil, primary, err
	}

	candidates := candidateOrder(primary, configured)
	proxyReq := &providers.ProxyRequest{
		Messages:     req.Messages,
		SystemPrompt: g.store.SystemPrompt(),
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		RequestID:    requestID,
	}

	var lastErr error
	last := primary
	attempts := 0
	for i, name := range candidates {
		prov, ok := g.providers[name]
		if !ok {
			continue
		}

		if i > 0 {
			g.log.Info("failover", "failover.Attempting", map[string]any{
				"request_id": requestID,
				"from":       primary,
				"to":         name,
			})
			if g.metrics != nil {
				g.metrics.RecordFailover(primary, name)
			}
		}

		attempts++
		attemptStart := time.Now()
		resp, err := prov.Request(ctx, proxyReq)
		if err == nil {
			if i > 0 {
				g.log.Info("failover", "failover.Successful", map[string]any{
					"request_id": requestID,
					"from":       primary,
					"to":         name,
					"latency_ms": time.Since(attemptStart).Milliseconds(),
				})
			}
			return resp, name, nil
		}

		lastErr = err
		last = name
		g.recordAttempt(name, err, requestID, time.Since(attemptStart))

		if !providers.Retryable(err) {
			return nil, last, lastErr
		}
	}

	if attempts > 1 {
		wrapped := allFailed(primary, attempts, lastErr)
		g.stats.RecordError(allProvidersTag, string(providers.KindAllFailed), wrapped.Error(), requestID)
		if g.metrics != nil {
			g.metrics.RecordError(allProvidersTag, string(providers.KindAllFailed))
			g.metrics.RecordFailoverExhausted(primary)
		}
		g.log.Error("failover", "all providers failed", map[string]any{
			"request_id": requestID,
			"primary":    primary,
			"attempts":   attempts,
			"error":      lastErr.Error(),
		})
		return nil, last, wrapped
	}
	return nil, last, lastErr
}

// candidateOrder returns the slots to try: the primary first, then every
// other configured slot in declaration order. With fewer than two
// configured slots failover is disabled and only the primary runs.
func candidateOrder(primary string, configured []string) []string {
	if len(configured) < 2 {
		return []string{primary}
	}
	out := make([]string, 0, len(configured))
	out = append(out, primary)
	for _, name := range configured {
		if name != primary {
			out = append(out, name)
		}
	}
	return out
}

// recordAttempt books one failed provider attempt in analytics, metrics,
// and the log stream.
func (g *Gateway) recordAttempt(name string, err error, requestID string, dur time.Duration) {
	kind := providers.KindOf(err)
	g.stats.RecordError(name, string(kind), err.Error(), requestID)
	if g.metrics != nil {
		g.metrics.RecordError(name, string(kind))
	}
	g.log.Warn("dispatch", "provider attempt failed", map[string]any{
		"request_id": requestID,
		"provider":   name,
		"error_type": string(kind),
		"error":      err.Error(),
		"latency_ms": dur.Milliseconds(),
	})
}

// allFailed wraps the last attempt error so callers can detect
// exhaustion while the ingress still sees the upstream status.
func allFailed(primary string, attempts int, last error) *providers.Error {
	wrapped := &providers.Error{
		Kind:     providers.KindAllFailed,
		Provider: primary,
		Message:  fmt.Sprintf("all providers failed after %d attempts: %v", attempts, last),
		Err:      last,
	}
	var pe *providers.Error
	if errors.As(last, &pe) {
		wrapped.StatusCode = pe.StatusCode
		wrapped.Body = pe.Body
	}
	return wrapped
}
