package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// canonicalForm is the deterministic serialization a fingerprint is computed
// over. Field order is fixed by the struct, temperature is rendered at three
// decimals so 0.7 and 0.70 collapse to one key, and defaults are applied
// before hashing so an explicit temperature of 0.7 and an omitted one
// produce the same fingerprint.
type canonicalForm struct {
	MaxTokens   int                 `json:"max_tokens"`
	Messages    []providers.Message `json:"messages"`
	Temperature string              `json:"temperature"`
}

// Fingerprint derives the 40-hex-digit cache key for a request routed to
// provider. The provider name is part of the hash input, so identical
// requests to different providers never collide.
func Fingerprint(provider string, req *providers.ChatRequest) string {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = providers.DefaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = providers.DefaultMaxTokens
	}

	form := canonicalForm{
		MaxTokens:   maxTokens,
		Messages:    req.Messages,
		Temperature: fmt.Sprintf("%.3f", temperature),
	}

	payload, err := json.Marshal(form)
	if err != nil {
		// Message and string fields cannot fail to marshal.
		panic(fmt.Sprintf("cache: canonical marshal: %v", err))
	}

	sum := sha1.Sum(append([]byte(provider), payload...))
	return hex.EncodeToString(sum[:])
}
