package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"

	"github.com/tidwall/gjson"
)

// newAnthropicHandler returns an http.Handler that simulates the Anthropic
// messages API.
func newAnthropicHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeAnthropicError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeAnthropicError(w, http.StatusInternalServerError, "mock internal error", "overloaded_error")
			return
		}

		body, _ := io.ReadAll(r.Body)
		model := gjson.GetBytes(body, "model").String()
		if model == "" {
			model = "claude-3-5-haiku-latest"
		}

		inTokens := 0
		for _, m := range gjson.GetBytes(body, "messages").Array() {
			inTokens += wordCount(m.Get("content").String())
		}

		content := fakeSentence(cfg.ReplyWords)

		writeJSON(w, http.StatusOK, map[string]any{
			"id":            fmt.Sprintf("msg_mock%x", rand.Int64()),
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content": []map[string]string{
				{"type": "text", "text": content},
			},
			"usage": map[string]int{
				"input_tokens":  inTokens,
				"output_tokens": wordCount(content),
			},
		})
	})

	// Models list (used by health checks)
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"id": "claude-3-5-haiku-latest", "type": "model"},
				{"id": "claude-sonnet-4-0", "type": "model"},
			},
			"has_more": false,
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeAnthropicError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found_error")
	})

	return mux
}

// writeAnthropicError writes the Anthropic error envelope.
func writeAnthropicError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    typ,
			"message": msg,
		},
	})
}
