package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// newMistralHandler returns an http.Handler simulating the Mistral API.
// Mistral mirrors the OpenAI chat-completions wire format.
func newMistralHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal error", "server_error")
			return
		}

		body, _ := io.ReadAll(r.Body)
		model := gjson.GetBytes(body, "model").String()
		if model == "" {
			model = "mistral-small-latest"
		}

		inTokens := 0
		for _, m := range gjson.GetBytes(body, "messages").Array() {
			inTokens += wordCount(m.Get("content").String())
		}

		content := fakeSentence(cfg.ReplyWords)
		outTokens := wordCount(content)

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      fmt.Sprintf("cmpl-mock%x", rand.Int64()),
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]string{
						"role":    "assistant",
						"content": content,
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{
				"prompt_tokens":     inTokens,
				"completion_tokens": outTokens,
				"total_tokens":      inTokens + outTokens,
			},
		})
	})

	// Models list (used by health checks)
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "mistral-large-latest", "object": "model", "owned_by": "mistralai"},
				{"id": "mistral-small-latest", "object": "model", "owned_by": "mistralai"},
			},
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found")
	})

	return mux
}
