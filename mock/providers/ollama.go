package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// newOllamaHandler returns an http.Handler that simulates a local Ollama
// server. No authentication, NDJSON-style single object reply.
func newOllamaHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeOllamaError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeOllamaError(w, http.StatusInternalServerError, "mock internal error")
			return
		}

		body, _ := io.ReadAll(r.Body)
		model := gjson.GetBytes(body, "model").String()
		if model == "" {
			model = "llama3.2"
		}

		inTokens := 0
		for _, m := range gjson.GetBytes(body, "messages").Array() {
			inTokens += wordCount(m.Get("content").String())
		}

		content := fakeSentence(cfg.ReplyWords)

		writeJSON(w, http.StatusOK, map[string]any{
			"model":      model,
			"created_at": time.Now().UTC().Format(time.RFC3339Nano),
			"message": map[string]string{
				"role":    "assistant",
				"content": content,
			},
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": inTokens,
			"eval_count":        wordCount(content),
		})
	})

	// Installed models (used by health checks)
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"models": []map[string]any{
				{"name": "llama3.2:latest", "model": "llama3.2:latest", "size": 2019393189},
				{"name": "mistral:latest", "model": "mistral:latest", "size": 4113301824},
			},
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeOllamaError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path))
	})

	return mux
}

// writeOllamaError writes the flat Ollama error shape.
func writeOllamaError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
