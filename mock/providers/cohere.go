package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"

	"github.com/tidwall/gjson"
)

// newCohereHandler returns an http.Handler that simulates the Cohere chat
// API. The live turn arrives in "message", context in "chat_history".
func newCohereHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeCohereError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeCohereError(w, http.StatusInternalServerError, "mock internal error")
			return
		}

		body, _ := io.ReadAll(r.Body)

		inTokens := wordCount(gjson.GetBytes(body, "message").String())
		inTokens += wordCount(gjson.GetBytes(body, "preamble").String())
		for _, turn := range gjson.GetBytes(body, "chat_history").Array() {
			inTokens += wordCount(turn.Get("message").String())
		}

		content := fakeSentence(cfg.ReplyWords)

		writeJSON(w, http.StatusOK, map[string]any{
			"text":          content,
			"generation_id": fmt.Sprintf("%x-%x", rand.Int32(), rand.Int32()),
			"finish_reason": "COMPLETE",
			"meta": map[string]any{
				"api_version": map[string]string{"version": "1"},
				"tokens": map[string]int{
					"input_tokens":  inTokens,
					"output_tokens": wordCount(content),
				},
			},
		})
	})

	// Models list (used by health checks)
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"models": []map[string]any{
				{"name": "command-r", "endpoints": []string{"chat"}},
				{"name": "command-r-plus", "endpoints": []string{"chat"}},
			},
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeCohereError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path))
	})

	return mux
}

// writeCohereError writes the flat Cohere error shape.
func writeCohereError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
