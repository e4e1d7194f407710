package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// newGeminiHandler returns an http.Handler simulating the Gemini
// OpenAI-compatibility surface.
//
// The gateway appends the chat verb to its configured endpoint with a
// colon, Google's RPC-style URL convention:
//
//	POST {base}:chatCompletions
//	GET  {base}                   (reachability probe)
//
// where {base} is typically /v1beta/openai.
func newGeminiHandler(cfg Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		switch {
		case strings.HasSuffix(path, ":chatCompletions"):
			if r.Method != http.MethodPost {
				writeGeminiError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			applyLatency(cfg)
			if shouldError(cfg) {
				writeGeminiError(w, http.StatusInternalServerError, "mock internal error")
				return
			}
			handleGeminiChat(w, r, cfg)

		case r.Method == http.MethodGet:
			// Reachability probe against the bare base path.
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		default:
			writeGeminiError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", path))
		}
	})
}

func handleGeminiChat(w http.ResponseWriter, r *http.Request, cfg Config) {
	body, _ := io.ReadAll(r.Body)
	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		model = "gemini-2.0-flash"
	}

	inTokens := 0
	for _, m := range gjson.GetBytes(body, "messages").Array() {
		inTokens += wordCount(m.Get("content").String())
	}

	content := fakeSentence(cfg.ReplyWords)
	outTokens := wordCount(content)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      fmt.Sprintf("chatcmpl-mock%x", rand.Int64()),
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
}

func writeGeminiError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": msg,
			"status":  "INTERNAL",
		},
	})
}
