package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactMasksAPIKeyVariants(t *testing.T) {
	meta := map[string]any{
		"apiKey":        "sk-secret",
		"APIKEY":        "sk-secret",
		"openai_apikey": "sk-secret",
		"model":         "gpt-4o",
		"api_key":       "left-alone", // underscore breaks the substring
	}

	got := Redact(meta)
	for _, key := range []string{"apiKey", "APIKEY", "openai_apikey"} {
		if got[key] != Mask {
			t.Errorf("Redact left %s = %v, want %q", key, got[key], Mask)
		}
	}
	if got["model"] != "gpt-4o" || got["api_key"] != "left-alone" {
		t.Errorf("Redact touched non-matching keys: %v", got)
	}
	if meta["apiKey"] != "sk-secret" {
		t.Error("Redact mutated its input")
	}
}

func TestRedactNestedMaps(t *testing.T) {
	meta := map[string]any{
		"config": map[string]any{
			"apiKey":   "sk-nested",
			"endpoint": "https://api.openai.com",
		},
	}
	got := Redact(meta)
	nested := got["config"].(map[string]any)
	if nested["apiKey"] != Mask {
		t.Errorf("nested apiKey = %v, want masked", nested["apiKey"])
	}
	if nested["endpoint"] != "https://api.openai.com" {
		t.Errorf("nested endpoint = %v", nested["endpoint"])
	}
}

func TestLoggerRedactsEmittedLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)

	l.Info("config", "provider updated", map[string]any{
		"provider": "openai",
		"apiKey":   "sk-live-123456",
	})

	line := buf.String()
	if strings.Contains(line, "sk-live-123456") {
		t.Fatalf("api key leaked into log line: %s", line)
	}
	if !strings.Contains(line, Mask) {
		t.Fatalf("masked value missing from log line: %s", line)
	}
	if !strings.Contains(line, `"component":"config"`) {
		t.Errorf("component attribute missing: %s", line)
	}
}

func TestLoggerEmitsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Warn("cache", "sweep removed entries", map[string]any{"removed": 3})

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "sweep removed entries" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["level"] != "WARN" {
		t.Errorf("level = %v", record["level"])
	}
	if record["removed"] != float64(3) {
		t.Errorf("removed = %v", record["removed"])
	}
}

func TestDebugDroppedUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)

	l.Debug("proxy", "cache key computed", nil)
	if buf.Len() != 0 {
		t.Fatalf("DEBUG emitted with verbose off: %s", buf.String())
	}

	l.SetVerbose(true)
	if !l.Verbose() {
		t.Fatal("Verbose() = false after SetVerbose(true)")
	}
	l.Debug("proxy", "cache key computed", nil)
	if !strings.Contains(buf.String(), "cache key computed") {
		t.Fatalf("DEBUG missing with verbose on: %s", buf.String())
	}

	buf.Reset()
	l.SetVerbose(false)
	l.Debug("proxy", "dropped again", nil)
	if buf.Len() != 0 {
		t.Fatalf("DEBUG emitted after verbose turned back off: %s", buf.String())
	}
}
