package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu      sync.Mutex
	batches int
	entries []Entry
	err     error
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Ship(_ context.Context, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.batches++
	c.entries = append(c.entries, entries...)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func discardSlog() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestShipperDeliversAllEntriesOnClose(t *testing.T) {
	sink := &captureSink{}
	s := NewShipper(context.Background(), discardSlog(), sink)

	for i := 0; i < 5; i++ {
		s.Enqueue(Entry{Message: fmt.Sprintf("m%d", i)})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := sink.count(); got != 5 {
		t.Fatalf("sink received %d entries, want 5", got)
	}
}

func TestShipperFlushesFullBatches(t *testing.T) {
	sink := &captureSink{}
	s := NewShipper(context.Background(), discardSlog(), sink)

	for i := 0; i < 2*batchSize+7; i++ {
		s.Enqueue(Entry{Message: "x"})
	}
	s.Close()

	if got := sink.count(); got != 2*batchSize+7 {
		t.Fatalf("sink received %d entries, want %d", got, 2*batchSize+7)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.batches < 3 {
		t.Errorf("batches = %d, want at least 3", sink.batches)
	}
}

func TestShipperDropsWhenBufferFull(t *testing.T) {
	s := NewShipper(context.Background(), discardSlog())
	s.Close() // loop stopped, nothing drains the channel

	for i := 0; i < channelBuffer+3; i++ {
		s.Enqueue(Entry{Message: "x"})
	}
	if got := s.Dropped(); got != 3 {
		t.Fatalf("Dropped = %d, want 3", got)
	}
}

func TestShipperSinkFailureIsSwallowed(t *testing.T) {
	var warnBuf bytes.Buffer
	warnLog := slog.New(slog.NewJSONHandler(&warnBuf, nil))

	failing := &captureSink{err: errors.New("connection refused")}
	healthy := &captureSink{}
	s := NewShipper(context.Background(), warnLog, failing, healthy)

	s.Enqueue(Entry{Message: "hello"})
	s.Close()

	if got := healthy.count(); got != 1 {
		t.Fatalf("healthy sink received %d entries, want 1", got)
	}
	if !strings.Contains(warnBuf.String(), "log sink delivery failed") {
		t.Errorf("sink failure not logged: %s", warnBuf.String())
	}
}

func TestShipperPeriodicFlush(t *testing.T) {
	sink := &captureSink{}
	s := NewShipper(context.Background(), discardSlog(), sink)
	defer s.Close()

	s.Enqueue(Entry{Message: "solo"})

	deadline := time.Now().Add(3 * flushInterval)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatal("entry below batch size never flushed by ticker")
	}
}

func TestLoggerFeedsShipper(t *testing.T) {
	sink := &captureSink{}
	s := NewShipper(context.Background(), discardSlog(), sink)

	l := New(io.Discard, false)
	l.SetShipper(s)
	l.Info("proxy", "request completed", map[string]any{"apiKey": "sk-x", "provider": "openai"})
	l.Debug("proxy", "suppressed", nil) // verbose off, never shipped
	s.Close()

	if got := sink.count(); got != 1 {
		t.Fatalf("sink received %d entries, want 1", got)
	}
	sink.mu.Lock()
	e := sink.entries[0]
	sink.mu.Unlock()
	if e.Component != "proxy" || e.Message != "request completed" {
		t.Errorf("entry = %+v", e)
	}
	if e.Metadata["apiKey"] != Mask {
		t.Errorf("shipped metadata not redacted: %v", e.Metadata)
	}
}

func TestSplunkSinkRequestShape(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := &SplunkSink{Endpoint: srv.URL, Token: "hec-token"}
	err := sink.Ship(context.Background(), []Entry{{Level: "INFO", Component: "proxy", Message: "hi"}})
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if gotAuth != "Splunk hec-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/services/collector/event" {
		t.Errorf("path = %q", gotPath)
	}
	var event struct {
		Event Entry `json:"event"`
	}
	if err := json.Unmarshal(gotBody, &event); err != nil {
		t.Fatalf("body: %v\n%s", err, gotBody)
	}
	if event.Event.Message != "hi" {
		t.Errorf("event = %+v", event.Event)
	}
}

func TestElasticSinkBulkShape(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := &ElasticSink{Endpoint: srv.URL, Index: "gateway-logs"}
	err := sink.Ship(context.Background(), []Entry{{Message: "a"}, {Message: "b"}})
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if gotContentType != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	lines := strings.Split(strings.TrimSpace(string(gotBody)), "\n")
	if len(lines) != 4 {
		t.Fatalf("bulk body has %d lines, want 4 (action+doc per entry):\n%s", len(lines), gotBody)
	}
	if !strings.Contains(lines[0], `"_index":"gateway-logs"`) {
		t.Errorf("action line = %s", lines[0])
	}
}

func TestDatadogSinkShipsStatusAndKey(t *testing.T) {
	var gotKey string
	var logs []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("DD-API-KEY")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &logs)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := &DatadogSink{Endpoint: srv.URL, APIKey: "dd-key", Service: "ai-gateway"}
	err := sink.Ship(context.Background(), []Entry{{Level: "ERROR", Message: "boom"}})
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if gotKey != "dd-key" {
		t.Errorf("DD-API-KEY = %q", gotKey)
	}
	if len(logs) != 1 || logs[0]["status"] != "ERROR" || logs[0]["service"] != "ai-gateway" {
		t.Errorf("payload = %v", logs)
	}
}

func TestSinkNon2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	sink := &SplunkSink{Endpoint: srv.URL, Token: "t"}
	if err := sink.Ship(context.Background(), []Entry{{Message: "x"}}); err == nil {
		t.Fatal("Ship returned nil for 403 response")
	}
}
