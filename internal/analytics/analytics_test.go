package analytics

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSuccessAndFailureCounts(t *testing.T) {
	a := New()
	a.Success("openai")
	a.Success("openai")
	a.Success("anthropic")
	a.Failure("gemini")
	a.Failure("") // rate-limited before any provider was chosen

	snap := a.Snapshot()
	if snap.TotalRequests != 5 {
		t.Errorf("TotalRequests = %d, want 5", snap.TotalRequests)
	}
	if snap.SuccessfulRequests != 3 || snap.FailedRequests != 2 {
		t.Errorf("success/failed = %d/%d, want 3/2", snap.SuccessfulRequests, snap.FailedRequests)
	}
	if snap.RequestsByProvider["openai"] != 2 || snap.RequestsByProvider["anthropic"] != 1 || snap.RequestsByProvider["gemini"] != 1 {
		t.Errorf("RequestsByProvider = %v", snap.RequestsByProvider)
	}
	if _, ok := snap.RequestsByProvider[""]; ok {
		t.Error("empty provider key leaked into RequestsByProvider")
	}
}

func TestCacheCounters(t *testing.T) {
	a := New()
	a.CacheHit()
	a.CacheHit()
	a.CacheMiss()

	snap := a.Snapshot()
	if snap.CacheHits != 2 || snap.CacheMisses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", snap.CacheHits, snap.CacheMisses)
	}
}

func TestAddTokens(t *testing.T) {
	a := New()
	a.AddTokens("openai", 10, 20)
	a.AddTokens("openai", 5, 5)
	a.AddTokens("ollama", 1, 2)
	a.AddTokens("", 100, 100) // no provider, ignored

	snap := a.Snapshot()
	if snap.InputTokensByProvider["openai"] != 15 || snap.OutputTokensByProvider["openai"] != 25 {
		t.Errorf("openai tokens = %d/%d, want 15/25",
			snap.InputTokensByProvider["openai"], snap.OutputTokensByProvider["openai"])
	}
	if snap.InputTokensByProvider["ollama"] != 1 {
		t.Errorf("ollama input tokens = %d, want 1", snap.InputTokensByProvider["ollama"])
	}
	if len(snap.InputTokensByProvider) != 2 {
		t.Errorf("InputTokensByProvider = %v, want two providers", snap.InputTokensByProvider)
	}
}

func TestRecordErrorHistograms(t *testing.T) {
	a := New()
	a.RecordError("openai", "HTTP_500", "upstream returned status 500", "req-1")
	a.RecordError("openai", "HTTP_500", "upstream returned status 500", "req-2")
	a.RecordError("anthropic", "TransportError", "dial tcp: refused", "req-3")
	a.RecordError("", "RateLimitExceeded", "rate limit exceeded", "req-4")

	snap := a.Snapshot()
	if snap.TotalErrors != 4 {
		t.Errorf("TotalErrors = %d, want 4", snap.TotalErrors)
	}
	if snap.ErrorsByType["HTTP_500"] != 2 || snap.ErrorsByType["TransportError"] != 1 || snap.ErrorsByType["RateLimitExceeded"] != 1 {
		t.Errorf("ErrorsByType = %v", snap.ErrorsByType)
	}
	if snap.ErrorsByProvider["openai"] != 2 || snap.ErrorsByProvider["anthropic"] != 1 {
		t.Errorf("ErrorsByProvider = %v", snap.ErrorsByProvider)
	}
	if _, ok := snap.ErrorsByProvider[""]; ok {
		t.Error("empty provider key leaked into ErrorsByProvider")
	}
}

func TestRecentErrorsFIFOKeepsNewest(t *testing.T) {
	a := New()
	sec := int64(0)
	a.now = func() time.Time {
		sec++
		return time.Unix(sec, 0)
	}

	for i := 0; i < 15; i++ {
		a.RecordError("openai", "TransportError", fmt.Sprintf("err-%d", i), "")
	}

	snap := a.Snapshot()
	if len(snap.RecentErrors) != MaxRecentErrors {
		t.Fatalf("RecentErrors len = %d, want %d", len(snap.RecentErrors), MaxRecentErrors)
	}
	if snap.RecentErrors[0].Message != "err-5" {
		t.Errorf("oldest kept = %q, want err-5", snap.RecentErrors[0].Message)
	}
	if snap.RecentErrors[9].Message != "err-14" {
		t.Errorf("newest kept = %q, want err-14", snap.RecentErrors[9].Message)
	}
	if snap.TotalErrors != 15 {
		t.Errorf("TotalErrors = %d, want 15 (histogram keeps the full count)", snap.TotalErrors)
	}
}

func TestRecordErrorEntryFields(t *testing.T) {
	a := New()
	at := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return at }

	a.RecordError("cohere", "DecodeError", "unexpected end of JSON input", "req-9")

	snap := a.Snapshot()
	e := snap.RecentErrors[0]
	if e.Provider != "cohere" || e.Type != "DecodeError" || e.RequestID != "req-9" {
		t.Errorf("entry = %+v", e)
	}
	if !e.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", e.Timestamp, at)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	a := New()
	a.Success("openai")
	a.RecordError("openai", "TransportError", "x", "")

	snap := a.Snapshot()
	snap.RequestsByProvider["openai"] = 999
	snap.ErrorsByType["TransportError"] = 999
	snap.RecentErrors[0].Message = "tampered"

	fresh := a.Snapshot()
	if fresh.RequestsByProvider["openai"] != 1 {
		t.Error("RequestsByProvider mutated through snapshot")
	}
	if fresh.ErrorsByType["TransportError"] != 1 {
		t.Error("ErrorsByType mutated through snapshot")
	}
	if fresh.RecentErrors[0].Message != "x" {
		t.Error("RecentErrors mutated through snapshot")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	a := New()
	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				switch j % 4 {
				case 0:
					a.Success("openai")
				case 1:
					a.Failure("anthropic")
				case 2:
					a.AddTokens("openai", 1, 1)
					a.CacheHit()
				case 3:
					a.RecordError("openai", "TransportError", "x", "")
					a.CacheMiss()
				}
			}
		}(i)
	}
	wg.Wait()

	snap := a.Snapshot()
	quarter := int64(workers * perWorker / 4)
	if snap.TotalRequests != 2*quarter {
		t.Errorf("TotalRequests = %d, want %d", snap.TotalRequests, 2*quarter)
	}
	if snap.SuccessfulRequests != quarter || snap.FailedRequests != quarter {
		t.Errorf("success/failed = %d/%d, want %d each", snap.SuccessfulRequests, snap.FailedRequests, quarter)
	}
	if snap.CacheHits != quarter || snap.CacheMisses != quarter {
		t.Errorf("hits/misses = %d/%d, want %d each", snap.CacheHits, snap.CacheMisses, quarter)
	}
	if snap.InputTokensByProvider["openai"] != quarter {
		t.Errorf("input tokens = %d, want %d", snap.InputTokensByProvider["openai"], quarter)
	}
	if snap.TotalErrors != quarter {
		t.Errorf("TotalErrors = %d, want %d", snap.TotalErrors, quarter)
	}
	if len(snap.RecentErrors) != MaxRecentErrors {
		t.Errorf("RecentErrors len = %d, want %d", len(snap.RecentErrors), MaxRecentErrors)
	}
}
