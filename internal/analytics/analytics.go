// Package analytics aggregates request, token, and error counters for the
// admin stats endpoint and the dashboard.
//
// The three stat groups take separate locks so a burst of token updates
// does not contend with error recording. Snapshot clones everything under
// those locks, so a reader never observes a half-written map.
package analytics

import (
	"sync"
	"time"
)

// MaxRecentErrors bounds the recent-error FIFO; the oldest entry is dropped
// on overflow.
const MaxRecentErrors = 10

// ErrorEntry is one recorded failure.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId,omitempty"`
}

type requestStats struct {
	mu                 sync.Mutex
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	cacheHits          int64
	cacheMisses        int64
	requestsByProvider map[string]int64
}

type tokenStats struct {
	mu                     sync.Mutex
	inputTokensByProvider  map[string]int64
	outputTokensByProvider map[string]int64
}

type errorStats struct {
	mu               sync.Mutex
	totalErrors      int64
	errorsByType     map[string]int64
	errorsByProvider map[string]int64
	recentErrors     []ErrorEntry
}

// Analytics owns the process-lifetime counters.
type Analytics struct {
	requests requestStats
	tokens   tokenStats
	errors   errorStats

	now func() time.Time
}

// New returns zeroed counters.
func New() *Analytics {
	return &Analytics{
		requests: requestStats{requestsByProvider: make(map[string]int64)},
		tokens: tokenStats{
			inputTokensByProvider:  make(map[string]int64),
			outputTokensByProvider: make(map[string]int64),
		},
		errors: errorStats{
			errorsByType:     make(map[string]int64),
			errorsByProvider: make(map[string]int64),
		},
		now: time.Now,
	}
}

// Success records a completed call served by provider.
func (a *Analytics) Success(provider string) {
	a.requests.mu.Lock()
	a.requests.totalRequests++
	a.requests.successfulRequests++
	if provider != "" {
		a.requests.requestsByProvider[provider]++
	}
	a.requests.mu.Unlock()
}

// Failure records a failed call. provider is the last provider attempted
// and may be empty when the call never reached one.
func (a *Analytics) Failure(provider string) {
	a.requests.mu.Lock()
	a.requests.totalRequests++
	a.requests.failedRequests++
	if provider != "" {
		a.requests.requestsByProvider[provider]++
	}
	a.requests.mu.Unlock()
}

// CacheHit counts a lookup served from cache.
func (a *Analytics) CacheHit() {
	a.requests.mu.Lock()
	a.requests.cacheHits++
	a.requests.mu.Unlock()
}

// CacheMiss counts a cacheable lookup that found nothing.
func (a *Analytics) CacheMiss() {
	a.requests.mu.Lock()
	a.requests.cacheMisses++
	a.requests.mu.Unlock()
}

// AddTokens accumulates vendor-reported usage for provider.
func (a *Analytics) AddTokens(provider string, input, output int) {
	if provider == "" {
		return
	}
	a.tokens.mu.Lock()
	a.tokens.inputTokensByProvider[provider] += int64(input)
	a.tokens.outputTokensByProvider[provider] += int64(output)
	a.tokens.mu.Unlock()
}

// RecordError adds a typed failure to the histograms and the recent FIFO.
func (a *Analytics) RecordError(provider, errType, message, requestID string) {
	a.errors.mu.Lock()
	defer a.errors.mu.Unlock()

	a.errors.totalErrors++
	a.errors.errorsByType[errType]++
	if provider != "" {
		a.errors.errorsByProvider[provider]++
	}

	a.errors.recentErrors = append(a.errors.recentErrors, ErrorEntry{
		Timestamp: a.now(),
		Provider:  provider,
		Type:      errType,
		Message:   message,
		RequestID: requestID,
	})
	if len(a.errors.recentErrors) > MaxRecentErrors {
		a.errors.recentErrors = a.errors.recentErrors[1:]
	}
}

// Snapshot is a point-in-time copy of every counter, shaped for the admin
// stats response.
type Snapshot struct {
	TotalRequests          int64            `json:"totalRequests"`
	SuccessfulRequests     int64            `json:"successfulRequests"`
	FailedRequests         int64            `json:"failedRequests"`
	CacheHits              int64            `json:"cacheHits"`
	CacheMisses            int64            `json:"cacheMisses"`
	RequestsByProvider     map[string]int64 `json:"requestsByProvider"`
	InputTokensByProvider  map[string]int64 `json:"inputTokensByProvider"`
	OutputTokensByProvider map[string]int64 `json:"outputTokensByProvider"`
	TotalErrors            int64            `json:"totalErrors"`
	ErrorsByType           map[string]int64 `json:"errorsByType"`
	ErrorsByProvider       map[string]int64 `json:"errorsByProvider"`
	RecentErrors           []ErrorEntry     `json:"recentErrors"`
}

// Snapshot clones all counters under their locks.
func (a *Analytics) Snapshot() Snapshot {
	var snap Snapshot

	a.requests.mu.Lock()
	snap.TotalRequests = a.requests.totalRequests
	snap.SuccessfulRequests = a.requests.successfulRequests
	snap.FailedRequests = a.requests.failedRequests
	snap.CacheHits = a.requests.cacheHits
	snap.CacheMisses = a.requests.cacheMisses
	snap.RequestsByProvider = cloneCounts(a.requests.requestsByProvider)
	a.requests.mu.Unlock()

	a.tokens.mu.Lock()
	snap.InputTokensByProvider = cloneCounts(a.tokens.inputTokensByProvider)
	snap.OutputTokensByProvider = cloneCounts(a.tokens.outputTokensByProvider)
	a.tokens.mu.Unlock()

	a.errors.mu.Lock()
	snap.TotalErrors = a.errors.totalErrors
	snap.ErrorsByType = cloneCounts(a.errors.errorsByType)
	snap.ErrorsByProvider = cloneCounts(a.errors.errorsByProvider)
	snap.RecentErrors = append([]ErrorEntry(nil), a.errors.recentErrors...)
	a.errors.mu.Unlock()

	return snap
}

func cloneCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
