package proxy

import (
	"sync"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/metrics"
)

// cbState is the operational state of one passthrough circuit breaker.
//
//	cbClosed   all requests pass through
//	cbOpen     upstream is failing, requests are rejected immediately
//	cbHalfOpen one probe request is allowed to test recovery
type cbState int

const (
	cbClosed cbState = iota
	cbOpen
	cbHalfOpen
)

func (s cbState) String() string {
	switch s {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CBConfig tunes a breaker set. The zero value is not usable; start
// from DefaultCBConfig.
type CBConfig struct {
	// ErrorThreshold is how many upstream errors within Window trip the
	// breaker open.
	ErrorThreshold int

	// Window is the rolling period the error count lives in.
	Window time.Duration

	// Cooldown is how long an open breaker waits before letting a
	// half-open probe through.
	Cooldown time.Duration
}

// DefaultCBConfig returns the production tuning.
func DefaultCBConfig() CBConfig {
	return CBConfig{
		ErrorThreshold: 5,
		Window:         time.Minute,
		Cooldown:       30 * time.Second,
	}
}

// breaker holds the rolling error window for one upstream.
type breaker struct {
	mu            sync.Mutex
	state         cbState
	errorCount    int
	windowStart   time.Time
	openedAt      time.Time
	probeInflight bool
}

// BreakerSet manages one breaker per passthrough route, created lazily
// on first use.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      CBConfig
	breakers map[string]*breaker
	metrics  *metrics.Registry

	now func() time.Time
}

func NewBreakerSet(cfg CBConfig, m *metrics.Registry) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		breakers: make(map[string]*breaker),
		metrics:  m,
		now:      time.Now,
	}
}

func (s *BreakerSet) get(name string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = &breaker{windowStart: s.now()}
		s.breakers[name] = b
	}
	return b
}

// Allow reports whether a request to the named upstream may proceed.
// An open breaker lets a single probe through once the cooldown has
// passed.
func (s *BreakerSet) Allow(name string) bool {
	b := s.get(name)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case cbOpen:
		if s.now().Sub(b.openedAt) < s.cfg.Cooldown {
			return false
		}
		b.state = cbHalfOpen
		b.probeInflight = true
		s.setGauge(name, cbHalfOpen)
		return true
	case cbHalfOpen:
		if b.probeInflight {
			return false
		}
		b.probeInflight = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker and clears the error window.
func (s *BreakerSet) RecordSuccess(name string) {
	b := s.get(name)
	b.mu.Lock()
	defer b.mu.Unlock()

	changed := b.state != cbClosed
	b.state = cbClosed
	b.errorCount = 0
	b.probeInflight = false
	if changed {
		s.setGauge(name, cbClosed)
	}
}

// RecordFailure books one upstream error into the rolling window and
// trips the breaker at the threshold. A failed half-open probe reopens
// immediately.
func (s *BreakerSet) RecordFailure(name string) {
	b := s.get(name)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := s.now()
	if b.state == cbHalfOpen {
		b.state = cbOpen
		b.openedAt = now
		b.probeInflight = false
		s.setGauge(name, cbOpen)
		return
	}

	if now.Sub(b.windowStart) > s.cfg.Window {
		b.errorCount = 0
		b.windowStart = now
	}
	b.errorCount++
	if b.state == cbClosed && b.errorCount >= s.cfg.ErrorThreshold {
		b.state = cbOpen
		b.openedAt = now
		s.setGauge(name, cbOpen)
	}
}

// State returns the current state label for name ("closed" when the
// route has never been used).
func (s *BreakerSet) State(name string) string {
	s.mu.Lock()
	b, ok := s.breakers[name]
	s.mu.Unlock()
	if !ok {
		return cbClosed.String()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (s *BreakerSet) setGauge(name string, st cbState) {
	if s.metrics != nil {
		s.metrics.SetBreakerState(name, int64(st))
	}
}
