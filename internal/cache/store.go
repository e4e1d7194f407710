// Package cache holds completed chat responses keyed by request fingerprint.
//
// Entries carry their insertion time only; the TTL is a property of the
// store and is evaluated at lookup, so an admin TTL change applies to
// everything already cached. A background sweep evicts stale entries so the
// map does not grow unbounded between lookups.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// DefaultTTL applies when the configured TTL is zero or negative.
const DefaultTTL = time.Hour

type entry struct {
	response   *providers.ChatResponse
	provider   string
	insertedAt time.Time
}

// EntryInfo describes one cached entry for the admin listing.
type EntryInfo struct {
	Fingerprint string    `json:"fingerprint"`
	Provider    string    `json:"provider"`
	InsertedAt  time.Time `json:"insertedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store is an in-process response cache safe for concurrent use.
//
// Responses are cloned on the way in and on the way out, so callers may
// mutate what they get back without corrupting the cached copy.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int // 0 means unbounded

	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// NewStore creates a Store and starts the background sweep loop. The loop
// stops when ctx is cancelled or Close is called. maxEntries of 0 leaves
// the store bounded by TTL alone.
func NewStore(ctx context.Context, ttl time.Duration, maxEntries int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		done:       make(chan struct{}),
		now:        time.Now,
	}
	go s.sweep(ctx)
	return s
}

// Get returns a copy of the cached response for fingerprint, or (nil, false)
// on a miss. Expired entries are removed lazily on access.
func (s *Store) Get(fingerprint string) (*providers.ChatResponse, bool) {
	s.mu.RLock()
	e, ok := s.entries[fingerprint]
	ttl := s.ttl
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if s.now().Sub(e.insertedAt) >= ttl {
		s.mu.Lock()
		// Another goroutine may have replaced the entry since the read.
		if cur, still := s.entries[fingerprint]; still && cur == e {
			delete(s.entries, fingerprint)
		}
		s.mu.Unlock()
		return nil, false
	}

	return e.response.Clone(), true
}

// Set stores a copy of resp under fingerprint, overwriting any previous
// entry. When a size cap is set and exceeded, the oldest-inserted entry is
// evicted first.
func (s *Store) Set(fingerprint, provider string, resp *providers.ChatResponse) {
	clone := resp.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[fingerprint] = &entry{
		response:   clone,
		provider:   provider,
		insertedAt: s.now(),
	}

	for s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		s.evictOldestLocked()
	}
}

func (s *Store) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range s.entries {
		if oldestKey == "" || e.insertedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.insertedAt
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

// Clear drops every entry and returns how many were removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]*entry)
	return n
}

// Len returns the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// TTL returns the active time-to-live.
func (s *Store) TTL() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttl
}

// SetTTL replaces the time-to-live. It applies to existing entries at their
// next lookup.
func (s *Store) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

// MaxEntries returns the size cap, 0 meaning unbounded.
func (s *Store) MaxEntries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxEntries
}

// SetMaxEntries replaces the size cap and evicts oldest entries down to it.
func (s *Store) SetMaxEntries(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxEntries = n
	for s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		s.evictOldestLocked()
	}
}

// Entries lists the cached entries ordered oldest first.
func (s *Store) Entries() []EntryInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EntryInfo, 0, len(s.entries))
	for fp, e := range s.entries {
		out = append(out, EntryInfo{
			Fingerprint: fp,
			Provider:    e.provider,
			InsertedAt:  e.insertedAt,
			ExpiresAt:   e.insertedAt.Add(s.ttl),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InsertedAt.Before(out[j].InsertedAt) })
	return out
}

// Close stops the background sweep goroutine. Safe to call more than
// once.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// sweep runs every 5 minutes and evicts entries past the TTL.
func (s *Store) sweep(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *Store) evictExpired() {
	now := s.now()

	s.mu.Lock()
	for k, e := range s.entries {
		if now.Sub(e.insertedAt) >= s.ttl {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()
}
