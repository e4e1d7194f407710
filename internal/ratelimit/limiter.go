// Package ratelimit implements the fixed-window per-IP request limiter.
//
// Plans come in three tiers with strict precedence: an exact-IP client plan,
// the wildcard plan (keyed by the sentinel "*.*.*.*"), then the process-wide
// default plan. Window state is created lazily per IP and reset when the
// window elapses. One mutex covers both the plan map and the state map so a
// check is a single atomic read-modify-write.
package ratelimit

import (
	"sync"
	"time"
)

// WildcardIP is the sentinel plan key matching any IP without its own plan.
const WildcardIP = "*.*.*.*"

// Plan tier names as reported in Result.PlanType and the 429 body.
const (
	PlanClient   = "client"
	PlanWildcard = "wildcard"
	PlanDefault  = "default"
)

// Plan is a request budget: Requests per WindowSeconds.
type Plan struct {
	Name          string `json:"name,omitempty"`
	Requests      int    `json:"requests"`
	WindowSeconds int    `json:"windowSeconds"`
}

// Valid reports whether the plan can be enforced.
func (p Plan) Valid() bool { return p.Requests > 0 && p.WindowSeconds > 0 }

// Result of a single Check call. For unlimited callers every numeric field
// is zero and PlanType is empty.
type Result struct {
	Allowed      bool   `json:"allowed"`
	Limit        int    `json:"limit"`
	Remaining    int    `json:"remaining"`
	ResetSeconds int    `json:"reset"`
	PlanType     string `json:"planType"`
}

type windowState struct {
	requests    int
	windowStart int64
}

// Limiter tracks plans and per-IP window state.
type Limiter struct {
	mu          sync.Mutex
	defaultPlan *Plan
	plans       map[string]Plan // exact IPs plus the wildcard sentinel
	states      map[string]*windowState

	now func() int64 // unix seconds; replaceable in tests
}

// New returns an empty limiter (every caller unlimited until plans are set).
func New() *Limiter {
	return &Limiter{
		plans:  make(map[string]Plan),
		states: make(map[string]*windowState),
		now:    func() int64 { return time.Now().Unix() },
	}
}

// Check runs the fixed-window bookkeeping for clientIP and reports whether
// the request may proceed. An empty IP is a trusted pass-through.
func (l *Limiter) Check(clientIP string) Result {
	if clientIP == "" {
		return Result{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	plan, planType := l.selectPlanLocked(clientIP)
	if plan == nil {
		return Result{Allowed: true}
	}

	now := l.now()
	state, ok := l.states[clientIP]
	if !ok {
		state = &windowState{windowStart: now}
		l.states[clientIP] = state
	}

	window := int64(plan.WindowSeconds)
	if now-state.windowStart >= window {
		state.requests = 0
		state.windowStart = now
	}

	remaining := plan.Requests - state.requests
	reset := int(window - (now - state.windowStart))

	if state.requests >= plan.Requests {
		return Result{
			Allowed:      false,
			Limit:        plan.Requests,
			Remaining:    0,
			ResetSeconds: reset,
			PlanType:     planType,
		}
	}

	state.requests++
	return Result{
		Allowed:      true,
		Limit:        plan.Requests,
		Remaining:    remaining - 1,
		ResetSeconds: reset,
		PlanType:     planType,
	}
}

// selectPlanLocked resolves the plan tier for an IP: client > wildcard >
// default.
func (l *Limiter) selectPlanLocked(ip string) (*Plan, string) {
	if p, ok := l.plans[ip]; ok && ip != WildcardIP {
		return &p, PlanClient
	}
	if p, ok := l.plans[WildcardIP]; ok {
		return &p, PlanWildcard
	}
	if l.defaultPlan != nil {
		return l.defaultPlan, PlanDefault
	}
	return nil, ""
}

// SetClientPlan installs (or replaces) the plan for an exact IP. Passing
// WildcardIP installs the wildcard plan.
func (l *Limiter) SetClientPlan(ip string, p Plan) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.plans[ip] = p
}

// DeleteClientPlan removes the plan for an IP (or the wildcard sentinel)
// and reports whether one existed.
func (l *Limiter) DeleteClientPlan(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.plans[ip]
	delete(l.plans, ip)
	return ok
}

// ClientPlan returns the plan stored for an IP.
func (l *Limiter) ClientPlan(ip string) (Plan, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.plans[ip]
	return p, ok
}

// ClientPlans returns a copy of every installed per-IP plan, wildcard
// included.
func (l *Limiter) ClientPlans() map[string]Plan {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Plan, len(l.plans))
	for ip, p := range l.plans {
		out[ip] = p
	}
	return out
}

// SetDefaultPlan replaces the default plan. Window state is reset for every
// IP that does not carry a client-specific plan, so the new budget applies
// from a clean window; IPs on their own plans keep their counters.
func (l *Limiter) SetDefaultPlan(p Plan) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaultPlan = &p
	for ip := range l.states {
		if _, hasOwn := l.plans[ip]; !hasOwn {
			delete(l.states, ip)
		}
	}
}

// ClearDefaultPlan removes the default plan and reports whether one was set.
func (l *Limiter) ClearDefaultPlan() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	had := l.defaultPlan != nil
	l.defaultPlan = nil
	return had
}

// DefaultPlan returns the default plan.
func (l *Limiter) DefaultPlan() (Plan, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.defaultPlan == nil {
		return Plan{}, false
	}
	return *l.defaultPlan, true
}
