package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/config"
	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const (
	healthProbeInterval = 30 * time.Second
	healthProbeTimeout  = 5 * time.Second
)

// Health status values reported per provider and for the gateway
// overall.
const (
	HealthOK           = "ok"
	HealthDegraded     = "degraded"
	HealthUnconfigured = "unconfigured"
)

// HealthChecker probes every configured provider on a fixed interval.
// Unconfigured slots are reported but never probed, so they cannot drag
// the overall status down.
type HealthChecker struct {
	providers map[string]providers.Provider
	store     *config.Store
	metrics   *metrics.Registry
	log       *logger.Logger

	mu       sync.RWMutex
	statuses map[string]string
	started  time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// HealthSnapshot is the probe state the /health endpoint reports.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Providers     map[string]string `json:"providers"`
}

// NewHealthChecker runs one synchronous probe pass so the first
// snapshot is meaningful, then probes in the background until ctx is
// cancelled or Close is called.
func NewHealthChecker(ctx context.Context, provs map[string]providers.Provider, store *config.Store, m *metrics.Registry, log *logger.Logger) *HealthChecker {
	if log == nil {
		log = logger.New(nil, false)
	}
	hc := &HealthChecker{
		providers: provs,
		store:     store,
		metrics:   m,
		log:       log,
		statuses:  make(map[string]string, len(provs)),
		started:   time.Now(),
		done:      make(chan struct{}),
	}
	hc.probeAll(ctx)
	hc.wg.Add(1)
	go hc.loop(ctx)
	return hc
}

func (hc *HealthChecker) loop(ctx context.Context) {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probeAll(ctx)
		case <-ctx.Done():
			return
		case <-hc.done:
			return
		}
	}
}

// probeAll checks every configured provider in parallel, each under its
// own timeout.
func (hc *HealthChecker) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for name, prov := range hc.providers {
		if _, ok := hc.store.ProviderConfig(name); !ok {
			hc.setStatus(name, HealthUnconfigured)
			continue
		}
		wg.Add(1)
		go func(name string, prov providers.Provider) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
			defer cancel()

			err := prov.HealthCheck(probeCtx)
			if err != nil {
				hc.setStatus(name, HealthDegraded)
				hc.log.Debug("health", "provider probe failed", map[string]any{
					"provider": name,
					"error":    err.Error(),
				})
			} else {
				hc.setStatus(name, HealthOK)
			}
			if hc.metrics != nil {
				hc.metrics.SetProviderHealth(name, err == nil)
			}
		}(name, prov)
	}
	wg.Wait()
}

func (hc *HealthChecker) setStatus(name, status string) {
	hc.mu.Lock()
	hc.statuses[name] = status
	hc.mu.Unlock()
}

// Snapshot reports the last probe results. Overall status degrades only
// when a configured provider is failing its probe.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	out := HealthSnapshot{
		Status:        HealthOK,
		UptimeSeconds: int64(time.Since(hc.started).Seconds()),
		Providers:     make(map[string]string, len(hc.statuses)),
	}
	for name, st := range hc.statuses {
		out.Providers[name] = st
		if st == HealthDegraded {
			out.Status = HealthDegraded
		}
	}
	return out
}

// Close stops the probe loop and waits for it to exit.
func (hc *HealthChecker) Close() {
	hc.closeOnce.Do(func() { close(hc.done) })
	hc.wg.Wait()
}
