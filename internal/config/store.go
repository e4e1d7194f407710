package config

import (
	"fmt"
	"sync"

	"github.com/nulpointcorp/ai-gateway/internal/guardrails"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// Store is the runtime view of the mutable configuration: provider slots,
// system prompt, guardrails, and the verbose flag. Admin writes replace
// whole values under the lock; readers get copies, never interior pointers.
//
// Failover order is a contract of this type: ConfiguredProviders returns
// slots in the fixed declaration order openai, anthropic, gemini, ollama,
// mistral, cohere.
type Store struct {
	mu           sync.RWMutex
	providers    map[string]providers.Config
	systemPrompt string
	guardrails   guardrails.Config
	verbose      bool
}

// NewStore seeds the runtime store from the loaded configuration.
func NewStore(cfg *Config) *Store {
	slots := make(map[string]providers.Config, len(providers.Names))
	for _, name := range providers.Names {
		slots[name] = cfg.Providers[name]
	}
	return &Store{
		providers:    slots,
		systemPrompt: cfg.SystemPrompt,
		guardrails:   cfg.Guardrails.Clone(),
		verbose:      cfg.Logging.Verbose,
	}
}

// ProviderConfig returns the slot for name and whether it is configured.
// Adapters call this on every request so admin updates apply immediately.
func (s *Store) ProviderConfig(name string) (providers.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.providers[name]
	return cfg, ok && cfg.Configured()
}

// SetProviderConfig replaces the slot for a known provider name.
func (s *Store) SetProviderConfig(name string, cfg providers.Config) error {
	if !providers.Known(name) {
		return fmt.Errorf("config: unknown provider %q", name)
	}
	s.mu.Lock()
	s.providers[name] = cfg
	s.mu.Unlock()
	return nil
}

// Providers returns a copy of all six slots, configured or not.
func (s *Store) Providers() map[string]providers.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]providers.Config, len(s.providers))
	for name, cfg := range s.providers {
		out[name] = cfg
	}
	return out
}

// ConfiguredProviders returns the configured slot names in declaration
// order. This order is the failover rotation.
func (s *Store) ConfiguredProviders() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(providers.Names))
	for _, name := range providers.Names {
		if cfg, ok := s.providers[name]; ok && cfg.Configured() {
			out = append(out, name)
		}
	}
	return out
}

// SystemPrompt returns the gateway-wide system prompt.
func (s *Store) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemPrompt
}

// SetSystemPrompt replaces the gateway-wide system prompt.
func (s *Store) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	s.systemPrompt = prompt
	s.mu.Unlock()
}

// Guardrails returns a copy of the active content policy.
func (s *Store) Guardrails() guardrails.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guardrails.Clone()
}

// SetGuardrails replaces the content policy.
func (s *Store) SetGuardrails(cfg guardrails.Config) {
	clone := cfg.Clone()
	s.mu.Lock()
	s.guardrails = clone
	s.mu.Unlock()
}

// Verbose reports the stored verbosity flag.
func (s *Store) Verbose() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verbose
}

// SetVerbose stores the verbosity flag. The caller is responsible for
// flipping the logger level alongside it.
func (s *Store) SetVerbose(v bool) {
	s.mu.Lock()
	s.verbose = v
	s.mu.Unlock()
}
