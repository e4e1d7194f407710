// Package config loads startup configuration and owns the runtime store the
// admin surface mutates.
//
// Configuration is read from gateway.toml in the working directory, with
// environment variables taking precedence. Env vars use the AI_GATEWAY_
// prefix with dots replaced by underscores, so providers.openai.api_key
// becomes AI_GATEWAY_PROVIDERS_OPENAI_API_KEY. The classic key names
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY, MISTRAL_API_KEY,
// COHERE_API_KEY) are also honored for the matching slot.
//
// At least one provider must be configured (endpoint non-empty) for the
// gateway to start.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/ai-gateway/internal/guardrails"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
)

// Config is the top-level configuration container.
type Config struct {
	// Gateway holds the listener ports and process-level switches.
	Gateway GatewayConfig

	// SystemPrompt is appended to every request's system message.
	SystemPrompt string

	// Cache controls the response cache.
	Cache CacheConfig

	// Providers holds the six provider slots keyed by provider name.
	// A slot with an empty endpoint is unconfigured.
	Providers map[string]providers.Config

	// Guardrails is the initial content policy.
	Guardrails guardrails.Config

	// RateLimit carries the optional default plan. Per-IP plans are
	// created at runtime through the admin surface.
	RateLimit RateLimitConfig

	// Logging controls verbosity and the optional external sinks.
	Logging LoggingConfig
}

// GatewayConfig holds the listener ports and process switches.
type GatewayConfig struct {
	// Port is the chat ingress port. Default: 8080.
	Port int

	// AdminPort serves stats, configuration, and the dashboard. Default: 8081.
	AdminPort int

	// GRPCPort serves the gRPC chat service. Default: 8082.
	GRPCPort int

	// HealthChecks enables periodic provider health probing. Default: true.
	HealthChecks bool
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// TTLSeconds is how long a cached response stays valid. Default: 3600.
	TTLSeconds int

	// MaxEntries caps the cache size; the oldest entry is evicted past the
	// cap. 0 leaves the cache bounded by TTL alone. Default: 0.
	MaxEntries int

	// RefreshCreatedOnHit rewrites the created timestamp when serving from
	// cache. Default: false (the original timestamp is returned).
	RefreshCreatedOnHit bool
}

// RateLimitConfig carries the startup default plan.
type RateLimitConfig struct {
	// Default applies to any IP without its own plan when no wildcard plan
	// exists. Nil disables default limiting.
	Default *ratelimit.Plan
}

// LoggingConfig controls log output and external sinks.
type LoggingConfig struct {
	// Verbose enables DEBUG lines. Default: false.
	Verbose bool

	Splunk     SplunkConfig
	Datadog    DatadogConfig
	Elastic    ElasticConfig
	ClickHouse ClickHouseConfig
}

// SplunkConfig configures the HTTP Event Collector sink.
type SplunkConfig struct {
	Enabled  bool
	Endpoint string
	Token    string
}

// DatadogConfig configures the Datadog logs intake sink.
type DatadogConfig struct {
	Enabled  bool
	Endpoint string
	APIKey   string
	Service  string
}

// ElasticConfig configures the Elasticsearch bulk sink.
type ElasticConfig struct {
	Enabled  bool
	Endpoint string
	Index    string
	APIKey   string
}

// ClickHouseConfig configures the ClickHouse analytics sink.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Load reads gateway.toml and the environment, applies defaults, and
// validates the result.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("gateway")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.SetEnvPrefix("AI_GATEWAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.admin_port", 8081)
	v.SetDefault("gateway.grpc_port", 8082)
	v.SetDefault("gateway.health_checks", true)

	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.max_entries", 0)
	v.SetDefault("cache.refresh_created_on_hit", false)

	v.SetDefault("logging.verbose", false)
	v.SetDefault("logging.datadog.service", "ai-gateway")
	v.SetDefault("logging.elastic.index", "gateway-logs")
	v.SetDefault("logging.clickhouse.table", "gateway_logs")

	cfg := &Config{
		Gateway: GatewayConfig{
			Port:         v.GetInt("gateway.port"),
			AdminPort:    v.GetInt("gateway.admin_port"),
			GRPCPort:     v.GetInt("gateway.grpc_port"),
			HealthChecks: v.GetBool("gateway.health_checks"),
		},

		SystemPrompt: v.GetString("gateway.system_prompt"),

		Cache: CacheConfig{
			TTLSeconds:          v.GetInt("cache.ttl_seconds"),
			MaxEntries:          v.GetInt("cache.max_entries"),
			RefreshCreatedOnHit: v.GetBool("cache.refresh_created_on_hit"),
		},

		Providers: loadProviders(v),

		Guardrails: guardrails.Config{
			BannedPhrases:     v.GetStringSlice("guardrails.banned_phrases"),
			MinLength:         v.GetInt("guardrails.min_length"),
			MaxLength:         v.GetInt("guardrails.max_length"),
			RequireDisclaimer: v.GetBool("guardrails.require_disclaimer"),
			Disclaimer:        v.GetString("guardrails.disclaimer"),
		},

		RateLimit: RateLimitConfig{
			Default: loadDefaultPlan(v),
		},

		Logging: LoggingConfig{
			Verbose: v.GetBool("logging.verbose"),
			Splunk: SplunkConfig{
				Enabled:  v.GetBool("logging.splunk.enabled"),
				Endpoint: v.GetString("logging.splunk.endpoint"),
				Token:    v.GetString("logging.splunk.token"),
			},
			Datadog: DatadogConfig{
				Enabled:  v.GetBool("logging.datadog.enabled"),
				Endpoint: v.GetString("logging.datadog.endpoint"),
				APIKey:   v.GetString("logging.datadog.api_key"),
				Service:  v.GetString("logging.datadog.service"),
			},
			Elastic: ElasticConfig{
				Enabled:  v.GetBool("logging.elastic.enabled"),
				Endpoint: v.GetString("logging.elastic.endpoint"),
				Index:    v.GetString("logging.elastic.index"),
				APIKey:   v.GetString("logging.elastic.api_key"),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  v.GetBool("logging.clickhouse.enabled"),
				Addr:     v.GetString("logging.clickhouse.addr"),
				Database: v.GetString("logging.clickhouse.database"),
				Username: v.GetString("logging.clickhouse.username"),
				Password: v.GetString("logging.clickhouse.password"),
				Table:    v.GetString("logging.clickhouse.table"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// classicKeyEnv maps provider slots to the key env vars the rest of the
// ecosystem already uses.
var classicKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GOOGLE_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
	"cohere":    "COHERE_API_KEY",
}

func loadProviders(v *viper.Viper) map[string]providers.Config {
	out := make(map[string]providers.Config, len(providers.Names))
	for _, name := range providers.Names {
		prefix := "providers." + name + "."
		cfg := providers.Config{
			APIKey:   v.GetString(prefix + "api_key"),
			Model:    v.GetString(prefix + "model"),
			Endpoint: v.GetString(prefix + "endpoint"),
		}
		if cfg.APIKey == "" {
			if env := classicKeyEnv[name]; env != "" {
				cfg.APIKey = os.Getenv(env)
			}
		}
		out[name] = cfg
	}
	return out
}

func loadDefaultPlan(v *viper.Viper) *ratelimit.Plan {
	p := ratelimit.Plan{
		Name:          v.GetString("ratelimit.default.name"),
		Requests:      v.GetInt("ratelimit.default.requests"),
		WindowSeconds: v.GetInt("ratelimit.default.window_seconds"),
	}
	if p.Requests == 0 && p.WindowSeconds == 0 {
		return nil
	}
	return &p
}

// validate checks the semantic constraints that defaults cannot express.
func (c *Config) validate() error {
	anyConfigured := false
	for _, name := range providers.Names {
		slot := c.Providers[name]
		if slot.Configured() {
			anyConfigured = true
			continue
		}
		if slot.APIKey != "" || slot.Model != "" {
			return fmt.Errorf("config: provider %s has api_key or model set but no endpoint", name)
		}
	}
	if !anyConfigured {
		return fmt.Errorf(
			"config: at least one provider endpoint is required " +
				"(set providers.<name>.endpoint in gateway.toml or the matching " +
				"AI_GATEWAY_PROVIDERS_<NAME>_ENDPOINT variable)",
		)
	}

	for _, port := range []struct {
		name  string
		value int
	}{
		{"gateway.port", c.Gateway.Port},
		{"gateway.admin_port", c.Gateway.AdminPort},
		{"gateway.grpc_port", c.Gateway.GRPCPort},
	} {
		if port.value < 1 || port.value > 65535 {
			return fmt.Errorf("config: %s must be a valid TCP port, got %d", port.name, port.value)
		}
	}

	if c.Cache.TTLSeconds < 1 {
		return fmt.Errorf("config: cache.ttl_seconds must be ≥ 1, got %d", c.Cache.TTLSeconds)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("config: cache.max_entries must be ≥ 0, got %d", c.Cache.MaxEntries)
	}

	if p := c.RateLimit.Default; p != nil && !p.Valid() {
		return fmt.Errorf(
			"config: ratelimit.default needs positive requests and window_seconds, got %d/%d",
			p.Requests, p.WindowSeconds,
		)
	}

	for _, sink := range []struct {
		name     string
		enabled  bool
		endpoint string
	}{
		{"splunk", c.Logging.Splunk.Enabled, c.Logging.Splunk.Endpoint},
		{"datadog", c.Logging.Datadog.Enabled, c.Logging.Datadog.Endpoint},
		{"elastic", c.Logging.Elastic.Enabled, c.Logging.Elastic.Endpoint},
		{"clickhouse", c.Logging.ClickHouse.Enabled, c.Logging.ClickHouse.Addr},
	} {
		if sink.enabled && sink.endpoint == "" {
			return fmt.Errorf("config: logging.%s is enabled but has no endpoint", sink.name)
		}
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}
