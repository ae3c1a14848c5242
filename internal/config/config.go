package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider type identifiers. Each value selects one adapter variant.
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeGemini    = "gemini"
	TypeOllama    = "ollama"
	TypeTextgen   = "textgen"
)

// Config represents the complete application configuration. It is loaded
// once at startup and read-only thereafter.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Router    RouterConfig     `yaml:"router"`
	Providers []ProviderConfig `yaml:"providers"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// RouterConfig holds routing engine configuration.
type RouterConfig struct {
	BackoffBase    float64       `yaml:"backoff_base"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	LedgerCapacity int           `yaml:"ledger_capacity"`

	// RoutingPolicy maps an analysis class to a provider tag. Providers
	// carrying the tag are preferred for requests of that class.
	RoutingPolicy map[string]string `yaml:"routing_policy"`
}

// ModelPricing is the cost per 1000 tokens for one model.
type ModelPricing struct {
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
}

// ProviderConfig describes one configured backend. Immutable after load.
type ProviderConfig struct {
	Name              string                  `yaml:"name"`
	Type              string                  `yaml:"type"`
	DisplayName       string                  `yaml:"display_name"`
	BaseURL           string                  `yaml:"base_url"`
	APIKeyEnv         string                  `yaml:"api_key_env"`
	DefaultModel      string                  `yaml:"default_model"`
	Enabled           bool                    `yaml:"enabled"`
	Priority          int                     `yaml:"priority"` // lower = preferred
	Timeout           time.Duration           `yaml:"timeout"`
	MaxRetries        int                     `yaml:"max_retries"`
	RequestsPerMinute int                     `yaml:"requests_per_minute"`
	Tags              []string                `yaml:"tags"`
	Pricing           map[string]ModelPricing `yaml:"pricing"`

	// APIKey is resolved from APIKeyEnv at load time and never serialized.
	APIKey string `yaml:"-"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// PriceFor looks up the pricing entry for a model. The second return is
// false when the provider has no entry for the model, in which case calls
// cost 0 (self-hosted backends).
func (p *ProviderConfig) PriceFor(model string) (ModelPricing, bool) {
	pricing, ok := p.Pricing[model]
	return pricing, ok
}

// HasTag reports whether the provider carries a routing tag.
func (p *ProviderConfig) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RequiresCredential reports whether the provider type needs an API key.
func (p *ProviderConfig) RequiresCredential() bool {
	switch p.Type {
	case TypeOllama, TypeTextgen:
		return false
	default:
		return true
	}
}

// LoadConfig loads configuration from a YAML file and the environment.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.loadFromEnv()
	config.applyProviderDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values.
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	c.Router = RouterConfig{
		BackoffBase:    2,
		CacheTTL:       time.Hour,
		LedgerCapacity: 1000,
		RoutingPolicy:  DefaultRoutingPolicy(),
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// DefaultRoutingPolicy maps the known analysis classes onto provider tags.
func DefaultRoutingPolicy() map[string]string {
	return map[string]string{
		"simple":        "low-cost",
		"sentiment":     "low-cost",
		"comprehensive": "high-quality",
		"therapeutic":   "high-quality",
	}
}

// applyProviderDefaults fills per-provider zero values after file load.
func (c *Config) applyProviderDefaults() {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.DisplayName == "" {
			p.DisplayName = p.Name
		}
		if p.Timeout == 0 {
			p.Timeout = 60 * time.Second
		}
		if p.RequestsPerMinute == 0 {
			p.RequestsPerMinute = 60
		}
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv applies environment overrides and resolves credentials.
func (c *Config) loadFromEnv() {
	if port := os.Getenv("LLM_RELAY_PORT"); port != "" {
		c.Server.Port = port
	}
	if level := os.Getenv("LLM_RELAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LLM_RELAY_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
	}
}

// Validate validates the configuration. Structural problems are rejected
// here; providers with missing credentials are left to the router, which
// excludes them from the pool at startup and logs the exclusion.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Router.BackoffBase < 1 {
		return fmt.Errorf("backoff base must be >= 1, got %g", c.Router.BackoffBase)
	}
	if c.Router.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Router.LedgerCapacity <= 0 {
		return fmt.Errorf("ledger capacity must be positive")
	}

	validTypes := map[string]bool{
		TypeOpenAI:    true,
		TypeAnthropic: true,
		TypeGemini:    true,
		TypeOllama:    true,
		TypeTextgen:   true,
	}

	seen := make(map[string]bool)
	enabledCount := 0
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("provider %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true

		if !validTypes[p.Type] {
			return fmt.Errorf("provider %s has unknown type %q", p.Name, p.Type)
		}
		if p.DefaultModel == "" {
			return fmt.Errorf("provider %s has no default model", p.Name)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("provider %s has non-positive timeout", p.Name)
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("provider %s has negative max retries", p.Name)
		}
		if p.RequestsPerMinute <= 0 {
			return fmt.Errorf("provider %s has non-positive rate limit", p.Name)
		}
		if p.Enabled {
			enabledCount++
		}
	}

	if enabledCount == 0 {
		return fmt.Errorf("at least one provider must be enabled")
	}

	return nil
}

// EnabledProviders returns the enabled provider configs.
func (c *Config) EnabledProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}
