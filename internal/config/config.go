package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all genui configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Generation engine
	Engine EngineConfig `yaml:"engine"`

	// Orchestrator bounds and gate thresholds
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Sandboxed evaluation
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Generic data view used when evaluation fails
	Fallback FallbackConfig `yaml:"fallback"`

	// Web search collaborator for data acquisition
	Search SearchConfig `yaml:"search"`

	// Trace persistence
	Store StoreConfig `yaml:"store"`

	// Operator-provided extension gates
	Gates GatesConfig `yaml:"gates"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig configures the generation engine.
type EngineConfig struct {
	Provider string   `yaml:"provider"` // cli, gemini
	Command  string   `yaml:"command"`  // binary for the cli provider
	Args     []string `yaml:"args"`     // extra args for the cli provider
	Model    string   `yaml:"model"`
	APIKey   string   `yaml:"api_key"`
	Timeout  string   `yaml:"timeout"`
	Debug    bool     `yaml:"debug"`
}

// PipelineConfig bounds the orchestrator.
type PipelineConfig struct {
	MaxAttempts       int    `yaml:"max_attempts"`
	MaxScopeRetries   int    `yaml:"max_scope_retries"`
	RelevanceFloor    int    `yaml:"relevance_floor"`
	RelevanceMarginal int    `yaml:"relevance_marginal"`
	Critique          bool   `yaml:"critique"`
	Anchor            string `yaml:"anchor"`
}

// SandboxConfig configures compilation and evaluation.
type SandboxConfig struct {
	RenderTimeout    string `yaml:"render_timeout"`
	MaxCallStack     int    `yaml:"max_call_stack"`
	CompileCacheSize int    `yaml:"compile_cache_size"`
}

// FallbackConfig bounds the generic data view.
type FallbackConfig struct {
	MaxDepth int `yaml:"max_depth"`
	MaxItems int `yaml:"max_items"`
}

// SearchConfig configures the web search collaborator.
type SearchConfig struct {
	Enabled    bool   `yaml:"enabled"`
	MaxResults int    `yaml:"max_results"`
	Timeout    string `yaml:"timeout"`
	UserAgent  string `yaml:"user_agent"`
}

// StoreConfig configures the sqlite trace store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// GatesConfig configures extension gates.
type GatesConfig struct {
	ExtensionDir     string `yaml:"extension_dir"`
	ExtensionTimeout string `yaml:"extension_timeout"` // per gate, per check
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "genui",
		Version: "1.0.0",

		Engine: EngineConfig{
			Provider: "cli",
			Command:  "claude",
			Model:    "sonnet",
			Timeout:  "5m",
		},

		Pipeline: PipelineConfig{
			MaxAttempts:       2,
			MaxScopeRetries:   1,
			RelevanceFloor:    40,
			RelevanceMarginal: 70,
			Anchor:            "GeneratedComponent",
		},

		Sandbox: SandboxConfig{
			RenderTimeout:    "2s",
			MaxCallStack:     1024,
			CompileCacheSize: 128,
		},

		Fallback: FallbackConfig{
			MaxDepth: 4,
			MaxItems: 20,
		},

		Search: SearchConfig{
			Enabled:    true,
			MaxResults: 5,
			Timeout:    "30s",
			UserAgent:  "Mozilla/5.0 (compatible; genui/1.0)",
		},

		Gates: GatesConfig{
			ExtensionTimeout: "2s",
		},

		Store: StoreConfig{
			Enabled: true,
			Path:    filepath.Join(".genui", "traces.db"),
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Engine.APIKey = key
		if c.Engine.Provider == "" {
			c.Engine.Provider = "gemini"
		}
	}
	if provider := os.Getenv("GENUI_ENGINE"); provider != "" {
		c.Engine.Provider = provider
	}
	if model := os.Getenv("GENUI_MODEL"); model != "" {
		c.Engine.Model = model
	}
	if timeout := os.Getenv("GENUI_ENGINE_TIMEOUT"); timeout != "" {
		c.Engine.Timeout = timeout
	}
	if attempts := os.Getenv("GENUI_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			c.Pipeline.MaxAttempts = n
		}
	}
	if path := os.Getenv("GENUI_DB"); path != "" {
		c.Store.Path = path
	}
	if addr := os.Getenv("GENUI_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
	}
}

// GetEngineTimeout returns the engine timeout as a duration.
func (c *Config) GetEngineTimeout() time.Duration {
	return parseDuration(c.Engine.Timeout, 5*time.Minute)
}

// GetRenderTimeout returns the sandbox render timeout as a duration.
func (c *Config) GetRenderTimeout() time.Duration {
	return parseDuration(c.Sandbox.RenderTimeout, 2*time.Second)
}

// GetSearchTimeout returns the web search timeout as a duration.
func (c *Config) GetSearchTimeout() time.Duration {
	return parseDuration(c.Search.Timeout, 30*time.Second)
}

// GetExtensionTimeout returns the time one extension gate may spend on a component.
func (c *Config) GetExtensionTimeout() time.Duration {
	return parseDuration(c.Gates.ExtensionTimeout, 2*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Engine.Provider {
	case "cli", "gemini", "scripted":
	default:
		return fmt.Errorf("unsupported engine provider: %q", c.Engine.Provider)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.MaxScopeRetries < 0 {
		return fmt.Errorf("pipeline.max_scope_retries must be >= 0, got %d", c.Pipeline.MaxScopeRetries)
	}
	if c.Pipeline.RelevanceFloor < 0 || c.Pipeline.RelevanceFloor > c.Pipeline.RelevanceMarginal || c.Pipeline.RelevanceMarginal > 100 {
		return fmt.Errorf("relevance thresholds must satisfy 0 <= floor <= marginal <= 100 (floor=%d marginal=%d)",
			c.Pipeline.RelevanceFloor, c.Pipeline.RelevanceMarginal)
	}
	if c.Pipeline.Anchor == "" {
		return fmt.Errorf("pipeline.anchor is required")
	}
	if c.Sandbox.CompileCacheSize < 1 {
		return fmt.Errorf("sandbox.compile_cache_size must be >= 1, got %d", c.Sandbox.CompileCacheSize)
	}
	if c.Fallback.MaxDepth < 1 || c.Fallback.MaxItems < 1 {
		return fmt.Errorf("fallback bounds must be positive (depth=%d items=%d)", c.Fallback.MaxDepth, c.Fallback.MaxItems)
	}
	return nil
}
