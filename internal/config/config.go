// Package config loads plannerd's per-deployment settings: defaults the
// specification leaves to the host, following the template's internal/config
// layout (one Config struct, yaml tags, env overrides, applyDefaults,
// validateConfig), scaled down to what a planner runtime actually needs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskrun/plannerd/pkg/models"
)

// Config is the top-level configuration structure for plannerd.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	LLM      LLMConfig      `yaml:"llm"`
	Logging  LoggingConfig  `yaml:"logging"`
	Registry RegistryConfig `yaml:"registry"`
	Store    StoreConfig    `yaml:"store"`
}

// ServerConfig configures the CLI/RPC front door.
type ServerConfig struct {
	MetricsPort int `yaml:"metrics_port"`
}

// RuntimeConfig configures orchestrator-wide concurrency caps and defaults.
type RuntimeConfig struct {
	// DefaultBudget seeds a run's Budget when the caller doesn't supply one.
	DefaultBudget BudgetConfig `yaml:"default_budget"`

	// MaxConcurrentRuns bounds global in-flight runs across all tenants.
	// 0 means unlimited.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// MaxConcurrentRunsPerTenant bounds in-flight runs for a single tenant.
	// 0 means unlimited.
	MaxConcurrentRunsPerTenant int `yaml:"max_concurrent_runs_per_tenant"`

	// LLMRequestTimeout bounds a single Planner LLM Adapter call (§4.2).
	LLMRequestTimeout time.Duration `yaml:"llm_request_timeout"`

	// ToolRequestTimeout is parsed, defaulted (30s) and validated here, but
	// nothing outside this package reads it: Tool Dispatcher calls run
	// without a per-call deadline of their own.
	ToolRequestTimeout time.Duration `yaml:"tool_request_timeout"`

	// MaxConsecutiveProtocolErrors caps malformed planner output before the
	// run terminates with protocol_error (§4.1).
	MaxConsecutiveProtocolErrors int `yaml:"max_consecutive_protocol_errors"`

	// MaxConsecutiveEmptySearches caps empty searches before a following
	// tool/sandbox referencing an unknown tool yields discovery_failed (§4.4.2).
	MaxConsecutiveEmptySearches int `yaml:"max_consecutive_empty_searches"`
}

// BudgetConfig mirrors models.Budget with yaml tags; Resolve converts it.
type BudgetConfig struct {
	MaxSteps      int     `yaml:"max_steps"`
	MaxToolCalls  int     `yaml:"max_tool_calls"`
	MaxCodeRuns   int     `yaml:"max_code_runs"`
	MaxLLMCostUSD float64 `yaml:"max_llm_cost_usd"`
}

// Resolve converts a BudgetConfig to a models.Budget.
func (b BudgetConfig) Resolve() models.Budget {
	return models.Budget{
		MaxSteps:      b.MaxSteps,
		MaxToolCalls:  b.MaxToolCalls,
		MaxCodeRuns:   b.MaxCodeRuns,
		MaxLLMCostUSD: b.MaxLLMCostUSD,
	}
}

// SandboxConfig configures the ephemeral code sandbox (§4.4.3, §4.5.2).
type SandboxConfig struct {
	// Timeout is the hard wall-clock limit per sandbox invocation. Default 30s.
	Timeout time.Duration `yaml:"timeout"`

	// RootDir is the parent directory under which per-run sandbox package
	// roots are materialized. Defaults to os.TempDir().
	RootDir string `yaml:"root_dir"`
}

// LLMConfig selects and configures the Planner LLM Adapter backends.
type LLMConfig struct {
	// DefaultProvider is either "anthropic" or "openai".
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig configures one backend. APIKeyEnv names an environment
// variable rather than embedding a secret directly in the config file.
type LLMProviderConfig struct {
	APIKeyEnv    string `yaml:"api_key_env"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// APIKey resolves the provider's API key from its configured environment
// variable. Returns "" if unset.
func (c LLMProviderConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// LoggingConfig configures the slog handler threaded through every component.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// RegistryConfig configures the Provider Registry's credential watcher.
type RegistryConfig struct {
	// CredentialDir is the directory fsnotify watches for per-provider
	// credential files (see internal/registry.CredentialWatcher). Empty
	// disables the watcher; a host may still Publish snapshots directly.
	CredentialDir string `yaml:"credential_dir"`
}

// StoreConfig configures the optional §6.5 persisted-run layout.
type StoreConfig struct {
	// Enabled turns on SQLite-backed persistence of run metadata, events,
	// and steps. The runtime must function with this false (§6.5).
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// Load reads and parses the configuration file at path, expanding
// environment variables, applying defaults, and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a Config with every default applied and nothing read from
// disk, for hosts (tests, and the CLI when its config file does not exist)
// that don't need a file on disk.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	def := models.DefaultBudget()
	if cfg.Runtime.DefaultBudget.MaxSteps == 0 {
		cfg.Runtime.DefaultBudget.MaxSteps = def.MaxSteps
	}
	if cfg.Runtime.DefaultBudget.MaxToolCalls == 0 {
		cfg.Runtime.DefaultBudget.MaxToolCalls = def.MaxToolCalls
	}
	if cfg.Runtime.DefaultBudget.MaxCodeRuns == 0 {
		cfg.Runtime.DefaultBudget.MaxCodeRuns = def.MaxCodeRuns
	}
	if cfg.Runtime.DefaultBudget.MaxLLMCostUSD == 0 {
		cfg.Runtime.DefaultBudget.MaxLLMCostUSD = def.MaxLLMCostUSD
	}
	if cfg.Runtime.LLMRequestTimeout == 0 {
		cfg.Runtime.LLMRequestTimeout = 60 * time.Second
	}
	if cfg.Runtime.ToolRequestTimeout == 0 {
		cfg.Runtime.ToolRequestTimeout = 30 * time.Second
	}
	if cfg.Runtime.MaxConsecutiveProtocolErrors == 0 {
		cfg.Runtime.MaxConsecutiveProtocolErrors = 3
	}
	if cfg.Runtime.MaxConsecutiveEmptySearches == 0 {
		cfg.Runtime.MaxConsecutiveEmptySearches = 3
	}

	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 30 * time.Second
	}
	if cfg.Sandbox.RootDir == "" {
		cfg.Sandbox.RootDir = os.TempDir()
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	if _, ok := cfg.LLM.Providers["anthropic"]; !ok {
		cfg.LLM.Providers["anthropic"] = LLMProviderConfig{APIKeyEnv: "ANTHROPIC_API_KEY", DefaultModel: "claude-sonnet-4-20250514"}
	}
	if _, ok := cfg.LLM.Providers["openai"]; !ok {
		cfg.LLM.Providers["openai"] = LLMProviderConfig{APIKeyEnv: "OPENAI_API_KEY", DefaultModel: "gpt-4o"}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// ValidationError collects every config problem found, so a host sees the
// whole list instead of fixing one field at a time.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.Runtime.DefaultBudget.MaxSteps < 0 {
		issues = append(issues, "runtime.default_budget.max_steps must be >= 0")
	}
	if cfg.Runtime.DefaultBudget.MaxToolCalls < 0 {
		issues = append(issues, "runtime.default_budget.max_tool_calls must be >= 0")
	}
	if cfg.Runtime.DefaultBudget.MaxCodeRuns < 0 {
		issues = append(issues, "runtime.default_budget.max_code_runs must be >= 0")
	}
	if cfg.Runtime.DefaultBudget.MaxLLMCostUSD < 0 {
		issues = append(issues, "runtime.default_budget.max_llm_cost_usd must be >= 0")
	}
	if cfg.Runtime.MaxConcurrentRuns < 0 {
		issues = append(issues, "runtime.max_concurrent_runs must be >= 0")
	}
	if cfg.Runtime.MaxConcurrentRunsPerTenant < 0 {
		issues = append(issues, "runtime.max_concurrent_runs_per_tenant must be >= 0")
	}
	if cfg.Runtime.LLMRequestTimeout < 0 {
		issues = append(issues, "runtime.llm_request_timeout must be >= 0")
	}
	if cfg.Runtime.ToolRequestTimeout < 0 {
		issues = append(issues, "runtime.tool_request_timeout must be >= 0")
	}
	if cfg.Runtime.MaxConsecutiveProtocolErrors < 1 {
		issues = append(issues, "runtime.max_consecutive_protocol_errors must be >= 1")
	}
	if cfg.Runtime.MaxConsecutiveEmptySearches < 1 {
		issues = append(issues, "runtime.max_consecutive_empty_searches must be >= 1")
	}

	if cfg.Sandbox.Timeout <= 0 {
		issues = append(issues, "sandbox.timeout must be > 0")
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	switch provider {
	case "anthropic", "openai":
	default:
		issues = append(issues, fmt.Sprintf("llm.default_provider must be \"anthropic\" or \"openai\", got %q", cfg.LLM.DefaultProvider))
	}
	if _, ok := cfg.LLM.Providers[provider]; provider != "" && !ok {
		issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "json", "text":
	default:
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}

	if cfg.Store.Enabled && strings.TrimSpace(cfg.Store.Path) == "" {
		issues = append(issues, "store.path is required when store.enabled is true")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
