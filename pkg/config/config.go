// Package config loads and validates agentflow configuration.
//
// Configuration lives in <project>/.agentflow/config.json (or config.yaml /
// config.yml). Every field has a default, so a missing file yields a usable
// Config. Model pricing and provider inference are static tables in models.go;
// API keys come from the encrypted secrets file or the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agentflow/pkg/logx"
)

// Project layout constants.
const (
	ProjectConfigDir = ".agentflow"
	SchemaVersion    = "1.0"
)

// Role names used as keys in Models. They mirror proto.Role values.
const (
	RoleCoordinator = "coordinator"
	RolePlanner     = "planner"
	RoleImplementer = "implementer"
	RoleVerifier    = "verifier"
	RoleReviewer    = "reviewer"
)

var configFileNames = []string{"config.json", "config.yaml", "config.yml"}

//nolint:gochecknoglobals // package logger
var logger = logx.NewLogger("config")

// LogInfo logs through the config logger so the CLI shares its format.
func LogInfo(format string, args ...any) {
	logger.Info(format, args...)
}

// Config is the full agentflow configuration.
type Config struct {
	SchemaVersion string `json:"schema_version" yaml:"schema_version"`

	// Models maps a role name to a model identifier.
	Models map[string]string `json:"models" yaml:"models"`

	// Pricing overrides KnownModels. Keys are "role/model" or "model".
	Pricing map[string]Price `json:"pricing,omitempty" yaml:"pricing,omitempty"`

	Resilience  ResilienceConfig  `json:"resilience" yaml:"resilience"`
	Workflow    WorkflowConfig    `json:"workflow" yaml:"workflow"`
	Context     ContextConfig     `json:"context" yaml:"context"`
	Checks      ChecksConfig      `json:"checks" yaml:"checks"`
	Gate        GateConfig        `json:"gate" yaml:"gate"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
}

// Price is a per-million-token price pair in USD.
type Price struct {
	InputCPM  float64 `json:"input_cpm" yaml:"input_cpm"`
	OutputCPM float64 `json:"output_cpm" yaml:"output_cpm"`
}

// ResilienceConfig controls completion-client retries and timeouts.
type ResilienceConfig struct {
	MaxAttempts           int `json:"max_attempts" yaml:"max_attempts"`
	BaseDelayMillis       int `json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMillis        int `json:"max_delay_ms" yaml:"max_delay_ms"`
	RequestTimeoutSeconds int `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	MaxOutputTokens       int `json:"max_output_tokens" yaml:"max_output_tokens"`
}

// BaseDelay returns the rate-limit backoff seed.
func (r ResilienceConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMillis) * time.Millisecond
}

// MaxDelay returns the backoff cap.
func (r ResilienceConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMillis) * time.Millisecond
}

// RequestTimeout returns the per-attempt timeout.
func (r ResilienceConfig) RequestTimeout() time.Duration {
	return time.Duration(r.RequestTimeoutSeconds) * time.Second
}

// WorkflowConfig bounds one engine run.
type WorkflowConfig struct {
	MaxSteps       int    `json:"max_steps" yaml:"max_steps"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRecoveries  int    `json:"max_recoveries" yaml:"max_recoveries"`
	BaselineModel  string `json:"baseline_model" yaml:"baseline_model"`
}

// Timeout returns the wall-clock budget for a run.
func (w WorkflowConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// ContextConfig tunes the context builder.
type ContextConfig struct {
	HistoryWindow   int      `json:"history_window" yaml:"history_window"`
	RecentOutputs   int      `json:"recent_outputs" yaml:"recent_outputs"`
	FileTokenBudget int      `json:"file_token_budget" yaml:"file_token_budget"`
	CacheEntries    int      `json:"cache_entries" yaml:"cache_entries"`
	Ignore          []string `json:"ignore" yaml:"ignore"`
}

// ChecksConfig holds health-check and final-check commands.
type ChecksConfig struct {
	// Edit maps a file extension (".go") to the build/type check run after edits.
	Edit map[string]string `json:"edit" yaml:"edit"`
	// CommandPredicate overrides the expr predicate deciding command health.
	CommandPredicate string   `json:"command_predicate,omitempty" yaml:"command_predicate,omitempty"`
	Test             string   `json:"test,omitempty" yaml:"test,omitempty"`
	Final            []string `json:"final,omitempty" yaml:"final,omitempty"`
	TimeoutSeconds   int      `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout returns the per-command timeout.
func (c ChecksConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GateConfig configures the confirmation gate.
type GateConfig struct {
	AutoApprove bool `json:"auto_approve" yaml:"auto_approve"`
	// DenyFiles are doublestar globs relative to the project root.
	DenyFiles []string `json:"deny_files,omitempty" yaml:"deny_files,omitempty"`
	// DenyCommands are regular expressions matched against the command line.
	DenyCommands []string `json:"deny_commands,omitempty" yaml:"deny_commands,omitempty"`
}

// PersistenceConfig locates the optional sqlite cache.
type PersistenceConfig struct {
	DatabasePath string `json:"database_path,omitempty" yaml:"database_path,omitempty"`
}

// MetricsConfig controls Prometheus export.
type MetricsConfig struct {
	TextfilePath string `json:"textfile_path,omitempty" yaml:"textfile_path,omitempty"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the project config from projectDir/.agentflow. A missing file is
// not an error; defaults are returned.
func Load(projectDir string) (*Config, error) {
	dir := filepath.Join(projectDir, ProjectConfigDir)
	for _, name := range configFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	logger.Debug("no config file under %s, using defaults", dir)
	return Default(), nil
}

// LoadFile reads a config file, choosing the decoder by extension.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	logger.Info("📋 Loaded config from %s", path)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.Models == nil {
		cfg.Models = make(map[string]string)
	}
	defaultModels := map[string]string{
		RoleCoordinator: ModelClaudeSonnetLatest,
		RolePlanner:     ModelClaudeSonnetLatest,
		RoleImplementer: ModelClaudeSonnetLatest,
		RoleVerifier:    ModelGemini25Flash,
		RoleReviewer:    ModelClaudeOpusLatest,
	}
	for role, model := range defaultModels {
		if cfg.Models[role] == "" {
			cfg.Models[role] = model
		}
	}

	r := &cfg.Resilience
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.BaseDelayMillis == 0 {
		r.BaseDelayMillis = 1000
	}
	if r.MaxDelayMillis == 0 {
		r.MaxDelayMillis = 60000
	}
	if r.RequestTimeoutSeconds == 0 {
		r.RequestTimeoutSeconds = 180
	}
	if r.MaxOutputTokens == 0 {
		r.MaxOutputTokens = 8192
	}

	w := &cfg.Workflow
	if w.MaxSteps == 0 {
		w.MaxSteps = 50
	}
	if w.TimeoutSeconds == 0 {
		w.TimeoutSeconds = 1800
	}
	if w.MaxRecoveries == 0 {
		w.MaxRecoveries = 2
	}
	if w.BaselineModel == "" {
		w.BaselineModel = ModelClaudeOpusLatest
	}

	c := &cfg.Context
	if c.HistoryWindow == 0 {
		c.HistoryWindow = 10
	}
	if c.RecentOutputs == 0 {
		c.RecentOutputs = 5
	}
	if c.FileTokenBudget == 0 {
		c.FileTokenBudget = 12000
	}
	if c.CacheEntries == 0 {
		c.CacheEntries = 256
	}
	if c.Ignore == nil {
		c.Ignore = []string{".git/**", ".agentflow/**", "node_modules/**", "vendor/**", "**/*.min.js"}
	}

	if cfg.Checks.Edit == nil {
		cfg.Checks.Edit = map[string]string{
			".go": "go build ./...",
			".ts": "npx tsc --noEmit",
		}
	}
	if cfg.Checks.TimeoutSeconds == 0 {
		cfg.Checks.TimeoutSeconds = 300
	}
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	var errs []error
	for role, model := range c.Models {
		if _, err := GetModelProvider(model); err != nil {
			errs = append(errs, fmt.Errorf("models.%s: %w", role, err))
		}
	}
	if c.Resilience.MaxAttempts < 1 {
		errs = append(errs, errors.New("resilience.max_attempts must be at least 1"))
	}
	if c.Workflow.MaxSteps < 1 {
		errs = append(errs, errors.New("workflow.max_steps must be at least 1"))
	}
	if c.Workflow.MaxRecoveries < 0 {
		errs = append(errs, errors.New("workflow.max_recoveries must not be negative"))
	}
	for _, pattern := range c.Gate.DenyCommands {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("gate.deny_commands %q: %w", pattern, err))
		}
	}
	return errors.Join(errs...)
}

// ModelFor returns the configured model for a role.
func (c *Config) ModelFor(role string) string {
	return c.Models[role]
}

// CostFor prices a call, preferring a "role/model" override, then a model
// override, then KnownModels.
func (c *Config) CostFor(role, model string, promptTokens, completionTokens int) float64 {
	if p, ok := c.Pricing[role+"/"+model]; ok {
		return priceTokens(p, promptTokens, completionTokens)
	}
	if p, ok := c.Pricing[model]; ok {
		return priceTokens(p, promptTokens, completionTokens)
	}
	cost, _ := CalculateCost(model, promptTokens, completionTokens)
	return cost
}
