// Package config loads Anvil configuration. It layers, lowest precedence
// first: built-in defaults, the XDG config file, a project-local
// .anvil.yaml, then ANVIL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/anvilcode/anvil/internal/hooks"
)

// Config holds all configuration for Anvil.
type Config struct {
	Executor  ExecutorConfig `mapstructure:"executor"`
	Defaults  DefaultsConfig `mapstructure:"defaults"`
	Parallel  ParallelConfig `mapstructure:"parallel"`
	State     StateConfig    `mapstructure:"state"`
	Watch     WatchConfig    `mapstructure:"watch"`
	Hooks     hooks.Config   `mapstructure:"hooks"`
	PriceFile string         `mapstructure:"price_file"`
}

// ExecutorConfig selects and tunes the agent backend.
type ExecutorConfig struct {
	// Backend is "cli" (Claude Code subprocess) or "api".
	Backend string `mapstructure:"backend"`
	// APIKey overrides ANTHROPIC_API_KEY for the api backend.
	APIKey string `mapstructure:"api_key"`
	// UseAWSBedrock routes api-backend calls through Bedrock.
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
	// AllowedTools is the tool policy for the cli backend.
	AllowedTools []string `mapstructure:"allowed_tools"`
}

// DefaultsConfig holds per-task defaults.
type DefaultsConfig struct {
	Model            string        `mapstructure:"model"`
	MaxIterations    int           `mapstructure:"max_iterations"`
	BudgetUSD        float64       `mapstructure:"budget_usd"`
	CompletionMarker string        `mapstructure:"completion_marker"`
	IterationDelay   time.Duration `mapstructure:"iteration_delay"`
	ContextCarryOver bool          `mapstructure:"context_carry_over"`
}

// ParallelConfig holds concurrent-run defaults.
type ParallelConfig struct {
	Workers           int     `mapstructure:"workers"`
	GlobalBudgetUSD   float64 `mapstructure:"global_budget_usd"`
	FailFast          bool    `mapstructure:"fail_fast"`
	IsolateWorkspaces bool    `mapstructure:"isolate_workspaces"`
}

// WatchConfig holds file-watch settings.
type WatchConfig struct {
	// Debounce is the quiet period before a change triggers a re-run.
	Debounce time.Duration `mapstructure:"debounce"`
}

// StateConfig holds snapshot store settings.
type StateConfig struct {
	// Dir is the state directory. Empty uses .anvil under the project root.
	Dir string `mapstructure:"dir"`
	// RetentionDays bounds how long terminal snapshots are kept by cleanup.
	RetentionDays int `mapstructure:"retention_days"`
}

// XDGConfigPath returns the user-level config file path.
func XDGConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "anvil", "config.yaml")
}

// Load reads the layered configuration. projectRoot locates the
// project-local .anvil.yaml; empty means the current directory.
func Load(projectRoot string) (*Config, error) {
	if projectRoot == "" {
		projectRoot = "."
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ANVIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// User-level config is optional: a missing file is fine, a malformed
	// one is not.
	v.SetConfigFile(XDGConfigPath())
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(XDGConfigPath()); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Project-local overrides, found by walking up from the project root
	// so subdirectory invocations see the same config.
	if projectFile := findProjectConfig(projectRoot); projectFile != "" {
		v.SetConfigFile(projectFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read project config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Executor.APIKey == "" {
		cfg.Executor.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = filepath.Join(projectRoot, ".anvil")
	}
	return &cfg, nil
}

// findProjectConfig walks up from dir looking for .anvil.yaml. Returns ""
// when none exists.
func findProjectConfig(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(abs, ".anvil.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return ""
		}
		abs = parent
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("executor.backend", "cli")
	v.SetDefault("executor.allowed_tools", []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "WebFetch"})
	v.SetDefault("defaults.model", "sonnet")
	v.SetDefault("defaults.max_iterations", 50)
	v.SetDefault("defaults.context_carry_over", true)
	v.SetDefault("parallel.workers", 3)
	v.SetDefault("parallel.isolate_workspaces", true)
	v.SetDefault("state.retention_days", 30)
}
