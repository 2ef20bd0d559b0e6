// Package config provides configuration loading for rootle.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// ROOTLE_* environment variables. Command-line flags are applied on top by
// the CLI.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete rootle configuration.
type Config struct {
	Rules     RulesConfig     `koanf:"rules"`
	Allowlist AllowlistConfig `koanf:"allowlist"`
	Entropy   EntropyConfig   `koanf:"entropy"`
	Git       GitConfig       `koanf:"git"`
	FS        FSConfig        `koanf:"fs"`
	Output    OutputConfig    `koanf:"output"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// RulesConfig selects the rule table.
type RulesConfig struct {
	// Path to a JSON rule file. Empty uses the embedded default table.
	Path            string `koanf:"path"`
	CaseInsensitive bool   `koanf:"case_insensitive"`
	// Gitleaks merges the gitleaks default rule pack into the table.
	Gitleaks bool `koanf:"gitleaks"`
}

// AllowlistConfig selects the allowlist. A .toml path is read as a
// gitleaks-style allowlist, anything else as JSON.
type AllowlistConfig struct {
	Path string `koanf:"path"`
}

// EntropyConfig tunes the entropy analyzer.
type EntropyConfig struct {
	// Enabled adds standalone high-entropy findings under "Entropy".
	Enabled          bool    `koanf:"enabled"`
	DefaultThreshold float64 `koanf:"default_threshold"`
	MinWordLen       int     `koanf:"min_word_len"`
	MaxWordLen       int     `koanf:"max_word_len"`
}

// GitConfig holds history-walk filters and clone credentials.
type GitConfig struct {
	Glob         string `koanf:"glob"`
	SinceCommit  string `koanf:"since_commit"`
	UntilCommit  string `koanf:"until_commit"`
	RecentDays   int    `koanf:"recent_days"`
	SSHKeyPath   string `koanf:"ssh_key_path"`
	SSHKeyPhrase Secret `koanf:"ssh_key_phrase"`
	HTTPSUser    string `koanf:"https_user"`
	HTTPSPass    Secret `koanf:"https_pass"`
}

// FSConfig controls the filesystem scanner.
type FSConfig struct {
	NoRecursive bool     `koanf:"no_recursive"`
	Workers     int      `koanf:"workers"`
	Exclude     []string `koanf:"exclude"`
}

// OutputConfig controls where findings go.
type OutputConfig struct {
	// Path of the output file. Empty writes to stdout.
	Path   string `koanf:"path"`
	Pretty bool   `koanf:"pretty"`
	Redact bool   `koanf:"redact"`
}

// LogConfig overrides the verbosity flag when Level is set.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig controls the prometheus textfile dump.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

// TelemetryConfig is mapped onto telemetry.Config by the CLI.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	TLSSkipVerify  bool     `koanf:"tls_skip_verify"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Entropy: EntropyConfig{
			DefaultThreshold: 0.6,
			MinWordLen:       5,
			MaxWordLen:       40,
		},
		Log: LogConfig{
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			SampleRate:     1.0,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Entropy.DefaultThreshold < 0 || c.Entropy.DefaultThreshold > 8 {
		errs = append(errs, fmt.Errorf("entropy.default_threshold must be within [0, 8], got %v", c.Entropy.DefaultThreshold))
	}
	if c.Entropy.MinWordLen < 1 {
		errs = append(errs, fmt.Errorf("entropy.min_word_len must be >= 1, got %d", c.Entropy.MinWordLen))
	}
	if c.Entropy.MaxWordLen < c.Entropy.MinWordLen {
		errs = append(errs, fmt.Errorf("entropy.max_word_len (%d) must be >= min_word_len (%d)", c.Entropy.MaxWordLen, c.Entropy.MinWordLen))
	}
	if c.Git.RecentDays < 0 {
		errs = append(errs, fmt.Errorf("git.recent_days must be >= 0, got %d", c.Git.RecentDays))
	}
	if c.Git.HTTPSPass.IsSet() && c.Git.HTTPSUser == "" {
		errs = append(errs, fmt.Errorf("git.https_pass requires git.https_user"))
	}
	if c.FS.Workers < 0 {
		errs = append(errs, fmt.Errorf("fs.workers must be >= 0, got %d", c.FS.Workers))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format))
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http', got %q", c.Telemetry.Protocol))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
