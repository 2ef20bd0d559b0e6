package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the rootle config dir
// inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "rootle")
	require.NoError(t, os.MkdirAll(configDir, 0700))
	return configDir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Entropy.DefaultThreshold)
	assert.Equal(t, 5, cfg.Entropy.MinWordLen)
	assert.Equal(t, 40, cfg.Entropy.MaxWordLen)
	assert.False(t, cfg.Entropy.Enabled)
	assert.False(t, cfg.FS.NoRecursive)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 15*time.Second, cfg.Telemetry.ExportInterval.Duration())
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `rules:
  case_insensitive: true
  gitleaks: true
entropy:
  enabled: true
  default_threshold: 0.7
git:
  glob: "heads/*"
  recent_days: 30
  https_user: ci-bot
  https_pass: s3cr3t
fs:
  exclude:
    - "**/vendor/**"
    - "*.min.js"
output:
  pretty: true
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Rules.CaseInsensitive)
	assert.True(t, cfg.Rules.Gitleaks)
	assert.True(t, cfg.Entropy.Enabled)
	assert.Equal(t, 0.7, cfg.Entropy.DefaultThreshold)
	// untouched keys keep their defaults
	assert.Equal(t, 40, cfg.Entropy.MaxWordLen)
	assert.Equal(t, "heads/*", cfg.Git.Glob)
	assert.Equal(t, 30, cfg.Git.RecentDays)
	assert.Equal(t, "ci-bot", cfg.Git.HTTPSUser)
	assert.Equal(t, "s3cr3t", cfg.Git.HTTPSPass.Value())
	assert.Equal(t, []string{"**/vendor/**", "*.min.js"}, cfg.FS.Exclude)
	assert.True(t, cfg.Output.Pretty)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `entropy:
  default_threshold: 0.7
git:
  since_commit: abc123
`, 0600)

	t.Setenv("ROOTLE_ENTROPY_DEFAULT_THRESHOLD", "0.9")
	t.Setenv("ROOTLE_GIT_SSH_KEY_PATH", "/home/ci/.ssh/id_ed25519")
	t.Setenv("ROOTLE_OUTPUT_PATH", "findings.json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Entropy.DefaultThreshold)
	assert.Equal(t, "/home/ci/.ssh/id_ed25519", cfg.Git.SSHKeyPath)
	assert.Equal(t, "abc123", cfg.Git.SinceCommit)
	assert.Equal(t, "findings.json", cfg.Output.Path)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"threshold above legacy scale", "entropy:\n  default_threshold: 9\n", "default_threshold"},
		{"max below min", "entropy:\n  min_word_len: 10\n  max_word_len: 5\n", "max_word_len"},
		{"negative recent days", "git:\n  recent_days: -1\n", "recent_days"},
		{"password without user", "git:\n  https_pass: x\n", "https_user"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupTestHome(t)
			path := writeConfig(t, dir, tt.yaml, 0600)

			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "rules: [unclosed\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "output:\n  pretty: true\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "# "+strings.Repeat("x", maxConfigFileSize)+"\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestValidateConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		path    string
		wantErr bool
	}{
		{filepath.Join(home, ".config", "rootle", "config.yaml"), false},
		{filepath.Join(home, ".config", "rootle", "ci", "config.yaml"), false},
		{"/etc/rootle/config.yaml", false},
		{"/etc/rootle../etc/passwd", true},
		{filepath.Join(home, ".config", "rootle", "..", "..", "evil.yaml"), true},
		{"/tmp/config.yaml", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"ROOTLE_GIT_HTTPS_PASS":            "git.https_pass",
		"ROOTLE_ENTROPY_DEFAULT_THRESHOLD": "entropy.default_threshold",
		"ROOTLE_OUTPUT_PRETTY":             "output.pretty",
		"ROOTLE_VERBOSE":                   "verbose",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())

	info, err := os.Stat(filepath.Join(home, ".config", "rootle"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
