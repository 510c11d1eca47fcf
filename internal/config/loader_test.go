package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the config dir inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "blueprint")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Generator.MaxAttempts)
	assert.InDelta(t, 0.1, cfg.Generator.BaseTemperature, 1e-9)
	assert.InDelta(t, 0.5, cfg.Generator.MaxTemperature, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Generator.RetryDelay)
	assert.Equal(t, 4096, cfg.Generator.GitMaxTokens)
	assert.Equal(t, "memory", cfg.Approval.Backend)
	assert.Equal(t, "blueprint.runs", cfg.Events.SubjectPrefix)
}

func TestLoadWithFile_YAMLAndEnv(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  port: 9191
llm:
  provider: anthropic
  api_key: sk-from-file
generator:
  max_attempts: 5
  retry_delay: 500ms
approval:
  backend: sqlite
  sqlite_path: /tmp/approvals.db
`, 0600)

	t.Setenv("BLUEPRINT_SERVER_PORT", "9292")
	t.Setenv("BLUEPRINT_GITHUB_TOKEN", "ghp_envtoken")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9292, cfg.Server.Port, "env overrides file")
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLM.Model)
	assert.Equal(t, "sk-from-file", cfg.LLM.APIKey.Value())
	assert.Equal(t, 5, cfg.Generator.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Generator.RetryDelay)
	assert.Equal(t, "sqlite", cfg.Approval.Backend)
	assert.Equal(t, "ghp_envtoken", cfg.GitHub.Token.Value())
}

func TestLoadWithFile_Rejections(t *testing.T) {
	t.Run("outside allowed dirs", func(t *testing.T) {
		setupTestHome(t)
		_, err := LoadWithFile(filepath.Join(t.TempDir(), "config.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config path validation failed")
	})

	t.Run("world readable", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("permission model differs")
		}
		dir := setupTestHome(t)
		path := writeConfig(t, dir, "server:\n  port: 1\n", 0644)
		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	})

	t.Run("invalid values", func(t *testing.T) {
		dir := setupTestHome(t)
		path := writeConfig(t, dir, "approval:\n  backend: redis\n", 0600)
		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "approval.backend")
	})
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"BLUEPRINT_SERVER_PORT":            "server.port",
		"BLUEPRINT_GENERATOR_MAX_ATTEMPTS": "generator.max_attempts",
		"BLUEPRINT_GITHUB_AUTO_PUSH_REPO":  "github.auto_push_repo",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
