package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearAliases(t *testing.T) {
	t.Helper()
	for _, alias := range legacyEnv {
		for _, name := range alias.names {
			t.Setenv(name, "")
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearAliases(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Empty(t, cfg.LLM.BaseURL)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.Model)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.LLM.Timeout)
	assert.Equal(t, 5, cfg.Agent.IterationLimit)
	assert.Equal(t, "AI Agent", cfg.Agent.AuthorName)
	assert.Equal(t, "agent@ai.com", cfg.Agent.AuthorEmail)
	assert.Equal(t, DefaultDenylist, cfg.Agent.Denylist)
	assert.Equal(t, LauncherGoroutine, cfg.Dispatch.Launcher)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
}

func TestLoadConfigFileAndEnvLayering(t *testing.T) {
	clearAliases(t)

	path := filepath.Join(t.TempDir(), "autodev.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[llm]
model = "from-file"
temperature = 0.3

[agent]
iteration_limit = 3
`), 0o644))

	t.Setenv("AUTODEV_LLM__MODEL", "from-env")
	t.Setenv("AUTODEV_AGENT__DENYLIST", "a.py, b/ ,")
	t.Setenv("AUTODEV_GITHUB__REPOSITORY", "octo/repo")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 3, cfg.Agent.IterationLimit)
	assert.Equal(t, []string{"a.py", "b/"}, cfg.Agent.Denylist)
	assert.Equal(t, "octo/repo", cfg.GitHub.Repository)
}

func TestLoadConfigLegacyEnvAliases(t *testing.T) {
	clearAliases(t)
	t.Setenv("GITHUB_TOKEN", "ghs_fallback")
	t.Setenv("GH_PAT", "ghp_preferred")
	t.Setenv("GROQ_API_KEY", "groq-key")
	t.Setenv("GITHUB_REPOSITORY", "octo/repo")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "ghp_preferred", cfg.GitHub.Token.Value())
	assert.Equal(t, "groq-key", cfg.LLM.APIKey.Value())
	assert.Equal(t, "octo/repo", cfg.GitHub.Repository)

	t.Setenv("AUTODEV_GITHUB__TOKEN", "ghs_task")
	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "ghs_task", cfg.GitHub.Token.Value())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestInitConfig(t *testing.T) {
	clearAliases(t)
	path := filepath.Join(t.TempDir(), "autodev.toml")

	require.NoError(t, InitConfig(path))
	require.Error(t, InitConfig(path), "second init must not overwrite")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), cfg.GitHub.AppID)
	assert.NoError(t, Validate(cfg))
}

func validRoleConfig(t *testing.T) *Config {
	t.Helper()
	clearAliases(t)
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.LLM.APIKey = "key"
	cfg.GitHub.Token = "token"
	cfg.GitHub.Repository = "octo/repo"
	return cfg
}

func TestValidateRole(t *testing.T) {
	cfg := validRoleConfig(t)
	require.NoError(t, ValidateRole(cfg))

	cfg.LLM.APIKey = ""
	err := ValidateRole(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_API_KEY")

	cfg.LLM.Provider = "ollama"
	assert.NoError(t, ValidateRole(cfg), "ollama runs without a key")

	cfg = validRoleConfig(t)
	cfg.GitHub.Token = ""
	cfg.GitHub.Repository = "no-slash"
	err = ValidateRole(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_TOKEN")
	assert.Contains(t, err.Error(), "owner/name")
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.LLM.Provider = "mystery" }},
		{"empty model", func(c *Config) { c.LLM.Model = "" }},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }},
		{"iteration limit", func(c *Config) { c.Agent.IterationLimit = 0 }},
		{"launcher", func(c *Config) { c.Dispatch.Launcher = "threads" }},
		{"river without database", func(c *Config) { c.Dispatch.Launcher = LauncherRiver }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validRoleConfig(t)
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateServer(t *testing.T) {
	cfg := validRoleConfig(t)
	err := ValidateServer(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app_id")
	assert.Contains(t, err.Error(), "webhook_secret")

	key := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(key, []byte("pem"), 0o600))
	cfg.GitHub.AppID = 42
	cfg.GitHub.WebhookSecret = "s3cret"
	cfg.GitHub.PrivateKeyPath = key
	assert.NoError(t, ValidateServer(cfg))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("ghs_abcdef")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "ghs_")
	assert.Equal(t, "ghs_abcdef", s.Value())

	out, err := json.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Token":"[REDACTED]"}`, string(out))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestSplitRepository(t *testing.T) {
	owner, name := SplitRepository("octo/repo")
	assert.Equal(t, "octo", owner)
	assert.Equal(t, "repo", name)
}
