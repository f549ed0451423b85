package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.ListenAddr())
	assert.Equal(t, "whisper_http", cfg.Models.Engine)
	assert.Equal(t, 48000, cfg.Capture.NativeRate)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
models:
  primary: acme/asr-large
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "acme/asr-large", cfg.Models.Primary)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, "openai/whisper-small", cfg.Models.Fallback)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
models:
  primary: from-file/model
`)
	t.Setenv(EnvPrimaryModel, "from-env/model")
	t.Setenv(EnvToken, "env-token")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env/model", cfg.Models.Primary)
	assert.Equal(t, "env-token", cfg.Models.Token)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to read the config file")
}

func TestValidateRejects(t *testing.T) {
	for _, tc := range []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"bad engine", func(c *Config) { c.Models.Engine = "grpc" }, "engine"},
		{"empty primary", func(c *Config) { c.Models.Primary = "" }, "primary"},
		{"empty fallback", func(c *Config) { c.Models.Fallback = "" }, "fallback"},
		{"openai without token", func(c *Config) {
			c.Models.Engine = "openai"
			c.Models.Token = ""
		}, "token"},
		{"bad native rate", func(c *Config) { c.Capture.NativeRate = 100 }, "native_rate"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "level"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantSub)
		})
	}
}
