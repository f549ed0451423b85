// Package config loads and validates the service configuration. The
// file is YAML; a handful of environment variables override the fields
// that differ between deployments (model IDs, endpoint, token).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvPrimaryModel  = "SPEECHPIPE_PRIMARY_MODEL"
	EnvFallbackModel = "SPEECHPIPE_FALLBACK_MODEL"
	EnvEndpoint      = "SPEECHPIPE_ENDPOINT"
	EnvToken         = "SPEECHPIPE_TOKEN"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Models  ModelsConfig  `yaml:"models"`
	Capture CaptureConfig `yaml:"capture"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Address        string `yaml:"address"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds
}

// ModelsConfig describes where the speech models live. Engine selects
// the protocol: "whisper_http" for a self-hosted inference server,
// "openai" for the OpenAI-compatible API.
type ModelsConfig struct {
	Engine   string `yaml:"engine"`
	Primary  string `yaml:"primary"`
	Fallback string `yaml:"fallback"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
	Timeout  int    `yaml:"timeout"` // seconds
}

type CaptureConfig struct {
	NativeRate     int     `yaml:"native_rate"`
	MaxDurationSec float64 `yaml:"max_duration"` // 0 means unbounded
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        "0.0.0.0",
			Port:           8080,
			MaxUploadBytes: 32 << 20,
			RequestTimeout: 120,
		},
		Models: ModelsConfig{
			Engine:   "whisper_http",
			Primary:  "openai/whisper-large-v3",
			Fallback: "openai/whisper-small",
			Endpoint: "http://127.0.0.1:9000/inference",
			Timeout:  60,
		},
		Capture: CaptureConfig{
			NativeRate: 48000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the file (when path is non-empty) on top of the defaults,
// applies the environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read the config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unable to parse the config file %q: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrimaryModel); v != "" {
		c.Models.Primary = v
	}
	if v := os.Getenv(EnvFallbackModel); v != "" {
		c.Models.Fallback = v
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		c.Models.Endpoint = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Models.Token = v
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Models.Validate(); err != nil {
		return fmt.Errorf("models config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if s.MaxUploadBytes < 1024 {
		return fmt.Errorf("max_upload_bytes must be at least 1024, got %d", s.MaxUploadBytes)
	}
	if s.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be at least 1 second, got %d", s.RequestTimeout)
	}
	return nil
}

func (m *ModelsConfig) Validate() error {
	switch m.Engine {
	case "whisper_http", "openai":
	default:
		return fmt.Errorf("engine must be 'whisper_http' or 'openai', got %q", m.Engine)
	}
	if m.Primary == "" {
		return fmt.Errorf("primary model cannot be empty")
	}
	if m.Fallback == "" {
		return fmt.Errorf("fallback model cannot be empty")
	}
	if m.Engine == "whisper_http" && m.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty for the whisper_http engine")
	}
	if m.Engine == "openai" && m.Token == "" {
		return fmt.Errorf("token cannot be empty for the openai engine")
	}
	if m.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", m.Timeout)
	}
	return nil
}

func (c *CaptureConfig) Validate() error {
	if c.NativeRate < 8000 || c.NativeRate > 192000 {
		return fmt.Errorf("native_rate must be between 8000 and 192000 Hz, got %d", c.NativeRate)
	}
	if c.MaxDurationSec < 0 {
		return fmt.Errorf("max_duration cannot be negative, got %f", c.MaxDurationSec)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "trace", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("level must be one of [trace, debug, info, warn, error], got %q", l.Level)
	}
}

func (s *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

func (s *ServerConfig) GetRequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

func (m *ModelsConfig) GetTimeout() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}

func (c *CaptureConfig) GetMaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSec * float64(time.Second))
}
