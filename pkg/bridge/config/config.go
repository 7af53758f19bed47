package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/metabridge-dev/metabridge/go/pkg/bridge/errors"
)

// Config represents the bridge configuration. It is loaded once at process
// start and never re-read on the request path.
type Config struct {
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine"`
	Sandbox SandboxConfig `yaml:"sandbox" mapstructure:"sandbox"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Debug   bool          `yaml:"debug" mapstructure:"debug"`
}

// EngineConfig describes how the external R engine is invoked.
type EngineConfig struct {
	// Interpreter is the Rscript executable, resolved via PATH if relative.
	Interpreter string `yaml:"interpreter" mapstructure:"interpreter"`
	// EntryScript is the R entry point handed every tool invocation.
	EntryScript string `yaml:"entry_script" mapstructure:"entry_script"`
	// TimeoutSeconds is the wall-clock budget per invocation.
	TimeoutSeconds int `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	// AllowDegraded keeps the server up when the startup probe fails;
	// health_check then reports a degraded status.
	AllowDegraded bool `yaml:"allow_degraded" mapstructure:"allow_degraded"`
}

// SandboxConfig describes the session sandbox.
type SandboxConfig struct {
	Root                 string `yaml:"root" mapstructure:"root"`
	InlineThresholdBytes int    `yaml:"inline_threshold_bytes" mapstructure:"inline_threshold_bytes"`
	MaxPayloadBytes      int64  `yaml:"max_payload_bytes" mapstructure:"max_payload_bytes"`
	IndexFile            string `yaml:"index_file" mapstructure:"index_file"`
}

// ServerConfig holds MCP server identity and the optional debug HTTP listener.
type ServerConfig struct {
	Name      string `yaml:"name" mapstructure:"name"`
	DebugAddr string `yaml:"debug_addr" mapstructure:"debug_addr"`
}

// Timeout returns the per-invocation budget as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Interpreter:    "Rscript",
			EntryScript:    "scripts/tools.R",
			TimeoutSeconds: 120,
		},
		Sandbox: SandboxConfig{
			Root:                 filepath.Join(os.TempDir(), "metabridge", "sessions"),
			InlineThresholdBytes: 64 * 1024,
			MaxPayloadBytes:      50 * 1024 * 1024,
			IndexFile:            "sessions.db",
		},
		Server: ServerConfig{
			Name: "metabridge",
		},
	}
}

// Load reads configuration from an optional YAML file and METABRIDGE_*
// environment variables, with environment taking precedence over the file.
// Fields left unset fall back to DefaultConfig.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("METABRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys must be bound for the environment to reach Unmarshal.
	for _, key := range []string{
		"engine.interpreter",
		"engine.entry_script",
		"engine.timeout_seconds",
		"engine.allow_degraded",
		"sandbox.root",
		"sandbox.inline_threshold_bytes",
		"sandbox.max_payload_bytes",
		"sandbox.index_file",
		"server.name",
		"server.debug_addr",
		"debug",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeConfigInvalid,
				"failed to bind environment", err)
		}
	}

	if filePath != "" {
		v.SetConfigFile(filePath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(filePath); statErr == nil {
				return nil, apperrors.New(apperrors.ErrCodeConfigInvalid,
					"failed to read config file", err)
			}
			// Missing file falls through to defaults.
		}
	}

	var cfg Config
	// Environment values arrive as strings, so decode weakly typed.
	weak := func(dc *mapstructure.DecoderConfig) { dc.WeaklyTypedInput = true }
	if err := v.Unmarshal(&cfg, weak); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid,
			"failed to parse config", err)
	}

	if err := mergo.Merge(&cfg, DefaultConfig()); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid,
			"failed to apply config defaults", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Engine.Interpreter == "" {
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			"engine.interpreter is required", nil)
	}
	if c.Engine.EntryScript == "" {
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			"engine.entry_script is required", nil)
	}
	if c.Engine.TimeoutSeconds <= 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			"engine.timeout_seconds must be positive", nil)
	}
	if c.Sandbox.Root == "" {
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			"sandbox.root is required", nil)
	}
	if c.Sandbox.InlineThresholdBytes <= 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			"sandbox.inline_threshold_bytes must be positive", nil)
	}
	if c.Sandbox.MaxPayloadBytes < int64(c.Sandbox.InlineThresholdBytes) {
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			"sandbox.max_payload_bytes must be at least the inline threshold", nil)
	}
	return nil
}

// Save writes the configuration to a YAML file.
func Save(cfg *Config, filePath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			"failed to marshal config", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return apperrors.New(apperrors.ErrCodeFileOperation,
			"failed to write config file", err)
	}
	return nil
}
