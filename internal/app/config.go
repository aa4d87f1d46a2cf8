package app

import (
	"fmt"

	"github.com/vk/dfkernel/internal/config"
)

// Config holds the settings given on the command line. Empty values are
// filled from the configuration file, then from defaults.
type Config struct {
	ConfigPath string // optional hcl file

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	Sandbox         string
	RemoteURL       string
	Cascade         bool
}

// NewConfig validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}
	switch cfg.Sandbox {
	case "", config.SandboxExpr, config.SandboxRemote:
	default:
		return nil, fmt.Errorf("invalid sandbox %q: must be %q or %q", cfg.Sandbox, config.SandboxExpr, config.SandboxRemote)
	}
	if cfg.HealthcheckPort < 0 {
		return nil, fmt.Errorf("invalid healthcheck-port %d", cfg.HealthcheckPort)
	}
	return &cfg, nil
}

// merge overlays the command-line settings on the file model and applies
// defaults.
func merge(cfg *Config, file *config.Model) *config.Model {
	out := &config.Model{}
	if file != nil {
		*out = *file
		if file.Sandbox != nil {
			sb := *file.Sandbox
			out.Sandbox = &sb
		}
	}

	if cfg.LogLevel != "" {
		out.LogLevel = cfg.LogLevel
	}
	if out.LogLevel == "" {
		out.LogLevel = "info"
	}
	if cfg.LogFormat != "" {
		out.LogFormat = cfg.LogFormat
	}
	if out.LogFormat == "" {
		out.LogFormat = "text"
	}
	if cfg.HealthcheckPort != 0 {
		out.HealthcheckPort = cfg.HealthcheckPort
	}
	if cfg.Cascade {
		out.CascadeAutoUpdates = true
	}

	if out.Sandbox == nil {
		out.Sandbox = &config.Sandbox{Kind: config.SandboxExpr}
	}
	if cfg.Sandbox != "" && cfg.Sandbox != out.Sandbox.Kind {
		out.Sandbox = &config.Sandbox{Kind: cfg.Sandbox}
	}
	if cfg.RemoteURL != "" {
		out.Sandbox.URL = cfg.RemoteURL
	}
	if out.Sandbox.Kind == config.SandboxRemote && out.Sandbox.Timeout == 0 {
		out.Sandbox.Timeout = config.DefaultRemoteTimeout
	}
	return out
}
