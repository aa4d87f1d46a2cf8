package config

import (
	"context"
	"fmt"
	"time"
)

// Sandbox kinds.
const (
	SandboxExpr   = "expr"
	SandboxRemote = "remote"
)

// DefaultRemoteTimeout bounds a single remote cell run when the file does not
// set one.
const DefaultRemoteTimeout = 30 * time.Second

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads the configuration file at path into the model.
	Load(ctx context.Context, path string) (*Model, error)
}

// Model is the unified, format-agnostic representation of the kernel
// configuration. Zero values mean "not set" so that command-line flags can
// fill them in.
type Model struct {
	LogLevel           string
	LogFormat          string
	CascadeAutoUpdates bool
	HealthcheckPort    int
	Sandbox            *Sandbox
}

// Sandbox selects and configures the sandbox cells run in.
type Sandbox struct {
	Kind               string
	URL                string
	Namespace          string
	Path               string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Validate checks the sandbox settings for the selected kind.
func (s *Sandbox) Validate() error {
	switch s.Kind {
	case SandboxExpr:
		return nil
	case SandboxRemote:
		if s.URL == "" {
			return fmt.Errorf("sandbox %q requires a url", s.Kind)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("sandbox %q timeout cannot be negative", s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown sandbox kind %q: must be %q or %q", s.Kind, SandboxExpr, SandboxRemote)
	}
}
