package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/dfkernel/internal/config"
	"github.com/vk/dfkernel/internal/ctxlog"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// fileRoot is the schema of a kernel configuration file.
type fileRoot struct {
	LogLevel           string          `hcl:"log_level,optional"`
	LogFormat          string          `hcl:"log_format,optional"`
	CascadeAutoUpdates bool            `hcl:"cascade_auto_updates,optional"`
	HealthcheckPort    int             `hcl:"healthcheck_port,optional"`
	Sandboxes          []*sandboxBlock `hcl:"sandbox,block"`
}

// sandboxBlock is a `sandbox "<kind>" { ... }` block.
type sandboxBlock struct {
	Kind               string `hcl:"kind,label"`
	URL                string `hcl:"url,optional"`
	Namespace          string `hcl:"namespace,optional"`
	Path               string `hcl:"path,optional"`
	Timeout            string `hcl:"timeout,optional"`
	InsecureSkipVerify bool   `hcl:"insecure_skip_verify,optional"`
}

// Load parses the file at path and translates it into the model. Files must
// carry the .hcl extension.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path", path)

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}

	model, err := translate(&root)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	logger.Debug("HCL loading complete.", "has_sandbox", model.Sandbox != nil)
	return model, nil
}
