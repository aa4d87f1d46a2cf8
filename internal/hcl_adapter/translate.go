package hcl_adapter

import (
	"fmt"
	"time"

	"github.com/vk/dfkernel/internal/config"
)

// translate converts the decoded file into the format-agnostic model.
func translate(root *fileRoot) (*config.Model, error) {
	model := &config.Model{
		LogLevel:           root.LogLevel,
		LogFormat:          root.LogFormat,
		CascadeAutoUpdates: root.CascadeAutoUpdates,
		HealthcheckPort:    root.HealthcheckPort,
	}

	switch len(root.Sandboxes) {
	case 0:
	case 1:
		sb, err := translateSandbox(root.Sandboxes[0])
		if err != nil {
			return nil, err
		}
		model.Sandbox = sb
	default:
		return nil, fmt.Errorf("at most one sandbox block is allowed, found %d", len(root.Sandboxes))
	}
	return model, nil
}

func translateSandbox(block *sandboxBlock) (*config.Sandbox, error) {
	sb := &config.Sandbox{
		Kind:               block.Kind,
		URL:                block.URL,
		Namespace:          block.Namespace,
		Path:               block.Path,
		InsecureSkipVerify: block.InsecureSkipVerify,
	}
	if block.Timeout != "" {
		d, err := time.ParseDuration(block.Timeout)
		if err != nil {
			return nil, fmt.Errorf("sandbox %q: invalid timeout: %w", block.Kind, err)
		}
		sb.Timeout = d
	}
	if err := sb.Validate(); err != nil {
		return nil, err
	}
	return sb, nil
}
