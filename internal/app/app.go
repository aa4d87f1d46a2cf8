package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/dfkernel/internal/config"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/exprsandbox"
	"github.com/vk/dfkernel/internal/graph"
	"github.com/vk/dfkernel/internal/inmemorystore"
	"github.com/vk/dfkernel/internal/inmemorytopology"
	"github.com/vk/dfkernel/internal/kernel"
	"github.com/vk/dfkernel/internal/linktable"
	"github.com/vk/dfkernel/internal/remotesandbox"
	"github.com/vk/dfkernel/internal/sandbox"
)

// App encapsulates the kernel session's dependencies, configuration, and
// lifecycle.
type App struct {
	ctx        context.Context
	logger     *slog.Logger
	config     *config.Model
	sandbox    sandbox.Sandbox
	closeSB    func()
	kernel     *kernel.Kernel
	httpServer *http.Server
}

// NewApp loads the optional configuration file, connects the sandbox and
// builds an empty kernel. Logs go to logW. Close releases what NewApp opened.
func NewApp(ctx context.Context, logW io.Writer, appConfig *Config, loader config.Loader) (*App, error) {
	var fileModel *config.Model
	if appConfig.ConfigPath != "" {
		m, err := loader.Load(ctx, appConfig.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		fileModel = m
	}
	model := merge(appConfig, fileModel)
	if err := model.Sandbox.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox configuration: %w", err)
	}

	logger := NewLogger(model.LogLevel, model.LogFormat, logW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.", "level", model.LogLevel, "format", model.LogFormat)

	a := &App{ctx: ctx, logger: logger, config: model}

	sb, closeSB, err := openSandbox(ctx, model.Sandbox)
	if err != nil {
		return nil, err
	}
	a.sandbox, a.closeSB = sb, closeSB
	logger.Debug("Sandbox ready.", "kind", model.Sandbox.Kind)

	g := graph.New(inmemorytopology.New(), inmemorystore.New())
	a.kernel = kernel.New(g, linktable.New(), sb, kernel.Options{
		CascadeAutoUpdates: model.CascadeAutoUpdates,
	})
	logger.Debug("Kernel created.", "cascade_auto_updates", model.CascadeAutoUpdates)

	a.healthCheckServer()
	return a, nil
}

// openSandbox creates the sandbox selected by cfg and the function that
// releases it.
func openSandbox(ctx context.Context, cfg *config.Sandbox) (sandbox.Sandbox, func(), error) {
	switch cfg.Kind {
	case config.SandboxRemote:
		sb, err := remotesandbox.Dial(ctx, remotesandbox.Config{
			URL:                cfg.URL,
			Namespace:          cfg.Namespace,
			Path:               cfg.Path,
			Timeout:            cfg.Timeout,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to remote sandbox: %w", err)
		}
		return sb, sb.Close, nil
	default:
		return exprsandbox.New(), func() {}, nil
	}
}

// Context returns the app's context, carrying its logger.
func (a *App) Context() context.Context { return a.ctx }

// Kernel returns the app's kernel.
func (a *App) Kernel() *kernel.Kernel { return a.kernel }

// Model returns the effective configuration.
func (a *App) Model() *config.Model { return a.config }

// Close stops the health check server and disconnects the sandbox.
func (a *App) Close() error {
	err := a.closeHealthCheckServer()
	if a.closeSB != nil {
		a.closeSB()
	}
	a.logger.Debug("App closed.")
	return err
}
