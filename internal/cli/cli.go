package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vk/dfkernel/internal/app"
	"github.com/vk/dfkernel/internal/hcl_adapter"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// flags are the persistent options shared by every command.
type flags struct {
	configPath      string
	logLevel        string
	logFormat       string
	sandbox         string
	remoteURL       string
	cascade         bool
	healthcheckPort int
}

// streams carries the writers commands print to.
type streams struct {
	out    io.Writer
	errOut io.Writer
}

// NewRootCmd builds the dfkernel command tree. Reports go to out, logs and
// diagnostics to errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	f := &flags{}
	s := &streams{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "dfkernel",
		Short: "Dataflow notebook kernel",
		Long: `dfkernel runs notebooks whose cells reference each other's outputs
by cell id or tag instead of by execution order.

A reference is written name$cell, name$tag or name$tag:cell; plain names
are linked to the cell that last exported them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Path to an HCL configuration file.")
	pf.StringVar(&f.logLevel, "log-level", "", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.StringVar(&f.logFormat, "log-format", "", "Log output format. Options: 'text' or 'json'.")
	pf.StringVar(&f.sandbox, "sandbox", "", "Sandbox cells run in. Options: 'expr' or 'remote'.")
	pf.StringVar(&f.remoteURL, "remote-url", "", "URL of the remote sandbox runner.")
	pf.BoolVar(&f.cascade, "cascade", false, "Let auto-updated cells trigger their own auto-updates.")
	pf.IntVar(&f.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")

	root.AddCommand(
		newRunCmd(f, s),
		newLinearizeCmd(f, s),
		newWatchCmd(f, s),
		newCompleteCmd(f, s),
	)
	return root
}

// Execute runs the command tree with args. Usage problems are returned as an
// ExitError with code 2.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	root := NewRootCmd(out, errOut)
	root.SetArgs(args)
	slog.Debug("CLI parser started.", "args", len(args))

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	if isUsageError(err) {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	return err
}

// isUsageError recognizes cobra's argument and flag errors, which it does not
// type.
func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "accepts ", "requires at least", "invalid argument", "flag needs an argument"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// appConfig validates the persistent flags.
func (f *flags) appConfig() (*app.Config, error) {
	cfg, err := app.NewConfig(app.Config{
		ConfigPath:      f.configPath,
		LogFormat:       strings.ToLower(f.logFormat),
		LogLevel:        strings.ToLower(f.logLevel),
		HealthcheckPort: f.healthcheckPort,
		Sandbox:         strings.ToLower(f.sandbox),
		RemoteURL:       f.remoteURL,
		Cascade:         f.cascade,
	})
	if err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}
	return cfg, nil
}

// newApp validates the flags and starts an app logging to errOut.
func newApp(cmd *cobra.Command, f *flags, s *streams) (*app.App, error) {
	cfg, err := f.appConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(cmd.Context(), s.errOut, cfg, hcl_adapter.NewLoader())
	if err != nil {
		return nil, err
	}
	return a, nil
}
