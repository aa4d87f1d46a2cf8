package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vk/dfkernel/internal/app"
	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/config"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/exprsandbox"
	"github.com/vk/dfkernel/internal/kernel"
	"github.com/vk/dfkernel/internal/linearize"
	"github.com/vk/dfkernel/internal/notebook"
)

func newRunCmd(f *flags, s *streams) *cobra.Command {
	var (
		cells   []string
		write   bool
		asJSON  bool
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "run NOTEBOOK",
		Short: "Run a notebook's code cells and print their reports",
		Long: `Run loads a .ipynb notebook into a fresh kernel and runs its code cells in
notebook order, or only the cells given with --cell. Cells read from each
other through the kernel, so a cell whose inputs sit further down still runs
after them.

With --write the display form of each cell (every reference made explicit)
and its exported names are saved back into the notebook.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(cells)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, f, s)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := a.Context()

			nb, err := a.LoadNotebook(ctx, args[0])
			if err != nil {
				return err
			}
			reports, err := a.RunCells(ctx, nb, ids)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}

			if asJSON {
				enc := json.NewEncoder(s.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				printNotebook(s.out, nb, reports, a.Kernel())
			}

			if write || outPath != "" {
				dest := args[0]
				if outPath != "" {
					dest = outPath
				}
				if err := nb.Save(dest); err != nil {
					return err
				}
				ctxlog.FromContext(ctx).Info("Notebook saved.", "path", dest)
			}

			if failed := app.Failed(reports); len(failed) > 0 {
				return &ExitError{Code: 1, Message: fmt.Sprintf("%d of %d cells failed", len(failed), len(reports))}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&cells, "cell", "c", nil, "Run only these cell ids (repeatable).")
	cmd.Flags().BoolVarP(&write, "write", "w", false, "Save display code and exports back into the notebook.")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Save the updated notebook to this path instead.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print reports as JSON.")
	return cmd
}

func newLinearizeCmd(f *flags, s *streams) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "linearize NOTEBOOK",
		Short: "Export a notebook that runs top to bottom",
		Long: `Linearize reorders a notebook's code cells so that every cell comes after
the cells it reads from, rewrites references to plain names and prepends a
note describing the export. Markdown cells travel with the code cell they
preceded.

The result is written to --output, or to standard output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.appConfig()
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat, s.errOut)
			ctx := ctxlog.WithLogger(cmd.Context(), logger)

			nb, err := notebook.Load(args[0])
			if err != nil {
				return err
			}
			out := linearize.Notebook(ctx, nb)
			if outPath == "" {
				return out.Encode(s.out)
			}
			if err := out.Save(outPath); err != nil {
				return err
			}
			logger.Info("Linearized notebook saved.", "path", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Path of the exported notebook.")
	return cmd
}

func newWatchCmd(f *flags, s *streams) *cobra.Command {
	return &cobra.Command{
		Use:   "watch NOTEBOOK",
		Short: "Re-run changed cells every time the notebook is saved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, f, s)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Watch(a.Context(), args[0], func(reports []*kernel.Report) {
				for _, r := range reports {
					fmt.Fprintln(s.out, renderReport(r, a.Kernel().Stdout(r.CellID)))
				}
			})
		},
	}
}

func newCompleteCmd(f *flags, s *streams) *cobra.Command {
	return &cobra.Command{
		Use:   "complete NOTEBOOK PREFIX",
		Short: "List completions for a name or name$ prefix",
		Long: `Complete runs the notebook, then prints the exported names and references
that start with PREFIX, one per line. A prefix ending in "$" lists the cells
and tags the name can be read from.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, f, s)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := a.Context()

			nb, err := a.LoadNotebook(ctx, args[0])
			if err != nil {
				return err
			}
			if _, err := a.RunCells(ctx, nb, nil); err != nil {
				return err
			}

			prefix := args[1]
			matches := a.Kernel().Complete(prefix)
			if a.Model().Sandbox.Kind == config.SandboxExpr && !strings.Contains(prefix, "$") {
				for _, name := range exprsandbox.Names() {
					if strings.HasPrefix(name, prefix) {
						matches = append(matches, name+"(")
					}
				}
			}
			for _, m := range matches {
				fmt.Fprintln(s.out, m)
			}
			return nil
		},
	}
}

func parseIDs(raw []string) ([]cellid.ID, error) {
	ids := make([]cellid.ID, 0, len(raw))
	for _, r := range raw {
		id, err := cellid.Parse(r)
		if err != nil {
			return nil, &ExitError{Code: 2, Message: err.Error()}
		}
		ids = append(ids, id)
	}
	return ids, nil
}
