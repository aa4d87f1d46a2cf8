package app

import (
	"context"
	"fmt"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/kernel"
	"github.com/vk/dfkernel/internal/notebook"
)

// LoadNotebook reads the notebook at path and seeds the kernel with its code
// and recorded exports, as when a saved notebook is reopened.
func (a *App) LoadNotebook(ctx context.Context, path string) (*notebook.Notebook, error) {
	logger := ctxlog.FromContext(ctx)
	nb, err := notebook.Load(path)
	if err != nil {
		return nil, err
	}
	if err := a.kernel.Seed(ctx, nb.Codes(), nb.OutputTags()); err != nil {
		return nil, fmt.Errorf("failed to seed kernel: %w", err)
	}
	logger.Info("Notebook loaded.", "path", path, "cells", len(nb.Cells), "code_cells", len(nb.CodeCells()))
	return nb, nil
}

// RunCells runs the code cells named by ids in notebook order, or every code
// cell when ids is empty. Each successful run writes the cell's display code
// and exported names back into nb. Cell failures are reported, not returned;
// the error is for ids that are not code cells of nb.
func (a *App) RunCells(ctx context.Context, nb *notebook.Notebook, ids []cellid.ID) ([]*kernel.Report, error) {
	logger := ctxlog.FromContext(ctx)

	want := make(map[cellid.ID]bool, len(ids))
	for _, id := range ids {
		c, ok := nb.Cell(id)
		if !ok || !c.IsCode() {
			return nil, fmt.Errorf("notebook has no code cell %q", id)
		}
		want[id] = true
	}

	var reports []*kernel.Report
	for _, c := range nb.CodeCells() {
		if len(want) > 0 && !want[c.ID] {
			continue
		}
		report, err := a.kernel.Run(ctx, kernel.ExecuteRequest{
			CellID:     c.ID,
			Code:       c.Source,
			Codes:      nb.Codes(),
			InputTags:  nb.InputTags(),
			OutputTags: nb.OutputTags(),
		})
		if report == nil {
			return reports, err
		}
		reports = append(reports, report)
		if report.Status == kernel.StatusOK {
			c.Source = report.DisplayCode
			c.OutputVars = exports(report)
		}
	}
	logger.Debug("Cells run.", "count", len(reports))
	return reports, nil
}

// exports returns the names a report's cell made available to other cells.
func exports(report *kernel.Report) []string {
	anonymous := "Out_" + report.CellID.String()
	out := []string{}
	for _, name := range report.Nodes {
		if name != anonymous {
			out = append(out, name)
		}
	}
	return out
}

// Failed returns the reports whose cell did not run successfully.
func Failed(reports []*kernel.Report) []*kernel.Report {
	var out []*kernel.Report
	for _, r := range reports {
		if r.Status == kernel.StatusError {
			out = append(out, r)
		}
	}
	return out
}
