package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/kernel"
	"github.com/vk/dfkernel/internal/notebook"
)

// watchDebounce batches the bursts of events an editor's save produces.
const watchDebounce = 200 * time.Millisecond

// Watch runs every cell of the notebook at path, then re-runs the cells whose
// source changed each time the file is saved, until ctx is done. Each batch of
// reports is passed to onReports.
func (a *App) Watch(ctx context.Context, path string, onReports func([]*kernel.Report)) error {
	logger := ctxlog.FromContext(ctx).With("path", path)
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	// Editors often save by renaming a temporary file over the original, so
	// the directory is watched rather than the file.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	current, err := a.LoadNotebook(ctx, path)
	if err != nil {
		return err
	}
	saved := sources(current)
	reports, err := a.RunCells(ctx, current, nil)
	if err != nil {
		return err
	}
	onReports(reports)
	logger.Info("Watching notebook for changes.")

	debounce := time.NewTimer(watchDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Watch stopped.")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			logger.Debug("Notebook event.", "op", event.Op.String())
			debounce.Reset(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error.", "error", err)

		case <-debounce.C:
			next, err := notebook.Load(path)
			if err != nil {
				logger.Warn("Notebook could not be reloaded.", "error", err)
				continue
			}
			changed := carryOver(current, next, saved)
			saved = sources(next)
			current = next
			if len(changed) == 0 {
				if err := a.kernel.SubmitBatch(ctx, current.Codes()); err != nil {
					logger.Warn("Notebook could not be resubmitted.", "error", err)
				}
				continue
			}
			logger.Info("Notebook changed.", "cells", len(changed))
			reports, err := a.RunCells(ctx, current, changed)
			if err != nil {
				logger.Warn("Changed cells could not be run.", "error", err)
				continue
			}
			onReports(reports)
		}
	}
}

func sources(nb *notebook.Notebook) map[cellid.ID]string {
	out := make(map[cellid.ID]string)
	for _, c := range nb.CodeCells() {
		out[c.ID] = c.Source
	}
	return out
}

// carryOver copies the kernel's view of every unchanged cell from prev into
// next, so that resubmitting next leaves those cells alone, and returns the
// cells whose saved source differs from the last save.
func carryOver(prev, next *notebook.Notebook, saved map[cellid.ID]string) []cellid.ID {
	var changed []cellid.ID
	for _, c := range next.CodeCells() {
		was, known := saved[c.ID]
		old, ok := prev.Cell(c.ID)
		if !known || !ok || was != c.Source {
			changed = append(changed, c.ID)
			continue
		}
		c.Source = old.Source
		if c.OutputVars == nil {
			c.OutputVars = old.OutputVars
		}
	}
	return changed
}
