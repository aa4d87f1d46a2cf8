package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/ctxlog"
)

// cellStatus is one entry of the /cells listing.
type cellStatus struct {
	ID       cellid.ID   `json:"id"`
	Stale    bool        `json:"stale"`
	HasValue bool        `json:"has_value"`
	Seq      uint64      `json:"seq,omitempty"`
	Children []cellid.ID `json:"children,omitempty"`
}

// healthHandler answers health checks with the number of known cells.
func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctxlog.FromContext(app.ctx).Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK cells=%d\n", len(app.kernel.Graph().IDs(r.Context())))
}

// cellsHandler lists every cell with its cache state and direct children.
// The stores are safe for concurrent readers, so the listing may be taken
// while a cell runs; it then reflects the run's progress so far.
func (app *App) cellsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	g := app.kernel.Graph()

	ids := g.IDs(ctx)
	out := make([]cellStatus, 0, len(ids))
	for _, id := range cellid.Sort(ids) {
		rec, ok := g.Record(ctx, id)
		if !ok {
			continue
		}
		out = append(out, cellStatus{
			ID:       id,
			Stale:    rec.IsStale(),
			HasValue: rec.HasValue,
			Seq:      rec.Seq,
			Children: g.Children(ctx, id),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		ctxlog.FromContext(app.ctx).Warn("Failed to write cell listing.", "error", err)
	}
}

func (app *App) statusMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", app.healthHandler)
	mux.HandleFunc("GET /cells", app.cellsHandler)
	return mux
}

// healthCheckServer starts the status server when a port is configured.
func (app *App) healthCheckServer() {
	logger := ctxlog.FromContext(app.ctx)
	if app.config.HealthcheckPort <= 0 {
		logger.Debug("Health check server not started: disabled.")
		return
	}

	addr := fmt.Sprintf(":%d", app.config.HealthcheckPort)
	app.httpServer = &http.Server{
		Addr:              addr,
		Handler:           app.statusMux(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return app.ctx },
	}

	go func() {
		logger.Info("Health check server starting.", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed unexpectedly.", "error", err)
		}
	}()
}

func (app *App) closeHealthCheckServer() error {
	if app.httpServer == nil {
		return nil
	}
	logger := ctxlog.FromContext(app.ctx)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(app.ctx), 5*time.Second)
	defer cancel()
	if err := app.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Health check server shutdown failed.", "error", err)
		return err
	}
	logger.Debug("Health check server shut down.")
	return nil
}
