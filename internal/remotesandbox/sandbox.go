// Package remotesandbox runs cells in an external runner reached over
// socket.io.
//
// The kernel emits run_cell and waits for the matching cell_result. While a
// cell runs, the runner may ask for other cells' outputs with read_cell
// (answered by read_result) or replace the running cell's output with
// write_cell (answered by write_result). Those requests are served on the
// goroutine blocked in Run, so the kernel is only ever entered from one
// goroutine.
package remotesandbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/sandbox"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// ErrTimeout is returned when the runner does not answer in time.
var ErrTimeout = errors.New("remote sandbox timed out")

// Config describes the runner endpoint.
type Config struct {
	URL                string
	Namespace          string
	Path               string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Emitter sends one event to the runner.
type Emitter func(event string, data any)

// Sandbox is a sandbox.Sandbox backed by a remote runner.
type Sandbox struct {
	cfg  Config
	emit Emitter

	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*call
	closeFn func()
	closed  atomic.Bool
}

// call is one Run waiting on the runner.
type call struct {
	inbox chan message
	// done is closed when Run returns.
	done chan struct{}
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

func newSandbox(cfg Config, emit Emitter) *Sandbox {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Sandbox{
		cfg:     cfg,
		emit:    emit,
		logger:  ctxlog.FromContext(context.Background()),
		pending: make(map[string]*call),
	}
}

// Dial connects to the runner and waits for the connection to be
// established.
func Dial(ctx context.Context, cfg Config) (*Sandbox, error) {
	logger := ctxlog.FromContext(ctx).With("sandbox", "remote", "url", cfg.URL, "namespace", cfg.Namespace)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	path := cfg.Path
	if path == "" {
		path = parsedURL.Path
	}
	if path != "" {
		opts.SetPath(path)
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	s := newSandbox(cfg, func(event string, data any) { io.Emit(event, data) })
	s.logger = logger
	s.closeFn = func() {
		logger.Debug("Disconnecting socket client")
		io.Disconnect()
	}

	connected := make(chan error, 1)
	io.On(types.EventName("connect"), func(...any) {
		logger.Info("Connected to remote sandbox", "sid", io.Id())
		select {
		case connected <- nil:
		default:
		}
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connection refused")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connected <- err:
		default:
		}
	})
	for _, event := range []string{EventCellResult, EventReadCell, EventWriteCell} {
		io.On(types.EventName(event), s.handler(event))
	}

	io.Connect()

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	case <-timer.C:
		s.Close()
		return nil, fmt.Errorf("%w while waiting for initial connection", ErrTimeout)
	case err := <-connected:
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connecting to %s: %w", cfg.URL, err)
		}
	}
	return s, nil
}

// Close disconnects from the runner. It is safe to call more than once.
func (s *Sandbox) Close() {
	if s.closed.Swap(true) {
		return
	}
	if s.closeFn != nil {
		s.closeFn()
	}
}

// handler routes an inbound event to the Run call waiting on its request id.
// It blocks until that call takes the message or returns.
func (s *Sandbox) handler(event string) func(...any) {
	return func(args ...any) {
		data, ok := decode(args)
		if !ok {
			s.logger.Warn("Discarding malformed runner event.", "event", event)
			return
		}
		requestID := str(data, "request_id")
		s.mu.Lock()
		c, ok := s.pending[requestID]
		s.mu.Unlock()
		if !ok {
			s.logger.Debug("Discarding runner event for no pending run.", "event", event, "request_id", requestID)
			return
		}
		select {
		case c.inbox <- message{event: event, data: data}:
		case <-c.done:
			s.logger.Warn("Discarding runner event after its run ended.", "event", event, "request_id", requestID)
		}
	}
}

// Run sends the cell to the runner and serves its read and write requests
// until the cell's result arrives.
func (s *Sandbox) Run(ctx context.Context, req sandbox.Request) (*sandbox.Response, error) {
	if s.closed.Load() {
		return nil, errors.New("remote sandbox is closed")
	}
	requestID := uuid.NewString()
	logger := ctxlog.FromContext(ctx).With("sandbox", "remote", "cell_id", req.CellID.String(), "request_id", requestID)

	c := &call{inbox: make(chan message, 16), done: make(chan struct{})}
	s.mu.Lock()
	s.pending[requestID] = c
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
		close(c.done)
	}()

	bindings := make(map[string]any, len(req.Bindings))
	for name, v := range req.Bindings {
		bindings[name] = toWire(v)
	}
	logger.Debug("Emitting run request.")
	s.emit(EventRunCell, map[string]any{
		"request_id":    requestID,
		"cell_id":       req.CellID.String(),
		"code":          req.Code,
		"bindings":      bindings,
		"force_cached":  req.Flags.ForceCached,
		"function_only": req.Flags.FunctionOnly,
	})

	// The timeout bounds each wait on the runner and is paused while one of
	// its requests is served.
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("%w waiting for cell %s", ErrTimeout, req.CellID)
		case msg := <-c.inbox:
			switch msg.event {
			case EventReadCell:
				timer.Stop()
				s.serveRead(ctx, requestID, req, msg.data)
				timer.Reset(s.cfg.Timeout)
			case EventWriteCell:
				timer.Stop()
				s.serveWrite(ctx, requestID, req, msg.data)
				timer.Reset(s.cfg.Timeout)
			case EventCellResult:
				return s.response(req.CellID, msg.data), nil
			}
		}
	}
}

func (s *Sandbox) serveRead(ctx context.Context, requestID string, req sandbox.Request, data map[string]any) {
	reply := map[string]any{"request_id": requestID, "read_id": data["read_id"]}
	if req.Outputs == nil {
		reply["error"] = "no outputs available"
		s.emit(EventReadResult, reply)
		return
	}
	v, err := sandbox.Lookup(ctx, req.Outputs, cellid.ID(str(data, "cell_id")), str(data, "item"))
	if err != nil {
		reply["error"] = err.Error()
	} else {
		reply["value"] = toWire(v)
	}
	s.emit(EventReadResult, reply)
}

func (s *Sandbox) serveWrite(ctx context.Context, requestID string, req sandbox.Request, data map[string]any) {
	reply := map[string]any{"request_id": requestID, "write_id": data["write_id"]}
	target := cellid.ID(str(data, "cell_id"))
	if target.IsZero() {
		target = req.CellID
	}
	if req.Outputs == nil {
		reply["error"] = "no outputs available"
	} else if err := req.Outputs.Write(ctx, target, fromWire(target, data)); err != nil {
		reply["error"] = err.Error()
	}
	s.emit(EventWriteResult, reply)
}

func (s *Sandbox) response(cell cellid.ID, data map[string]any) *sandbox.Response {
	resp := &sandbox.Response{Stdout: str(data, "stdout")}
	resp.Success, _ = data["success"].(bool)
	if !resp.Success {
		msg := str(data, "error")
		if msg == "" {
			msg = "remote cell failed"
		}
		resp.Err = errors.New(msg)
		return resp
	}
	resp.Value = fromWire(cell, data)
	return resp
}
