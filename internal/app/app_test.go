package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/config"
	"github.com/vk/dfkernel/internal/hcl_adapter"
	"github.com/vk/dfkernel/internal/kernel"
	"github.com/vk/dfkernel/internal/testutil"
)

const testNotebook = `{
 "cells": [
  {"cell_type": "markdown", "id": "m0", "metadata": {}, "source": "# Demo"},
  {"cell_type": "code", "id": "A", "metadata": {}, "outputs": [], "source": "x = 1"},
  {"cell_type": "code", "id": "B", "metadata": {}, "outputs": [], "source": "y = x + 1"},
  {"cell_type": "code", "id": "C", "metadata": {}, "outputs": [], "source": "y$B * %d"}
 ],
 "metadata": {},
 "nbformat": 4,
 "nbformat_minor": 5
}`

func writeNotebook(t *testing.T, path string, factor int) {
	t.Helper()
	src := strings.Replace(testNotebook, "%d", strconv.Itoa(factor), 1)
	require.NoError(t, os.WriteFile(path, []byte(src), 0600))
}

func TestNewConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "defaults", cfg: Config{}},
		{name: "everything set", cfg: Config{LogFormat: "json", LogLevel: "warn", Sandbox: "remote", RemoteURL: "http://x", HealthcheckPort: 8080}},
		{name: "bad format", cfg: Config{LogFormat: "xml"}, wantErr: "invalid log-format"},
		{name: "bad level", cfg: Config{LogLevel: "trace"}, wantErr: "invalid log-level"},
		{name: "bad sandbox", cfg: Config{Sandbox: "docker"}, wantErr: "invalid sandbox"},
		{name: "bad port", cfg: Config{HealthcheckPort: -1}, wantErr: "invalid healthcheck-port"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := NewConfig(tc.cfg)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.cfg, *cfg)
		})
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	file := &config.Model{
		LogLevel:        "debug",
		HealthcheckPort: 9000,
		Sandbox:         &config.Sandbox{Kind: config.SandboxRemote, URL: "http://file", Namespace: "/kernel", Timeout: time.Second},
	}

	cases := []struct {
		name string
		cfg  Config
		file *config.Model
		want *config.Model
	}{
		{
			name: "defaults without a file",
			want: &config.Model{LogLevel: "info", LogFormat: "text", Sandbox: &config.Sandbox{Kind: config.SandboxExpr}},
		},
		{
			name: "file values kept",
			file: file,
			want: &config.Model{
				LogLevel: "debug", LogFormat: "text", HealthcheckPort: 9000,
				Sandbox: &config.Sandbox{Kind: config.SandboxRemote, URL: "http://file", Namespace: "/kernel", Timeout: time.Second},
			},
		},
		{
			name: "flags override the file",
			cfg:  Config{LogLevel: "error", LogFormat: "json", HealthcheckPort: 1, RemoteURL: "http://flag", Cascade: true},
			file: file,
			want: &config.Model{
				LogLevel: "error", LogFormat: "json", HealthcheckPort: 1, CascadeAutoUpdates: true,
				Sandbox: &config.Sandbox{Kind: config.SandboxRemote, URL: "http://flag", Namespace: "/kernel", Timeout: time.Second},
			},
		},
		{
			name: "switching sandbox kind drops the file's block",
			cfg:  Config{Sandbox: config.SandboxExpr},
			file: file,
			want: &config.Model{LogLevel: "debug", LogFormat: "text", HealthcheckPort: 9000, Sandbox: &config.Sandbox{Kind: config.SandboxExpr}},
		},
		{
			name: "remote from flags gets the default timeout",
			cfg:  Config{Sandbox: config.SandboxRemote, RemoteURL: "http://flag"},
			want: &config.Model{
				LogLevel: "info", LogFormat: "text",
				Sandbox: &config.Sandbox{Kind: config.SandboxRemote, URL: "http://flag", Timeout: config.DefaultRemoteTimeout},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := tc.cfg
			got := merge(&cfg, tc.file)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("merge() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("file model is not modified", func(t *testing.T) {
		t.Parallel()
		merge(&Config{RemoteURL: "http://other"}, file)
		require.Equal(t, "http://file", file.Sandbox.URL)
	})
}

func TestNewApp_ConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dfkernel.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
		log_format           = "json"
		cascade_auto_updates = true
		sandbox "expr" {}
	`), 0600))

	logs := &testutil.SafeBuffer{}
	a, err := NewApp(context.Background(), logs, &Config{ConfigPath: path, LogLevel: "debug"}, hcl_adapter.NewLoader())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.True(t, a.Model().CascadeAutoUpdates)
	require.Equal(t, config.SandboxExpr, a.Model().Sandbox.Kind)
	require.Contains(t, logs.String(), `"msg":"Kernel created."`)
}

func TestNewApp_Errors(t *testing.T) {
	t.Parallel()

	t.Run("bad config file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "dfkernel.hcl")
		require.NoError(t, os.WriteFile(path, []byte(`sandbox "remote" {`), 0600))

		_, err := NewApp(context.Background(), &testutil.SafeBuffer{}, &Config{ConfigPath: path}, hcl_adapter.NewLoader())
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to load configuration")
	})

	t.Run("remote sandbox without url", func(t *testing.T) {
		t.Parallel()
		_, err := NewApp(context.Background(), &testutil.SafeBuffer{}, &Config{Sandbox: config.SandboxRemote}, hcl_adapter.NewLoader())
		require.Error(t, err)
		require.Contains(t, err.Error(), "requires a url")
	})
}

func TestRunCells(t *testing.T) {
	t.Parallel()
	a, _ := SetupAppTest(t, &Config{})
	ctx := a.Context()

	path := filepath.Join(t.TempDir(), "demo.ipynb")
	writeNotebook(t, path, 10)
	nb, err := a.LoadNotebook(ctx, path)
	require.NoError(t, err)

	reports, err := a.RunCells(ctx, nb, nil)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	require.Empty(t, Failed(reports))

	assert.Equal(t, []string{"x"}, reports[0].Nodes)
	assert.EqualValues(t, 20, reports[2].Value)

	b, _ := nb.Cell("B")
	assert.Equal(t, "y = x$A + 1", b.Source)
	assert.Equal(t, []string{"y"}, b.OutputVars)
	c, _ := nb.Cell("C")
	assert.Empty(t, c.OutputVars, "a single value exports no name")

	t.Run("selected cells only", func(t *testing.T) {
		reports, err := a.RunCells(ctx, nb, []cellid.ID{"C"})
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.Equal(t, cellid.ID("C"), reports[0].CellID)
	})

	t.Run("unknown cell", func(t *testing.T) {
		_, err := a.RunCells(ctx, nb, []cellid.ID{"m0"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `no code cell "m0"`)
	})

	t.Run("failures are reported", func(t *testing.T) {
		c.Source = "missing$Z + 1"
		reports, err := a.RunCells(ctx, nb, []cellid.ID{"C"})
		require.NoError(t, err)
		require.Len(t, Failed(reports), 1)
		assert.Equal(t, kernel.StatusError, reports[0].Status)
		assert.Equal(t, "missing$Z + 1", c.Source)
	})
}

func TestWatch(t *testing.T) {
	t.Parallel()
	a, _ := SetupAppTest(t, &Config{})

	path := filepath.Join(t.TempDir(), "demo.ipynb")
	writeNotebook(t, path, 10)

	ctx, cancel := context.WithCancel(a.Context())
	batches := make(chan []*kernel.Report, 4)
	done := make(chan error, 1)
	go func() {
		done <- a.Watch(ctx, path, func(r []*kernel.Report) { batches <- r })
	}()

	next := func() []*kernel.Report {
		t.Helper()
		select {
		case r := <-batches:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for reports")
			return nil
		}
	}

	first := next()
	require.Len(t, first, 3)
	assert.EqualValues(t, 20, first[2].Value)

	writeNotebook(t, path, 100)

	second := next()
	require.Len(t, second, 1)
	assert.Equal(t, cellid.ID("C"), second[0].CellID)
	assert.EqualValues(t, 200, second[0].Value)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestStatusServer(t *testing.T) {
	t.Parallel()
	a, _ := SetupAppTest(t, &Config{})
	ctx := a.Context()

	_, err := a.Kernel().Run(ctx, kernel.ExecuteRequest{
		CellID: "B",
		Code:   "x$A + 1",
		Codes:  map[cellid.ID]string{"A": "x = 1", "B": "x$A + 1"},
	})
	require.NoError(t, err)
	mux := a.statusMux()

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "OK cells=2\n", rec.Body.String())
	})

	t.Run("cells", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cells", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got []cellStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, cellid.ID("A"), got[0].ID)
		assert.Equal(t, []cellid.ID{"B"}, got[0].Children)
		for _, c := range got {
			assert.True(t, c.HasValue, c.ID)
			assert.False(t, c.Stale, c.ID)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cells", nil))
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
