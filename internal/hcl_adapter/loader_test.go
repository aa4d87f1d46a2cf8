package hcl_adapter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/dfkernel/internal/config"
	"github.com/vk/dfkernel/internal/testutil"
)

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dfkernel.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0600), "failed to set up test file")
	return path
}

func TestLoad_Success(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		hcl      string
		validate func(t *testing.T, m *config.Model)
	}{
		{
			name: "full file with remote sandbox",
			hcl: `
			log_level            = "debug"
			log_format           = "json"
			cascade_auto_updates = true
			healthcheck_port     = 8081

			sandbox "remote" {
				url       = "http://127.0.0.1:8765"
				namespace = "/kernel"
				path      = "/socket.io/"
				timeout   = "5s"
			}
			`,
			validate: func(t *testing.T, m *config.Model) {
				require.Equal(t, "debug", m.LogLevel)
				require.Equal(t, "json", m.LogFormat)
				require.True(t, m.CascadeAutoUpdates)
				require.Equal(t, 8081, m.HealthcheckPort)

				require.NotNil(t, m.Sandbox)
				require.Equal(t, config.SandboxRemote, m.Sandbox.Kind)
				require.Equal(t, "http://127.0.0.1:8765", m.Sandbox.URL)
				require.Equal(t, "/kernel", m.Sandbox.Namespace)
				require.Equal(t, "/socket.io/", m.Sandbox.Path)
				require.Equal(t, 5*time.Second, m.Sandbox.Timeout)
				require.False(t, m.Sandbox.InsecureSkipVerify)
			},
		},
		{
			name: "empty file leaves everything unset",
			hcl:  ``,
			validate: func(t *testing.T, m *config.Model) {
				require.Empty(t, m.LogLevel)
				require.Empty(t, m.LogFormat)
				require.False(t, m.CascadeAutoUpdates)
				require.Zero(t, m.HealthcheckPort)
				require.Nil(t, m.Sandbox)
			},
		},
		{
			name: "expression sandbox needs no settings",
			hcl:  `sandbox "expr" {}`,
			validate: func(t *testing.T, m *config.Model) {
				require.NotNil(t, m.Sandbox)
				require.Equal(t, config.SandboxExpr, m.Sandbox.Kind)
				require.Zero(t, m.Sandbox.Timeout)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := testutil.Context(t)

			m, err := NewLoader().Load(ctx, writeConfig(t, tc.hcl))
			require.NoError(t, err)
			tc.validate(t, m)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		hcl     string
		wantErr string
	}{
		{
			name:    "syntax error",
			hcl:     `sandbox "remote" {`,
			wantErr: "failed to parse HCL file",
		},
		{
			name:    "unknown attribute",
			hcl:     `workers = 10`,
			wantErr: "failed to decode HCL file",
		},
		{
			name:    "wrong type",
			hcl:     `healthcheck_port = "eighty"`,
			wantErr: "failed to decode HCL file",
		},
		{
			name:    "remote without url",
			hcl:     `sandbox "remote" {}`,
			wantErr: "requires a url",
		},
		{
			name: "bad timeout",
			hcl: `
			sandbox "remote" {
				url     = "http://x"
				timeout = "soon"
			}
			`,
			wantErr: "invalid timeout",
		},
		{
			name:    "unknown kind",
			hcl:     `sandbox "docker" {}`,
			wantErr: "unknown sandbox kind",
		},
		{
			name: "two sandboxes",
			hcl: `
			sandbox "expr" {}
			sandbox "expr" {}
			`,
			wantErr: "at most one sandbox block",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := testutil.Context(t)

			_, err := NewLoader().Load(ctx, writeConfig(t, tc.hcl))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)

	_, err := NewLoader().Load(ctx, filepath.Join(t.TempDir(), "missing.hcl"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse HCL file")
}
