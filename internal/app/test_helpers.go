package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/dfkernel/internal/hcl_adapter"
	"github.com/vk/dfkernel/internal/testutil"
)

// SetupAppTest creates a new app instance for system testing. Logs are
// captured at debug level and printed when DFKERNEL_TEST_LOGS=true.
func SetupAppTest(t *testing.T, appConfig *Config) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	appConfig.LogLevel = "debug"
	testApp, err := NewApp(context.Background(), logBuffer, appConfig, hcl_adapter.NewLoader())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testApp.Close()
		if os.Getenv("DFKERNEL_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
