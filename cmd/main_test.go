// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/observability"
)

// resetForTest isolates a test from process-wide state: the global logger,
// a config.yaml in the working directory and the E2E_* environment.
func resetForTest(t *testing.T) {
	t.Helper()

	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("E2E_LOGGER_LEVEL", "fatal")
	t.Setenv("E2E_APP_URL", "")
	t.Setenv("E2E_DATABASE_URL", "")
	t.Setenv("url", "")
}

// executeCommand runs a fresh command tree with args and returns its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// writeFile creates a file under dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
