package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskcmdr/internal/testutil"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg, err := NewConfig(Config{PlanPath: "plan.hcl"})
		require.NoError(t, err)
		assert.Equal(t, "plan.hcl", cfg.PlanPath)
	})

	t.Run("missing plan path", func(t *testing.T) {
		_, err := NewConfig(Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PlanPath")
	})
}

func TestAppRun(t *testing.T) {
	path := writePlan(t, `
job "greet" {
  command = "echo hello"
}

job "farewell" {
  command = "echo bye"
}

edge {
  from = "greet"
  to   = "farewell"
}
`)

	buf := &testutil.SafeBuffer{}
	cfg, err := NewConfig(Config{PlanPath: path, LogFormat: "text", LogLevel: "debug"})
	require.NoError(t, err)

	a := New(buf, cfg)
	require.NoError(t, a.Run(context.Background()))

	logs := buf.String()
	assert.Contains(t, logs, "Starting plan execution.")
	assert.Contains(t, logs, "Plan finished.")
	assert.Contains(t, logs, "greet")
	assert.Contains(t, logs, "farewell")
}

func TestAppRunJSONLogs(t *testing.T) {
	path := writePlan(t, `
job "greet" {
  command = "echo hello"
}
`)

	buf := &testutil.SafeBuffer{}
	cfg, err := NewConfig(Config{PlanPath: path, LogFormat: "json", LogLevel: "info"})
	require.NoError(t, err)

	require.NoError(t, New(buf, cfg).Run(context.Background()))
	assert.Contains(t, buf.String(), `"msg"`)
}

func TestAppRunLoadFailure(t *testing.T) {
	buf := &testutil.SafeBuffer{}
	cfg, err := NewConfig(Config{PlanPath: filepath.Join(t.TempDir(), "absent.hcl"), LogFormat: "text", LogLevel: "info"})
	require.NoError(t, err)

	err = New(buf, cfg).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load plan")
}

func TestAppRunExecutionFailure(t *testing.T) {
	path := writePlan(t, `
job "broken" {
  command = "exit 7"
}
`)

	buf := &testutil.SafeBuffer{}
	cfg, err := NewConfig(Config{PlanPath: path, LogFormat: "text", LogLevel: "info"})
	require.NoError(t, err)

	err = New(buf, cfg).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution failed")
	assert.Contains(t, buf.String(), "Plan finished with failures.")
}
