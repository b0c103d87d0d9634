package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_ExecutesPlan(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plan.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
job "greet" {
  command = "echo hello"
}
`), 0600))

	out := &bytes.Buffer{}
	require.NoError(t, run(out, []string{path}))
	require.Contains(t, out.String(), "Plan finished.")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// The "-h" flag makes cli.Parse request a clean exit before any plan work.
	out := &bytes.Buffer{}
	require.NoError(t, run(out, []string{"-h"}))
	require.Contains(t, out.String(), "Usage:")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"--this-is-not-a-valid-flag"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_LoadError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plan.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`job "broken" {`), 0600))

	out := &bytes.Buffer{}
	err := run(out, []string{path})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load plan")
}
