package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/dfkernel/internal/cli"
)

func TestRun_Help(t *testing.T) {
	t.Parallel()

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	err := run(out, errOut, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error for help")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	err := run(&bytes.Buffer{}, &bytes.Buffer{}, []string{"--this-is-not-a-valid-flag"})

	var exitErr *cli.ExitError
	require.True(t, errors.As(err, &exitErr), "expected an exit error, got %v", err)
	require.Equal(t, 2, exitErr.Code)
	require.Contains(t, exitErr.Message, "unknown flag: --this-is-not-a-valid-flag")
}

func TestRun_BadConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dfkernel.hcl")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`sandbox "expr" {`), 0600))
	nbPath := filepath.Join(dir, "empty.ipynb")
	require.NoError(t, os.WriteFile(nbPath, []byte(`{"cells": [], "metadata": {}, "nbformat": 4, "nbformat_minor": 5}`), 0600))

	err := run(&bytes.Buffer{}, &bytes.Buffer{}, []string{"--config", cfgPath, "run", nbPath})

	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse HCL file")
}
