package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigo/onnxpipe/workflow"
)

func parse(t *testing.T, args ...string) (*workflow.Config, error) {
	t.Helper()
	var f flags
	fs := newFlagSet(&f)
	fs.SetOutput(&bytes.Buffer{})
	require.NoError(t, fs.Parse(args))
	return loadConfig(fs, &f)
}

func TestFlagsDefaultToConfig(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, workflow.DefaultConfig(), cfg)
}

func TestFlagsOverrideYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("seed: 3\nmodel:\n  n_estimators: 10\nstore:\n  path: from-yaml.db\n"), 0o644))

	cfg, err := parse(t, "-config", path, "-seed", "9", "-workers", "2", "-plot", "a.png", "-log-format", "json")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cfg.Seed)
	assert.Equal(t, 10, cfg.Model.NEstimators, "unset flag keeps the YAML value")
	assert.Equal(t, "from-yaml.db", cfg.Store.Path)
	assert.Equal(t, 2, cfg.Verify.Workers)
	assert.Equal(t, 2, cfg.Model.Workers)
	assert.Equal(t, "a.png", cfg.Report.AgreementPlot)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestFlagsInvalid(t *testing.T) {
	_, err := parse(t, "-estimators", "0")
	assert.Error(t, err)

	_, err = parse(t, "-log-level", "loud")
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-out", filepath.Join(dir, "model.onnx"),
		"-samples", "120",
		"-estimators", "15",
		"-db", filepath.Join(dir, "runs.db"),
		"-log-level", "warn",
	}, &stdout, &stderr)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "model.onnx"))
	assert.Contains(t, stdout.String(), "batched inference failed")
	assert.Contains(t, stdout.String(), "recorded in")
}

func TestRunBadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-nope"}, &stdout, &stderr)
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "flag provided but not defined")
}
