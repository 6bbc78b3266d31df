package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dapsync/internal/pipeline"
	"github.com/ajitpratap0/dapsync/pkg/config"
)

func TestSelection_MergesTokensAndFlags(t *testing.T) {
	sel, err := selection([]string{"main", "init"}, runFlags{Sync: true, Logs: true, Debug: true})
	require.NoError(t, err)
	assert.Equal(t, pipeline.OpInit|pipeline.OpSync, sel.Ops)
	assert.True(t, sel.Main)
	assert.True(t, sel.Logs)
	assert.True(t, sel.Debug)
}

func TestSelection_UnknownToken(t *testing.T) {
	_, err := selection([]string{"everything"}, runFlags{})
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	applyFlags(cfg, pipeline.Selection{Debug: true}, runFlags{
		InitFailure: config.InitFailureContinue,
		NoInitRetry: true,
		Marker:      "/tmp/done",
	})

	assert.Equal(t, config.InitFailureContinue, cfg.Run.InitFailurePolicy)
	assert.False(t, cfg.Run.InitRetry)
	assert.Equal(t, "/tmp/done", cfg.Run.CompletionMarker)
	assert.True(t, cfg.Log.Debug)

	untouched := config.Default()
	applyFlags(untouched, pipeline.Selection{}, runFlags{})
	assert.Equal(t, config.Default(), untouched)
}

func TestWriteMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas_auto_shifter_complete")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, writeMarker(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	assert.NoError(t, writeMarker(""))
	assert.Error(t, writeMarker(filepath.Join(t.TempDir(), "missing", "marker")))
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run", "tables", "version"})

	runCmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	for _, flag := range []string{"init", "sync", "main", "logs", "debug", "init-failure", "no-init-retry", "marker"} {
		assert.NotNil(t, runCmd.Flags().Lookup(flag), flag)
	}
}
