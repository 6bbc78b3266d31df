package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dapsync/pkg/errors"
)

func TestParseTokens(t *testing.T) {
	tests := []struct {
		name      string
		tokens    []string
		wantOps   Ops
		wantNS    []string
		wantDebug bool
	}{
		{name: "empty", tokens: nil, wantOps: 0},
		{name: "main init", tokens: []string{"main", "init"}, wantOps: OpInit, wantNS: []string{"canvas"}},
		{name: "logs sync", tokens: []string{"sync", "logs"}, wantOps: OpSync, wantNS: []string{"canvas_logs"}},
		{
			name:    "order is fixed",
			tokens:  []string{"logs", "main", "init", "sync"},
			wantOps: OpInit | OpSync,
			wantNS:  []string{"canvas", "canvas_logs"},
		},
		{name: "seq ignored", tokens: []string{"main", "sync", "seq"}, wantOps: OpSync, wantNS: []string{"canvas"}},
		{name: "debug", tokens: []string{"DEBUG", "main"}, wantNS: []string{"canvas"}, wantDebug: true},
		{name: "duplicates", tokens: []string{"main", "main", "sync", "sync"}, wantOps: OpSync, wantNS: []string{"canvas"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := ParseTokens(tt.tokens)
			require.NoError(t, err)

			opts := sel.Options(runConfig())
			assert.Equal(t, tt.wantOps, opts.Ops)
			assert.Equal(t, tt.wantNS, opts.Namespaces)
			assert.Equal(t, tt.wantDebug, opts.Debug)
		})
	}
}

func TestParseTokens_Unknown(t *testing.T) {
	_, err := ParseTokens([]string{"main", "debug"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), `"debug"`)
}
