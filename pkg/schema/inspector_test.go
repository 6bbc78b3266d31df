package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/dapsync/pkg/errors"
)

func TestInspector_ConnectFailure(t *testing.T) {
	inspector := NewInspector("postgres://user@127.0.0.1:1/canvas?connect_timeout=1", time.Second, zaptest.NewLogger(t))

	_, err := inspector.GetTableNames(context.Background(), "canvas")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestInspector_InvalidConnectionString(t *testing.T) {
	inspector := NewInspector("postgres://%zz", 0, zaptest.NewLogger(t))

	_, err := inspector.GetTableNames(context.Background(), "canvas")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}
