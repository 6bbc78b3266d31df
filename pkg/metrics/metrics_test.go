package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dapsync/pkg/config"
)

func TestCollector_ObserveTable(t *testing.T) {
	c := NewCollector(config.MetricsConfig{})

	c.ObserveTable("canvas", OpInit, OutcomeSuccess, 2*time.Second)
	c.ObserveTable("canvas", OpSync, OutcomeFailure, time.Second)
	c.ObserveTable("canvas", OpSync, OutcomeFailure, time.Second)
	c.ObserveTable("canvas", OpInit, OutcomeSkipped, 0)

	assert.Equal(t, 1.0, promtest.ToFloat64(c.tableOps.WithLabelValues("canvas", OpInit, OutcomeSuccess)))
	assert.Equal(t, 2.0, promtest.ToFloat64(c.tableOps.WithLabelValues("canvas", OpSync, OutcomeFailure)))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.tableOps.WithLabelValues("canvas", OpInit, OutcomeSkipped)))
	assert.Equal(t, 2, promtest.CollectAndCount(c.tableOpDuration))
}

func TestCollector_ObserveRun(t *testing.T) {
	c := NewCollector(config.MetricsConfig{})
	c.ObserveRun(90*time.Second, 3)

	assert.Equal(t, 90.0, promtest.ToFloat64(c.runDuration))
	assert.Equal(t, 3.0, promtest.ToFloat64(c.runFailures))
	assert.Greater(t, promtest.ToFloat64(c.lastSuccess), 0.0)
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveTable("canvas", OpSync, OutcomeSuccess, time.Second)
		c.ObserveRun(time.Second, 0)
	})
	assert.NoError(t, c.Push(context.Background()))
	assert.Nil(t, c.Registry())
}

func TestCollector_PushWithoutGateway(t *testing.T) {
	c := NewCollector(config.MetricsConfig{})
	assert.NoError(t, c.Push(context.Background()))
}

func TestCollector_Push(t *testing.T) {
	var pushes atomic.Int32
	var body atomic.Value
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)
		assert.Equal(t, "/metrics/job/dapsync-test", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		body.Store(string(b))
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	c := NewCollector(config.MetricsConfig{PushgatewayURL: gw.URL, JobName: "dapsync-test"})
	c.ObserveRun(time.Minute, 0)

	require.NoError(t, c.Push(context.Background()))
	assert.Equal(t, int32(1), pushes.Load())
	assert.True(t, strings.Contains(body.Load().(string), "dapsync_run_duration_seconds"))
}

func TestCollector_PushFailure(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gw.Close()

	c := NewCollector(config.MetricsConfig{PushgatewayURL: gw.URL})
	err := c.Push(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to push metrics")
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, OutcomeOf(nil))
	assert.Equal(t, OutcomeFailure, OutcomeOf(errors.New("boom")))
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	first := timer.Stop()
	assert.GreaterOrEqual(t, first, 5*time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), first)
}
