package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewExecutorMetricsWith(reg)

	m.ObserveCommand("write", "success", 20*time.Millisecond)
	m.ObserveCommand("write", "unreachable", time.Second)
	m.ObserveAttempt("write")
	m.ObserveAttempt("write")
	m.RecordBytes("write", 512)
	m.RecordBytes("read", 0)

	expected := `
# HELP dittostore_commands_total Total number of storage commands by kind and outcome
# TYPE dittostore_commands_total counter
dittostore_commands_total{kind="write",outcome="success"} 1
dittostore_commands_total{kind="write",outcome="unreachable"} 1
# HELP dittostore_bytes_transferred_total Total payload bytes transferred by direction
# TYPE dittostore_bytes_transferred_total counter
dittostore_bytes_transferred_total{direction="write"} 512
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"dittostore_commands_total", "dittostore_bytes_transferred_total"))

	count, err := testutil.GatherAndCount(reg, "dittostore_command_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProgressMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewProgressMetricsWith(reg)

	m.RecordCallback(progress.OpStore, progress.OutcomeSucceeded)
	m.RecordCallback(progress.OpStore, progress.OutcomeSucceeded)
	m.RecordViolation(progress.OpRestore, "duplicate")

	expected := `
# HELP dittostore_progress_callbacks_total Total number of terminal progress callbacks by operation and outcome
# TYPE dittostore_progress_callbacks_total counter
dittostore_progress_callbacks_total{operation="store",outcome="succeeded"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "dittostore_progress_callbacks_total"))

	count, err := testutil.GatherAndCount(reg, "dittostore_progress_violations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandler(t *testing.T) {
	metrics.InitRegistry()
	require.True(t, metrics.IsEnabled())
	require.NotNil(t, metrics.NewExecutorMetrics())

	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
