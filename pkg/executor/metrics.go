package executor

import (
	"io"
	"time"
)

// Metrics provides observability for command execution.
//
// This is optional: a nil Metrics in Options disables collection.
type Metrics interface {
	// ObserveCommand records a finished command with its outcome
	// ("present", "absent", "pipe", "not_found", "success", "failure", "unreachable")
	ObserveCommand(kind, outcome string, duration time.Duration)

	// ObserveAttempt records one request sent to the store for a command kind
	ObserveAttempt(kind string)

	// RecordBytes records payload bytes moved in a direction ("read" or "write")
	RecordBytes(direction string, bytes int64)
}

// noopMetrics is the default no-op metrics implementation
type noopMetrics struct{}

func (noopMetrics) ObserveCommand(kind, outcome string, duration time.Duration) {}
func (noopMetrics) ObserveAttempt(kind string)                                  {}
func (noopMetrics) RecordBytes(direction string, bytes int64)                   {}

// metricsReadCloser wraps an object body to count the bytes read
type metricsReadCloser struct {
	io.ReadCloser
	metrics   Metrics
	bytesRead int64
}

func (m *metricsReadCloser) Read(p []byte) (n int, err error) {
	n, err = m.ReadCloser.Read(p)
	if n > 0 {
		m.bytesRead += int64(n)
	}
	return n, err
}

func (m *metricsReadCloser) Close() error {
	err := m.ReadCloser.Close()
	// Record bytes read regardless of close error
	if m.bytesRead > 0 {
		m.metrics.RecordBytes("read", m.bytesRead)
	}
	return err
}
