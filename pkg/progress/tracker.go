package progress

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/request"
)

// ledger enforces one terminal callback per submitted request.
type ledger[R request.Request] struct {
	op      string
	metrics Metrics

	mu         sync.Mutex
	pending    map[string]R
	settled    map[string]string
	violations int
	closed     bool
}

func newLedger[R request.Request](op string, requests []R, metrics Metrics) *ledger[R] {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	l := &ledger[R]{
		op:      op,
		metrics: metrics,
		pending: make(map[string]R, len(requests)),
		settled: make(map[string]string, len(requests)),
	}
	for _, r := range requests {
		l.pending[r.RequestID()] = r
	}
	return l
}

// settle marks id as reported with outcome. It returns false, and records a
// contract violation, when the callback must not be forwarded.
func (l *ledger[R]) settle(id, outcome string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pending[id]; ok {
		delete(l.pending, id)
		l.settled[id] = outcome
		l.metrics.RecordCallback(l.op, outcome)
		return true
	}

	l.violations++
	if previous, ok := l.settled[id]; ok {
		logger.Error("Contract violation: %s request %s reported %s after %s: %v",
			l.op, id, outcome, previous, ErrDuplicateCallback)
		l.metrics.RecordViolation(l.op, "duplicate")
		return false
	}

	logger.Error("Contract violation: %s callback %s for request %s: %v", l.op, outcome, id, ErrUnknownRequest)
	l.metrics.RecordViolation(l.op, "unknown")
	return false
}

// drain settles every unreported request as failed and returns them.
func (l *ledger[R]) drain() []R {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	ids := make([]string, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	missing := make([]R, 0, len(ids))
	for _, id := range ids {
		missing = append(missing, l.pending[id])
		delete(l.pending, id)
		l.settled[id] = OutcomeFailed
		l.violations++
		logger.Error("Contract violation: %s request %s got no terminal callback", l.op, id)
		l.metrics.RecordViolation(l.op, "missing")
		l.metrics.RecordCallback(l.op, OutcomeFailed)
	}
	return missing
}

// Violations returns the number of contract violations observed so far.
func (l *ledger[R]) Violations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.violations
}

// Outstanding returns the IDs of requests not reported yet.
func (l *ledger[R]) Outstanding() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ============================================================================
// Store
// ============================================================================

// StoreTracker forwards store callbacks to a sink at most once per request.
// Close fails whatever was never reported.
type StoreTracker struct {
	*ledger[request.StoreRequest]
	sink Store
}

// TrackStore wraps sink for the given requests.
func TrackStore(sink Store, requests []request.StoreRequest, metrics Metrics) *StoreTracker {
	return &StoreTracker{ledger: newLedger(OpStore, requests, metrics), sink: sink}
}

func (t *StoreTracker) StoreSucceeded(result request.StoreResult) {
	if t.settle(result.Request.ID, OutcomeSucceeded) {
		t.sink.StoreSucceeded(result)
	}
}

func (t *StoreTracker) StoreSucceededWithPendingAction(result request.StoreResult) {
	if t.settle(result.Request.ID, OutcomePending) {
		t.sink.StoreSucceededWithPendingAction(result)
	}
}

func (t *StoreTracker) StoreFailed(req request.StoreRequest, cause error) {
	if t.settle(req.ID, OutcomeFailed) {
		t.sink.StoreFailed(req, cause)
	}
}

// Close reports every unsettled request as failed with ErrNoTerminalCallback.
func (t *StoreTracker) Close() {
	for _, req := range t.drain() {
		t.sink.StoreFailed(req, fmt.Errorf("store %s: %w", req.ID, ErrNoTerminalCallback))
	}
}

// ============================================================================
// Delete
// ============================================================================

// DeleteTracker forwards delete callbacks to a sink at most once per request.
type DeleteTracker struct {
	*ledger[request.DeleteRequest]
	sink Delete
}

// TrackDelete wraps sink for the given requests.
func TrackDelete(sink Delete, requests []request.DeleteRequest, metrics Metrics) *DeleteTracker {
	return &DeleteTracker{ledger: newLedger(OpDelete, requests, metrics), sink: sink}
}

func (t *DeleteTracker) DeletionSucceeded(req request.DeleteRequest) {
	if t.settle(req.ID, OutcomeSucceeded) {
		t.sink.DeletionSucceeded(req)
	}
}

func (t *DeleteTracker) DeletionSucceededWithPendingAction(req request.DeleteRequest) {
	if t.settle(req.ID, OutcomePending) {
		t.sink.DeletionSucceededWithPendingAction(req)
	}
}

func (t *DeleteTracker) DeletionFailed(req request.DeleteRequest, cause error) {
	if t.settle(req.ID, OutcomeFailed) {
		t.sink.DeletionFailed(req, cause)
	}
}

// Close reports every unsettled request as failed with ErrNoTerminalCallback.
func (t *DeleteTracker) Close() {
	for _, req := range t.drain() {
		t.sink.DeletionFailed(req, fmt.Errorf("delete %s: %w", req.ID, ErrNoTerminalCallback))
	}
}

// ============================================================================
// Restore
// ============================================================================

// RestoreTracker forwards restore callbacks to a sink at most once per request.
type RestoreTracker struct {
	*ledger[request.RestoreRequest]
	sink Restore
}

// TrackRestore wraps sink for the given requests.
func TrackRestore(sink Restore, requests []request.RestoreRequest, metrics Metrics) *RestoreTracker {
	return &RestoreTracker{ledger: newLedger(OpRestore, requests, metrics), sink: sink}
}

func (t *RestoreTracker) RestoreSucceededInternalCache(req request.RestoreRequest, localPath string) {
	if t.settle(req.ID, OutcomeInternalCache) {
		t.sink.RestoreSucceededInternalCache(req, localPath)
	}
}

func (t *RestoreTracker) RestoreSucceededExternalCache(req request.RestoreRequest, url string, size int64, expiresAt *time.Time) {
	if t.settle(req.ID, OutcomeExternalCache) {
		t.sink.RestoreSucceededExternalCache(req, url, size, expiresAt)
	}
}

func (t *RestoreTracker) RestoreFailed(req request.RestoreRequest, cause error) {
	if t.settle(req.ID, OutcomeFailed) {
		t.sink.RestoreFailed(req, cause)
	}
}

// Close reports every unsettled request as failed with ErrNoTerminalCallback.
func (t *RestoreTracker) Close() {
	for _, req := range t.drain() {
		t.sink.RestoreFailed(req, fmt.Errorf("restore %s: %w", req.ID, ErrNoTerminalCallback))
	}
}

var (
	_ Store   = (*StoreTracker)(nil)
	_ Delete  = (*DeleteTracker)(nil)
	_ Restore = (*RestoreTracker)(nil)
)
