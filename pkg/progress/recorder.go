package progress

import (
	"sync"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/request"
)

// Event is one callback received by a Recorder.
type Event struct {
	Operation string
	Outcome   string
	RequestID string

	// URL is the stored location, the external cache URL or the location of
	// a settled pending action
	URL string

	// Path is the internal cache path of a restored file
	Path string

	Size      int64
	Checksum  string
	ExpiresAt *time.Time
	Backend   string
	Err       error
}

// Recorder is a sink that keeps every callback in memory. It implements
// Store, Delete, Restore and Periodic and is safe for concurrent use.
//
// It is used by tests and by the CLI, which prints the recorded outcomes.
type Recorder struct {
	mu      sync.Mutex
	events  []Event
	log     bool
	discard bool
}

// NewRecorder returns an empty recorder. With logEvents set every callback
// is also logged at INFO (ERROR for failures).
func NewRecorder(logEvents bool) *Recorder {
	return &Recorder{log: logEvents}
}

// NewLogSink returns a recorder that logs every callback and keeps none,
// for long-running processes.
func NewLogSink() *Recorder {
	return &Recorder{log: true, discard: true}
}

func (r *Recorder) add(e Event) {
	if !r.discard {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	}

	if !r.log {
		return
	}
	if e.Err != nil {
		logger.Error("%s %s: request=%s error=%v", e.Operation, e.Outcome, e.RequestID, e.Err)
		return
	}
	if e.Operation == OpPeriodic {
		logger.Info("%s %s: backend=%s url=%s", e.Operation, e.Outcome, e.Backend, e.URL)
		return
	}
	logger.Info("%s %s: request=%s url=%s path=%s size=%d", e.Operation, e.Outcome, e.RequestID, e.URL, e.Path, e.Size)
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// For returns the events recorded for a request ID.
func (r *Recorder) For(requestID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}

// CountByOutcome counts the recorded events per outcome.
func (r *Recorder) CountByOutcome() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range r.events {
		counts[e.Outcome]++
	}
	return counts
}

// Failures returns the events carrying an error.
func (r *Recorder) Failures() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Err != nil {
			out = append(out, e)
		}
	}
	return out
}

// Store

func (r *Recorder) StoreSucceeded(res request.StoreResult) {
	r.add(storeEvent(res, OutcomeSucceeded))
}

func (r *Recorder) StoreSucceededWithPendingAction(res request.StoreResult) {
	r.add(storeEvent(res, OutcomePending))
}

func (r *Recorder) StoreFailed(req request.StoreRequest, cause error) {
	r.add(Event{Operation: OpStore, Outcome: OutcomeFailed, RequestID: req.ID, Err: cause})
}

func storeEvent(res request.StoreResult, outcome string) Event {
	return Event{
		Operation: OpStore,
		Outcome:   outcome,
		RequestID: res.Request.ID,
		URL:       res.URL,
		Size:      res.FileSize,
		Checksum:  res.Checksum.Value,
	}
}

// Delete

func (r *Recorder) DeletionSucceeded(req request.DeleteRequest) {
	r.add(Event{Operation: OpDelete, Outcome: OutcomeSucceeded, RequestID: req.ID, URL: req.URL})
}

func (r *Recorder) DeletionSucceededWithPendingAction(req request.DeleteRequest) {
	r.add(Event{Operation: OpDelete, Outcome: OutcomePending, RequestID: req.ID, URL: req.URL})
}

func (r *Recorder) DeletionFailed(req request.DeleteRequest, cause error) {
	r.add(Event{Operation: OpDelete, Outcome: OutcomeFailed, RequestID: req.ID, URL: req.URL, Err: cause})
}

// Restore

func (r *Recorder) RestoreSucceededInternalCache(req request.RestoreRequest, localPath string) {
	r.add(Event{Operation: OpRestore, Outcome: OutcomeInternalCache, RequestID: req.ID, Path: localPath, Size: req.FileSize})
}

func (r *Recorder) RestoreSucceededExternalCache(req request.RestoreRequest, url string, size int64, expiresAt *time.Time) {
	r.add(Event{Operation: OpRestore, Outcome: OutcomeExternalCache, RequestID: req.ID, URL: url, Size: size, ExpiresAt: expiresAt})
}

func (r *Recorder) RestoreFailed(req request.RestoreRequest, cause error) {
	r.add(Event{Operation: OpRestore, Outcome: OutcomeFailed, RequestID: req.ID, Err: cause})
}

// Periodic

func (r *Recorder) PendingActionSucceeded(locationURL string) {
	r.add(Event{Operation: OpPeriodic, Outcome: OutcomeActionSucceeded, URL: locationURL})
}

func (r *Recorder) AllPendingActionSucceeded(backend string) {
	r.add(Event{Operation: OpPeriodic, Outcome: OutcomeAllActionsSettled, Backend: backend})
}

var (
	_ Store    = (*Recorder)(nil)
	_ Delete   = (*Recorder)(nil)
	_ Restore  = (*Recorder)(nil)
	_ Periodic = (*Recorder)(nil)
)
