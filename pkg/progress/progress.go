// Package progress defines the callback protocol backends use to report the
// completion of each unit of work.
//
// Every request handed to a backend receives exactly one terminal callback.
// Callbacks may arrive from any goroutine and in any order. "Succeeded with
// pending action" is a success: the operation is done, but an out-of-band
// step (tiering, physical purge) is still outstanding and is confirmed later
// through the Periodic callbacks.
package progress

import (
	"errors"
	"time"

	"github.com/marmos91/dittostore/pkg/request"
)

var (
	// ErrNoTerminalCallback is reported for requests a backend returned from
	// without settling.
	ErrNoTerminalCallback = errors.New("backend returned without reporting the request")

	// ErrUnknownRequest marks a callback for a request that was not submitted.
	ErrUnknownRequest = errors.New("callback for a request that was not submitted")

	// ErrDuplicateCallback marks a second terminal callback for a request.
	ErrDuplicateCallback = errors.New("request already reported")
)

// Store receives the outcome of store requests.
type Store interface {
	StoreSucceeded(result request.StoreResult)
	StoreSucceededWithPendingAction(result request.StoreResult)
	StoreFailed(req request.StoreRequest, cause error)
}

// Delete receives the outcome of delete requests.
type Delete interface {
	DeletionSucceeded(req request.DeleteRequest)
	DeletionSucceededWithPendingAction(req request.DeleteRequest)
	DeletionFailed(req request.DeleteRequest, cause error)
}

// Restore receives the outcome of restore requests.
type Restore interface {
	// RestoreSucceededInternalCache: the file was written to localPath.
	RestoreSucceededInternalCache(req request.RestoreRequest, localPath string)

	// RestoreSucceededExternalCache: the file is readable at url until
	// expiresAt. A nil expiresAt means no expiry is tracked.
	RestoreSucceededExternalCache(req request.RestoreRequest, url string, size int64, expiresAt *time.Time)

	RestoreFailed(req request.RestoreRequest, cause error)
}

// Periodic receives confirmations from a backend's periodic action.
type Periodic interface {
	// PendingActionSucceeded: the pending action on locationURL completed.
	PendingActionSucceeded(locationURL string)

	// AllPendingActionSucceeded: backend has no pending action left.
	AllPendingActionSucceeded(backend string)
}

// Operation labels used in logs and metrics.
const (
	OpStore    = "store"
	OpDelete   = "delete"
	OpRestore  = "restore"
	OpPeriodic = "periodic"
)

// Outcome labels used in logs and metrics.
const (
	OutcomeSucceeded         = "succeeded"
	OutcomePending           = "succeeded_pending_action"
	OutcomeFailed            = "failed"
	OutcomeInternalCache     = "succeeded_internal_cache"
	OutcomeExternalCache     = "succeeded_external_cache"
	OutcomeActionSucceeded   = "pending_action_succeeded"
	OutcomeAllActionsSettled = "all_pending_action_succeeded"
)

// Metrics records callback traffic. A nil Metrics disables collection.
type Metrics interface {
	// RecordCallback records a terminal callback forwarded to the sink
	RecordCallback(operation, outcome string)

	// RecordViolation records a broken exactly-once guarantee
	// ("duplicate", "unknown", "missing")
	RecordViolation(operation, kind string)
}

type noopMetrics struct{}

func (noopMetrics) RecordCallback(operation, outcome string) {}
func (noopMetrics) RecordViolation(operation, kind string)   {}
