package command

import "time"

// RestorationStatus is the availability of a nearline object.
type RestorationStatus int

const (
	// NotAvailable: the object is in cold storage and no restoration was requested.
	NotAvailable RestorationStatus = iota
	// RestorePending: a restoration was requested and is in progress.
	RestorePending
	// Available: the object can be read.
	Available
	// Expired: a restored copy existed but its expiration date has passed.
	Expired
)

func (s RestorationStatus) String() string {
	switch s {
	case NotAvailable:
		return "NOT_AVAILABLE"
	case RestorePending:
		return "RESTORE_PENDING"
	case Available:
		return "AVAILABLE"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// GlacierFileStatus is a snapshot of a nearline object's restoration state.
// It is superseded on every refresh.
//
// A nil ExpiresAt means no expiration is tracked, not that the copy never
// expires.
type GlacierFileStatus struct {
	Status       RestorationStatus
	Size         *int64
	ExpiresAt    *time.Time
	StorageClass string
}

// AvailableAt reports whether the object can be read at t. An Available
// status whose expiration is not after t is not available.
func (s GlacierFileStatus) AvailableAt(t time.Time) bool {
	if s.Status != Available {
		return false
	}
	return s.ExpiresAt == nil || s.ExpiresAt.After(t)
}

// At re-evaluates the snapshot at t, turning an elapsed Available into Expired.
func (s GlacierFileStatus) At(t time.Time) GlacierFileStatus {
	if s.Status == Available && s.ExpiresAt != nil && !s.ExpiresAt.After(t) {
		s.Status = Expired
	}
	return s
}
