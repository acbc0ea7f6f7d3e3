// Package request defines the units of work the orchestrator hands to storage
// backends: store, delete and restore requests, grouped into working subsets.
package request

import "github.com/marmos91/dittostore/pkg/command"

// Request is a unit of work identified by an orchestrator-assigned ID.
type Request interface {
	RequestID() string
}

// StoreRequest asks a backend to persist one file.
type StoreRequest struct {
	ID string

	// FileName is the original name of the file, for logs and error messages
	FileName string

	// OriginURL locates the bytes to store (file:// URL or local path)
	OriginURL string

	// SubDirectory is an optional destination directory inside the backend
	SubDirectory string

	// Checksum is the expected digest of the file
	Checksum command.Checksum

	// FileSize is the expected size in bytes, or command.UnknownSize
	FileSize int64
}

func (r StoreRequest) RequestID() string { return r.ID }

// StoreResult describes a stored file.
type StoreResult struct {
	Request  StoreRequest
	URL      string
	FileSize int64
	Checksum command.Checksum
}

// DeleteRequest asks a backend to remove a previously stored file.
type DeleteRequest struct {
	ID       string
	URL      string
	Checksum command.Checksum
	FileSize int64
}

func (r DeleteRequest) RequestID() string { return r.ID }

// RestoreRequest asks a nearline backend to stage a file into a cache.
type RestoreRequest struct {
	ID       string
	URL      string
	Checksum command.Checksum
	FileSize int64

	// CacheDir is the internal cache directory for this request. Empty means
	// the backend's configured cache path.
	CacheDir string
}

func (r RestoreRequest) RequestID() string { return r.ID }

// WorkingSubset is a named, homogeneous batch of requests handed to a single
// backend invocation. It must not be modified once handed over.
type WorkingSubset[R Request] struct {
	Name     string
	Requests []R
}

// Len returns the number of requests in the subset.
func (s WorkingSubset[R]) Len() int { return len(s.Requests) }

// Rejection is a request a backend cannot handle, with the reason.
type Rejection[R Request] struct {
	Request R
	Reason  string
}

// IDs returns the request identifiers in subset order.
func IDs[R Request](requests []R) []string {
	ids := make([]string, 0, len(requests))
	for _, r := range requests {
		ids = append(ids, r.RequestID())
	}
	return ids
}
