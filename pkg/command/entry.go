package command

import (
	"errors"
	"io"
	"sync/atomic"
)

// ErrEntryConsumed is returned when the byte stream of an Entry is opened a
// second time. Re-reading requires issuing a new Read command.
var ErrEntryConsumed = errors.New("storage entry already consumed")

// UnknownSize marks an entry whose length is not known up front.
const UnknownSize int64 = -1

// Opener produces the byte stream of an entry. It is called at most once.
type Opener func() (io.ReadCloser, error)

// Entry is file content in transit.
//
// The stream is produced on demand and never buffered by the Entry itself,
// so entries of arbitrary length can flow through the executor. An Entry is
// single-consumer: Open succeeds exactly once.
type Entry struct {
	storage  StorageConfig
	fullPath string
	size     int64
	checksum *Checksum
	open     Opener
	consumed atomic.Bool
}

// NewEntry builds an entry whose stream is produced lazily by open.
// Pass UnknownSize when the length is not known and nil when no checksum is.
func NewEntry(cfg StorageConfig, fullPath string, size int64, checksum *Checksum, open Opener) *Entry {
	return &Entry{
		storage:  cfg,
		fullPath: fullPath,
		size:     size,
		checksum: checksum,
		open:     open,
	}
}

// NewStreamEntry wraps an already open stream.
func NewStreamEntry(cfg StorageConfig, fullPath string, size int64, checksum *Checksum, rc io.ReadCloser) *Entry {
	return NewEntry(cfg, fullPath, size, checksum, func() (io.ReadCloser, error) { return rc, nil })
}

// Open returns the byte stream. The caller must close it.
// Every call after the first returns ErrEntryConsumed.
func (e *Entry) Open() (io.ReadCloser, error) {
	if !e.consumed.CompareAndSwap(false, true) {
		return nil, ErrEntryConsumed
	}
	return e.open()
}

// Consumed reports whether Open has been called.
func (e *Entry) Consumed() bool {
	return e.consumed.Load()
}

func (e *Entry) Config() StorageConfig { return e.storage }
func (e *Entry) FullPath() string      { return e.fullPath }

// Size returns the known length of the stream.
func (e *Entry) Size() (int64, bool) {
	return e.size, e.size >= 0
}

// Checksum returns the checksum attached to the entry, if any.
func (e *Entry) Checksum() (Checksum, bool) {
	if e.checksum == nil {
		return Checksum{}, false
	}
	return *e.checksum, true
}
