package command

import "fmt"

// Result is the outcome of executing a Command. Every result carries the
// command that produced it.
type Result interface {
	Command() Command
	isResult()
}

// CheckResult is one of CheckPresent, CheckAbsent or Unreachable.
type CheckResult interface {
	Result
	isCheckResult()
}

// ReadResult is one of ReadPipe, ReadNotFound or Unreachable.
type ReadResult interface {
	Result
	isReadResult()
}

// WriteResult is one of WriteSuccess, WriteFailure or Unreachable.
type WriteResult interface {
	Result
	isWriteResult()
}

// DeleteResult is one of DeleteSuccess, DeleteFailure or Unreachable.
type DeleteResult interface {
	Result
	isDeleteResult()
}

// ============================================================================
// Unreachable
// ============================================================================

// Unreachable reports a transport level problem: the store could not be
// reached, refused the request, or kept failing until retries ran out.
// It is never used for a well-formed "not found".
type Unreachable struct {
	Cmd Command
	Err error
}

func (r Unreachable) Command() Command { return r.Cmd }
func (r Unreachable) Error() string {
	return fmt.Sprintf("%s %s unreachable: %v", r.Cmd.Kind(), r.Cmd.EntryKey(), r.Err)
}
func (r Unreachable) Unwrap() error { return r.Err }

func (Unreachable) isResult()       {}
func (Unreachable) isCheckResult()  {}
func (Unreachable) isReadResult()   {}
func (Unreachable) isWriteResult()  {}
func (Unreachable) isDeleteResult() {}

// ============================================================================
// Check
// ============================================================================

type CheckPresent struct{ Cmd Check }
type CheckAbsent struct{ Cmd Check }

func (r CheckPresent) Command() Command { return r.Cmd }
func (r CheckAbsent) Command() Command  { return r.Cmd }

func (CheckPresent) isResult()      {}
func (CheckPresent) isCheckResult() {}
func (CheckAbsent) isResult()       {}
func (CheckAbsent) isCheckResult()  {}

// ============================================================================
// Read
// ============================================================================

// ReadPipe hands over the live object stream. The consumer must close
// Entry's stream; closing early releases the connection.
type ReadPipe struct {
	Cmd   Read
	Entry *Entry
}

type ReadNotFound struct{ Cmd Read }

func (r ReadPipe) Command() Command     { return r.Cmd }
func (r ReadNotFound) Command() Command { return r.Cmd }

func (ReadPipe) isResult()         {}
func (ReadPipe) isReadResult()     {}
func (ReadNotFound) isResult()     {}
func (ReadNotFound) isReadResult() {}

// ============================================================================
// Write
// ============================================================================

// WriteSuccess carries the number of bytes sent and the digest computed while
// streaming them.
type WriteSuccess struct {
	Cmd      Write
	Size     int64
	Checksum Checksum
}

// WriteFailure is a backend level negative outcome (integrity failure,
// conflict, unreadable source). No partial object remains.
type WriteFailure struct {
	Cmd Write
	Err error
}

func (r WriteSuccess) Command() Command { return r.Cmd }
func (r WriteFailure) Command() Command { return r.Cmd }
func (r WriteFailure) Error() string    { return fmt.Sprintf("write %s failed: %v", r.Cmd.Key, r.Err) }
func (r WriteFailure) Unwrap() error    { return r.Err }

func (WriteSuccess) isResult()      {}
func (WriteSuccess) isWriteResult() {}
func (WriteFailure) isResult()      {}
func (WriteFailure) isWriteResult() {}

// ============================================================================
// Delete
// ============================================================================

type DeleteSuccess struct{ Cmd Delete }

type DeleteFailure struct {
	Cmd Delete
	Err error
}

func (r DeleteSuccess) Command() Command { return r.Cmd }
func (r DeleteFailure) Command() Command { return r.Cmd }
func (r DeleteFailure) Error() string    { return fmt.Sprintf("delete %s failed: %v", r.Cmd.Key, r.Err) }
func (r DeleteFailure) Unwrap() error    { return r.Err }

func (DeleteSuccess) isResult()       {}
func (DeleteSuccess) isDeleteResult() {}
func (DeleteFailure) isResult()       {}
func (DeleteFailure) isDeleteResult() {}

// ============================================================================
// Exhaustive matching
// ============================================================================

// MatchCheck dispatches r to exactly one handler.
func MatchCheck[T any](r CheckResult,
	present func(CheckPresent) T,
	absent func(CheckAbsent) T,
	unreachable func(Unreachable) T,
) T {
	switch v := r.(type) {
	case CheckPresent:
		return present(v)
	case CheckAbsent:
		return absent(v)
	case Unreachable:
		return unreachable(v)
	default:
		panic(fmt.Sprintf("command: unexpected check result %T", r))
	}
}

// MatchRead dispatches r to exactly one handler.
func MatchRead[T any](r ReadResult,
	pipe func(ReadPipe) T,
	notFound func(ReadNotFound) T,
	unreachable func(Unreachable) T,
) T {
	switch v := r.(type) {
	case ReadPipe:
		return pipe(v)
	case ReadNotFound:
		return notFound(v)
	case Unreachable:
		return unreachable(v)
	default:
		panic(fmt.Sprintf("command: unexpected read result %T", r))
	}
}

// MatchWrite dispatches r to exactly one handler.
func MatchWrite[T any](r WriteResult,
	success func(WriteSuccess) T,
	failure func(WriteFailure) T,
	unreachable func(Unreachable) T,
) T {
	switch v := r.(type) {
	case WriteSuccess:
		return success(v)
	case WriteFailure:
		return failure(v)
	case Unreachable:
		return unreachable(v)
	default:
		panic(fmt.Sprintf("command: unexpected write result %T", r))
	}
}

// MatchDelete dispatches r to exactly one handler.
func MatchDelete[T any](r DeleteResult,
	success func(DeleteSuccess) T,
	failure func(DeleteFailure) T,
	unreachable func(Unreachable) T,
) T {
	switch v := r.(type) {
	case DeleteSuccess:
		return success(v)
	case DeleteFailure:
		return failure(v)
	case Unreachable:
		return unreachable(v)
	default:
		panic(fmt.Sprintf("command: unexpected delete result %T", r))
	}
}

// Outcome names the variant of r, for logs and metric labels.
func Outcome(r Result) string {
	switch r.(type) {
	case CheckPresent:
		return "present"
	case CheckAbsent:
		return "absent"
	case ReadPipe:
		return "pipe"
	case ReadNotFound:
		return "not_found"
	case WriteSuccess, DeleteSuccess:
		return "success"
	case WriteFailure, DeleteFailure:
		return "failure"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Err returns the error carried by failure variants, or nil.
func Err(r Result) error {
	switch v := r.(type) {
	case Unreachable:
		return v
	case WriteFailure:
		return v
	case DeleteFailure:
		return v
	default:
		return nil
	}
}
