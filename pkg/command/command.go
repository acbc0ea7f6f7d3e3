package command

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind enumerates the four storage commands.
type Kind int

const (
	KindCheck Kind = iota
	KindRead
	KindWrite
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCheck:
		return "check"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// CommandID correlates a command with the task that issued it.
type CommandID struct {
	TaskID string
	ID     uuid.UUID
}

// NewCommandID returns a fresh identifier for a command issued by taskID.
func NewCommandID(taskID string) CommandID {
	return CommandID{TaskID: taskID, ID: uuid.New()}
}

func (id CommandID) String() string {
	return fmt.Sprintf("%s/%s", id.TaskID, id.ID)
}

// Command is implemented by Check, Read, Write and Delete only.
type Command interface {
	Kind() Kind
	Config() StorageConfig
	ID() CommandID
	EntryKey() string

	isCommand()
}

// Header holds the fields shared by every command.
type Header struct {
	Storage StorageConfig
	CmdID   CommandID
	Key     string
}

func (h Header) Config() StorageConfig { return h.Storage }
func (h Header) ID() CommandID         { return h.CmdID }
func (h Header) EntryKey() string      { return h.Key }

func newHeader(cfg StorageConfig, taskID, suffix string) Header {
	return Header{Storage: cfg, CmdID: NewCommandID(taskID), Key: cfg.EntryKey(suffix)}
}

// Check probes whether an entry exists.
type Check struct{ Header }

// Read opens a streaming read of an entry.
type Read struct{ Header }

// Write streams an Entry to the entry key. Checksum, when set, is the digest
// the caller expects; it is verified, never trusted.
type Write struct {
	Header
	Entry    *Entry
	Checksum *Checksum
}

// Delete removes an entry. With Prefix set every entry under the key is
// removed.
type Delete struct {
	Header
	Prefix bool
}

func (Check) Kind() Kind  { return KindCheck }
func (Read) Kind() Kind   { return KindRead }
func (Write) Kind() Kind  { return KindWrite }
func (Delete) Kind() Kind { return KindDelete }

func (Check) isCommand()  {}
func (Read) isCommand()   {}
func (Write) isCommand()  {}
func (Delete) isCommand() {}

// NewCheck builds a Check for suffix resolved against cfg's root path.
func NewCheck(cfg StorageConfig, taskID, suffix string) Check {
	return Check{Header: newHeader(cfg, taskID, suffix)}
}

// NewRead builds a Read for suffix resolved against cfg's root path.
func NewRead(cfg StorageConfig, taskID, suffix string) Read {
	return Read{Header: newHeader(cfg, taskID, suffix)}
}

// NewWrite builds a Write of entry to suffix resolved against cfg's root path.
func NewWrite(cfg StorageConfig, taskID, suffix string, entry *Entry, checksum *Checksum) Write {
	return Write{Header: newHeader(cfg, taskID, suffix), Entry: entry, Checksum: checksum}
}

// NewDelete builds a Delete for suffix resolved against cfg's root path.
func NewDelete(cfg StorageConfig, taskID, suffix string) Delete {
	return Delete{Header: newHeader(cfg, taskID, suffix)}
}

// NewDeletePrefix builds a Delete removing every entry under suffix.
func NewDeletePrefix(cfg StorageConfig, taskID, suffix string) Delete {
	return Delete{Header: newHeader(cfg, taskID, suffix), Prefix: true}
}
