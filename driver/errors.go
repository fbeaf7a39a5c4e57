package driver

import (
	"errors"
	"fmt"
)

// Error label constants, attached to CommandError/WriteError values and
// inspected by ErrorClassifier. Names match the change-streams and
// retryable-writes specifications' wire-level error labels.
const (
	RetryableWriteError         = "RetryableWriteError"
	ResumableChangeStreamError  = "ResumableChangeStreamError"
	NoWritesPerformedError      = "NoWritesPerformed"
)

// Well-known server error codes spec.md §7/§9 calls out by name.
const (
	codeHostUnreachable        = 6
	codeHostNotFound           = 7
	codeNetworkTimeout         = 89
	codeShutdownInProgress     = 91
	codePrimarySteppedDown     = 189
	codeExceededTimeLimit      = 262
	codeCursorNotFound         = 43
	codeNotPrimaryNoSecondaryOk = 13435
	codeNotPrimaryOrSecondary  = 13436
	codeNotWritablePrimary     = 10107
	codeInterrupted            = 11601
	codeCappedPositionLost     = 136
	codeNamespaceNotFound      = 26
	codeWriteConcernTimeout    = 64
)

// NetworkError wraps a transport failure: connect, read, write, or
// unexpected EOF. It is always a candidate for retry (spec.md §7).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("connection error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// SocketTimeout is a NetworkError specialization for a deadline reached
// during I/O rather than a hard transport failure. It is still retryable.
type SocketTimeout struct {
	Err error
}

func (e *SocketTimeout) Error() string { return fmt.Sprintf("socket timeout: %v", e.Err) }
func (e *SocketTimeout) Unwrap() error { return e.Err }

// OperationTimeout is the client-side deadline being reached. Per spec.md
// §7 it is never retryable itself; if Cause is a NetworkError the
// connection that produced it must be treated as corrupted (spec.md §5).
type OperationTimeout struct {
	Cause error
}

func (e *OperationTimeout) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("operation timed out: %v", e.Cause)
	}
	return "operation timed out"
}
func (e *OperationTimeout) Unwrap() error { return e.Cause }

// CorruptedConnection reports whether this timeout's cause means the
// connection that produced it can no longer be trusted to issue further
// commands (e.g. killCursors) — spec.md §5.
func (e *OperationTimeout) CorruptedConnection() bool {
	var ne *NetworkError
	return errors.As(e.Cause, &ne)
}

// CommandError is a structured server error: {code, codeName, errmsg,
// errorLabels}. Retryability is derived from code or from errorLabels
// containing RetryableWriteError/ResumableChangeStreamError (spec.md §7).
type CommandError struct {
	Code    int32
	Name    string
	Message string
	Labels  []string
}

func (e *CommandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%s) %s", e.Name, e.Message)
	}
	return e.Message
}

// HasErrorLabel reports whether the server (or the driver, after
// synthesis) attached the given label.
func (e *CommandError) HasErrorLabel(label string) bool {
	if e == nil {
		return false
	}
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// AddLabel appends label if not already present. Used by the write flavor
// of the Command Executor to synthesize RetryableWriteError on older
// servers that do not add the label themselves (spec.md §4.2).
func (e *CommandError) AddLabel(label string) {
	if !e.HasErrorLabel(label) {
		e.Labels = append(e.Labels, label)
	}
}

// WriteConcernError is a server-accepted write that could not satisfy the
// requested write concern (spec.md §3, §7).
type WriteConcernError struct {
	Code    int32
	Name    string
	Message string
	Labels  []string
	Details []byte // raw BSON errInfo, if present.
}

func (e *WriteConcernError) Error() string {
	return fmt.Sprintf("write concern error: (%s) %s", e.Name, e.Message)
}

// HasErrorLabel mirrors CommandError.HasErrorLabel.
func (e *WriteConcernError) HasErrorLabel(label string) bool {
	if e == nil {
		return false
	}
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// WriteError is a single per-item error in a bulk or ordinary write
// command's writeErrors array.
type WriteError struct {
	Index   int
	Code    int32
	Name    string
	Message string
	Details []byte
}

func (e WriteError) Error() string {
	return fmt.Sprintf("write error at index %d: (%s) %s", e.Index, e.Name, e.Message)
}

// BulkWriteError aggregates per-item write errors plus an optional write
// concern error for a (possibly multi-batch) bulk operation (spec.md §7).
type BulkWriteError struct {
	WriteErrors       []WriteError
	WriteConcernError *WriteConcernError
}

func (e *BulkWriteError) Error() string {
	switch {
	case len(e.WriteErrors) > 0 && e.WriteConcernError != nil:
		return fmt.Sprintf("bulk write error: %d write errors, plus a write concern error: %v", len(e.WriteErrors), e.WriteConcernError)
	case len(e.WriteErrors) > 0:
		return fmt.Sprintf("bulk write error: %d write errors, first: %v", len(e.WriteErrors), e.WriteErrors[0])
	case e.WriteConcernError != nil:
		return e.WriteConcernError.Error()
	default:
		return "bulk write error"
	}
}

// NamespaceNotFound is recovered locally for listCollections/listIndexes/
// $listSearchIndexes into an empty cursor rather than propagated (spec.md
// §7).
type NamespaceNotFound struct {
	Namespace string
}

func (e *NamespaceNotFound) Error() string {
	return fmt.Sprintf("namespace not found: %s", e.Namespace)
}

// ErrConcurrentOperation is a client-side contract violation: two concurrent
// next calls on the same cursor. Fatal for the call that loses the race;
// the cursor itself remains usable (spec.md §7).
var ErrConcurrentOperation = errors.New("an operation on this cursor is already in progress; concurrent next calls are not permitted")

// ErrCursorClosed is returned by a cursor method called after Close, or
// after the Cursor Resource Manager has transitioned to CLOSED.
var ErrCursorClosed = errors.New("cursor is closed")

// ChangeStreamTokenMissing is raised when a document in a change-stream
// batch lacks _id, so no resume token can be derived from it (spec.md §4.5,
// §7). The cursor remains resumable from the previously stored token.
type ChangeStreamTokenMissing struct{}

func (e *ChangeStreamTokenMissing) Error() string {
	return "change stream document is missing the _id required as a resume token"
}

// InvalidArgument is a synchronous input-validation failure raised from an
// Operation Object constructor/setter or a Command Creator, never from I/O
// (spec.md §4.1, §7).
type InvalidArgument struct {
	Message string
}

func (e *InvalidArgument) Error() string { return "invalid argument: " + e.Message }

// IsNamespaceNotFound reports whether err is, or wraps, a server
// "ns not found" style error (code 26) or a NamespaceNotFound.
func IsNamespaceNotFound(err error) bool {
	var nnf *NamespaceNotFound
	if errors.As(err, &nnf) {
		return true
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code == codeNamespaceNotFound
	}
	return false
}
