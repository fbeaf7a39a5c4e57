package driver

import (
	"errors"

	"github.com/shardwire/mongocore/session"
	"github.com/shardwire/mongocore/writeconcern"
)

// ErrorClassifier consolidates retryable-error classification into three
// pure predicates, per spec.md §9's explicit redesign instruction
// ("Retryable-error classification scattered across helpers... Consolidate
// as a single ErrorClassifier"). Each predicate takes the error and the
// minimum context needed to judge it and returns a bool; none performs I/O
// or mutates anything.
type ErrorClassifier struct{}

// IsRetryableRead implements spec.md §4.2's read retry predicate.
func (ErrorClassifier) IsRetryableRead(err error, maxWireVersion int32, txnState session.TransactionState) bool {
	if err == nil {
		return false
	}
	if txnState.IsActive() {
		return false
	}

	var ot *OperationTimeout
	if errors.As(err, &ot) {
		// A client-side timeout is never retried by the read-retry
		// predicate itself; the Retry Controller's deadline check handles
		// exhaustion uniformly instead (spec.md §5).
		return false
	}

	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var st *SocketTimeout
	if errors.As(err, &st) {
		return true
	}

	var ce *CommandError
	if errors.As(err, &ce) {
		switch ce.Code {
		case codeHostUnreachable, codeHostNotFound,
			codeNotWritablePrimary, codeNotPrimaryNoSecondaryOk, codeNotPrimaryOrSecondary,
			codePrimarySteppedDown, codeShutdownInProgress, codeNetworkTimeout:
			return true
		case codeExceededTimeLimit:
			// A server-side maxTimeMS expiry is retryable; a client-side
			// CSOT expiry is not, and is never represented as a
			// CommandError in the first place (it surfaces as
			// OperationTimeout above).
			return true
		}
	}
	return false
}

// IsRetryableWrite implements spec.md §4.2's write retry predicate. The
// caller supplies the facts the predicate can't derive from the error
// alone: whether retryWrites is enabled, whether the write concern is
// acknowledged, the session's transaction state, whether the connection
// supports sessions, and whether the server is a standalone.
func (ErrorClassifier) IsRetryableWrite(
	err error,
	retryWritesEnabled bool,
	wc *writeconcern.WriteConcern,
	txnState session.TransactionState,
	connectionSupportsSessions bool,
	serverIsStandalone bool,
) bool {
	if err == nil || !retryWritesEnabled {
		return false
	}
	if !wc.IsAcknowledged() {
		return false
	}
	if txnState != session.TransactionNone && txnState != session.TransactionStarting {
		return false
	}
	if !connectionSupportsSessions || serverIsStandalone {
		return false
	}

	var ce *CommandError
	if errors.As(err, &ce) && ce.HasErrorLabel(RetryableWriteError) {
		return true
	}
	var wce *WriteConcernError
	if errors.As(err, &wce) && wce.HasErrorLabel(RetryableWriteError) {
		return true
	}

	// A raw network error carries no label (the write flavor of the
	// Command Executor only labels CommandErrors); a bare NetworkError is
	// itself always a retryable-write cause.
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	return false
}

// resumableChangeStreamCodes lists server codes the change-streams
// specification treats as resumable, independent of error labels, for
// servers that predate label-based resumability. Exact membership is
// wire-version-gated per spec.md §9's open question; this module follows
// the 2023-era change-streams specification's code list.
var resumableChangeStreamCodes = map[int32]bool{
	codeHostUnreachable:    true,
	codeHostNotFound:       true,
	codeNetworkTimeout:     true,
	codeShutdownInProgress: true,
	codePrimarySteppedDown: true,
	codeCursorNotFound:     true,
	codeNotWritablePrimary: true,
	codeNotPrimaryNoSecondaryOk: true,
	codeNotPrimaryOrSecondary:   true,
	280:                   true, // ChangeStreamFatalError is explicitly excluded below regardless.
}

// nonResumableChangeStreamCodes always wins over resumableChangeStreamCodes
// and over the ResumableChangeStreamError label, per the change-streams
// specification's carve-outs (spec.md §4.5).
var nonResumableChangeStreamCodes = map[int32]bool{
	codeInterrupted:        true,
	codeCappedPositionLost: true,
	280:                    true,
}

// IsResumableChangeStream implements spec.md §4.5's resumable-error
// predicate.
func (ErrorClassifier) IsResumableChangeStream(err error, maxWireVersion int32) bool {
	if err == nil {
		return false
	}

	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var st *SocketTimeout
	if errors.As(err, &st) {
		return true
	}

	var ce *CommandError
	if errors.As(err, &ce) {
		if nonResumableChangeStreamCodes[ce.Code] {
			return false
		}
		if ce.HasErrorLabel(ResumableChangeStreamError) {
			return true
		}
		return resumableChangeStreamCodes[ce.Code]
	}
	return false
}
