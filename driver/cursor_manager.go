package driver

import "sync"

// resourceState is the Cursor Resource Manager's state machine, per spec.md
// §4.3's transition table. A single mutex guards every transition,
// replacing the teacher lineage's volatile-field-and-ad-hoc-locking
// approach the redesign notes (spec.md §9) call out by name.
type resourceState uint8

const (
	stateIdle resourceState = iota
	stateOperationInProgress
	stateClosePending
	stateClosed
)

// cursorResourceManager guards the resources a Command Batch Cursor must
// release: it tolerates a close concurrent with an in-flight next/getMore,
// and forbids two concurrent next calls outright (spec.md §4.3, §8
// property 3).
type cursorResourceManager struct {
	mu    sync.Mutex
	state resourceState

	// skipReleasingServerResources is the sticky "corrupted connection"
	// flag from spec.md §4.3: once set, close must not attempt killCursors
	// on the connection that produced the corruption, because in
	// load-balanced mode that pinned connection is the only one allowed to
	// issue it.
	skipReleasingServerResources bool
}

// tryStartOperation attempts the IDLE -> OPERATION_IN_PROGRESS transition.
// It returns ErrConcurrentOperation if another operation already holds the
// slot, and ErrCursorClosed if the manager is already closed or
// close-pending.
func (m *cursorResourceManager) tryStartOperation() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case stateIdle:
		m.state = stateOperationInProgress
		return nil
	case stateOperationInProgress:
		return ErrConcurrentOperation
	case stateClosePending, stateClosed:
		return ErrCursorClosed
	default:
		return ErrCursorClosed
	}
}

// endOperation transitions back to IDLE, unless a close arrived while the
// operation was in flight, in which case it transitions to CLOSED and
// reports that the caller must now run the deferred close action (spec.md
// §4.3's CLOSE_PENDING -> CLOSED transition).
func (m *cursorResourceManager) endOperation() (runDeferredClose bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case stateOperationInProgress:
		m.state = stateIdle
		return false
	case stateClosePending:
		m.state = stateClosed
		return true
	default:
		return false
	}
}

// close transitions the manager toward CLOSED. If an operation is in
// flight it defers to CLOSE_PENDING and returns false (the in-flight
// endOperation call will run the close); otherwise it closes immediately
// and returns true so the caller runs the close action itself. Calling
// close on an already-closed manager is a no-op, per spec.md §4.3's last
// row.
func (m *cursorResourceManager) close() (runNow bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case stateIdle:
		m.state = stateClosed
		return true
	case stateOperationInProgress:
		m.state = stateClosePending
		return false
	default:
		return false
	}
}

// isClosed reports whether the manager has fully transitioned to CLOSED.
func (m *cursorResourceManager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateClosed
}

// markCorrupted sets the sticky skip-server-resources flag (spec.md §4.3).
func (m *cursorResourceManager) markCorrupted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipReleasingServerResources = true
}

func (m *cursorResourceManager) shouldSkipServerResources() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipReleasingServerResources
}
