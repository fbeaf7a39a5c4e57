package driver

import (
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// TimeoutMode selects how the deadline clock behaves across calls to a
// cursor's next method, per spec.md §3.
type TimeoutMode uint8

// TimeoutMode values.
const (
	// TimeoutCursorLifetime applies one deadline across the cursor's
	// entire lifetime; it is not reset between next calls.
	TimeoutCursorLifetime TimeoutMode = iota
	// TimeoutIteration resets the deadline before every next call, so
	// each getMore gets a fresh budget.
	TimeoutIteration
)

// TimeoutContext holds the remaining budget for a logical operation: a
// monotonic deadline plus the derived maxTimeMS to attach to the next
// server call, per spec.md §3. It is safe for concurrent use because a
// cursor's Cursor Resource Manager already serializes calls that would
// touch it, but Reset is also called from Close, which can race with an
// in-flight next.
type TimeoutContext struct {
	mu sync.Mutex

	original time.Duration // the user-configured timeout, 0 meaning none.
	deadline time.Time
	hasDeadline bool

	maxTimeOverride *int64
	mode            TimeoutMode
}

// NewTimeoutContext constructs a TimeoutContext with the given overall
// timeout (0 disables client-side timeout entirely) and iteration mode.
func NewTimeoutContext(timeout time.Duration, mode TimeoutMode) *TimeoutContext {
	tc := &TimeoutContext{original: timeout, mode: mode}
	tc.resetLocked()
	return tc
}

// ResetToDefaults restores the deadline computed from the originally
// configured timeout, discarding any per-call override. Used when a
// logical operation begins a fresh attempt.
func (tc *TimeoutContext) ResetToDefaults() {
	if tc == nil {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.maxTimeOverride = nil
	tc.resetLocked()
}

// ResetIfPresent restarts the per-iteration clock when the configured
// TimeoutMode is TimeoutIteration; it is a no-op under
// TimeoutCursorLifetime, matching spec.md §3's iteration-mode description.
func (tc *TimeoutContext) ResetIfPresent() {
	if tc == nil {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.mode == TimeoutIteration {
		tc.resetLocked()
	}
}

func (tc *TimeoutContext) resetLocked() {
	if tc.original <= 0 {
		tc.hasDeadline = false
		return
	}
	tc.deadline = time.Now().Add(tc.original)
	tc.hasDeadline = true
}

// SetMaxTimeOverride pins the maxTimeMS field to an explicit value for the
// next outgoing command, overriding whatever would be derived from the
// deadline. Used for commands such as getMore on an awaitData cursor,
// where maxTimeMS means "max time to wait for new data" rather than "max
// time to run the command."
func (tc *TimeoutContext) SetMaxTimeOverride(ms int64) {
	if tc == nil {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.maxTimeOverride = &ms
}

// RemainingMS returns the milliseconds left before the deadline, and
// whether a deadline is configured at all. A returned (0, true) means the
// deadline has already passed.
func (tc *TimeoutContext) RemainingMS() (int64, bool) {
	if tc == nil {
		return 0, false
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if !tc.hasDeadline {
		return 0, false
	}
	remaining := time.Until(tc.deadline)
	if remaining < 0 {
		remaining = 0
	}
	return remaining.Milliseconds(), true
}

// Expired reports whether the deadline, if any, has passed.
func (tc *TimeoutContext) Expired() bool {
	ms, ok := tc.RemainingMS()
	return ok && ms == 0
}

// PutMaxTimeMS appends a maxTimeMS element to dst unless tailable is true
// (spec.md §4.1: "Attach maxTimeMS only when... the cursor is not
// tailable") or no timeout is configured at all.
func (tc *TimeoutContext) PutMaxTimeMS(dst []byte, tailable bool) []byte {
	if tc == nil || tailable {
		return dst
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.maxTimeOverride != nil {
		return bsoncore.AppendInt64Element(dst, "maxTimeMS", *tc.maxTimeOverride)
	}
	if !tc.hasDeadline {
		return dst
	}
	remaining := time.Until(tc.deadline)
	if remaining < 0 {
		remaining = 0
	}
	return bsoncore.AppendInt64Element(dst, "maxTimeMS", remaining.Milliseconds())
}
