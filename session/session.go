// Package session models the Session Context described in spec.md §3: the
// opaque carrier for a logical session id, transaction state, read concern,
// and cluster/operation time that every command attempt consults. The real
// driver's x/mongo/driver/session package was not part of the retrieved
// reference set (only its call sites, e.g. core/dispatch/insert.go's
// cmd.Session.IncrementTxnNumber()/EndSession(), and
// x/mongo/driver/operation/list_collections.go's Session(*session.Client)
// setter, survived); this package is reconstructed from those call sites.
package session

import (
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// TransactionState is the state of a multi-document transaction associated
// with a session.
type TransactionState uint8

// TransactionState values, per spec.md §3.
const (
	TransactionNone TransactionState = iota
	TransactionStarting
	TransactionInProgress
	TransactionCommitted
	TransactionAborted
)

// IsActive reports whether a transaction is starting or in progress, the
// two states in which spec.md requires retry to be disabled and writes to
// be forced acknowledged.
func (s TransactionState) IsActive() bool {
	return s == TransactionStarting || s == TransactionInProgress
}

// ClusterClock tracks the highest $clusterTime document observed across any
// command run by the client that owns this clock, so it can be gossiped
// back out on the next command.
type ClusterClock struct {
	mu   sync.Mutex
	time bson.Raw
}

// AdvanceClusterTime updates the clock if the given cluster time is newer
// than the one currently held.
func (cc *ClusterClock) AdvanceClusterTime(clusterTime bson.Raw) {
	if clusterTime == nil {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.time == nil || compareClusterTime(clusterTime, cc.time) > 0 {
		cc.time = clusterTime
	}
}

// ClusterTime returns the most recently observed cluster time, or nil if
// none has been observed.
func (cc *ClusterClock) ClusterTime() bson.Raw {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.time
}

func compareClusterTime(a, b bson.Raw) int {
	at, aOk := lookupTimestamp(a)
	bt, bOk := lookupTimestamp(b)
	if !aOk || !bOk {
		return 0
	}
	switch {
	case at > bt:
		return 1
	case at < bt:
		return -1
	default:
		return 0
	}
}

func lookupTimestamp(raw bson.Raw) (uint64, bool) {
	val, err := raw.LookupErr("$clusterTime", "clusterTime")
	if err != nil {
		return 0, false
	}
	t, i, ok := val.TimestampOK()
	if !ok {
		return 0, false
	}
	return uint64(t)<<32 | uint64(i), true
}

// Client is the per-logical-session state every command attempt consults
// and, when it is acting as a transaction's owner, mutates. A Client is
// never accessed concurrently by two commands of the same session (spec.md
// §5); callers are responsible for that serialization, the same contract
// the real driver places on mongo.Session.
type Client struct {
	mu sync.Mutex

	SessionID     bson.Binary
	ClusterTime   bson.Raw
	OperationTime *bson.Timestamp
	ReadConcern   string // "" means unset; a non-empty level name otherwise.

	txnNumber        int64
	transactionState TransactionState
	retryingTxn      bool

	clock *ClusterClock

	// Implicit is true for sessions the driver started on the caller's
	// behalf for a single operation, as opposed to one a caller obtained
	// explicitly and may reuse across calls.
	Implicit bool
}

// NewClientSession constructs a new logical session bound to the given
// cluster clock. sessionID would ordinarily come from a driver-wide session
// pool (to bound the number of concurrently live server-side sessions); the
// pool itself is connection-pool machinery out of this core's scope, so
// callers supply an id.
func NewClientSession(clock *ClusterClock, sessionID bson.Binary, implicit bool) *Client {
	return &Client{
		SessionID: sessionID,
		clock:     clock,
		Implicit:  implicit,
	}
}

// TransactionState returns the session's current transaction state.
func (c *Client) TransactionState() TransactionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transactionState
}

// SetTransactionState transitions the session's transaction state. It does
// not validate the transition; the caller (transaction API, out of this
// core's scope) owns the state machine for transaction commands themselves.
func (c *Client) SetTransactionState(state TransactionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactionState = state
	if state == TransactionStarting {
		c.retryingTxn = false
	}
}

// TxnNumber returns the session's current transaction number, the value
// last attached to an outgoing command.
func (c *Client) TxnNumber() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnNumber
}

// IncrementTxnNumber advances the transaction number. Per spec.md §4.2, a
// retried write reuses the same logical session and increments txnNumber
// only on the first attempt of a logical operation, never on the retry
// itself; callers call this once per logical write, not once per attempt.
func (c *Client) IncrementTxnNumber() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txnNumber++
}

// AdvanceClusterTime gossips a newer cluster time into both the session and
// the client-wide cluster clock it was constructed with.
func (c *Client) AdvanceClusterTime(clusterTime bson.Raw) {
	if c.clock != nil {
		c.clock.AdvanceClusterTime(clusterTime)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ClusterTime == nil || compareClusterTime(clusterTime, c.ClusterTime) > 0 {
		c.ClusterTime = clusterTime
	}
}

// AdvanceOperationTime records the latest operationTime observed from a
// command reply, used to support causally consistent reads.
func (c *Client) AdvanceOperationTime(t *bson.Timestamp) {
	if t == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OperationTime == nil || t.T > c.OperationTime.T ||
		(t.T == c.OperationTime.T && t.I > c.OperationTime.I) {
		c.OperationTime = t
	}
}

// EndSession marks an implicit session as no longer in use. The real driver
// returns the server session to a pool here; that pool is connection-layer
// state out of this core's scope, so EndSession is a no-op retained for
// call-site symmetry with the teacher's cmd.Session.EndSession().
func (c *Client) EndSession() {}
