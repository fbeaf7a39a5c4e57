// Package writeconcern determines the durability guarantee requested for a
// write command, per spec.md §3 ("Write Concern — value types describing
// durability and consistency requirements"). It mirrors the shape of the
// real driver's mongo/writeconcern package, which was not part of the
// retrieved reference set; the field names and BSON encoding below are
// reconstructed from the wire-level {w, wtimeout, j} document every MongoDB
// server version has accepted since write concern was introduced, visible
// indirectly through core/dispatch/insert.go's writeconcern.AckWrite call
// and core/command/insert.go's `WriteConcern *writeconcern.WriteConcern`
// field.
package writeconcern

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// WriteConcern describes the level of acknowledgement requested from
// MongoDB for write operations.
type WriteConcern struct {
	w        interface{} // nil, int, or string ("majority", a tag set name, ...)
	j        *bool
	wTimeout time.Duration
}

// W requests acknowledgement from the given number of voting members.
func W(w int) *WriteConcern {
	return &WriteConcern{w: w}
}

// Majority requests acknowledgement that the write has propagated to a
// majority of voting members.
func Majority() *WriteConcern {
	return &WriteConcern{w: "majority"}
}

// Custom requests acknowledgement from a named write-concern tag set
// configured on the replica set.
func Custom(tag string) *WriteConcern {
	return &WriteConcern{w: tag}
}

// WithJournal, when j is true, requests that the write be acknowledged only after persisting
// to the on-disk journal.
func (wc *WriteConcern) WithJournal(j bool) *WriteConcern {
	out := *wc
	out.j = &j
	return &out
}

// WithTimeout sets the server-side wtimeout.
func (wc *WriteConcern) WithTimeout(d time.Duration) *WriteConcern {
	out := *wc
	out.wTimeout = d
	return &out
}

// Unacknowledged is shorthand for W(0): the server does not wait for write
// acknowledgement at all. An unacknowledged write can never observe a
// server error and is therefore never retryable (spec.md §4.2 gates retry
// on IsAcknowledged()).
func Unacknowledged() *WriteConcern { return W(0) }

// IsAcknowledged reports whether the write concern requests any
// acknowledgement from the server. spec.md §3 calls this predicate out
// explicitly: it gates retry eligibility and several server-side options.
func (wc *WriteConcern) IsAcknowledged() bool {
	if wc == nil {
		return true // the server default is always acknowledged.
	}
	if wc.j != nil && *wc.j {
		return true
	}
	switch w := wc.w.(type) {
	case nil:
		return true
	case int:
		return w != 0
	case string:
		return true
	default:
		return true
	}
}

// IsServerDefault reports whether this write concern carries no explicit
// settings and so should be omitted from the outgoing command entirely,
// per spec.md §4.1 ("Attach writeConcern only when it differs from the
// server default").
func (wc *WriteConcern) IsServerDefault() bool {
	return wc == nil || (wc.w == nil && wc.j == nil && wc.wTimeout == 0)
}

// ErrEmptyWriteConcern is returned by MarshalBSONValue when there is
// nothing to encode; callers should omit the writeConcern field entirely
// rather than send an empty document.
var ErrEmptyWriteConcern = errors.New("a write concern must have at least one field set")

// MarshalBSONValue encodes the write concern to the {w, j, wtimeout}
// document shape every server version accepts.
func (wc *WriteConcern) MarshalBSONValue() (bson.Type, []byte, error) {
	if wc.IsServerDefault() {
		return 0, nil, ErrEmptyWriteConcern
	}

	doc := bson.D{}
	if wc.w != nil {
		doc = append(doc, bson.E{Key: "w", Value: wc.w})
	}
	if wc.j != nil {
		doc = append(doc, bson.E{Key: "j", Value: *wc.j})
	}
	if wc.wTimeout != 0 {
		doc = append(doc, bson.E{Key: "wtimeout", Value: wc.wTimeout.Milliseconds()})
	}
	t, data, err := bson.MarshalValue(doc)
	if err != nil {
		return 0, nil, err
	}
	return t, data, nil
}

// AckWrite reports whether wc requests acknowledgement, treating a nil
// write concern (the server default) as acknowledged. This free function
// mirrors the teacher's writeconcern.AckWrite(cmd.WriteConcern) call site
// in core/dispatch/insert.go.
func AckWrite(wc *WriteConcern) bool {
	return wc.IsAcknowledged()
}
