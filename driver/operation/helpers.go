// Package operation holds the Operation Objects spec.md §6 enumerates: one
// type per command family, each pairing a Command Creator with a
// Transformer and wiring both into the Command Executor in driver.Operation.
// Every file in this package follows the shape
// x/mongo/driver/operation/list_collections.go and drop_database.go show:
// a struct of optional fields, nil-receiver fluent setters, a command
// method, a processResponse method, and an Execute method.
package operation

import (
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/readconcern"
	"github.com/shardwire/mongocore/writeconcern"
)

func appendWriteConcern(dst []byte, wc *writeconcern.WriteConcern) []byte {
	if wc == nil || wc.IsServerDefault() {
		return dst
	}
	t, data, err := wc.MarshalBSONValue()
	if err != nil {
		return dst
	}
	return bsoncore.AppendValueElement(dst, "writeConcern", bsoncore.Value{Type: t, Data: data})
}

func appendReadConcern(dst []byte, rc *readconcern.ReadConcern) []byte {
	if rc == nil || rc.IsServerDefault() {
		return dst
	}
	t, data, err := rc.MarshalBSONValue()
	if err != nil {
		return dst
	}
	return bsoncore.AppendValueElement(dst, "readConcern", bsoncore.Value{Type: t, Data: data})
}

// emptyCursor builds the already-exhausted, source-less Command Batch
// Cursor that recoverAsEmptyCursor installs in place of a propagated
// error: Close on it issues no killCursors, since it never retained a
// server cursor or connection source to begin with.
func emptyCursor(ns driver.Namespace) (*driver.BatchCursor, error) {
	return driver.NewBatchCursor(driver.BatchCursorConfig{
		Response: driver.CursorResponse{Namespace: ns},
	})
}

// recoverAsEmptyCursor implements spec.md §7's NamespaceNotFound
// special-case for listCollections/listIndexes/$listSearchIndexes: a
// "ns not found" failure (server code 26) is recovered locally into an
// empty, already-exhausted cursor (it closes itself on its first Next,
// or on Close) instead of propagating to the caller
// (spec.md §8 Scenario D). Any other error, or a nil error, passes
// through untouched.
func recoverAsEmptyCursor(err error, ns driver.Namespace) (*driver.BatchCursor, error) {
	if err == nil {
		return nil, nil
	}
	if !driver.IsNamespaceNotFound(err) {
		return nil, err
	}
	bc, cerr := emptyCursor(ns)
	if cerr != nil {
		return nil, cerr
	}
	return bc, nil
}
