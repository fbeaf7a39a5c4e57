// Package driver implements the operation execution layer described in
// spec.md: command shaping glue, the Command Executor, the Retry
// Controller, the Cursor Resource Manager, the Command Batch Cursor, the
// Change-Stream Batch Cursor, and the error taxonomy they all share.
//
// Server selection and connection pooling themselves are out of scope
// (spec.md §1); this file defines only the Binding/ConnectionSource/
// Connection/Server/Deployment contracts the rest of the package programs
// against, mirroring x/mongo/driver/topology/server.go's SelectedServer and
// the Deployment/Server/Connection fields referenced throughout
// x/mongo/driver/operation/*.go (driver.Deployment, driver.Server), which
// were themselves declared in x/mongo/driver's top-level files that did not
// survive into the retrieved reference set.
package driver

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/readpref"
)

// Connection is a single checked-out wire connection, already handshaked
// and authenticated (spec.md §1 places the handshake itself out of scope).
// A Connection is reference counted: Retain/Release must balance exactly
// (spec.md §3 invariant, §8 property 1).
type Connection interface {
	// WriteWireMessage and ReadWireMessage are intentionally absent: OP_MSG
	// framing is out of scope (spec.md §1). Command exposes the one
	// operation the core needs, a round trip that accepts and returns BSON.
	Command(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error)

	Description() description.Connection

	// Stale reports whether the connection has been marked corrupted (e.g.
	// by an OperationTimeout whose cause was a network error, per spec.md
	// §5) and so must not be reused to issue killCursors.
	Stale() bool
	MarkStale()

	Retain()
	Release() error
}

// ConnectionSource is a reference-counted handle on a single selected
// server from which Connections can be checked out. Retain/Release must
// balance exactly per spec.md §3 invariant 3 and §8 property 1.
type ConnectionSource interface {
	Server() Server
	ServerDescription() description.SelectedServer

	Connection(ctx context.Context) (Connection, error)

	Retain()
	Release() error
}

// Server is a single server a ConnectionSource was checked out against. It
// is small deliberately: SDAM internals (heartbeats, RTT, topology
// updates) are out of scope.
type Server interface {
	Description() description.SelectedServer
	Connection(ctx context.Context) (Connection, error)
}

// Deployment is the top-level handle a Binding selects a server through.
type Deployment interface {
	SelectServer(ctx context.Context, selector description.ServerSelector) (Server, error)
}

// Binding owns a server-selection policy and a session context and hands
// out ConnectionSources, per the GLOSSARY definition in spec.md. Read and
// write flavors differ in which server kind they target and which retry
// predicate applies, mirroring spec.md §4.2.
type Binding interface {
	// GetReadConnectionSource selects a server per the given read
	// preference and returns a retained ConnectionSource.
	GetReadConnectionSource(ctx context.Context, rp *readpref.ReadPref) (ConnectionSource, error)

	// GetWriteConnectionSource always targets a writable server (the
	// primary, or the single mongos/standalone) and returns a retained
	// ConnectionSource.
	GetWriteConnectionSource(ctx context.Context) (ConnectionSource, error)

	// PinnedConnectionSource implements the load-balanced-mode pinning
	// spec.md §4.3/§4.4 describes: a cursor pins both a ConnectionSource
	// and a Connection for its lifetime. Bindings that never run against a
	// load balancer may implement it as a no-op returning (nil, false).
	PinnedConnectionSource() (ConnectionSource, bool)
}
