// Package drivertest provides fake Binding/Server/Connection/Deployment
// test doubles so driver and driver/bulk tests can inject scripted
// failures (network errors, write-concern errors, cursor-killing
// behavior) without a real mongod, the same role the teacher's own
// internal/testutil fakes play for core/topology tests.
package drivertest

import (
	"context"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/readpref"
)

// CommandHandler answers a single Connection.Command call.
type CommandHandler func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error)

// Connection is a scripted driver.Connection: every call to Command pops
// the next handler off Handlers (or reuses the last one once exhausted,
// so a test can set a single steady-state handler for cursor getMores).
type Connection struct {
	Handlers []CommandHandler
	Desc     description.Connection

	calls   int32
	retains int32
	stale   int32
}

// NewConnection returns a Connection that answers every call with handler.
func NewConnection(handler CommandHandler) *Connection {
	return &Connection{Handlers: []CommandHandler{handler}}
}

func (c *Connection) Command(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
	idx := int(atomic.AddInt32(&c.calls, 1)) - 1
	handler := c.Handlers[len(c.Handlers)-1]
	if idx < len(c.Handlers) {
		handler = c.Handlers[idx]
	}
	return handler(ctx, db, cmd)
}

func (c *Connection) Description() description.Connection { return c.Desc }
func (c *Connection) Stale() bool                          { return atomic.LoadInt32(&c.stale) != 0 }
func (c *Connection) MarkStale()                            { atomic.StoreInt32(&c.stale, 1) }
func (c *Connection) Retain()                                { atomic.AddInt32(&c.retains, 1) }
func (c *Connection) Release() error                         { atomic.AddInt32(&c.retains, -1); return nil }

// Retains reports the current outstanding Retain/Release balance; tests
// assert this is zero after a scenario to catch a leaked reference (spec.md
// §8 property 1).
func (c *Connection) Retains() int32 { return atomic.LoadInt32(&c.retains) }

// Calls reports how many times Command was invoked.
func (c *Connection) Calls() int32 { return atomic.LoadInt32(&c.calls) }

// Server is a scripted driver.Server handing out a single Connection.
type Server struct {
	Desc description.SelectedServer
	Conn *Connection
}

func (s *Server) Description() description.SelectedServer { return s.Desc }
func (s *Server) Connection(ctx context.Context) (driver.Connection, error) {
	return s.Conn, nil
}

// ConnectionSource is a scripted, reference-counted driver.ConnectionSource
// over a single Server.
type ConnectionSource struct {
	Srv *Server

	retains int32
}

func NewConnectionSource(srv *Server) *ConnectionSource {
	return &ConnectionSource{Srv: srv, retains: 1}
}

func (s *ConnectionSource) Server() driver.Server                        { return s.Srv }
func (s *ConnectionSource) ServerDescription() description.SelectedServer { return s.Srv.Desc }
func (s *ConnectionSource) Connection(ctx context.Context) (driver.Connection, error) {
	return s.Srv.Conn, nil
}
func (s *ConnectionSource) Retain() { atomic.AddInt32(&s.retains, 1) }
func (s *ConnectionSource) Release() error {
	atomic.AddInt32(&s.retains, -1)
	return nil
}

// Retains reports the current outstanding Retain/Release balance.
func (s *ConnectionSource) Retains() int32 { return atomic.LoadInt32(&s.retains) }

// Binding is a scripted driver.Binding that always hands out the same
// ConnectionSource, optionally pinned (load-balanced-mode simulation).
type Binding struct {
	Source *ConnectionSource
	Pinned bool
}

func (b *Binding) GetReadConnectionSource(ctx context.Context, rp *readpref.ReadPref) (driver.ConnectionSource, error) {
	b.Source.Retain()
	return b.Source, nil
}

func (b *Binding) GetWriteConnectionSource(ctx context.Context) (driver.ConnectionSource, error) {
	b.Source.Retain()
	return b.Source, nil
}

func (b *Binding) PinnedConnectionSource() (driver.ConnectionSource, bool) {
	if !b.Pinned {
		return nil, false
	}
	b.Source.Retain()
	return b.Source, true
}

// Deployment is a scripted driver.Deployment handing out a fixed Server,
// for tests that drive the bare-Deployment path (no Binding layered on
// top).
type Deployment struct {
	Srv *Server
}

func (d *Deployment) SelectServer(ctx context.Context, selector description.ServerSelector) (driver.Server, error) {
	return d.Srv, nil
}
