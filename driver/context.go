package driver

import (
	"github.com/go-logr/logr"

	"github.com/shardwire/mongocore/session"
)

// ServerAPIOptions pins a command to a declared server API version, mirroring
// the `serverAPI *driver.ServerAPIOptions` field visible on
// x/mongo/driver/operation/hello.go. Full versioned-API deprecation
// handling belongs to the command creator of each operation; this type is
// just the carrier.
type ServerAPIOptions struct {
	Version           string
	Strict            *bool
	DeprecationErrors *bool
}

// OperationContext aggregates everything a Command Creator or the Command
// Executor needs besides the context.Context deadline itself, per spec.md
// §3 ("Operation Context — aggregates: session context, server-api, timeout
// context, request id").
type OperationContext struct {
	Session   *session.Client
	Clock     *session.ClusterClock
	ServerAPI *ServerAPIOptions
	Timeout   *TimeoutContext
	RequestID int32

	// Logger receives structured log records for command start, success
	// and failure and for retry decisions; cursors do not log. A nil
	// Logger is replaced with logr.Discard() at the first log call site.
	Logger logr.Logger

	// Comment is carried on the context only: neither Operation nor
	// BatchCursor reads it, so it is not attached to any command.
	Comment interface{}
}

func (oc *OperationContext) logger() logr.Logger {
	if oc == nil {
		return logr.Discard()
	}
	return oc.Logger
}
