package driver

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/readconcern"
	"github.com/shardwire/mongocore/readpref"
	"github.com/shardwire/mongocore/session"
	"github.com/shardwire/mongocore/writeconcern"
)

// retryableWriteErrorLabelWireVersion is the wire version at and above
// which the server itself is responsible for attaching the
// RetryableWriteError label, so the driver must not also attach it (spec.md
// §4.2: "tags exceptions with a RetryableWriteError label when the server
// wire version is >= the threshold at which the driver (not the server)
// adds the label" — read the other way around, below the threshold).
const retryableWriteErrorLabelWireVersion = 9

// CommandFn is the Command Creator contract: a pure function of an attempt's
// session/server/connection snapshot that appends a command document's
// fields to dst and returns the extended slice (spec.md §4.1). It performs
// no I/O and its only failure mode is InvalidArgument.
type CommandFn func(dst []byte, desc description.SelectedServer) ([]byte, error)

// ResponseInfo is everything a Transformer needs to turn a raw command
// reply into an operation-specific result, mirroring the
// (response, srvr, desc) triple x/mongo/driver/operation/list_collections.go
// passes to processResponse.
type ResponseInfo struct {
	Response     bsoncore.Document
	Server       Server
	ServerDesc   description.SelectedServer
	ConnDesc     description.Connection
	CurrentIndex int // which attempt (0 or 1) produced this response.

	// Source is the ConnectionSource the attempt acquired its connection
	// from. A cursor-returning Transformer retains it (via
	// driver.NewBatchCursor) so later getMores can check out further
	// connections from the same source.
	Source ConnectionSource

	// PinnedConn is non-nil only when the source's Server is pinned (load
	// balanced mode), per spec.md invariant 2: the cursor must reuse this
	// exact connection for every subsequent getMore and the final
	// killCursors.
	PinnedConn Connection
}

// ProcessResponseFn is the Transformer contract: it decodes a raw reply,
// typically capturing the result into a field on the enclosing Operation
// Object by closure, the same pattern x/mongo/driver/operation/*.go uses
// for its processResponse methods.
type ProcessResponseFn func(ResponseInfo) error

// Kind distinguishes the read and write flavors of the Command Executor,
// which differ in server targeting and retry predicate (spec.md §4.2).
type Kind uint8

// Kind values.
const (
	Read Kind = iota
	Write
)

// Operation is the Command Executor (spec.md §4.2): it serializes the
// per-attempt flow (acquire source, acquire connection, build command,
// send, decode, release) and, wrapped around that, the Retry Controller's
// at-most-one-retry policy (spec.md §2, §4.2, §8 property 2).
type Operation struct {
	CommandName string
	Database    string
	CommandFn   CommandFn
	ProcessResponseFn ProcessResponseFn

	Kind Kind

	Client    *session.Client
	Clock     *session.ClusterClock
	ServerAPI *ServerAPIOptions

	Deployment     Deployment
	Binding        Binding
	ReadPreference *readpref.ReadPref
	ReadConcern    *readconcern.ReadConcern
	WriteConcern   *writeconcern.WriteConcern
	Selector       description.ServerSelector

	// RetryEnabled mirrors the caller's retryReads/retryWrites setting; the
	// Retry Controller only ever attempts a retry when this is true, per
	// spec.md §4.2.
	RetryEnabled bool

	// Validate, when non-nil, runs before the first attempt and can fail
	// fast with InvalidArgument without touching the network (spec.md
	// §4.1).
	Validate func() error
}

var errNoDeployment = errors.New("an Operation must have a Deployment or Binding set before Execute can be called")

// Execute runs the operation to completion, applying retry per spec.md
// §4.2 and collapsing both attempts into the single observable result or
// error the caller sees (spec.md §3 invariant: "collapsing the two
// attempts into one observable result").
func (op Operation) Execute(ctx context.Context, opCtx *OperationContext) error {
	if op.Validate != nil {
		if err := op.Validate(); err != nil {
			return err
		}
	}
	if op.Deployment == nil && op.Binding == nil {
		return errNoDeployment
	}
	if opCtx == nil {
		opCtx = &OperationContext{Session: op.Client, Clock: op.Clock, ServerAPI: op.ServerAPI}
	}

	log := opCtx.logger()

	source, err := op.acquireSource(ctx)
	if err != nil {
		return fmt.Errorf("selecting server for %s: %w", op.CommandName, err)
	}
	defer source.Release()

	result, retryableErr, used := op.attempt(ctx, opCtx, source, 0)
	if retryableErr == nil {
		return result
	}
	if !op.retryEligible(retryableErr, used) {
		return result
	}
	if ctx.Err() != nil || opCtx.Timeout.Expired() {
		return result
	}

	log.V(1).Info("retrying command on a freshly selected server",
		"command", op.CommandName, "failedServer", used.ServerDesc.Addr)

	// spec.md §3 invariant 4: the retry dispatches on a freshly selected
	// server and never reuses the failed connection, which is why a brand
	// new ConnectionSource is acquired here rather than reusing `source`.
	retrySource, err := op.acquireSource(ctx)
	if err != nil {
		// Server selection itself failing on the retry surfaces the
		// original error, not the selection failure, matching
		// core/dispatch/insert.go's "Return original error if server
		// selection fails."
		return result
	}
	defer retrySource.Release()

	if op.Kind == Write && op.Client != nil {
		// The retry reuses the same logical session; txnNumber was already
		// incremented once before the first attempt (see attempt()) and is
		// not incremented again (spec.md §4.2).
	}

	retryResult, retryErr, _ := op.attempt(ctx, opCtx, retrySource, 1)
	if retryErr != nil {
		return retryResult
	}
	return retryResult
}

type attemptOutcome struct {
	ServerDesc description.SelectedServer
	ConnDesc   description.Connection
}

// attempt runs a single pass of the Command Executor's per-attempt flow
// (spec.md §4.2's pseudocode) and returns the observable error (nil on
// success) twice: once as the value Execute should return to its caller,
// and once (possibly nil) as the signal Execute's retry logic should act
// on. The two are the same error except where the failure is never
// retried: an error building the command document, or a ProcessResponseFn
// error other than a WriteConcernError, comes back with a nil retry signal.
func (op Operation) attempt(ctx context.Context, opCtx *OperationContext, source ConnectionSource, index int) (result error, retryable error, outcome attemptOutcome) {
	log := opCtx.logger()

	if index == 0 && op.Kind == Write && op.Client != nil && op.retryWritesApplicable(source.ServerDescription()) {
		op.Client.IncrementTxnNumber()
	}

	conn, err := source.Connection(ctx)
	if err != nil {
		err = classifyConnectionError(err)
		return err, err, attemptOutcome{}
	}
	defer conn.Release()

	serverDesc := source.ServerDescription()
	connDesc := conn.Description()
	outcome = attemptOutcome{ServerDesc: serverDesc, ConnDesc: connDesc}

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst, err = op.CommandFn(dst, serverDesc)
	if err != nil {
		return err, nil, outcome // InvalidArgument-class errors are never retried.
	}
	dst = bsoncore.AppendStringElement(dst, "$db", op.Database)
	if op.Client != nil {
		sidIdx, dst2 := bsoncore.AppendDocumentElementStart(dst, "lsid")
		dst2 = bsoncore.AppendBinaryElement(dst2, "id", op.Client.SessionID.Subtype, op.Client.SessionID.Data)
		dst, err = bsoncore.AppendDocumentEnd(dst2, sidIdx)
		if err != nil {
			return err, nil, outcome
		}
		if op.Kind == Write && op.retryWritesApplicable(serverDesc) {
			dst = bsoncore.AppendInt64Element(dst, "txnNumber", op.Client.TxnNumber())
		}
	}
	dst, err = bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		return err, nil, outcome
	}
	cmd := bsoncore.Document(dst)

	log.V(1).Info("command started", "command", op.CommandName, "database", op.Database, "server", serverDesc.Addr)

	raw, err := conn.Command(ctx, op.Database, cmd)
	if err != nil {
		err = op.classifyAndLabel(err, conn, connDesc, serverDesc)
		log.Error(err, "command failed", "command", op.CommandName, "server", serverDesc.Addr)
		return err, err, outcome
	}

	if op.Client != nil {
		advanceSessionFromReply(op.Client, raw)
	}

	info := ResponseInfo{Response: raw, Server: source.Server(), ServerDesc: serverDesc, ConnDesc: connDesc, CurrentIndex: index, Source: source}
	if serverDesc.LoadBalanced() {
		info.PinnedConn = conn
	}
	if op.ProcessResponseFn != nil {
		if err := op.ProcessResponseFn(info); err != nil {
			return err, retryableFromProcessError(err), outcome
		}
	}

	log.V(1).Info("command succeeded", "command", op.CommandName, "server", serverDesc.Addr)
	return nil, nil, outcome
}

// retryableFromProcessError lets a Transformer's error (e.g. a merged
// WriteConcernError) participate in retry classification the same as a
// transport-level error, per SPEC_FULL.md's write-concern-error-as-result
// supplement.
func retryableFromProcessError(err error) error {
	var wce *WriteConcernError
	if errors.As(err, &wce) {
		return err
	}
	return nil
}

func classifyConnectionError(err error) error {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	return &NetworkError{Err: err}
}

// classifyAndLabel wraps a raw connection error into the taxonomy and, for
// the write flavor, synthesizes the RetryableWriteError label on a
// CommandError with a retryable code when the server is too old to add it
// itself (spec.md §4.2). Network errors get no label attached.
func (op Operation) classifyAndLabel(err error, conn Connection, connDesc description.Connection, serverDesc description.SelectedServer) error {
	var ot *OperationTimeout
	if errors.As(err, &ot) {
		if ot.CorruptedConnection() {
			conn.MarkStale()
		}
		return err
	}

	var ce *CommandError
	isCommandError := errors.As(err, &ce)

	var classified error = err
	if !isCommandError {
		var ne *NetworkError
		if !errors.As(err, &ne) {
			err = &NetworkError{Err: err}
		}
		classified = err
	}

	if op.Kind == Write && connDesc.MaxWireVersion < retryableWriteErrorLabelWireVersion {
		if ce != nil {
			switch ce.Code {
			case codeHostUnreachable, codeHostNotFound,
				codeNotWritablePrimary, codeNotPrimaryNoSecondaryOk, codeNotPrimaryOrSecondary,
				codePrimarySteppedDown, codeShutdownInProgress, codeNetworkTimeout,
				codeExceededTimeLimit:
				ce.AddLabel(RetryableWriteError)
			}
			classified = ce
		} else {
			// A bare NetworkError is always treated as carrying the label
			// implicitly by IsRetryableWrite; nothing further to attach.
		}
	}
	return classified
}

func (op Operation) acquireSource(ctx context.Context) (ConnectionSource, error) {
	if op.Binding != nil {
		if pinned, ok := op.Binding.PinnedConnectionSource(); ok {
			pinned.Retain()
			return pinned, nil
		}
		if op.Kind == Write {
			return op.Binding.GetWriteConnectionSource(ctx)
		}
		return op.Binding.GetReadConnectionSource(ctx, op.ReadPreference)
	}

	selector := op.Selector
	srv, err := op.Deployment.SelectServer(ctx, selector)
	if err != nil {
		return nil, err
	}
	return &singleServerSource{srv: srv}, nil
}

// singleServerSource adapts a bare Server (as returned directly by a
// Deployment with no Binding layered on top) into a ConnectionSource with
// trivial, always-balanced ref counting.
type singleServerSource struct {
	srv Server
}

func (s *singleServerSource) Server() Server                                   { return s.srv }
func (s *singleServerSource) ServerDescription() description.SelectedServer    { return s.srv.Description() }
func (s *singleServerSource) Connection(ctx context.Context) (Connection, error) { return s.srv.Connection(ctx) }
func (s *singleServerSource) Retain()                                          {}
func (s *singleServerSource) Release() error                                   { return nil }

// retryWritesApplicable reports whether this operation, on the server just
// selected, is in a state where a retryable write would increment the
// transaction number at all (spec.md §4.2's enumerated write-retry
// gating conditions, applied before any error has even occurred, since the
// txnNumber must be assigned on the first attempt regardless of whether
// that attempt ultimately fails).
func (op Operation) retryWritesApplicable(desc description.SelectedServer) bool {
	if !op.RetryEnabled || op.Client == nil {
		return false
	}
	if !op.WriteConcern.IsAcknowledged() {
		return false
	}
	state := op.Client.TransactionState()
	if state != session.TransactionNone && state != session.TransactionStarting {
		return false
	}
	if !desc.SupportsSessions() {
		return false
	}
	if desc.Server.Kind == description.Standalone {
		return false
	}
	return true
}

// retryEligible is the Retry Controller's single decision point: given the
// error from the first attempt and the attempt's resulting server/
// connection snapshot, should a second attempt be made at all? The
// deadline is not checked here: Execute refuses the retry on its own once
// ctx is done or the Operation Context's Timeout has expired.
func (op Operation) retryEligible(err error, outcome attemptOutcome) bool {
	if !op.RetryEnabled {
		return false
	}
	classifier := ErrorClassifier{}
	switch op.Kind {
	case Read:
		txnState := session.TransactionNone
		if op.Client != nil {
			txnState = op.Client.TransactionState()
		}
		return classifier.IsRetryableRead(err, outcome.ConnDesc.MaxWireVersion, txnState)
	case Write:
		txnState := session.TransactionNone
		if op.Client != nil {
			txnState = op.Client.TransactionState()
		}
		return classifier.IsRetryableWrite(
			err,
			op.RetryEnabled,
			op.WriteConcern,
			txnState,
			outcome.ServerDesc.SupportsSessions(),
			outcome.ServerDesc.Server.Kind == description.Standalone,
		)
	}
	return false
}

// advanceSessionFromReply gossips $clusterTime and operationTime from a
// successful reply back into the session, matching every real command
// round trip in the driver lineage.
func advanceSessionFromReply(sess *session.Client, raw bsoncore.Document) {
	if ctVal, err := raw.LookupErr("$clusterTime"); err == nil {
		if doc, ok := ctVal.DocumentOK(); ok {
			sess.AdvanceClusterTime(bson.Raw(doc))
		}
	}
	if otVal, err := raw.LookupErr("operationTime"); err == nil {
		if t, i, ok := otVal.TimestampOK(); ok {
			sess.AdvanceOperationTime(&bson.Timestamp{T: t, I: i})
		}
	}
}
