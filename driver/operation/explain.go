package operation

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/session"
)

// Explain rewraps another Operation Object's command inside
// {explain: <inner command>, verbosity: <verbosity>}, the same
// transformation mongo.Collection.Database.RunCommand applies when the
// caller asks to explain a find/aggregate/count/etc instead of running it,
// per SPEC_FULL.md's explain supplement. It is built around a
// driver.CommandFn so it can wrap any Command Creator in this package
// without that Creator needing to know explain exists.
type Explain struct {
	inner     driver.CommandFn
	verbosity string

	session      *session.Client
	clock        *session.ClusterClock
	opCtx        *driver.OperationContext
	database     string
	deployment   driver.Deployment
	binding      driver.Binding
	selector     description.ServerSelector

	result bsoncore.Document
}

// NewExplain constructs an Explain wrapping inner, the CommandFn of the
// operation being explained. Pass a bound method value, e.g.
// operation.NewExplain(find.CommandFn()).
func NewExplain(inner driver.CommandFn) *Explain {
	return &Explain{inner: inner, verbosity: "allPlansExecution"}
}

// Result returns the raw explain response.
func (e *Explain) Result() bsoncore.Document { return e.result }

func (e *Explain) processResponse(info driver.ResponseInfo) error {
	e.result = info.Response
	return nil
}

// Execute runs this operation and returns an error if it did not execute
// successfully.
func (e *Explain) Execute(ctx context.Context) error {
	if e.deployment == nil && e.binding == nil {
		return errors.New("the Explain operation must have a Deployment or Binding set before Execute can be called")
	}
	if e.inner == nil {
		return errors.New("the Explain operation must have an inner command set before Execute can be called")
	}

	return driver.Operation{
		CommandName:       "explain",
		CommandFn:         e.command,
		ProcessResponseFn: e.processResponse,
		Kind:              driver.Read,
		Client:            e.session,
		Clock:             e.clock,
		Database:          e.database,
		Deployment:        e.deployment,
		Binding:           e.binding,
		Selector:          e.selector,
	}.Execute(ctx, e.opCtx)
}

func (e *Explain) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	innerIdx, innerDst := bsoncore.AppendDocumentStart(nil)
	innerDst, err := e.inner(innerDst, desc)
	if err != nil {
		return nil, err
	}
	innerDoc, err := bsoncore.AppendDocumentEnd(innerDst, innerIdx)
	if err != nil {
		return nil, err
	}

	dst = bsoncore.AppendDocumentElement(dst, "explain", innerDoc)
	dst = bsoncore.AppendStringElement(dst, "verbosity", e.verbosity)
	return dst, nil
}

// Verbosity sets the explain verbosity ("queryPlanner",
// "executionStats", or "allPlansExecution", the server's default).
func (e *Explain) Verbosity(verbosity string) *Explain {
	if e == nil {
		e = new(Explain)
	}
	e.verbosity = verbosity
	return e
}

// Session sets the session for this operation.
func (e *Explain) Session(session *session.Client) *Explain {
	if e == nil {
		e = new(Explain)
	}
	e.session = session
	return e
}

// ClusterClock sets the cluster clock for this operation.
func (e *Explain) ClusterClock(clock *session.ClusterClock) *Explain {
	if e == nil {
		e = new(Explain)
	}
	e.clock = clock
	return e
}

// OperationContext sets the Operation Context for this operation.
func (e *Explain) OperationContext(opCtx *driver.OperationContext) *Explain {
	if e == nil {
		e = new(Explain)
	}
	e.opCtx = opCtx
	return e
}

// Database sets the database to run this operation against.
func (e *Explain) Database(database string) *Explain {
	if e == nil {
		e = new(Explain)
	}
	e.database = database
	return e
}

// Deployment sets the deployment to use for this operation.
func (e *Explain) Deployment(deployment driver.Deployment) *Explain {
	if e == nil {
		e = new(Explain)
	}
	e.deployment = deployment
	return e
}

// Binding sets the connection-source binding to use for this operation.
func (e *Explain) Binding(binding driver.Binding) *Explain {
	if e == nil {
		e = new(Explain)
	}
	e.binding = binding
	return e
}

// ServerSelector sets the selector used to retrieve a server.
func (e *Explain) ServerSelector(selector description.ServerSelector) *Explain {
	if e == nil {
		e = new(Explain)
	}
	e.selector = selector
	return e
}
