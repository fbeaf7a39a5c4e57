package operation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/readconcern"
	"github.com/shardwire/mongocore/readpref"
	"github.com/shardwire/mongocore/session"
)

// ChangeStream opens and, on a resumable error, transparently reopens a
// $changeStream aggregate, per spec.md §4.5. It implements
// driver.ResumeTokenSource against itself so the Change-Stream Batch
// Cursor can ask it to reopen without this package depending back on
// driver (Aggregate already depends on driver, never the reverse).
type ChangeStream struct {
	pipeline       bsoncore.Array
	fullDocument   string
	batchSize      *int32

	session        *session.Client
	clock          *session.ClusterClock
	opCtx          *driver.OperationContext
	database       string
	collection     string
	deployment     driver.Deployment
	binding        driver.Binding
	readPreference *readpref.ReadPref
	readConcern    *readconcern.ReadConcern
	selector       description.ServerSelector

	result *driver.ChangeStreamBatchCursor
}

// NewChangeStream constructs and returns a new ChangeStream.
func NewChangeStream(pipeline bsoncore.Array) *ChangeStream {
	return &ChangeStream{pipeline: pipeline}
}

// Result returns the Change-Stream Batch Cursor this operation produced.
func (cs *ChangeStream) Result() *driver.ChangeStreamBatchCursor { return cs.result }

// Execute opens the change stream for the first time, with no resume
// token.
func (cs *ChangeStream) Execute(ctx context.Context) error {
	inner, err := cs.open(ctx, nil)
	if err != nil {
		return err
	}
	cs.result = driver.NewChangeStreamBatchCursor(inner, cs)
	return nil
}

// Reopen satisfies driver.ResumeTokenSource: it reissues the aggregate
// with resumeToken spliced into the $changeStream stage.
func (cs *ChangeStream) Reopen(ctx context.Context, resumeToken bsoncore.Document) (*driver.BatchCursor, error) {
	return cs.open(ctx, resumeToken)
}

func (cs *ChangeStream) open(ctx context.Context, resumeToken bsoncore.Document) (*driver.BatchCursor, error) {
	stage := cs.buildChangeStreamStage(resumeToken)

	agg := NewAggregate(cs.pipeline).
		ChangeStreamStage(stage).
		Session(cs.session).
		ClusterClock(cs.clock).
		OperationContext(cs.opCtx).
		Database(cs.database).
		Collection(cs.collection).
		Deployment(cs.deployment).
		Binding(cs.binding).
		ReadPreference(cs.readPreference).
		ReadConcern(cs.readConcern).
		ServerSelector(cs.selector)

	if cs.batchSize != nil {
		agg = agg.BatchSize(*cs.batchSize)
	}

	if err := agg.Execute(ctx); err != nil {
		return nil, err
	}
	return agg.Result(), nil
}

func (cs *ChangeStream) buildChangeStreamStage(resumeToken bsoncore.Document) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentElementStart(nil, "$changeStream")
	if cs.fullDocument != "" {
		dst = bsoncore.AppendStringElement(dst, "fullDocument", cs.fullDocument)
	}
	if resumeToken != nil {
		dst = bsoncore.AppendDocumentElement(dst, "resumeAfter", resumeToken)
	}
	doc, _ := bsoncore.AppendDocumentEnd(dst, idx)
	return doc
}

// Pipeline sets the user-supplied pipeline stages following $changeStream.
func (cs *ChangeStream) Pipeline(pipeline bsoncore.Array) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.pipeline = pipeline
	return cs
}

// FullDocument sets the fullDocument option ("default", "updateLookup",
// "whenAvailable", "required").
func (cs *ChangeStream) FullDocument(fullDocument string) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.fullDocument = fullDocument
	return cs
}

// BatchSize specifies the number of documents to return in every batch.
func (cs *ChangeStream) BatchSize(batchSize int32) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.batchSize = &batchSize
	return cs
}

// Session sets the session for this operation.
func (cs *ChangeStream) Session(session *session.Client) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.session = session
	return cs
}

// ClusterClock sets the cluster clock for this operation.
func (cs *ChangeStream) ClusterClock(clock *session.ClusterClock) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.clock = clock
	return cs
}

// OperationContext sets the Operation Context for this operation.
func (cs *ChangeStream) OperationContext(opCtx *driver.OperationContext) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.opCtx = opCtx
	return cs
}

// Database sets the database to run this operation against.
func (cs *ChangeStream) Database(database string) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.database = database
	return cs
}

// Collection sets the collection this operation targets; leave unset for
// a database- or client-level change stream.
func (cs *ChangeStream) Collection(collection string) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.collection = collection
	return cs
}

// Deployment sets the deployment to use for this operation.
func (cs *ChangeStream) Deployment(deployment driver.Deployment) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.deployment = deployment
	return cs
}

// Binding sets the connection-source binding to use for this operation.
func (cs *ChangeStream) Binding(binding driver.Binding) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.binding = binding
	return cs
}

// ReadPreference sets the read preference used with this operation.
func (cs *ChangeStream) ReadPreference(rp *readpref.ReadPref) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.readPreference = rp
	return cs
}

// ReadConcern sets the read concern used with this operation.
func (cs *ChangeStream) ReadConcern(rc *readconcern.ReadConcern) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.readConcern = rc
	return cs
}

// ServerSelector sets the selector used to retrieve a server.
func (cs *ChangeStream) ServerSelector(selector description.ServerSelector) *ChangeStream {
	if cs == nil {
		cs = new(ChangeStream)
	}
	cs.selector = selector
	return cs
}
