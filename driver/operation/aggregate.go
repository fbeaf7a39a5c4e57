package operation

import (
	"context"
	"errors"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/readconcern"
	"github.com/shardwire/mongocore/readpref"
	"github.com/shardwire/mongocore/session"
	"github.com/shardwire/mongocore/writeconcern"
)

// Aggregate performs an aggregate operation. Setting ChangeStreamResume or
// ChangeStreamStartAfter injects the $changeStream stage the teacher's
// original mongo.ChangeStream helper builds by hand.
type Aggregate struct {
	pipeline       bsoncore.Array
	batchSize      *int32
	comment        bsoncore.Value
	maxTimeMS      *int64
	bypassDocumentValidation *bool
	hint           bsoncore.Value

	changeStreamStage bsoncore.Document // pre-built $changeStream stage, prepended to pipeline.

	session        *session.Client
	clock          *session.ClusterClock
	opCtx          *driver.OperationContext
	database       string
	collection     string // empty for a database-level (collectionless) aggregate.
	deployment     driver.Deployment
	binding        driver.Binding
	readPreference *readpref.ReadPref
	readConcern    *readconcern.ReadConcern
	writeConcern   *writeconcern.WriteConcern
	selector       description.ServerSelector
	retryEnabled   bool

	result *driver.BatchCursor
}

// NewAggregate constructs and returns a new Aggregate.
func NewAggregate(pipeline bsoncore.Array) *Aggregate {
	return &Aggregate{pipeline: pipeline}
}

// Result returns the Command Batch Cursor this operation produced.
func (a *Aggregate) Result() *driver.BatchCursor { return a.result }

func (a *Aggregate) processResponse(info driver.ResponseInfo) error {
	resp, err := driver.NewCursorResponse(info.Response, info.ServerDesc.Addr)
	if err != nil {
		return err
	}
	batchSize := int32(0)
	if a.batchSize != nil {
		batchSize = *a.batchSize
	}
	cfg := driver.BatchCursorConfig{
		Response:       resp,
		Source:         info.Source,
		PinnedConn:     info.PinnedConn,
		BatchSize:      batchSize,
		MaxWireVersion: info.ConnDesc.MaxWireVersion,
		OpCtx:          a.opCtx,
	}
	if a.opCtx != nil {
		cfg.Timeout = a.opCtx.Timeout
	}
	bc, err := driver.NewBatchCursor(cfg)
	if err != nil {
		return err
	}
	a.result = bc
	return nil
}

// Execute runs this operation and returns an error if it did not execute
// successfully.
func (a *Aggregate) Execute(ctx context.Context) error {
	if a.deployment == nil && a.binding == nil {
		return errors.New("the Aggregate operation must have a Deployment or Binding set before Execute can be called")
	}

	err := driver.Operation{
		CommandName:       "aggregate",
		CommandFn:         a.command,
		ProcessResponseFn: a.processResponse,
		Kind:              kindFor(a.writeConcern),
		Client:            a.session,
		Clock:             a.clock,
		Database:          a.database,
		Deployment:        a.deployment,
		Binding:           a.binding,
		ReadPreference:    a.readPreference,
		ReadConcern:       a.readConcern,
		WriteConcern:      a.writeConcern,
		Selector:          a.selector,
		RetryEnabled:      a.retryEnabled,
	}.Execute(ctx, a.opCtx)
	if err == nil {
		return nil
	}
	if !isListSearchIndexesPipeline(a.pipeline) {
		return err
	}
	// $listSearchIndexes (spec.md §6) gets the same NamespaceNotFound
	// recovery as listCollections/listIndexes (spec.md §7): the collection's
	// namespace is preserved even though this reaches the server as an
	// ordinary aggregate.
	bc, err := recoverAsEmptyCursor(err, driver.Namespace{DB: a.database, Collection: a.collection})
	if err != nil {
		return err
	}
	a.result = bc
	return nil
}

// isListSearchIndexesPipeline reports whether pipeline's first stage is
// $listSearchIndexes, per spec.md §6 ("emitted as the first stage of an
// aggregate pipeline").
func isListSearchIndexesPipeline(pipeline bsoncore.Array) bool {
	values, err := pipeline.Values()
	if err != nil || len(values) == 0 {
		return false
	}
	stage, ok := values[0].DocumentOK()
	if !ok {
		return false
	}
	_, err = stage.LookupErr("$listSearchIndexes")
	return err == nil
}

// kindFor classifies an aggregate as a write when it carries an explicit
// write concern (i.e. its pipeline ends in $out/$merge), and a read
// otherwise, mirroring the server-side distinction the real driver's
// aggregate operation object makes by inspecting the pipeline.
func kindFor(wc *writeconcern.WriteConcern) driver.Kind {
	if wc != nil {
		return driver.Write
	}
	return driver.Read
}

func (a *Aggregate) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	if a.collection != "" {
		dst = bsoncore.AppendStringElement(dst, "aggregate", a.collection)
	} else {
		dst = bsoncore.AppendInt32Element(dst, "aggregate", 1)
	}

	pipeline := a.pipeline
	if a.changeStreamStage != nil {
		stages, err := pipeline.Values()
		if err != nil {
			return nil, err
		}
		aidx, pdst := bsoncore.AppendArrayElementStart(dst, "pipeline")
		pdst = bsoncore.AppendDocumentElement(pdst, "0", a.changeStreamStage)
		for i, stage := range stages {
			pdst = bsoncore.AppendValueElement(pdst, strconv.Itoa(i+1), stage)
		}
		dst, _ = bsoncore.AppendArrayEnd(pdst, aidx)
	} else {
		dst = bsoncore.AppendArrayElement(dst, "pipeline", pipeline)
	}

	cursorIdx, dst := bsoncore.AppendDocumentElementStart(dst, "cursor")
	if a.batchSize != nil {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", *a.batchSize)
	}
	dst, _ = bsoncore.AppendDocumentEnd(dst, cursorIdx)

	if a.maxTimeMS != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", *a.maxTimeMS)
	}
	if a.bypassDocumentValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *a.bypassDocumentValidation)
	}
	if a.hint.Data != nil {
		dst = bsoncore.AppendValueElement(dst, "hint", a.hint)
	}
	if a.comment.Data != nil {
		dst = bsoncore.AppendValueElement(dst, "comment", a.comment)
	}
	dst = appendReadConcern(dst, a.readConcern)
	dst = appendWriteConcern(dst, a.writeConcern)
	return dst, nil
}

// CommandFn exposes this operation's Command Creator so it can be wrapped
// by Explain.
func (a *Aggregate) CommandFn() driver.CommandFn { return a.command }

// Pipeline sets the aggregation pipeline.
func (a *Aggregate) Pipeline(pipeline bsoncore.Array) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.pipeline = pipeline
	return a
}

// ChangeStreamStage prepends a pre-built $changeStream stage document
// ahead of Pipeline, used only by the change-stream layer.
func (a *Aggregate) ChangeStreamStage(stage bsoncore.Document) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.changeStreamStage = stage
	return a
}

// BatchSize specifies the number of documents to return in every batch.
func (a *Aggregate) BatchSize(batchSize int32) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.batchSize = &batchSize
	return a
}

// Comment sets a comment to attach to this command.
func (a *Aggregate) Comment(comment bsoncore.Value) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.comment = comment
	return a
}

// MaxTimeMS sets the legacy maxTimeMS override.
func (a *Aggregate) MaxTimeMS(maxTimeMS int64) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.maxTimeMS = &maxTimeMS
	return a
}

// BypassDocumentValidation allows the write stages of this pipeline to
// opt out of document validation.
func (a *Aggregate) BypassDocumentValidation(bypass bool) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.bypassDocumentValidation = &bypass
	return a
}

// Hint sets the index to use.
func (a *Aggregate) Hint(hint bsoncore.Value) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.hint = hint
	return a
}

// Session sets the session for this operation.
func (a *Aggregate) Session(session *session.Client) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.session = session
	return a
}

// ClusterClock sets the cluster clock for this operation.
func (a *Aggregate) ClusterClock(clock *session.ClusterClock) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.clock = clock
	return a
}

// OperationContext sets the Operation Context for this operation.
func (a *Aggregate) OperationContext(opCtx *driver.OperationContext) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.opCtx = opCtx
	return a
}

// Database sets the database to run this operation against.
func (a *Aggregate) Database(database string) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.database = database
	return a
}

// Collection sets the collection this operation targets; leave unset for a
// database-level aggregate.
func (a *Aggregate) Collection(collection string) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.collection = collection
	return a
}

// Deployment sets the deployment to use for this operation.
func (a *Aggregate) Deployment(deployment driver.Deployment) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.deployment = deployment
	return a
}

// Binding sets the connection-source binding to use for this operation.
func (a *Aggregate) Binding(binding driver.Binding) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.binding = binding
	return a
}

// ReadPreference sets the read preference used with this operation.
func (a *Aggregate) ReadPreference(rp *readpref.ReadPref) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.readPreference = rp
	return a
}

// ReadConcern sets the read concern used with this operation.
func (a *Aggregate) ReadConcern(rc *readconcern.ReadConcern) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.readConcern = rc
	return a
}

// WriteConcern sets the write concern used with this operation; set only
// when the pipeline ends in $out or $merge.
func (a *Aggregate) WriteConcern(wc *writeconcern.WriteConcern) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.writeConcern = wc
	return a
}

// ServerSelector sets the selector used to retrieve a server.
func (a *Aggregate) ServerSelector(selector description.ServerSelector) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.selector = selector
	return a
}

// RetryEnabled sets whether retryable reads apply to this operation (only
// meaningful when this aggregate has no write concern).
func (a *Aggregate) RetryEnabled(enabled bool) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}
	a.retryEnabled = enabled
	return a
}
