package operation

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/readconcern"
	"github.com/shardwire/mongocore/readpref"
	"github.com/shardwire/mongocore/session"
)

// Find performs a find operation, the most common Command Cursor Result
// producer in spec.md §6.
type Find struct {
	filter         bsoncore.Document
	sort           bsoncore.Document
	projection     bsoncore.Document
	hint           bsoncore.Value
	skip           *int64
	limit          *int64
	batchSize      *int32
	comment        bsoncore.Value
	tailable       bool
	awaitData      bool
	maxAwaitTime   *int64
	singleBatch    bool

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
	retryEnabled   bool

	result *driver.BatchCursor
}

// NewFind constructs and returns a new Find.
func NewFind(filter bsoncore.Document) *Find {
	return &Find{filter: filter}
}

// Result returns the Command Batch Cursor this operation produced.
func (f *Find) Result() *driver.BatchCursor { return f.result }

func (f *Find) processResponse(info driver.ResponseInfo) error {
	resp, err := driver.NewCursorResponse(info.Response, info.ServerDesc.Addr)
	if err != nil {
		return err
	}
	batchSize := int32(0)
	if f.batchSize != nil {
		batchSize = *f.batchSize
	}
	limit := int64(0)
	if f.limit != nil {
		limit = *f.limit
	}
	cfg := driver.BatchCursorConfig{
		Response:       resp,
		Source:         info.Source,
		PinnedConn:     info.PinnedConn,
		BatchSize:      batchSize,
		Limit:          int32(limit),
		MaxWireVersion: info.ConnDesc.MaxWireVersion,
		Tailable:       f.tailable,
		AwaitData:      f.awaitData,
		OpCtx:          f.opCtx,
	}
	if f.opCtx != nil {
		cfg.Timeout = f.opCtx.Timeout
	}
	bc, err := driver.NewBatchCursor(cfg)
	if err != nil {
		return err
	}
	f.result = bc
	return nil
}

// Execute runs this operation and returns an error if it did not execute
// successfully.
func (f *Find) Execute(ctx context.Context) error {
	if f.deployment == nil && f.binding == nil {
		return errors.New("the Find operation must have a Deployment or Binding set before Execute can be called")
	}

	return driver.Operation{
		CommandName:       "find",
		CommandFn:         f.command,
		ProcessResponseFn: f.processResponse,
		Kind:              driver.Read,
		Client:            f.session,
		Clock:             f.clock,
		Database:          f.database,
		Deployment:        f.deployment,
		Binding:           f.binding,
		ReadPreference:    f.readPreference,
		ReadConcern:       f.readConcern,
		Selector:          f.selector,
		RetryEnabled:      f.retryEnabled,
	}.Execute(ctx, f.opCtx)
}

func (f *Find) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "find", f.collection)
	if f.filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", f.filter)
	}
	if f.sort != nil {
		dst = bsoncore.AppendDocumentElement(dst, "sort", f.sort)
	}
	if f.projection != nil {
		dst = bsoncore.AppendDocumentElement(dst, "projection", f.projection)
	}
	if f.hint.Data != nil {
		dst = bsoncore.AppendValueElement(dst, "hint", f.hint)
	}
	if f.skip != nil {
		dst = bsoncore.AppendInt64Element(dst, "skip", *f.skip)
	}
	if f.limit != nil {
		dst = bsoncore.AppendInt64Element(dst, "limit", *f.limit)
	}
	if f.singleBatch {
		dst = bsoncore.AppendBooleanElement(dst, "singleBatch", true)
	}
	if f.batchSize != nil {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", *f.batchSize)
	}
	if f.comment.Data != nil {
		dst = bsoncore.AppendValueElement(dst, "comment", f.comment)
	}
	if f.tailable {
		dst = bsoncore.AppendBooleanElement(dst, "tailable", true)
	}
	if f.awaitData {
		dst = bsoncore.AppendBooleanElement(dst, "awaitData", true)
	}
	if f.maxAwaitTime != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxAwaitTimeMS", *f.maxAwaitTime)
	}
	dst = appendReadConcern(dst, f.readConcern)
	return dst, nil
}

// CommandFn exposes this operation's Command Creator so it can be wrapped
// by Explain.
func (f *Find) CommandFn() driver.CommandFn { return f.command }

// Filter determines what results are returned from find.
func (f *Find) Filter(filter bsoncore.Document) *Find {
	if f == nil {
		f = new(Find)
	}
	f.filter = filter
	return f
}

// Sort specifies the order in which to return results.
func (f *Find) Sort(sort bsoncore.Document) *Find {
	if f == nil {
		f = new(Find)
	}
	f.sort = sort
	return f
}

// Projection limits the fields returned for each document.
func (f *Find) Projection(projection bsoncore.Document) *Find {
	if f == nil {
		f = new(Find)
	}
	f.projection = projection
	return f
}

// Skip specifies the number of documents to skip before returning.
func (f *Find) Skip(skip int64) *Find {
	if f == nil {
		f = new(Find)
	}
	f.skip = &skip
	return f
}

// Limit specifies the maximum number of documents to return.
func (f *Find) Limit(limit int64) *Find {
	if f == nil {
		f = new(Find)
	}
	f.limit = &limit
	return f
}

// BatchSize specifies the number of documents to return in every batch.
func (f *Find) BatchSize(batchSize int32) *Find {
	if f == nil {
		f = new(Find)
	}
	f.batchSize = &batchSize
	return f
}

// Comment sets a comment to attach to the find command. The getMores the
// resulting cursor issues do not carry it.
func (f *Find) Comment(comment bsoncore.Value) *Find {
	if f == nil {
		f = new(Find)
	}
	f.comment = comment
	return f
}

// Tailable marks the cursor as tailable, for capped collections.
func (f *Find) Tailable(tailable bool) *Find {
	if f == nil {
		f = new(Find)
	}
	f.tailable = tailable
	return f
}

// AwaitData marks a tailable cursor as blocking briefly for more data.
func (f *Find) AwaitData(awaitData bool) *Find {
	if f == nil {
		f = new(Find)
	}
	f.awaitData = awaitData
	return f
}

// MaxAwaitTime sets the maxAwaitTimeMS of a tailable awaitData cursor's
// getMores.
func (f *Find) MaxAwaitTime(maxAwaitTime int64) *Find {
	if f == nil {
		f = new(Find)
	}
	f.maxAwaitTime = &maxAwaitTime
	return f
}

// SingleBatch indicates the server should return all matching documents in
// the first batch, closing the cursor immediately afterward.
func (f *Find) SingleBatch(singleBatch bool) *Find {
	if f == nil {
		f = new(Find)
	}
	f.singleBatch = singleBatch
	return f
}

// Session sets the session for this operation.
func (f *Find) Session(session *session.Client) *Find {
	if f == nil {
		f = new(Find)
	}
	f.session = session
	return f
}

// ClusterClock sets the cluster clock for this operation.
func (f *Find) ClusterClock(clock *session.ClusterClock) *Find {
	if f == nil {
		f = new(Find)
	}
	f.clock = clock
	return f
}

// OperationContext sets the Operation Context (timeout, logger, server API
// options) for this operation.
func (f *Find) OperationContext(opCtx *driver.OperationContext) *Find {
	if f == nil {
		f = new(Find)
	}
	f.opCtx = opCtx
	return f
}

// Database sets the database to run this operation against.
func (f *Find) Database(database string) *Find {
	if f == nil {
		f = new(Find)
	}
	f.database = database
	return f
}

// Collection sets the collection this operation targets.
func (f *Find) Collection(collection string) *Find {
	if f == nil {
		f = new(Find)
	}
	f.collection = collection
	return f
}

// Deployment sets the deployment to use for this operation.
func (f *Find) Deployment(deployment driver.Deployment) *Find {
	if f == nil {
		f = new(Find)
	}
	f.deployment = deployment
	return f
}

// Binding sets the connection-source binding to use for this operation, in
// preference to a bare Deployment.
func (f *Find) Binding(binding driver.Binding) *Find {
	if f == nil {
		f = new(Find)
	}
	f.binding = binding
	return f
}

// ReadPreference sets the read preference used with this operation.
func (f *Find) ReadPreference(rp *readpref.ReadPref) *Find {
	if f == nil {
		f = new(Find)
	}
	f.readPreference = rp
	return f
}

// ReadConcern sets the read concern used with this operation.
func (f *Find) ReadConcern(rc *readconcern.ReadConcern) *Find {
	if f == nil {
		f = new(Find)
	}
	f.readConcern = rc
	return f
}

// ServerSelector sets the selector used to retrieve a server.
func (f *Find) ServerSelector(selector description.ServerSelector) *Find {
	if f == nil {
		f = new(Find)
	}
	f.selector = selector
	return f
}

// RetryEnabled sets whether retryable reads apply to this operation.
func (f *Find) RetryEnabled(enabled bool) *Find {
	if f == nil {
		f = new(Find)
	}
	f.retryEnabled = enabled
	return f
}
