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
	"github.com/shardwire/mongocore/writeconcern"
)

// MapReduce performs the legacy mapReduce command. It is kept even though
// server-side map-reduce is deprecated upstream, since it is part of the
// command surface the original driver exposes and nothing in spec.md's
// Non-goals excludes it.
type MapReduce struct {
	mapFn    string
	reduceFn string
	finalizeFn string
	filter   bsoncore.Document
	sort     bsoncore.Document
	limit    *int64
	scope    bsoncore.Document
	out      bsoncore.Document // {inline: 1} or {replace/merge/reduce: coll[, db: ...]}

	session        *session.Client
	clock          *session.ClusterClock
	opCtx          *driver.OperationContext
	database       string
	collection     string
	deployment     driver.Deployment
	binding        driver.Binding
	readPreference *readpref.ReadPref
	readConcern    *readconcern.ReadConcern
	writeConcern   *writeconcern.WriteConcern
	selector       description.ServerSelector

	result bsoncore.Document
}

// NewMapReduce constructs and returns a new MapReduce.
func NewMapReduce(mapFn, reduceFn string, out bsoncore.Document) *MapReduce {
	return &MapReduce{mapFn: mapFn, reduceFn: reduceFn, out: out}
}

// Result returns the raw mapReduce response: either {results: [...]} for
// an inline output, or {result: "coll"} for a collection output.
func (mr *MapReduce) Result() bsoncore.Document { return mr.result }

func (mr *MapReduce) processResponse(info driver.ResponseInfo) error {
	mr.result = info.Response
	return nil
}

// isInline reports whether this mapReduce writes its output inline,
// which determines whether it runs as a read or a write.
func (mr *MapReduce) isInline() bool {
	v, err := mr.out.LookupErr("inline")
	if err != nil {
		return false
	}
	n, ok := v.AsInt64OK()
	return ok && n != 0
}

// Execute runs this operation and returns an error if it did not execute
// successfully.
func (mr *MapReduce) Execute(ctx context.Context) error {
	if mr.deployment == nil && mr.binding == nil {
		return errors.New("the MapReduce operation must have a Deployment or Binding set before Execute can be called")
	}

	kind := driver.Write
	if mr.isInline() {
		kind = driver.Read
	}

	return driver.Operation{
		CommandName:       "mapReduce",
		CommandFn:         mr.command,
		ProcessResponseFn: mr.processResponse,
		Kind:              kind,
		Client:            mr.session,
		Clock:             mr.clock,
		Database:          mr.database,
		Deployment:        mr.deployment,
		Binding:           mr.binding,
		ReadPreference:    mr.readPreference,
		ReadConcern:       mr.readConcern,
		WriteConcern:      mr.writeConcern,
		Selector:          mr.selector,
	}.Execute(ctx, mr.opCtx)
}

func (mr *MapReduce) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "mapReduce", mr.collection)
	dst = bsoncore.AppendStringElement(dst, "map", mr.mapFn)
	dst = bsoncore.AppendStringElement(dst, "reduce", mr.reduceFn)
	dst = bsoncore.AppendDocumentElement(dst, "out", mr.out)
	if mr.finalizeFn != "" {
		dst = bsoncore.AppendStringElement(dst, "finalize", mr.finalizeFn)
	}
	if mr.filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "query", mr.filter)
	}
	if mr.sort != nil {
		dst = bsoncore.AppendDocumentElement(dst, "sort", mr.sort)
	}
	if mr.limit != nil {
		dst = bsoncore.AppendInt64Element(dst, "limit", *mr.limit)
	}
	if mr.scope != nil {
		dst = bsoncore.AppendDocumentElement(dst, "scope", mr.scope)
	}
	if mr.isInline() {
		dst = appendReadConcern(dst, mr.readConcern)
	} else {
		dst = appendWriteConcern(dst, mr.writeConcern)
	}
	return dst, nil
}

// Finalize sets the finalize function.
func (mr *MapReduce) Finalize(finalizeFn string) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.finalizeFn = finalizeFn
	return mr
}

// Filter sets the query filter applied before mapping.
func (mr *MapReduce) Filter(filter bsoncore.Document) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.filter = filter
	return mr
}

// Sort sets the sort applied before mapping.
func (mr *MapReduce) Sort(sort bsoncore.Document) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.sort = sort
	return mr
}

// Limit caps the number of documents mapped.
func (mr *MapReduce) Limit(limit int64) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.limit = &limit
	return mr
}

// Scope sets global variables available to the map/reduce/finalize
// functions.
func (mr *MapReduce) Scope(scope bsoncore.Document) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.scope = scope
	return mr
}

// Session sets the session for this operation.
func (mr *MapReduce) Session(session *session.Client) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.session = session
	return mr
}

// ClusterClock sets the cluster clock for this operation.
func (mr *MapReduce) ClusterClock(clock *session.ClusterClock) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.clock = clock
	return mr
}

// OperationContext sets the Operation Context for this operation.
func (mr *MapReduce) OperationContext(opCtx *driver.OperationContext) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.opCtx = opCtx
	return mr
}

// Database sets the database to run this operation against.
func (mr *MapReduce) Database(database string) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.database = database
	return mr
}

// Collection sets the collection this operation targets.
func (mr *MapReduce) Collection(collection string) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.collection = collection
	return mr
}

// Deployment sets the deployment to use for this operation.
func (mr *MapReduce) Deployment(deployment driver.Deployment) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.deployment = deployment
	return mr
}

// Binding sets the connection-source binding to use for this operation.
func (mr *MapReduce) Binding(binding driver.Binding) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.binding = binding
	return mr
}

// ReadPreference sets the read preference used with this operation; only
// meaningful for an inline output.
func (mr *MapReduce) ReadPreference(rp *readpref.ReadPref) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.readPreference = rp
	return mr
}

// ReadConcern sets the read concern used with this operation; only
// meaningful for an inline output.
func (mr *MapReduce) ReadConcern(rc *readconcern.ReadConcern) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.readConcern = rc
	return mr
}

// WriteConcern sets the write concern used with this operation; only
// meaningful for a collection output.
func (mr *MapReduce) WriteConcern(wc *writeconcern.WriteConcern) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.writeConcern = wc
	return mr
}

// ServerSelector sets the selector used to retrieve a server.
func (mr *MapReduce) ServerSelector(selector description.ServerSelector) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}
	mr.selector = selector
	return mr
}
