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
)

// Count performs the legacy count command, used only by
// EstimatedDocumentCount per SPEC_FULL.md's count-command split (spec.md's
// distillation collapsed CountDocuments and EstimatedDocumentCount into a
// single "Count" concept; the real driver lineage and
// mongodb-mongo-tools-common both keep them apart because they round-trip
// to entirely different server commands).
type Count struct {
	maxTimeMS *int64

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

	result int64
}

// NewCount constructs and returns a new Count.
func NewCount() *Count { return &Count{} }

// Result returns the estimated document count.
func (c *Count) Result() int64 { return c.result }

func (c *Count) processResponse(info driver.ResponseInfo) error {
	v, err := info.Response.LookupErr("n")
	if err != nil {
		return err
	}
	n, ok := v.AsInt64OK()
	if !ok {
		return errors.New("count response field 'n' was not a number")
	}
	c.result = n
	return nil
}

// Execute runs this operation and returns an error if it did not execute
// successfully.
func (c *Count) Execute(ctx context.Context) error {
	if c.deployment == nil && c.binding == nil {
		return errors.New("the Count operation must have a Deployment or Binding set before Execute can be called")
	}

	return driver.Operation{
		CommandName:       "count",
		CommandFn:         c.command,
		ProcessResponseFn: c.processResponse,
		Kind:              driver.Read,
		Client:            c.session,
		Clock:             c.clock,
		Database:          c.database,
		Deployment:        c.deployment,
		Binding:           c.binding,
		ReadPreference:    c.readPreference,
		ReadConcern:       c.readConcern,
		Selector:          c.selector,
		RetryEnabled:      c.retryEnabled,
	}.Execute(ctx, c.opCtx)
}

func (c *Count) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "count", c.collection)
	if c.maxTimeMS != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", *c.maxTimeMS)
	}
	dst = appendReadConcern(dst, c.readConcern)
	return dst, nil
}

// CommandFn exposes this operation's Command Creator so it can be wrapped
// by Explain.
func (c *Count) CommandFn() driver.CommandFn { return c.command }

// MaxTimeMS sets the legacy maxTimeMS override.
func (c *Count) MaxTimeMS(maxTimeMS int64) *Count {
	if c == nil {
		c = new(Count)
	}
	c.maxTimeMS = &maxTimeMS
	return c
}

// Session sets the session for this operation.
func (c *Count) Session(session *session.Client) *Count {
	if c == nil {
		c = new(Count)
	}
	c.session = session
	return c
}

// ClusterClock sets the cluster clock for this operation.
func (c *Count) ClusterClock(clock *session.ClusterClock) *Count {
	if c == nil {
		c = new(Count)
	}
	c.clock = clock
	return c
}

// OperationContext sets the Operation Context for this operation.
func (c *Count) OperationContext(opCtx *driver.OperationContext) *Count {
	if c == nil {
		c = new(Count)
	}
	c.opCtx = opCtx
	return c
}

// Database sets the database to run this operation against.
func (c *Count) Database(database string) *Count {
	if c == nil {
		c = new(Count)
	}
	c.database = database
	return c
}

// Collection sets the collection this operation targets.
func (c *Count) Collection(collection string) *Count {
	if c == nil {
		c = new(Count)
	}
	c.collection = collection
	return c
}

// Deployment sets the deployment to use for this operation.
func (c *Count) Deployment(deployment driver.Deployment) *Count {
	if c == nil {
		c = new(Count)
	}
	c.deployment = deployment
	return c
}

// Binding sets the connection-source binding to use for this operation.
func (c *Count) Binding(binding driver.Binding) *Count {
	if c == nil {
		c = new(Count)
	}
	c.binding = binding
	return c
}

// ReadPreference sets the read preference used with this operation.
func (c *Count) ReadPreference(rp *readpref.ReadPref) *Count {
	if c == nil {
		c = new(Count)
	}
	c.readPreference = rp
	return c
}

// ReadConcern sets the read concern used with this operation.
func (c *Count) ReadConcern(rc *readconcern.ReadConcern) *Count {
	if c == nil {
		c = new(Count)
	}
	c.readConcern = rc
	return c
}

// ServerSelector sets the selector used to retrieve a server.
func (c *Count) ServerSelector(selector description.ServerSelector) *Count {
	if c == nil {
		c = new(Count)
	}
	c.selector = selector
	return c
}

// RetryEnabled sets whether retryable reads apply to this operation.
func (c *Count) RetryEnabled(enabled bool) *Count {
	if c == nil {
		c = new(Count)
	}
	c.retryEnabled = enabled
	return c
}

// BuildCountDocumentsPipeline constructs the aggregation pipeline
// CountDocuments drives through Aggregate, per SPEC_FULL.md: a $match
// stage (the caller's filter) followed by optional $skip/$limit stages and
// a trailing $group stage summing matched documents into "n", mirroring
// how the real driver's mongo.Collection.CountDocuments is implemented on
// top of Aggregate rather than the legacy count command.
func BuildCountDocumentsPipeline(filter bsoncore.Document, skip, limit *int64) bsoncore.Array {
	if filter == nil {
		filter = bsoncore.NewDocumentBuilder().Build()
	}

	aidx, dst := bsoncore.AppendArrayStart(nil)
	stage := 0

	dst = appendPipelineStage(dst, stage, func(d []byte) []byte {
		return bsoncore.AppendDocumentElement(d, "$match", filter)
	})
	stage++

	if skip != nil {
		s := *skip
		dst = appendPipelineStage(dst, stage, func(d []byte) []byte {
			return bsoncore.AppendInt64Element(d, "$skip", s)
		})
		stage++
	}
	if limit != nil {
		l := *limit
		dst = appendPipelineStage(dst, stage, func(d []byte) []byte {
			return bsoncore.AppendInt64Element(d, "$limit", l)
		})
		stage++
	}

	dst = appendPipelineStage(dst, stage, func(d []byte) []byte {
		gidx, gd := bsoncore.AppendDocumentElementStart(d, "$group")
		gd = bsoncore.AppendInt32Element(gd, "_id", 1)
		sidx, sd := bsoncore.AppendDocumentElementStart(gd, "n")
		sd = bsoncore.AppendInt32Element(sd, "$sum", 1)
		gd, _ = bsoncore.AppendDocumentEnd(sd, sidx)
		gd, _ = bsoncore.AppendDocumentEnd(gd, gidx)
		return gd
	})

	arr, _ := bsoncore.AppendArrayEnd(dst, aidx)
	return bsoncore.Array(arr)
}

// appendPipelineStage wraps a stage-building closure in the
// {stageIndex: {...}} document element every aggregation pipeline array
// entry needs.
func appendPipelineStage(dst []byte, index int, build func([]byte) []byte) []byte {
	idx, sdst := bsoncore.AppendDocumentElementStart(dst, strconv.Itoa(index))
	sdst = build(sdst)
	dst, _ = bsoncore.AppendDocumentEnd(sdst, idx)
	return dst
}
