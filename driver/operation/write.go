package operation

import (
	"context"
	"errors"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/session"
	"github.com/shardwire/mongocore/writeconcern"
)

// WriteCommandResult is the Bulk Write Engine's per-batch unit of work: the
// decoded reply shape every one of insert/update/delete shares (n,
// writeErrors, writeConcernError), per spec.md §3's Bulk Write Batch.
type WriteCommandResult struct {
	N                 int32
	NModified         int32
	Upserted          []bsoncore.Document
	WriteErrors       []driver.WriteError
	WriteConcernError *driver.WriteConcernError

	// AttemptIndex is which Command Executor attempt (0 initial, 1 retry)
	// produced this result, threaded through from driver.ResponseInfo so
	// the Bulk Write Engine's BulkWriteTracker can record per-batch retry
	// history without this package needing to know about bulk at all.
	AttemptIndex int
}

func decodeWriteCommandResult(response bsoncore.Document) (WriteCommandResult, error) {
	var res WriteCommandResult
	if v, err := response.LookupErr("n"); err == nil {
		if n, ok := v.AsInt32OK(); ok {
			res.N = n
		}
	}
	if v, err := response.LookupErr("nModified"); err == nil {
		if n, ok := v.AsInt32OK(); ok {
			res.NModified = n
		}
	}
	if v, err := response.LookupErr("upserted"); err == nil {
		if arr, ok := v.ArrayOK(); ok {
			vals, _ := arr.Values()
			for _, val := range vals {
				if doc, ok := val.DocumentOK(); ok {
					res.Upserted = append(res.Upserted, doc)
				}
			}
		}
	}
	if v, err := response.LookupErr("writeErrors"); err == nil {
		if arr, ok := v.ArrayOK(); ok {
			vals, _ := arr.Values()
			for _, val := range vals {
				doc, ok := val.DocumentOK()
				if !ok {
					continue
				}
				we := driver.WriteError{}
				if idxVal, err := doc.LookupErr("index"); err == nil {
					if i, ok := idxVal.AsInt32OK(); ok {
						we.Index = int(i)
					}
				}
				if codeVal, err := doc.LookupErr("code"); err == nil {
					if c, ok := codeVal.AsInt32OK(); ok {
						we.Code = c
					}
				}
				if msgVal, err := doc.LookupErr("errmsg"); err == nil {
					if s, ok := msgVal.StringValueOK(); ok {
						we.Message = s
					}
				}
				res.WriteErrors = append(res.WriteErrors, we)
			}
		}
	}
	if v, err := response.LookupErr("writeConcernError"); err == nil {
		if doc, ok := v.DocumentOK(); ok {
			wce := &driver.WriteConcernError{}
			if codeVal, err := doc.LookupErr("code"); err == nil {
				if c, ok := codeVal.AsInt32OK(); ok {
					wce.Code = c
				}
			}
			if msgVal, err := doc.LookupErr("errmsg"); err == nil {
				if s, ok := msgVal.StringValueOK(); ok {
					wce.Message = s
				}
			}
			if labelsVal, err := doc.LookupErr("errorLabels"); err == nil {
				if arr, ok := labelsVal.ArrayOK(); ok {
					vals, _ := arr.Values()
					for _, val := range vals {
						if s, ok := val.StringValueOK(); ok {
							wce.Labels = append(wce.Labels, s)
						}
					}
				}
			}
			res.WriteConcernError = wce
		}
	}
	return res, nil
}

// Insert performs an insert command over an already-split batch of
// documents; splitting maxWriteBatchSize-sized batches out of a larger
// logical insert is the Bulk Write Engine's job (spec.md §4.6), not this
// Operation Object's.
type Insert struct {
	documents                []bsoncore.Document
	ordered                  *bool
	bypassDocumentValidation *bool

	session      *session.Client
	clock        *session.ClusterClock
	opCtx        *driver.OperationContext
	database     string
	collection   string
	deployment   driver.Deployment
	binding      driver.Binding
	writeConcern *writeconcern.WriteConcern
	selector     description.ServerSelector
	retryEnabled bool

	result WriteCommandResult
}

// NewInsert constructs and returns a new Insert.
func NewInsert(documents ...bsoncore.Document) *Insert {
	return &Insert{documents: documents}
}

// Result returns the result of executing this operation.
func (ins *Insert) Result() WriteCommandResult { return ins.result }

func (ins *Insert) processResponse(info driver.ResponseInfo) error {
	res, err := decodeWriteCommandResult(info.Response)
	if err != nil {
		return err
	}
	res.AttemptIndex = info.CurrentIndex
	ins.result = res
	if res.WriteConcernError != nil {
		return res.WriteConcernError
	}
	return nil
}

// Execute runs this operation and returns an error if it did not execute
// successfully.
func (ins *Insert) Execute(ctx context.Context) error {
	if ins.deployment == nil && ins.binding == nil {
		return errors.New("the Insert operation must have a Deployment or Binding set before Execute can be called")
	}

	return driver.Operation{
		CommandName:       "insert",
		CommandFn:         ins.command,
		ProcessResponseFn: ins.processResponse,
		Kind:              driver.Write,
		Client:            ins.session,
		Clock:             ins.clock,
		Database:          ins.database,
		Deployment:        ins.deployment,
		Binding:           ins.binding,
		WriteConcern:      ins.writeConcern,
		Selector:          ins.selector,
		RetryEnabled:      ins.retryEnabled,
	}.Execute(ctx, ins.opCtx)
}

func (ins *Insert) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "insert", ins.collection)
	if ins.ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *ins.ordered)
	}
	if ins.bypassDocumentValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *ins.bypassDocumentValidation)
	}
	aidx, dst := bsoncore.AppendArrayElementStart(dst, "documents")
	for i, doc := range ins.documents {
		dst = bsoncore.AppendDocumentElement(dst, strconv.Itoa(i), doc)
	}
	dst, _ = bsoncore.AppendArrayEnd(dst, aidx)
	dst = appendWriteConcern(dst, ins.writeConcern)
	return dst, nil
}

// Documents sets the documents to insert.
func (ins *Insert) Documents(documents ...bsoncore.Document) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.documents = documents
	return ins
}

// Ordered sets whether writes stop on the first error.
func (ins *Insert) Ordered(ordered bool) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.ordered = &ordered
	return ins
}

// BypassDocumentValidation sets whether this write skips document
// validation.
func (ins *Insert) BypassDocumentValidation(bypass bool) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.bypassDocumentValidation = &bypass
	return ins
}

// Session sets the session for this operation.
func (ins *Insert) Session(session *session.Client) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.session = session
	return ins
}

// ClusterClock sets the cluster clock for this operation.
func (ins *Insert) ClusterClock(clock *session.ClusterClock) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.clock = clock
	return ins
}

// OperationContext sets the Operation Context for this operation.
func (ins *Insert) OperationContext(opCtx *driver.OperationContext) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.opCtx = opCtx
	return ins
}

// Database sets the database to run this operation against.
func (ins *Insert) Database(database string) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.database = database
	return ins
}

// Collection sets the collection this operation targets.
func (ins *Insert) Collection(collection string) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.collection = collection
	return ins
}

// Deployment sets the deployment to use for this operation.
func (ins *Insert) Deployment(deployment driver.Deployment) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.deployment = deployment
	return ins
}

// Binding sets the connection-source binding to use for this operation.
func (ins *Insert) Binding(binding driver.Binding) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.binding = binding
	return ins
}

// WriteConcern sets the write concern used with this operation.
func (ins *Insert) WriteConcern(wc *writeconcern.WriteConcern) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.writeConcern = wc
	return ins
}

// ServerSelector sets the selector used to retrieve a server.
func (ins *Insert) ServerSelector(selector description.ServerSelector) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.selector = selector
	return ins
}

// RetryEnabled sets whether retryable writes apply to this operation.
func (ins *Insert) RetryEnabled(enabled bool) *Insert {
	if ins == nil {
		ins = new(Insert)
	}
	ins.retryEnabled = enabled
	return ins
}

// Update performs an update command over an already-split batch of update
// statements.
type Update struct {
	updates                  []bsoncore.Document // {q, u, multi, upsert, collation?, arrayFilters?}
	ordered                  *bool
	bypassDocumentValidation *bool

	session      *session.Client
	clock        *session.ClusterClock
	opCtx        *driver.OperationContext
	database     string
	collection   string
	deployment   driver.Deployment
	binding      driver.Binding
	writeConcern *writeconcern.WriteConcern
	selector     description.ServerSelector
	retryEnabled bool

	result WriteCommandResult
}

// NewUpdate constructs and returns a new Update.
func NewUpdate(updates ...bsoncore.Document) *Update {
	return &Update{updates: updates}
}

// Result returns the result of executing this operation.
func (u *Update) Result() WriteCommandResult { return u.result }

func (u *Update) processResponse(info driver.ResponseInfo) error {
	res, err := decodeWriteCommandResult(info.Response)
	if err != nil {
		return err
	}
	res.AttemptIndex = info.CurrentIndex
	u.result = res
	if res.WriteConcernError != nil {
		return res.WriteConcernError
	}
	return nil
}

// Execute runs this operation and returns an error if it did not execute
// successfully.
func (u *Update) Execute(ctx context.Context) error {
	if u.deployment == nil && u.binding == nil {
		return errors.New("the Update operation must have a Deployment or Binding set before Execute can be called")
	}

	return driver.Operation{
		CommandName:       "update",
		CommandFn:         u.command,
		ProcessResponseFn: u.processResponse,
		Kind:              driver.Write,
		Client:            u.session,
		Clock:             u.clock,
		Database:          u.database,
		Deployment:        u.deployment,
		Binding:           u.binding,
		WriteConcern:      u.writeConcern,
		Selector:          u.selector,
		RetryEnabled:      u.retryEnabled,
	}.Execute(ctx, u.opCtx)
}

func (u *Update) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "update", u.collection)
	if u.ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *u.ordered)
	}
	if u.bypassDocumentValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *u.bypassDocumentValidation)
	}
	aidx, dst := bsoncore.AppendArrayElementStart(dst, "updates")
	for i, upd := range u.updates {
		dst = bsoncore.AppendDocumentElement(dst, strconv.Itoa(i), upd)
	}
	dst, _ = bsoncore.AppendArrayEnd(dst, aidx)
	dst = appendWriteConcern(dst, u.writeConcern)
	return dst, nil
}

// Updates sets the update statements, each shaped
// {q, u, multi, upsert, ...}.
func (u *Update) Updates(updates ...bsoncore.Document) *Update {
	if u == nil {
		u = new(Update)
	}
	u.updates = updates
	return u
}

// Ordered sets whether writes stop on the first error.
func (u *Update) Ordered(ordered bool) *Update {
	if u == nil {
		u = new(Update)
	}
	u.ordered = &ordered
	return u
}

// BypassDocumentValidation sets whether this write skips document
// validation.
func (u *Update) BypassDocumentValidation(bypass bool) *Update {
	if u == nil {
		u = new(Update)
	}
	u.bypassDocumentValidation = &bypass
	return u
}

// Session sets the session for this operation.
func (u *Update) Session(session *session.Client) *Update {
	if u == nil {
		u = new(Update)
	}
	u.session = session
	return u
}

// ClusterClock sets the cluster clock for this operation.
func (u *Update) ClusterClock(clock *session.ClusterClock) *Update {
	if u == nil {
		u = new(Update)
	}
	u.clock = clock
	return u
}

// OperationContext sets the Operation Context for this operation.
func (u *Update) OperationContext(opCtx *driver.OperationContext) *Update {
	if u == nil {
		u = new(Update)
	}
	u.opCtx = opCtx
	return u
}

// Database sets the database to run this operation against.
func (u *Update) Database(database string) *Update {
	if u == nil {
		u = new(Update)
	}
	u.database = database
	return u
}

// Collection sets the collection this operation targets.
func (u *Update) Collection(collection string) *Update {
	if u == nil {
		u = new(Update)
	}
	u.collection = collection
	return u
}

// Deployment sets the deployment to use for this operation.
func (u *Update) Deployment(deployment driver.Deployment) *Update {
	if u == nil {
		u = new(Update)
	}
	u.deployment = deployment
	return u
}

// Binding sets the connection-source binding to use for this operation.
func (u *Update) Binding(binding driver.Binding) *Update {
	if u == nil {
		u = new(Update)
	}
	u.binding = binding
	return u
}

// WriteConcern sets the write concern used with this operation.
func (u *Update) WriteConcern(wc *writeconcern.WriteConcern) *Update {
	if u == nil {
		u = new(Update)
	}
	u.writeConcern = wc
	return u
}

// ServerSelector sets the selector used to retrieve a server.
func (u *Update) ServerSelector(selector description.ServerSelector) *Update {
	if u == nil {
		u = new(Update)
	}
	u.selector = selector
	return u
}

// RetryEnabled sets whether retryable writes apply to this operation; the
// caller must not set this for any batch containing a multi:true update,
// per spec.md §4.6's "never retried" bulk edge case.
func (u *Update) RetryEnabled(enabled bool) *Update {
	if u == nil {
		u = new(Update)
	}
	u.retryEnabled = enabled
	return u
}

// Delete performs a delete command over an already-split batch of delete
// statements.
type Delete struct {
	deletes []bsoncore.Document // {q, limit, collation?}
	ordered *bool

	session      *session.Client
	clock        *session.ClusterClock
	opCtx        *driver.OperationContext
	database     string
	collection   string
	deployment   driver.Deployment
	binding      driver.Binding
	writeConcern *writeconcern.WriteConcern
	selector     description.ServerSelector
	retryEnabled bool

	result WriteCommandResult
}

// NewDelete constructs and returns a new Delete.
func NewDelete(deletes ...bsoncore.Document) *Delete {
	return &Delete{deletes: deletes}
}

// Result returns the result of executing this operation.
func (d *Delete) Result() WriteCommandResult { return d.result }

func (d *Delete) processResponse(info driver.ResponseInfo) error {
	res, err := decodeWriteCommandResult(info.Response)
	if err != nil {
		return err
	}
	res.AttemptIndex = info.CurrentIndex
	d.result = res
	if res.WriteConcernError != nil {
		return res.WriteConcernError
	}
	return nil
}

// Execute runs this operation and returns an error if it did not execute
// successfully.
func (d *Delete) Execute(ctx context.Context) error {
	if d.deployment == nil && d.binding == nil {
		return errors.New("the Delete operation must have a Deployment or Binding set before Execute can be called")
	}

	return driver.Operation{
		CommandName:       "delete",
		CommandFn:         d.command,
		ProcessResponseFn: d.processResponse,
		Kind:              driver.Write,
		Client:            d.session,
		Clock:             d.clock,
		Database:          d.database,
		Deployment:        d.deployment,
		Binding:           d.binding,
		WriteConcern:      d.writeConcern,
		Selector:          d.selector,
		RetryEnabled:      d.retryEnabled,
	}.Execute(ctx, d.opCtx)
}

func (d *Delete) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "delete", d.collection)
	if d.ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *d.ordered)
	}
	aidx, dst := bsoncore.AppendArrayElementStart(dst, "deletes")
	for i, del := range d.deletes {
		dst = bsoncore.AppendDocumentElement(dst, strconv.Itoa(i), del)
	}
	dst, _ = bsoncore.AppendArrayEnd(dst, aidx)
	dst = appendWriteConcern(dst, d.writeConcern)
	return dst, nil
}

// Deletes sets the delete statements, each shaped {q, limit, ...}.
func (d *Delete) Deletes(deletes ...bsoncore.Document) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.deletes = deletes
	return d
}

// Ordered sets whether writes stop on the first error.
func (d *Delete) Ordered(ordered bool) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.ordered = &ordered
	return d
}

// Session sets the session for this operation.
func (d *Delete) Session(session *session.Client) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.session = session
	return d
}

// ClusterClock sets the cluster clock for this operation.
func (d *Delete) ClusterClock(clock *session.ClusterClock) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.clock = clock
	return d
}

// OperationContext sets the Operation Context for this operation.
func (d *Delete) OperationContext(opCtx *driver.OperationContext) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.opCtx = opCtx
	return d
}

// Database sets the database to run this operation against.
func (d *Delete) Database(database string) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.database = database
	return d
}

// Collection sets the collection this operation targets.
func (d *Delete) Collection(collection string) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.collection = collection
	return d
}

// Deployment sets the deployment to use for this operation.
func (d *Delete) Deployment(deployment driver.Deployment) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.deployment = deployment
	return d
}

// Binding sets the connection-source binding to use for this operation.
func (d *Delete) Binding(binding driver.Binding) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.binding = binding
	return d
}

// WriteConcern sets the write concern used with this operation.
func (d *Delete) WriteConcern(wc *writeconcern.WriteConcern) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.writeConcern = wc
	return d
}

// ServerSelector sets the selector used to retrieve a server.
func (d *Delete) ServerSelector(selector description.ServerSelector) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.selector = selector
	return d
}

// RetryEnabled sets whether retryable writes apply to this operation; the
// caller must not set this for any batch containing a limit:0 (multi)
// delete, per spec.md §4.6's "never retried" bulk edge case.
func (d *Delete) RetryEnabled(enabled bool) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.retryEnabled = enabled
	return d
}

