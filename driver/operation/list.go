package operation

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/readpref"
	"github.com/shardwire/mongocore/session"
)

// ListDatabases performs a listDatabases operation. Unlike the other list
// commands, it returns its results inline rather than through a cursor
// (spec.md §6 footnote), so it has no BatchCursor result.
type ListDatabases struct {
	filter             bsoncore.Document
	nameOnly           *bool
	authorizedDatabases *bool

	session        *session.Client
	clock          *session.ClusterClock
	opCtx          *driver.OperationContext
	deployment     driver.Deployment
	binding        driver.Binding
	readPreference *readpref.ReadPref
	selector       description.ServerSelector
	retryEnabled   bool

	result bsoncore.Document
}

// NewListDatabases constructs and returns a new ListDatabases.
func NewListDatabases(filter bsoncore.Document) *ListDatabases {
	return &ListDatabases{filter: filter}
}

// Result returns the raw listDatabases reply.
func (ld *ListDatabases) Result() bsoncore.Document { return ld.result }

func (ld *ListDatabases) processResponse(info driver.ResponseInfo) error {
	ld.result = info.Response
	return nil
}

// Execute runs this operation and returns an error if it did not execute
// successfully.
func (ld *ListDatabases) Execute(ctx context.Context) error {
	if ld.deployment == nil && ld.binding == nil {
		return errors.New("the ListDatabases operation must have a Deployment or Binding set before Execute can be called")
	}
	return driver.Operation{
		CommandName:       "listDatabases",
		CommandFn:         ld.command,
		ProcessResponseFn: ld.processResponse,
		Kind:              driver.Read,
		Client:            ld.session,
		Clock:             ld.clock,
		Database:          "admin",
		Deployment:        ld.deployment,
		Binding:           ld.binding,
		ReadPreference:    ld.readPreference,
		Selector:          ld.selector,
		RetryEnabled:      ld.retryEnabled,
	}.Execute(ctx, ld.opCtx)
}

func (ld *ListDatabases) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "listDatabases", 1)
	if ld.filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", ld.filter)
	}
	if ld.nameOnly != nil {
		dst = bsoncore.AppendBooleanElement(dst, "nameOnly", *ld.nameOnly)
	}
	if ld.authorizedDatabases != nil {
		dst = bsoncore.AppendBooleanElement(dst, "authorizedDatabases", *ld.authorizedDatabases)
	}
	return dst, nil
}

// Filter determines what results are returned from listDatabases.
func (ld *ListDatabases) Filter(filter bsoncore.Document) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}
	ld.filter = filter
	return ld
}

// NameOnly specifies whether to only return database names.
func (ld *ListDatabases) NameOnly(nameOnly bool) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}
	ld.nameOnly = &nameOnly
	return ld
}

// AuthorizedDatabases limits results to databases the connection's user is
// authorized to see.
func (ld *ListDatabases) AuthorizedDatabases(authorizedDatabases bool) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}
	ld.authorizedDatabases = &authorizedDatabases
	return ld
}

// Session sets the session for this operation.
func (ld *ListDatabases) Session(session *session.Client) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}
	ld.session = session
	return ld
}

// ClusterClock sets the cluster clock for this operation.
func (ld *ListDatabases) ClusterClock(clock *session.ClusterClock) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}
	ld.clock = clock
	return ld
}

// OperationContext sets the Operation Context for this operation.
func (ld *ListDatabases) OperationContext(opCtx *driver.OperationContext) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}
	ld.opCtx = opCtx
	return ld
}

// Deployment sets the deployment to use for this operation.
func (ld *ListDatabases) Deployment(deployment driver.Deployment) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}
	ld.deployment = deployment
	return ld
}

// Binding sets the connection-source binding to use for this operation.
func (ld *ListDatabases) Binding(binding driver.Binding) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}
	ld.binding = binding
	return ld
}

// ReadPreference sets the read preference used with this operation.
func (ld *ListDatabases) ReadPreference(rp *readpref.ReadPref) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}
	ld.readPreference = rp
	return ld
}

// ServerSelector sets the selector used to retrieve a server.
func (ld *ListDatabases) ServerSelector(selector description.ServerSelector) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}
	ld.selector = selector
	return ld
}

// RetryEnabled sets whether retryable reads apply to this operation.
func (ld *ListDatabases) RetryEnabled(enabled bool) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}
	ld.retryEnabled = enabled
	return ld
}

// ListCollections performs a listCollections operation, as
// x/mongo/driver/operation/list_collections.go does, generalized onto
// this core's driver.Operation and driver.BatchCursor.
type ListCollections struct {
	filter   bsoncore.Document
	nameOnly *bool

	session        *session.Client
	clock          *session.ClusterClock
	opCtx          *driver.OperationContext
	database       string
	deployment     driver.Deployment
	binding        driver.Binding
	readPreference *readpref.ReadPref
	selector       description.ServerSelector
	retryEnabled   bool

	result *driver.BatchCursor
}

// NewListCollections constructs and returns a new ListCollections.
func NewListCollections(filter bsoncore.Document) *ListCollections {
	return &ListCollections{filter: filter}
}

// Result returns the Command Batch Cursor this operation produced, with
// each document's "name" projected from "db.coll" down to "coll" by
// driver.ListCollectionsBatchCursor.
func (lc *ListCollections) Result() (*driver.ListCollectionsBatchCursor, error) {
	if lc.result == nil {
		return nil, errors.New("ListCollections.Result called before a successful Execute")
	}
	return driver.NewListCollectionsBatchCursor(lc.result, lc.database)
}

func (lc *ListCollections) processResponse(info driver.ResponseInfo) error {
	resp, err := driver.NewCursorResponse(info.Response, info.ServerDesc.Addr)
	if err != nil {
		return err
	}
	bc, err := driver.NewBatchCursor(driver.BatchCursorConfig{
		Response:       resp,
		Source:         info.Source,
		PinnedConn:     info.PinnedConn,
		MaxWireVersion: info.ConnDesc.MaxWireVersion,
		OpCtx:          lc.opCtx,
	})
	if err != nil {
		return err
	}
	lc.result = bc
	return nil
}

// Execute runs this operation and returns an error if it did not execute
// successfully.
func (lc *ListCollections) Execute(ctx context.Context) error {
	if lc.deployment == nil && lc.binding == nil {
		return errors.New("the ListCollections operation must have a Deployment or Binding set before Execute can be called")
	}
	err := driver.Operation{
		CommandName:       "listCollections",
		CommandFn:         lc.command,
		ProcessResponseFn: lc.processResponse,
		Kind:              driver.Read,
		Client:            lc.session,
		Clock:             lc.clock,
		Database:          lc.database,
		Deployment:        lc.deployment,
		Binding:           lc.binding,
		ReadPreference:    lc.readPreference,
		Selector:          lc.selector,
		RetryEnabled:      lc.retryEnabled,
	}.Execute(ctx, lc.opCtx)
	if err == nil {
		return nil
	}
	bc, err := recoverAsEmptyCursor(err, driver.Namespace{DB: lc.database})
	if err != nil {
		return err
	}
	lc.result = bc
	return nil
}

func (lc *ListCollections) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "listCollections", 1)
	if lc.filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", lc.filter)
	}
	if lc.nameOnly != nil {
		dst = bsoncore.AppendBooleanElement(dst, "nameOnly", *lc.nameOnly)
	}
	return dst, nil
}

// Filter determines what results are returned from listCollections.
func (lc *ListCollections) Filter(filter bsoncore.Document) *ListCollections {
	if lc == nil {
		lc = new(ListCollections)
	}
	lc.filter = filter
	return lc
}

// NameOnly specifies whether to only return collection names.
func (lc *ListCollections) NameOnly(nameOnly bool) *ListCollections {
	if lc == nil {
		lc = new(ListCollections)
	}
	lc.nameOnly = &nameOnly
	return lc
}

// Session sets the session for this operation.
func (lc *ListCollections) Session(session *session.Client) *ListCollections {
	if lc == nil {
		lc = new(ListCollections)
	}
	lc.session = session
	return lc
}

// ClusterClock sets the cluster clock for this operation.
func (lc *ListCollections) ClusterClock(clock *session.ClusterClock) *ListCollections {
	if lc == nil {
		lc = new(ListCollections)
	}
	lc.clock = clock
	return lc
}

// OperationContext sets the Operation Context for this operation.
func (lc *ListCollections) OperationContext(opCtx *driver.OperationContext) *ListCollections {
	if lc == nil {
		lc = new(ListCollections)
	}
	lc.opCtx = opCtx
	return lc
}

// Database sets the database to run this operation against.
func (lc *ListCollections) Database(database string) *ListCollections {
	if lc == nil {
		lc = new(ListCollections)
	}
	lc.database = database
	return lc
}

// Deployment sets the deployment to use for this operation.
func (lc *ListCollections) Deployment(deployment driver.Deployment) *ListCollections {
	if lc == nil {
		lc = new(ListCollections)
	}
	lc.deployment = deployment
	return lc
}

// Binding sets the connection-source binding to use for this operation.
func (lc *ListCollections) Binding(binding driver.Binding) *ListCollections {
	if lc == nil {
		lc = new(ListCollections)
	}
	lc.binding = binding
	return lc
}

// ReadPreference sets the read preference used with this operation.
func (lc *ListCollections) ReadPreference(rp *readpref.ReadPref) *ListCollections {
	if lc == nil {
		lc = new(ListCollections)
	}
	lc.readPreference = rp
	return lc
}

// ServerSelector sets the selector used to retrieve a server.
func (lc *ListCollections) ServerSelector(selector description.ServerSelector) *ListCollections {
	if lc == nil {
		lc = new(ListCollections)
	}
	lc.selector = selector
	return lc
}

// RetryEnabled sets whether retryable reads apply to this operation.
func (lc *ListCollections) RetryEnabled(enabled bool) *ListCollections {
	if lc == nil {
		lc = new(ListCollections)
	}
	lc.retryEnabled = enabled
	return lc
}

// ListIndexes performs a listIndexes operation.
type ListIndexes struct {
	batchSize *int32

	session        *session.Client
	clock          *session.ClusterClock
	opCtx          *driver.OperationContext
	database       string
	collection     string
	deployment     driver.Deployment
	binding        driver.Binding
	readPreference *readpref.ReadPref
	selector       description.ServerSelector
	retryEnabled   bool

	result *driver.BatchCursor
}

// NewListIndexes constructs and returns a new ListIndexes.
func NewListIndexes() *ListIndexes { return &ListIndexes{} }

// Result returns the Command Batch Cursor this operation produced.
func (li *ListIndexes) Result() *driver.BatchCursor { return li.result }

func (li *ListIndexes) processResponse(info driver.ResponseInfo) error {
	resp, err := driver.NewCursorResponse(info.Response, info.ServerDesc.Addr)
	if err != nil {
		return err
	}
	batchSize := int32(0)
	if li.batchSize != nil {
		batchSize = *li.batchSize
	}
	bc, err := driver.NewBatchCursor(driver.BatchCursorConfig{
		Response:       resp,
		Source:         info.Source,
		PinnedConn:     info.PinnedConn,
		BatchSize:      batchSize,
		MaxWireVersion: info.ConnDesc.MaxWireVersion,
		OpCtx:          li.opCtx,
	})
	if err != nil {
		return err
	}
	li.result = bc
	return nil
}

// Execute runs this operation and returns an error if it did not execute
// successfully.
func (li *ListIndexes) Execute(ctx context.Context) error {
	if li.deployment == nil && li.binding == nil {
		return errors.New("the ListIndexes operation must have a Deployment or Binding set before Execute can be called")
	}
	err := driver.Operation{
		CommandName:       "listIndexes",
		CommandFn:         li.command,
		ProcessResponseFn: li.processResponse,
		Kind:              driver.Read,
		Client:            li.session,
		Clock:             li.clock,
		Database:          li.database,
		Deployment:        li.deployment,
		Binding:           li.binding,
		ReadPreference:    li.readPreference,
		Selector:          li.selector,
		RetryEnabled:      li.retryEnabled,
	}.Execute(ctx, li.opCtx)
	if err == nil {
		return nil
	}
	bc, err := recoverAsEmptyCursor(err, driver.Namespace{DB: li.database, Collection: li.collection})
	if err != nil {
		return err
	}
	li.result = bc
	return nil
}

func (li *ListIndexes) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "listIndexes", li.collection)
	if li.batchSize != nil {
		cidx, cdst := bsoncore.AppendDocumentElementStart(dst, "cursor")
		cdst = bsoncore.AppendInt32Element(cdst, "batchSize", *li.batchSize)
		dst, _ = bsoncore.AppendDocumentEnd(cdst, cidx)
	}
	return dst, nil
}

// BatchSize specifies the number of index specs to return in every batch.
func (li *ListIndexes) BatchSize(batchSize int32) *ListIndexes {
	if li == nil {
		li = new(ListIndexes)
	}
	li.batchSize = &batchSize
	return li
}

// Session sets the session for this operation.
func (li *ListIndexes) Session(session *session.Client) *ListIndexes {
	if li == nil {
		li = new(ListIndexes)
	}
	li.session = session
	return li
}

// ClusterClock sets the cluster clock for this operation.
func (li *ListIndexes) ClusterClock(clock *session.ClusterClock) *ListIndexes {
	if li == nil {
		li = new(ListIndexes)
	}
	li.clock = clock
	return li
}

// OperationContext sets the Operation Context for this operation.
func (li *ListIndexes) OperationContext(opCtx *driver.OperationContext) *ListIndexes {
	if li == nil {
		li = new(ListIndexes)
	}
	li.opCtx = opCtx
	return li
}

// Database sets the database to run this operation against.
func (li *ListIndexes) Database(database string) *ListIndexes {
	if li == nil {
		li = new(ListIndexes)
	}
	li.database = database
	return li
}

// Collection sets the collection this operation targets.
func (li *ListIndexes) Collection(collection string) *ListIndexes {
	if li == nil {
		li = new(ListIndexes)
	}
	li.collection = collection
	return li
}

// Deployment sets the deployment to use for this operation.
func (li *ListIndexes) Deployment(deployment driver.Deployment) *ListIndexes {
	if li == nil {
		li = new(ListIndexes)
	}
	li.deployment = deployment
	return li
}

// Binding sets the connection-source binding to use for this operation.
func (li *ListIndexes) Binding(binding driver.Binding) *ListIndexes {
	if li == nil {
		li = new(ListIndexes)
	}
	li.binding = binding
	return li
}

// ReadPreference sets the read preference used with this operation.
func (li *ListIndexes) ReadPreference(rp *readpref.ReadPref) *ListIndexes {
	if li == nil {
		li = new(ListIndexes)
	}
	li.readPreference = rp
	return li
}

// ServerSelector sets the selector used to retrieve a server.
func (li *ListIndexes) ServerSelector(selector description.ServerSelector) *ListIndexes {
	if li == nil {
		li = new(ListIndexes)
	}
	li.selector = selector
	return li
}

// RetryEnabled sets whether retryable reads apply to this operation.
func (li *ListIndexes) RetryEnabled(enabled bool) *ListIndexes {
	if li == nil {
		li = new(ListIndexes)
	}
	li.retryEnabled = enabled
	return li
}
