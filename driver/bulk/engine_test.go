package bulk

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/driver/drivertest"
	"github.com/shardwire/mongocore/internal/assert"
)

func writableServerDesc() description.SelectedServer {
	return description.SelectedServer{
		Server: description.Server{
			Addr:            "localhost:27017",
			Kind:            description.RSPrimary,
			MaxBatchCount:   2,
			MaxDocumentSize: 1 << 16,
			MaxMessageSize:  1 << 20,
		},
		Kind: description.TopologyReplicaSetWithPrimary,
	}
}

func okReply() bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "n", 1)
	dst = bsoncore.AppendDoubleElement(dst, "ok", 1)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func replyWithWriteError(index int) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "n", 0)
	dst = bsoncore.AppendDoubleElement(dst, "ok", 1)
	arrIdx, dst2 := bsoncore.AppendArrayElementStart(dst, "writeErrors")
	errIdx, dst3 := bsoncore.AppendDocumentElementStart(dst2, "0")
	dst3 = bsoncore.AppendInt32Element(dst3, "index", int32(index))
	dst3 = bsoncore.AppendInt32Element(dst3, "code", 11000)
	dst3 = bsoncore.AppendStringElement(dst3, "errmsg", "duplicate key")
	dst2, _ = bsoncore.AppendDocumentEnd(dst3, errIdx)
	dst, _ = bsoncore.AppendArrayEnd(dst2, arrIdx)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func fakeEngine(handler drivertest.CommandHandler) (*Engine, *drivertest.Connection) {
	conn := drivertest.NewConnection(handler)
	srv := &drivertest.Server{Desc: writableServerDesc(), Conn: conn}
	source := drivertest.NewConnectionSource(srv)
	binding := &drivertest.Binding{Source: source}

	return &Engine{
		Ordered:            true,
		RetryWritesEnabled: false,
		Database:           "testdb",
		Collection:         "testcoll",
		Binding:            binding,
		Selector:           nil,
	}, conn
}

// Scenario E: ordered bulk write, middle item fails. Requests are
// {insert, insert, insert} split as two batches ([0,1], [2]) by the 2-item
// maxWriteBatchSize above; the first batch's second item fails, so the
// second batch must never execute.
func TestEngineOrderedStopsAfterFailingBatch(t *testing.T) {
	calls := 0
	eng, conn := fakeEngine(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		calls++
		if calls == 1 {
			return replyWithWriteError(1), nil
		}
		return okReply(), nil
	})

	requests := []Request{
		{Kind: InsertRequest, Document: docOfSize(4), Retryable: true},
		{Kind: InsertRequest, Document: docOfSize(4), Retryable: true},
		{Kind: InsertRequest, Document: docOfSize(4), Retryable: true},
	}

	result, err := eng.Execute(context.Background(), requests)
	assert.Error(t, err)
	assert.Equal(t, int32(1), conn.Calls())
	assert.Equal(t, 1, result.BatchesExecuted)
	assert.Equal(t, 1, len(result.WriteErrors))
	assert.Equal(t, 1, result.WriteErrors[0].Index) // re-based onto the global request list.
}

func TestEngineUnorderedRunsEveryBatch(t *testing.T) {
	calls := 0
	eng, conn := fakeEngine(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		calls++
		if calls == 1 {
			return replyWithWriteError(1), nil
		}
		return okReply(), nil
	})
	eng.Ordered = false

	requests := []Request{
		{Kind: InsertRequest, Document: docOfSize(4), Retryable: true},
		{Kind: InsertRequest, Document: docOfSize(4), Retryable: true},
		{Kind: InsertRequest, Document: docOfSize(4), Retryable: true},
	}

	result, err := eng.Execute(context.Background(), requests)
	assert.Error(t, err)
	assert.Equal(t, int32(2), conn.Calls())
	assert.Equal(t, 2, result.BatchesExecuted)
	assert.Equal(t, 1, len(result.WriteErrors))
}

func TestEngineMergesUpsertedIDs(t *testing.T) {
	eng, _ := fakeEngine(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		idx, dst := bsoncore.AppendDocumentStart(nil)
		dst = bsoncore.AppendInt32Element(dst, "n", 1)
		dst = bsoncore.AppendDoubleElement(dst, "ok", 1)
		arrIdx, dst2 := bsoncore.AppendArrayElementStart(dst, "upserted")
		elIdx, dst3 := bsoncore.AppendDocumentElementStart(dst2, "0")
		dst3 = bsoncore.AppendInt32Element(dst3, "index", 0)
		dst3 = bsoncore.AppendInt32Element(dst3, "_id", 42)
		dst2, _ = bsoncore.AppendDocumentEnd(dst3, elIdx)
		dst, _ = bsoncore.AppendArrayEnd(dst2, arrIdx)
		dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
		return dst, nil
	})

	requests := []Request{
		{Kind: UpdateRequest, Document: docOfSize(4), Retryable: true},
	}

	result, err := eng.Execute(context.Background(), requests)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(result.UpsertedIDs))
	val, ok := result.UpsertedIDs[0]
	assert.True(t, ok)
	i, ok := val.AsInt32OK()
	assert.True(t, ok)
	assert.Equal(t, int32(42), i)
}

func TestEngineNoRequestsIsANoop(t *testing.T) {
	eng, conn := fakeEngine(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		t.Fatal("Command should not be called for an empty request list")
		return nil, nil
	})

	result, err := eng.Execute(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, int32(0), conn.Calls())
	assert.Equal(t, 0, result.BatchesExecuted)
}

func TestEngineReleasesConnectionSourcePerBatch(t *testing.T) {
	eng, conn := fakeEngine(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		return okReply(), nil
	})

	requests := []Request{
		{Kind: InsertRequest, Document: docOfSize(4), Retryable: true},
	}

	_, err := eng.Execute(context.Background(), requests)
	assert.NoError(t, err)
	assert.Equal(t, int32(1), conn.Calls())

	source := eng.Binding.(*drivertest.Binding).Source
	// One retain for selectedServerDescription's own probe (released
	// immediately), one for the Insert operation's acquireSource: both
	// must balance back to the initial retain count of 1.
	assert.Equal(t, int32(1), source.Retains())
}

var _ driver.Binding = (*drivertest.Binding)(nil)
