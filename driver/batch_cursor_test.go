package driver

import (
	"context"
	"strconv"
	"testing"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver/drivertest"
	"github.com/shardwire/mongocore/internal/assert"
)

func oneDocBatch() []bsoncore.Document {
	return []bsoncore.Document{bsoncore.NewDocumentBuilder().AppendInt32("x", 1).Build()}
}

func cursorReply(id int64, batch []bsoncore.Document) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	cidx, dst2 := bsoncore.AppendDocumentElementStart(dst, "cursor")
	dst2 = bsoncore.AppendInt64Element(dst2, "id", id)
	dst2 = bsoncore.AppendStringElement(dst2, "ns", "testdb.testcoll")
	aidx, dst3 := bsoncore.AppendArrayElementStart(dst2, "nextBatch")
	for i, doc := range batch {
		dst3 = bsoncore.AppendDocumentElement(dst3, strconv.Itoa(i), doc)
	}
	dst3, _ = bsoncore.AppendArrayEnd(dst3, aidx)
	dst, _ = bsoncore.AppendDocumentEnd(dst3, cidx)
	dst = bsoncore.AppendDoubleElement(dst, "ok", 1)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func newTestCursor(t *testing.T, handler drivertest.CommandHandler, firstBatch []bsoncore.Document, firstID int64) (*BatchCursor, *drivertest.ConnectionSource) {
	t.Helper()
	conn := drivertest.NewConnection(handler)
	srv := &drivertest.Server{Desc: description.SelectedServer{Server: description.Server{Addr: "localhost:27017"}}, Conn: conn}
	source := drivertest.NewConnectionSource(srv)

	resp := CursorResponse{
		Namespace: Namespace{DB: "testdb", Collection: "testcoll"},
		CursorID:  firstID,
		Batch:     firstBatch,
	}
	bc, err := NewBatchCursor(BatchCursorConfig{Response: resp, Source: source})
	assert.NoError(t, err)
	return bc, source
}

func TestBatchCursorDeliversFirstBatchWithoutGetMore(t *testing.T) {
	bc, _ := newTestCursor(t, func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		t.Fatal("getMore should not be issued when the first batch already exhausted the cursor")
		return nil, nil
	}, oneDocBatch(), 0)

	assert.True(t, bc.Next(context.Background()))
	assert.Equal(t, 1, len(bc.Batch()))
	assert.True(t, bc.IsClosed())
	assert.False(t, bc.Next(context.Background()))
	assert.Equal(t, ErrCursorClosed, bc.Err())
}

func TestBatchCursorRunsGetMoreUntilExhausted(t *testing.T) {
	calls := 0
	bc, source := newTestCursor(t, func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		calls++
		if calls == 1 {
			return cursorReply(77, oneDocBatch()), nil
		}
		return cursorReply(0, nil), nil
	}, oneDocBatch(), 42)

	assert.True(t, bc.Next(context.Background())) // first batch, embedded.
	assert.True(t, bc.Next(context.Background())) // getMore #1: one more doc, cursor still open.
	assert.False(t, bc.Next(context.Background())) // getMore #2: empty batch, cursor exhausted.
	assert.Nil(t, bc.Err())
	assert.Equal(t, 2, calls)
	assert.True(t, bc.IsClosed())

	// Self-close on exhaustion released the cursor's own retain, leaving
	// only the ConnectionSource's initial self-retain outstanding (spec.md
	// §8 property 1).
	assert.Equal(t, int32(1), source.Retains())
}

func TestBatchCursorRejectsConcurrentNext(t *testing.T) {
	bc, _ := newTestCursor(t, func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		return cursorReply(0, nil), nil
	}, oneDocBatch(), 7)

	err := bc.resources.tryStartOperation()
	assert.NoError(t, err)

	assert.False(t, bc.Next(context.Background()))
	assert.Equal(t, ErrConcurrentOperation, bc.Err())

	bc.resources.endOperation()
}

func TestBatchCursorCloseDuringInFlightOperationDefers(t *testing.T) {
	bc, source := newTestCursor(t, func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		return cursorReply(0, nil), nil
	}, nil, 9)

	assert.NoError(t, bc.resources.tryStartOperation())

	// Close arrives while an operation is in flight: it must defer rather
	// than run immediately.
	err := bc.Close(context.Background())
	assert.NoError(t, err)
	assert.False(t, bc.IsClosed())
	// The cursor's own retain (construction-time) is still outstanding
	// alongside the ConnectionSource's initial self-retain.
	assert.Equal(t, int32(2), source.Retains())

	// The in-flight operation's own endOperation call now sees
	// CLOSE_PENDING and must run the deferred close.
	if shouldClose := bc.resources.endOperation(); shouldClose {
		bc.runClose(context.Background())
	}
	assert.True(t, bc.IsClosed())
	assert.Equal(t, int32(1), source.Retains())
}
