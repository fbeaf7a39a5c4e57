package operation

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver/drivertest"
	"github.com/shardwire/mongocore/internal/assert"
)

func primaryDesc() description.SelectedServer {
	return description.SelectedServer{
		Server: description.Server{
			Addr: "localhost:27017",
			Kind: description.RSPrimary,
		},
		Kind: description.TopologyReplicaSetWithPrimary,
	}
}

func emptyCursorReply() bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	cidx, dst2 := bsoncore.AppendDocumentElementStart(dst, "cursor")
	dst2 = bsoncore.AppendInt64Element(dst2, "id", 0)
	dst2 = bsoncore.AppendStringElement(dst2, "ns", "testdb.testcoll")
	aidx, dst3 := bsoncore.AppendArrayElementStart(dst2, "firstBatch")
	dst3, _ = bsoncore.AppendArrayEnd(dst3, aidx)
	dst, _ = bsoncore.AppendDocumentEnd(dst3, cidx)
	dst = bsoncore.AppendDoubleElement(dst, "ok", 1)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

// At-most-one-retry (spec.md §8 property 2): a transient network error on
// the first attempt is retried exactly once against a fresh connection
// source, and a second failure is not retried again.
func TestFindRetriesExactlyOnceOnNetworkError(t *testing.T) {
	calls := 0
	conn := drivertest.NewConnection(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return emptyCursorReply(), nil
	})
	srv := &drivertest.Server{Desc: primaryDesc(), Conn: conn}
	binding := &drivertest.Binding{Source: drivertest.NewConnectionSource(srv)}

	f := NewFind(nil).
		Database("testdb").
		Collection("testcoll").
		Binding(binding).
		RetryEnabled(true)

	err := f.Execute(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int32(2), conn.Calls())
}

func TestFindDoesNotRetryWhenDisabled(t *testing.T) {
	calls := 0
	conn := drivertest.NewConnection(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		calls++
		return nil, errors.New("connection reset by peer")
	})
	srv := &drivertest.Server{Desc: primaryDesc(), Conn: conn}
	binding := &drivertest.Binding{Source: drivertest.NewConnectionSource(srv)}

	f := NewFind(nil).
		Database("testdb").
		Collection("testcoll").
		Binding(binding).
		RetryEnabled(false)

	err := f.Execute(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(1), conn.Calls())
}

func TestFindSecondFailureIsNotRetriedAgain(t *testing.T) {
	calls := 0
	conn := drivertest.NewConnection(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		calls++
		return nil, errors.New("connection reset by peer")
	})
	srv := &drivertest.Server{Desc: primaryDesc(), Conn: conn}
	binding := &drivertest.Binding{Source: drivertest.NewConnectionSource(srv)}

	f := NewFind(nil).
		Database("testdb").
		Collection("testcoll").
		Binding(binding).
		RetryEnabled(true)

	err := f.Execute(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(2), conn.Calls())
}

func TestFindBuildsFilterAndOptions(t *testing.T) {
	filter := bsoncore.NewDocumentBuilder().AppendInt32("x", 1).Build()

	var captured bsoncore.Document
	conn := drivertest.NewConnection(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		captured = cmd
		return emptyCursorReply(), nil
	})
	srv := &drivertest.Server{Desc: primaryDesc(), Conn: conn}
	binding := &drivertest.Binding{Source: drivertest.NewConnectionSource(srv)}

	f := NewFind(filter).
		Database("testdb").
		Collection("testcoll").
		Binding(binding).
		Limit(5)

	err := f.Execute(context.Background())
	assert.NoError(t, err)

	collVal, err := captured.LookupErr("find")
	assert.NoError(t, err)
	coll, ok := collVal.StringValueOK()
	assert.True(t, ok)
	assert.Equal(t, "testcoll", coll)

	limitVal, err := captured.LookupErr("limit")
	assert.NoError(t, err)
	limit, ok := limitVal.AsInt64OK()
	assert.True(t, ok)
	assert.Equal(t, int64(5), limit)
}
