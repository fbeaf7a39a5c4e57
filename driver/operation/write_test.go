package operation

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver/drivertest"
	"github.com/shardwire/mongocore/internal/assert"
	"github.com/shardwire/mongocore/session"
)

func retryableWriteServerDesc() description.SelectedServer {
	timeout := int64(30)
	return description.SelectedServer{
		Server: description.Server{
			Addr:                  "localhost:27017",
			Kind:                  description.RSPrimary,
			SessionTimeoutMinutes: &timeout,
		},
		Kind: description.TopologyReplicaSetWithPrimary,
	}
}

func writeOKReply() bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "n", 1)
	dst = bsoncore.AppendDoubleElement(dst, "ok", 1)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

// spec.md §4.2: a retried write reuses the same logical session and
// increments txnNumber only once per logical operation, never again on the
// retry attempt itself.
func TestInsertRetryDoesNotReincrementTxnNumber(t *testing.T) {
	var txnNumbersSeen []int64

	client := session.NewClientSession(nil, bson.Binary{Data: []byte{1, 2, 3, 4}, Subtype: 0x04}, false)

	conn := drivertest.NewConnection(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		if v, err := cmd.LookupErr("txnNumber"); err == nil {
			n, _ := v.AsInt64OK()
			txnNumbersSeen = append(txnNumbersSeen, n)
		}
		if len(txnNumbersSeen) == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return writeOKReply(), nil
	})
	srv := &drivertest.Server{Desc: retryableWriteServerDesc(), Conn: conn}
	binding := &drivertest.Binding{Source: drivertest.NewConnectionSource(srv)}

	doc := bsoncore.NewDocumentBuilder().AppendInt32("_id", 1).Build()
	ins := NewInsert(doc).
		Database("testdb").
		Collection("testcoll").
		Session(client).
		Binding(binding).
		RetryEnabled(true)

	err := ins.Execute(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int32(2), conn.Calls())
	assert.Equal(t, 2, len(txnNumbersSeen))
	assert.Equal(t, txnNumbersSeen[0], txnNumbersSeen[1])
	assert.Equal(t, int64(1), client.TxnNumber())
}

func TestInsertResultCapturesWriteConcernError(t *testing.T) {
	conn := drivertest.NewConnection(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		idx, dst := bsoncore.AppendDocumentStart(nil)
		dst = bsoncore.AppendInt32Element(dst, "n", 1)
		dst = bsoncore.AppendDoubleElement(dst, "ok", 1)
		wceIdx, dst2 := bsoncore.AppendDocumentElementStart(dst, "writeConcernError")
		dst2 = bsoncore.AppendInt32Element(dst2, "code", 64)
		dst2 = bsoncore.AppendStringElement(dst2, "errmsg", "waiting for replication timed out")
		dst, _ = bsoncore.AppendDocumentEnd(dst2, wceIdx)
		dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
		return dst, nil
	})
	srv := &drivertest.Server{Desc: retryableWriteServerDesc(), Conn: conn}
	binding := &drivertest.Binding{Source: drivertest.NewConnectionSource(srv)}

	doc := bsoncore.NewDocumentBuilder().AppendInt32("_id", 1).Build()
	ins := NewInsert(doc).Database("testdb").Collection("testcoll").Binding(binding)

	err := ins.Execute(context.Background())
	assert.Error(t, err)
	assert.NotNil(t, ins.Result().WriteConcernError)
	assert.Equal(t, int32(64), ins.Result().WriteConcernError.Code)
}
