package operation

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/driver/drivertest"
	"github.com/shardwire/mongocore/internal/assert"
)

// nsNotFoundHandler simulates a Connection whose Command already decoded
// an {ok:0, code:26, errmsg:"ns not found"} reply into a *driver.CommandError,
// the contract driver.Connection.Command documents.
func nsNotFoundHandler(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
	return nil, &driver.CommandError{Code: 26, Name: "NamespaceNotFound", Message: "ns not found"}
}

// spec.md §8 Scenario D: a listCollections reply of {ok:0, code:26,
// errmsg:"ns not found"} recovers to an empty batch cursor whose close
// issues no killCursors, instead of propagating the error.
func TestListCollectionsRecoversNamespaceNotFoundToEmptyCursor(t *testing.T) {
	conn := drivertest.NewConnection(nsNotFoundHandler)
	srv := &drivertest.Server{Desc: primaryDesc(), Conn: conn}
	binding := &drivertest.Binding{Source: drivertest.NewConnectionSource(srv)}

	lc := NewListCollections(nil).Database("testdb").Binding(binding)
	err := lc.Execute(context.Background())
	assert.NoError(t, err)

	cursor, err := lc.Result()
	assert.NoError(t, err)
	assert.False(t, cursor.Next(context.Background()))
	assert.Nil(t, cursor.Err())

	assert.NoError(t, cursor.Close(context.Background()))
	assert.Equal(t, int32(1), conn.Calls()) // only the original listCollections call; no killCursors.
}

func TestListIndexesRecoversNamespaceNotFoundToEmptyCursor(t *testing.T) {
	conn := drivertest.NewConnection(nsNotFoundHandler)
	srv := &drivertest.Server{Desc: primaryDesc(), Conn: conn}
	binding := &drivertest.Binding{Source: drivertest.NewConnectionSource(srv)}

	li := NewListIndexes().Database("testdb").Collection("testcoll").Binding(binding)
	err := li.Execute(context.Background())
	assert.NoError(t, err)

	cursor := li.Result()
	assert.NotNil(t, cursor)
	assert.False(t, cursor.Next(context.Background()))
	assert.NoError(t, cursor.Close(context.Background()))
	assert.Equal(t, int32(1), conn.Calls())
}

// A $listSearchIndexes aggregate gets the same recovery (spec.md §6, §7),
// even though it reaches the server as an ordinary aggregate command.
func TestAggregateListSearchIndexesRecoversNamespaceNotFound(t *testing.T) {
	conn := drivertest.NewConnection(nsNotFoundHandler)
	srv := &drivertest.Server{Desc: primaryDesc(), Conn: conn}
	binding := &drivertest.Binding{Source: drivertest.NewConnectionSource(srv)}

	stageIdx, stageDst := bsoncore.AppendDocumentStart(nil)
	nestedIdx, nestedDst := bsoncore.AppendDocumentElementStart(stageDst, "$listSearchIndexes")
	nestedDst, _ = bsoncore.AppendDocumentEnd(nestedDst, nestedIdx)
	stage, _ := bsoncore.AppendDocumentEnd(nestedDst, stageIdx)

	pipelineIdx, pipelineDst := bsoncore.AppendArrayStart(nil)
	pipelineDst = bsoncore.AppendDocumentElement(pipelineDst, "0", stage)
	pipeline, _ := bsoncore.AppendArrayEnd(pipelineDst, pipelineIdx)

	agg := NewAggregate(pipeline).Database("testdb").Collection("testcoll").Binding(binding)
	err := agg.Execute(context.Background())
	assert.NoError(t, err)

	cursor := agg.Result()
	assert.NotNil(t, cursor)
	assert.False(t, cursor.Next(context.Background()))
	assert.NoError(t, cursor.Close(context.Background()))
	assert.Equal(t, int32(1), conn.Calls())
}

// An ordinary aggregate (no $listSearchIndexes stage) must not get the
// recovery: NamespaceNotFound should propagate like any other error.
func TestAggregateWithoutListSearchIndexesPropagatesNamespaceNotFound(t *testing.T) {
	conn := drivertest.NewConnection(nsNotFoundHandler)
	srv := &drivertest.Server{Desc: primaryDesc(), Conn: conn}
	binding := &drivertest.Binding{Source: drivertest.NewConnectionSource(srv)}

	matchIdx, matchDst := bsoncore.AppendDocumentStart(nil)
	innerIdx, innerDst := bsoncore.AppendDocumentElementStart(matchDst, "$match")
	innerDst, _ = bsoncore.AppendDocumentEnd(innerDst, innerIdx)
	stage, _ := bsoncore.AppendDocumentEnd(innerDst, matchIdx)

	pipelineIdx, pipelineDst := bsoncore.AppendArrayStart(nil)
	pipelineDst = bsoncore.AppendDocumentElement(pipelineDst, "0", stage)
	pipeline, _ := bsoncore.AppendArrayEnd(pipelineDst, pipelineIdx)

	agg := NewAggregate(pipeline).Database("testdb").Collection("testcoll").Binding(binding)
	err := agg.Execute(context.Background())
	assert.Error(t, err)
	assert.True(t, driver.IsNamespaceNotFound(err))
	assert.Nil(t, agg.Result())
}

// A non-NamespaceNotFound error must still propagate from listCollections.
func TestListCollectionsPropagatesOtherErrors(t *testing.T) {
	conn := drivertest.NewConnection(func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		return nil, &driver.CommandError{Code: 13, Name: "Unauthorized", Message: "not authorized"}
	})
	srv := &drivertest.Server{Desc: primaryDesc(), Conn: conn}
	binding := &drivertest.Binding{Source: drivertest.NewConnectionSource(srv)}

	lc := NewListCollections(nil).Database("testdb").Binding(binding)
	err := lc.Execute(context.Background())
	assert.Error(t, err)
}
