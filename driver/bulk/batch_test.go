package bulk

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/internal/assert"
)

func docOfSize(n int) bsoncore.Document {
	return make(bsoncore.Document, n)
}

func TestSplitIntoBatchesGroupsMaximalRuns(t *testing.T) {
	desc := description.SelectedServer{
		Server: description.Server{MaxBatchCount: 1000, MaxMessageSize: 1 << 20, MaxDocumentSize: 1 << 16},
	}
	requests := []Request{
		{Kind: InsertRequest, Document: docOfSize(10), Retryable: true},
		{Kind: InsertRequest, Document: docOfSize(10), Retryable: true},
		{Kind: UpdateRequest, Document: docOfSize(10), Retryable: true},
		{Kind: DeleteRequest, Document: docOfSize(10), Retryable: true},
		{Kind: DeleteRequest, Document: docOfSize(10), Retryable: true},
	}

	batches, err := SplitIntoBatches(requests, desc)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(batches))
	assert.Equal(t, InsertRequest, batches[0].Kind)
	assert.Equal(t, 2, len(batches[0].Requests))
	assert.Equal(t, 0, batches[0].StartIndex)
	assert.Equal(t, UpdateRequest, batches[1].Kind)
	assert.Equal(t, 2, batches[1].StartIndex)
	assert.Equal(t, DeleteRequest, batches[2].Kind)
	assert.Equal(t, 2, len(batches[2].Requests))
	assert.Equal(t, 3, batches[2].StartIndex)
}

func TestSplitIntoBatchesRespectsMaxCount(t *testing.T) {
	desc := description.SelectedServer{
		Server: description.Server{MaxBatchCount: 2, MaxMessageSize: 1 << 20, MaxDocumentSize: 1 << 16},
	}
	requests := make([]Request, 5)
	for i := range requests {
		requests[i] = Request{Kind: InsertRequest, Document: docOfSize(10), Retryable: true}
	}

	batches, err := SplitIntoBatches(requests, desc)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(batches))
	assert.Equal(t, 2, len(batches[0].Requests))
	assert.Equal(t, 2, len(batches[1].Requests))
	assert.Equal(t, 1, len(batches[2].Requests))
	assert.Equal(t, 4, batches[2].StartIndex)
}

func TestSplitIntoBatchesRespectsTargetSize(t *testing.T) {
	desc := description.SelectedServer{
		Server: description.Server{MaxBatchCount: 1000, MaxMessageSize: reservedCommandBufferBytes + 25, MaxDocumentSize: 1 << 16},
	}
	requests := []Request{
		{Kind: InsertRequest, Document: docOfSize(10), Retryable: true},
		{Kind: InsertRequest, Document: docOfSize(10), Retryable: true},
		{Kind: InsertRequest, Document: docOfSize(10), Retryable: true},
	}

	batches, err := SplitIntoBatches(requests, desc)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(batches))
	assert.Equal(t, 2, len(batches[0].Requests))
	assert.Equal(t, 1, len(batches[1].Requests))
}

func TestSplitIntoBatchesOversizedDocumentGetsOwnBatch(t *testing.T) {
	desc := description.SelectedServer{
		Server: description.Server{MaxBatchCount: 1000, MaxMessageSize: 1 << 20, MaxDocumentSize: 100},
	}
	requests := []Request{
		{Kind: InsertRequest, Document: docOfSize(10), Retryable: true},
		{Kind: InsertRequest, Document: docOfSize(500), Retryable: true},
		{Kind: InsertRequest, Document: docOfSize(10), Retryable: true},
	}

	batches, err := SplitIntoBatches(requests, desc)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(batches))
	assert.Equal(t, 1, len(batches[0].Requests))
	assert.Equal(t, 1, len(batches[1].Requests))
	assert.Equal(t, 1, len(batches[2].Requests))
}

func TestSplitIntoBatchesNonRetryableRequestMakesBatchNonRetryable(t *testing.T) {
	desc := description.SelectedServer{
		Server: description.Server{MaxBatchCount: 1000, MaxMessageSize: 1 << 20, MaxDocumentSize: 1 << 16},
	}
	requests := []Request{
		{Kind: UpdateRequest, Document: docOfSize(10), Retryable: true},
		{Kind: UpdateRequest, Document: docOfSize(10), Retryable: false}, // multi:true update.
	}

	batches, err := SplitIntoBatches(requests, desc)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(batches))
	assert.False(t, batches[0].Retryable)
}
