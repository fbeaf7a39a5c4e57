// Package bulk implements the Bulk Write Engine (spec.md §4.6): it groups
// a heterogeneous request list into maximal same-type runs, splits each
// run further to respect server-imposed batching limits, and executes the
// resulting batches with per-batch retry tracking.
package bulk

import (
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
)

// RequestKind tags the Bulk Write Request union (spec.md §4.6 property 1).
type RequestKind uint8

// RequestKind values.
const (
	InsertRequest RequestKind = iota
	UpdateRequest
	DeleteRequest
)

// Request is one element of a bulk write's request list. Only the fields
// relevant to its Kind are set; Document is the server-shaped element
// that goes straight into the command's documents/updates/deletes array
// (e.g. {q, u, multi, upsert} for an update), built by the caller, since
// shaping an individual update/delete/insert document belongs to the
// public API layer, not this engine.
type Request struct {
	Kind     RequestKind
	Document bsoncore.Document

	// Retryable is false for a request this engine must never retry even
	// when the operation overall has retryWrites enabled: a multi:true
	// update or a limit:0 delete (spec.md §4.6's bulk edge case).
	Retryable bool
}

// Batch is a Bulk Write Batch (spec.md §4.6): a maximal consecutive run of
// same-kind requests further split to fit server limits.
type Batch struct {
	Kind      RequestKind
	Requests  []Request
	StartIndex int // index of Requests[0] within the original request list.
	Retryable bool
}

// reservedCommandBufferBytes mirrors the teacher's core/command/insert.go
// constant: space reserved in a batch for the surrounding command
// envelope (the verb, $db, lsid, writeConcern, ...) so a batch built right
// up to maxMessageSizeBytes still fits once wrapped.
const reservedCommandBufferBytes = 16 * 10 * 10 * 10

// SplitIntoBatches groups requests into maximal consecutive same-kind runs
// and splits each run so that no batch exceeds the selected server's
// maxWriteBatchSize (MaxBatchCount), maxMessageSizeBytes (MaxMessageSize),
// or maxBsonObjectSize (MaxDocumentSize), per spec.md §4.6 steps 1-2.
func SplitIntoBatches(requests []Request, desc description.SelectedServer) ([]Batch, error) {
	var batches []Batch

	maxCount := desc.MaxBatchCount
	if maxCount <= 0 {
		maxCount = 1
	}
	targetBatchSize := desc.MaxMessageSize
	if targetBatchSize > reservedCommandBufferBytes {
		targetBatchSize -= reservedCommandBufferBytes
	}
	maxDocSize := desc.MaxDocumentSize

	start := 0
	for start < len(requests) {
		kind := requests[start].Kind
		runEnd := start + 1
		for runEnd < len(requests) && requests[runEnd].Kind == kind {
			runEnd++
		}

		runBatches := splitRun(requests[start:runEnd], start, maxCount, targetBatchSize, maxDocSize)
		batches = append(batches, runBatches...)
		start = runEnd
	}

	return batches, nil
}

// splitRun applies the teacher's size-accumulating split algorithm
// (core/command/insert.go's split) to a single same-kind run.
func splitRun(run []Request, runStart, maxCount, targetBatchSize, maxDocSize int) []Batch {
	var batches []Batch

	idx := 0
	for idx < len(run) {
		var batch []Request
		size := 0
		batchStart := runStart + idx
		retryable := true

		for idx < len(run) {
			docSize := len(run[idx].Document)
			if docSize > maxDocSize {
				// A single document over the limit still forms its own
				// batch; the server will reject it, surfacing the error
				// through the normal write-error path.
				if len(batch) == 0 {
					batch = append(batch, run[idx])
					retryable = retryable && run[idx].Retryable
					idx++
				}
				break
			}
			if size+docSize > targetBatchSize && len(batch) > 0 {
				break
			}
			batch = append(batch, run[idx])
			retryable = retryable && run[idx].Retryable
			size += docSize
			idx++
			if len(batch) == maxCount {
				break
			}
		}

		batches = append(batches, Batch{
			Kind:       run[0].Kind,
			Requests:   batch,
			StartIndex: batchStart,
			Retryable:  retryable,
		})
	}

	return batches
}
