package bulk

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/driver/operation"
	"github.com/shardwire/mongocore/session"
	"github.com/shardwire/mongocore/writeconcern"
)

// Result is the Bulk Write Engine's merged outcome across every batch it
// executed (spec.md §4.6): counts plus per-item errors re-indexed back
// into the caller's original request list, plus at most one write-concern
// error (the most recent one observed).
type Result struct {
	InsertedCount int64
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
	UpsertedIDs   map[int]bsoncore.Value // global request index -> _id.

	WriteErrors       []driver.WriteError // Index fields already re-based to the global request list.
	WriteConcernError *driver.WriteConcernError

	// RetriedBatches counts how many batches needed their one permitted
	// retry, surfaced for diagnostics the way command-monitoring listeners
	// in the real driver report retry attempts.
	RetriedBatches int

	// BatchesExecuted is how many of the split batches actually ran before
	// the engine stopped (less than len(batches) only under ordered=true
	// with a failing batch, per spec.md §4.6 step 3).
	BatchesExecuted int
}

// Engine is the Bulk Write Engine: it splits a heterogeneous request list
// into batches, executes them in order, and merges their results,
// honoring ordered/unordered semantics (spec.md §4.6).
type Engine struct {
	Ordered                  bool
	BypassDocumentValidation *bool
	RetryWritesEnabled       bool

	Session      *session.Client
	Clock        *session.ClusterClock
	OpCtx        *driver.OperationContext
	Database     string
	Collection   string
	Deployment   driver.Deployment
	Binding      driver.Binding
	WriteConcern *writeconcern.WriteConcern
	Selector     description.ServerSelector
}

// Execute splits requests into batches and runs them to completion,
// returning the merged Result. The first encountered error that is not a
// per-item write error (i.e. the whole command failed, such as a network
// error exhausting its retry) is returned directly, alongside the partial
// Result accumulated so far.
func (e *Engine) Execute(ctx context.Context, requests []Request) (Result, error) {
	var result Result
	result.UpsertedIDs = make(map[int]bsoncore.Value)

	if len(requests) == 0 {
		return result, nil
	}

	desc, err := e.selectedServerDescription(ctx)
	if err != nil {
		return result, err
	}

	batches, err := SplitIntoBatches(requests, desc)
	if err != nil {
		return result, err
	}

	for batchIdx, batch := range batches {
		tracker := NewBulkWriteTracker(batchIdx)

		wr, err := e.executeBatch(ctx, batch, tracker)
		result.BatchesExecuted++
		if tracker.Retried() {
			result.RetriedBatches++
		}

		e.mergeResult(&result, batch, wr)

		if err != nil {
			var wce *driver.WriteConcernError
			if errors.As(err, &wce) {
				result.WriteConcernError = wce
				if e.Ordered {
					break
				}
				continue
			}

			// A non-write-concern-error failure here means the whole
			// command failed (e.g. the retry itself failed), not just
			// individual items within it; the caller sees both the
			// partial merged Result and this error.
			if len(wr.WriteErrors) == 0 {
				return result, err
			}
		}

		if e.Ordered && len(wr.WriteErrors) > 0 {
			// spec.md §4.6 step 3: a batch's partial failure under
			// ordered=true terminates execution of all subsequent batches.
			break
		}
	}

	if len(result.WriteErrors) > 0 || result.WriteConcernError != nil {
		return result, &driver.BulkWriteError{
			WriteErrors:       result.WriteErrors,
			WriteConcernError: result.WriteConcernError,
		}
	}
	return result, nil
}

// selectedServerDescription picks a writable server solely to learn its
// batching limits (maxWriteBatchSize, maxMessageSizeBytes,
// maxBsonObjectSize) before any batch is built, mirroring how the
// teacher's Insert.Encode receives an already-selected
// description.SelectedServer from its caller.
func (e *Engine) selectedServerDescription(ctx context.Context) (description.SelectedServer, error) {
	if e.Binding != nil {
		source, err := e.Binding.GetWriteConnectionSource(ctx)
		if err != nil {
			return description.SelectedServer{}, err
		}
		defer source.Release()
		return source.ServerDescription(), nil
	}
	if e.Deployment != nil {
		srv, err := e.Deployment.SelectServer(ctx, e.Selector)
		if err != nil {
			return description.SelectedServer{}, err
		}
		return srv.Description(), nil
	}
	return description.SelectedServer{}, errors.New("the bulk Engine must have a Deployment or Binding set before Execute can be called")
}

func (e *Engine) executeBatch(ctx context.Context, batch Batch, tracker *BulkWriteTracker) (operation.WriteCommandResult, error) {
	retryEnabled := e.RetryWritesEnabled && batch.Retryable

	switch batch.Kind {
	case InsertRequest:
		docs := make([]bsoncore.Document, len(batch.Requests))
		for i, r := range batch.Requests {
			docs[i] = r.Document
		}
		ins := operation.NewInsert(docs...).
			Ordered(e.Ordered).
			Session(e.Session).
			ClusterClock(e.Clock).
			OperationContext(e.OpCtx).
			Database(e.Database).
			Collection(e.Collection).
			Deployment(e.Deployment).
			Binding(e.Binding).
			WriteConcern(e.WriteConcern).
			ServerSelector(e.Selector).
			RetryEnabled(retryEnabled)
		if e.BypassDocumentValidation != nil {
			ins = ins.BypassDocumentValidation(*e.BypassDocumentValidation)
		}
		err := ins.Execute(ctx)
		res := ins.Result()
		tracker.RecordAttempt(res.AttemptIndex)
		return res, err

	case UpdateRequest:
		docs := make([]bsoncore.Document, len(batch.Requests))
		for i, r := range batch.Requests {
			docs[i] = r.Document
		}
		upd := operation.NewUpdate(docs...).
			Ordered(e.Ordered).
			Session(e.Session).
			ClusterClock(e.Clock).
			OperationContext(e.OpCtx).
			Database(e.Database).
			Collection(e.Collection).
			Deployment(e.Deployment).
			Binding(e.Binding).
			WriteConcern(e.WriteConcern).
			ServerSelector(e.Selector).
			RetryEnabled(retryEnabled)
		if e.BypassDocumentValidation != nil {
			upd = upd.BypassDocumentValidation(*e.BypassDocumentValidation)
		}
		err := upd.Execute(ctx)
		res := upd.Result()
		tracker.RecordAttempt(res.AttemptIndex)
		return res, err

	case DeleteRequest:
		docs := make([]bsoncore.Document, len(batch.Requests))
		for i, r := range batch.Requests {
			docs[i] = r.Document
		}
		del := operation.NewDelete(docs...).
			Ordered(e.Ordered).
			Session(e.Session).
			ClusterClock(e.Clock).
			OperationContext(e.OpCtx).
			Database(e.Database).
			Collection(e.Collection).
			Deployment(e.Deployment).
			Binding(e.Binding).
			WriteConcern(e.WriteConcern).
			ServerSelector(e.Selector).
			RetryEnabled(retryEnabled)
		err := del.Execute(ctx)
		res := del.Result()
		tracker.RecordAttempt(res.AttemptIndex)
		return res, err
	}

	return operation.WriteCommandResult{}, errors.New("unrecognized bulk write request kind")
}

// mergeResult folds one batch's decoded reply into the aggregate,
// re-basing every batch-local index (writeErrors[i].index, upserted[i].index)
// back onto the caller's original request list via batch.StartIndex.
func (e *Engine) mergeResult(result *Result, batch Batch, wr operation.WriteCommandResult) {
	switch batch.Kind {
	case InsertRequest:
		result.InsertedCount += int64(wr.N)
	case UpdateRequest:
		result.MatchedCount += int64(wr.N)
		result.ModifiedCount += int64(wr.NModified)
	case DeleteRequest:
		result.DeletedCount += int64(wr.N)
	}

	for _, doc := range wr.Upserted {
		localIdx, err := doc.LookupErr("index")
		if err != nil {
			continue
		}
		i, ok := localIdx.AsInt64OK()
		if !ok {
			continue
		}
		idVal, err := doc.LookupErr("_id")
		if err != nil {
			continue
		}
		result.UpsertedIDs[batch.StartIndex+int(i)] = idVal
	}

	for _, we := range wr.WriteErrors {
		we.Index += batch.StartIndex
		result.WriteErrors = append(result.WriteErrors, we)
	}
}
