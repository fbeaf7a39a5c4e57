package driver

import (
	"context"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// ResumeTokenSource reopens the $changeStream aggregate that feeds a
// ChangeStreamBatchCursor after a resumable error. It is supplied by the
// caller (the layer that knows the original pipeline, database/collection,
// and read preference) so this package never needs to depend on
// driver/operation and risk an import cycle.
type ResumeTokenSource interface {
	// Reopen issues a fresh aggregate with resumeToken spliced into its
	// $changeStream stage and returns the new underlying cursor.
	Reopen(ctx context.Context, resumeToken bsoncore.Document) (*BatchCursor, error)
}

// ChangeStreamBatchCursor is the Change-Stream Batch Cursor of spec.md
// §4.5: it wraps a BatchCursor, tracks the resume token across batches,
// and transparently resumes the underlying aggregate on a resumable error
// instead of surfacing it to the caller.
type ChangeStreamBatchCursor struct {
	mu     sync.Mutex
	inner  *BatchCursor
	source ResumeTokenSource

	resumeToken bsoncore.Document
	classifier  ErrorClassifier

	// closed is set atomically so Close can race safely with an in-flight
	// resume attempt (spec.md §4.5's close-during-resume sequence): the
	// resume goroutine checks this after reopening and, if set, closes the
	// newly opened cursor immediately instead of installing it.
	closed int32

	current []bsoncore.Document
	err     error
}

// NewChangeStreamBatchCursor wraps the aggregate's first cursor and seeds
// the resume token from its initial postBatchResumeToken only; documents'
// "_id" values are adopted later, as Next delivers each batch.
func NewChangeStreamBatchCursor(inner *BatchCursor, source ResumeTokenSource) *ChangeStreamBatchCursor {
	cs := &ChangeStreamBatchCursor{inner: inner, source: source}
	_ = cs.adoptTokenFrom(inner, nil) // no batch yet, so the _id check is a no-op.
	return cs
}

// adoptTokenFrom updates the resume token after a batch, preferring the
// server's postBatchResumeToken, then the last document's "_id", then
// leaving the previously held token untouched, exactly spec.md §4.5's
// "post_batch_resume_token ?? last_doc._id ?? previous_token" rule.
//
// When there is no postBatchResumeToken, spec.md §4.5 also requires every
// document in the batch to carry an "_id" document: "if any returned
// document lacks _id, the cursor fails the current call with
// ChangeStreamTokenMissing and remains resumable from the previously
// stored token." adoptTokenFrom returns that error without touching
// cs.resumeToken when the check fails; a server-supplied
// postBatchResumeToken makes the per-document check unnecessary, since it
// is already authoritative for resuming past this batch.
func (cs *ChangeStreamBatchCursor) adoptTokenFrom(bc *BatchCursor, batch []bsoncore.Document) error {
	if tok := bc.PostBatchResumeToken(); tok != nil {
		cs.resumeToken = tok
		return nil
	}
	for _, doc := range batch {
		idVal, err := doc.LookupErr("_id")
		if err != nil {
			return &ChangeStreamTokenMissing{}
		}
		if _, ok := idVal.DocumentOK(); !ok {
			return &ChangeStreamTokenMissing{}
		}
	}
	if len(batch) > 0 {
		idVal, _ := batch[len(batch)-1].LookupErr("_id")
		doc, _ := idVal.DocumentOK()
		cs.resumeToken = doc
	}
	return nil
}

// ResumeToken returns the most recently adopted resume token.
func (cs *ChangeStreamBatchCursor) ResumeToken() bsoncore.Document {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.resumeToken
}

// Err returns the error, if any, from the most recent Next call.
func (cs *ChangeStreamBatchCursor) Err() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.err
}

// Batch returns the batch delivered by the most recent successful Next
// call.
func (cs *ChangeStreamBatchCursor) Batch() []bsoncore.Document {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.current
}

// Next advances the cursor, transparently resuming the underlying
// aggregate on every resumable error, with no cap on the number of
// resumes; a non-resumable error is surfaced (spec.md §4.5).
func (cs *ChangeStreamBatchCursor) Next(ctx context.Context) bool {
	cs.mu.Lock()
	inner := cs.inner
	cs.mu.Unlock()

	if inner.Next(ctx) {
		batch := inner.Batch()
		cs.mu.Lock()
		if err := cs.adoptTokenFrom(inner, batch); err != nil {
			cs.err = err
			cs.current = nil
			cs.mu.Unlock()
			return false
		}
		cs.current = batch
		cs.err = nil
		cs.mu.Unlock()
		return true
	}

	err := inner.Err()
	if err == nil {
		cs.mu.Lock()
		cs.current = nil
		cs.mu.Unlock()
		return false
	}

	if !cs.classifier.IsResumableChangeStream(err, inner.MaxWireVersion()) {
		cs.mu.Lock()
		cs.err = err
		cs.current = nil
		cs.mu.Unlock()
		return false
	}

	return cs.resumeAndRetry(ctx)
}

func (cs *ChangeStreamBatchCursor) resumeAndRetry(ctx context.Context) bool {
	cs.mu.Lock()
	token := cs.resumeToken
	cs.mu.Unlock()

	_ = cs.inner.Close(ctx) // best effort; the old server cursor is being abandoned regardless.

	fresh, err := cs.source.Reopen(ctx, token)
	if err != nil {
		cs.mu.Lock()
		cs.err = err
		cs.current = nil
		cs.mu.Unlock()
		return false
	}

	if atomic.LoadInt32(&cs.closed) != 0 {
		// Close arrived while the resume was in flight: the caller no
		// longer wants this cursor, so tear down the freshly opened one
		// and report no further data, per spec.md §4.5's close-during-
		// resume sequence.
		_ = fresh.Close(ctx)
		return false
	}

	cs.mu.Lock()
	cs.inner = fresh
	cs.mu.Unlock()

	return cs.Next(ctx)
}

// Close closes the underlying cursor. If a resume is racing concurrently,
// the closed flag ensures the newly reopened cursor is torn down instead
// of silently replacing the one Close already tore down.
func (cs *ChangeStreamBatchCursor) Close(ctx context.Context) error {
	atomic.StoreInt32(&cs.closed, 1)
	cs.mu.Lock()
	inner := cs.inner
	cs.mu.Unlock()
	return inner.Close(ctx)
}

// IsClosed reports whether Close has been called.
func (cs *ChangeStreamBatchCursor) IsClosed() bool {
	return atomic.LoadInt32(&cs.closed) != 0
}
