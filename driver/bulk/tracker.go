package bulk

// BulkWriteTracker is the per-batch retry record spec.md §4.6 calls for in
// place of the generic Retry Controller's single global attempt counter:
// the engine executes many batches per logical bulk write, and each one's
// retry history (whether its Command Executor attempt ended up retried)
// must stay scoped to that batch, never shared with batch 1's or batch
// 5's. The at-most-once retry itself is still enforced by the same
// Command Executor every other operation uses (each batch is exactly one
// driver.Operation.Execute call, carrying the session's txnNumber
// unchanged across its own internal retry); this tracker's job is purely
// to record, per batch, which attempt produced the final result, so the
// engine can report how many batches needed a retry.
type BulkWriteTracker struct {
	batchIndex   int
	attemptIndex int
}

// NewBulkWriteTracker returns a tracker for the batch at batchIndex.
func NewBulkWriteTracker(batchIndex int) *BulkWriteTracker {
	return &BulkWriteTracker{batchIndex: batchIndex}
}

// RecordAttempt stores which attempt (0 = initial, 1 = retry) produced
// this batch's final result.
func (t *BulkWriteTracker) RecordAttempt(attemptIndex int) { t.attemptIndex = attemptIndex }

// Retried reports whether this batch's result came from a retry.
func (t *BulkWriteTracker) Retried() bool { return t.attemptIndex > 0 }

// BatchIndex returns the index, within the split batch list, this
// tracker belongs to.
func (t *BulkWriteTracker) BatchIndex() int { return t.batchIndex }
