package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// BatchCursor is the Command Batch Cursor of spec.md §4.4: it delivers the
// first batch embedded in a cursor-returning command's reply, then drives
// successive batches via getMore, honoring batch size and limit, and kills
// the server cursor on Close.
type BatchCursor struct {
	ns Namespace

	serverCursor   *ServerCursorReference
	batchSize      int32
	limit          int32
	numReturned    int32
	maxTimeMS      int64 // legacy maxAwaitTimeMS override for tailable/awaitData getMores, distinct from the Timeout Context.
	comment        bsoncore.Value
	tailable       bool
	awaitData      bool

	currentBatch        []bsoncore.Document
	firstBatchDelivered bool
	firstBatchEmpty     bool

	postBatchResumeToken bsoncore.Document
	operationTime        *bson.Timestamp
	maxWireVersion       int32

	source     ConnectionSource
	pinnedConn Connection
	timeout    *TimeoutContext
	timeoutMode TimeoutMode

	opCtx *OperationContext

	resources cursorResourceManager
	err       error
}

// BatchCursorConfig is the construction-time snapshot a cursor-returning
// Transformer hands to NewBatchCursor, gathering the fields spec.md §3
// lists for a Command Cursor Result plus the resources the cursor must
// hold onto.
type BatchCursorConfig struct {
	Response   CursorResponse
	Source     ConnectionSource
	PinnedConn Connection // non-nil only in load-balanced mode, per spec.md invariant 2.
	BatchSize  int32
	Limit      int32
	MaxWireVersion int32
	Timeout    *TimeoutContext
	TimeoutMode TimeoutMode
	OpCtx      *OperationContext
	Tailable   bool
	AwaitData  bool
}

// NewBatchCursor constructs a BatchCursor from the first reply of a
// cursor-returning command. Per spec.md invariant 1, it retains Source (and
// PinnedConn, if given) only when the response's cursor id is non-zero;
// an immediately-exhausted cursor retains neither.
func NewBatchCursor(cfg BatchCursorConfig) (*BatchCursor, error) {
	bc := &BatchCursor{
		ns:             cfg.Response.Namespace,
		batchSize:      cfg.BatchSize,
		limit:          cfg.Limit,
		currentBatch:   cfg.Response.Batch,
		firstBatchEmpty: len(cfg.Response.Batch) == 0,
		postBatchResumeToken: cfg.Response.PostBatchResumeToken,
		operationTime:  cfg.Response.OperationTime,
		maxWireVersion: cfg.MaxWireVersion,
		source:         cfg.Source,
		pinnedConn:     cfg.PinnedConn,
		timeout:        cfg.Timeout,
		timeoutMode:    cfg.TimeoutMode,
		opCtx:          cfg.OpCtx,
		tailable:       cfg.Tailable,
		awaitData:      cfg.AwaitData,
	}
	bc.numReturned += int32(len(cfg.Response.Batch))

	sc := cfg.Response.ServerCursor()
	if !sc.Exhausted() {
		bc.serverCursor = &sc
		if cfg.Source != nil {
			cfg.Source.Retain()
		}
		if cfg.PinnedConn != nil {
			cfg.PinnedConn.Retain()
		}
	}
	return bc, nil
}

// SetBatchSize sets the batchSize requested on each subsequent getMore.
func (bc *BatchCursor) SetBatchSize(size int32) { bc.batchSize = size }

// BatchSize returns the configured batch size.
func (bc *BatchCursor) BatchSize() int32 { return bc.batchSize }

// SetComment attaches a comment to every subsequent getMore this cursor
// issues. Mirroring the teacher's own BatchCursor.SetComment, only
// document-shaped comments are retained (a plain scalar comment is, in
// this driver lineage, not forwarded onto getMore — only the original
// command carries it).
func (bc *BatchCursor) SetComment(comment interface{}) {
	if comment == nil {
		return
	}
	t, data, err := bson.MarshalValue(comment)
	if err != nil {
		return
	}
	val := bsoncore.Value{Type: t, Data: data}
	if val.Type == bson.TypeEmbeddedDocument {
		bc.comment = val
	}
}

// SetMaxTime sets the legacy maxAwaitTimeMS sent on tailable-awaitData
// getMores, independent of the Timeout Context.
func (bc *BatchCursor) SetMaxTime(dur time.Duration) {
	bc.maxTimeMS = dur.Milliseconds()
}

// ID returns the live server cursor id, or 0 if the cursor is exhausted.
func (bc *BatchCursor) ID() int64 {
	if bc.serverCursor == nil {
		return 0
	}
	return bc.serverCursor.ID
}

// ServerCursor returns the live ServerCursorReference and true, or the
// zero value and false once the cursor is exhausted.
func (bc *BatchCursor) ServerCursor() (ServerCursorReference, bool) {
	if bc.serverCursor == nil {
		return ServerCursorReference{}, false
	}
	return *bc.serverCursor, true
}

// PostBatchResumeToken returns the most recently received
// postBatchResumeToken, or nil if none has been observed.
func (bc *BatchCursor) PostBatchResumeToken() bsoncore.Document { return bc.postBatchResumeToken }

// OperationTime returns the operationTime of the most recent reply, if any.
func (bc *BatchCursor) OperationTime() *bson.Timestamp { return bc.operationTime }

// MaxWireVersion returns the wire version of the server this cursor was
// opened against.
func (bc *BatchCursor) MaxWireVersion() int32 { return bc.maxWireVersion }

// IsFirstBatchEmpty reports whether the very first batch (embedded in the
// originating command's reply) was empty.
func (bc *BatchCursor) IsFirstBatchEmpty() bool { return bc.firstBatchEmpty }

// IsClosed reports whether the cursor has been closed, locally or because
// the server reported exhaustion.
func (bc *BatchCursor) IsClosed() bool { return bc.resources.isClosed() }

// Err returns the error, if any, from the most recent Next call.
func (bc *BatchCursor) Err() error { return bc.err }

// Batch returns the batch delivered by the most recent successful Next
// call.
func (bc *BatchCursor) Batch() []bsoncore.Document { return bc.currentBatch }

// calcGetMoreBatchSize derives the batchSize to request on the next
// getMore from the configured batch size and the remaining limit budget.
// A batchSize of 0 is left alone (the caller asked for no explicit
// override) except that an already-overrun limit is still reported as an
// error via ok=false, matching the teacher's own
// TestBatchCursor/calcGetMoreBatchSize table.
func calcGetMoreBatchSize(bc BatchCursor) (int32, bool) {
	size := bc.batchSize
	if bc.limit != 0 {
		remaining := bc.limit - bc.numReturned
		if remaining < 0 {
			return remaining, false
		}
		if size == 0 {
			return 0, true
		}
		if remaining < size {
			size = remaining
		}
	}
	return size, true
}

// Next advances the cursor to the next batch, per spec.md §4.4's
// algorithm. It returns false when no further batch is available (either
// because the cursor is exhausted, or because an error occurred; check Err
// to distinguish the two).
func (bc *BatchCursor) Next(ctx context.Context) bool {
	if err := bc.resources.tryStartOperation(); err != nil {
		bc.err = err
		return false
	}
	delivered, err := bc.nextLocked(ctx)
	bc.err = err

	if shouldClose := bc.resources.endOperation(); shouldClose {
		bc.runClose(context.Background())
	} else if bc.serverCursor == nil {
		// The server cursor is now exhausted, either because the batch we
		// just delivered carried along the final id:0, or because a later
		// getMore drained it to empty; self close per spec.md §4.4 step 8,
		// but only once no one else is mid-operation (handled by the
		// CLOSE_PENDING path above when they are).
		if runNow := bc.resources.close(); runNow {
			bc.runClose(context.Background())
		}
	}
	return delivered && err == nil
}

func (bc *BatchCursor) nextLocked(ctx context.Context) (bool, error) {
	// Step 2: deliver the first batch, if not yet delivered.
	if !bc.firstBatchDelivered {
		bc.firstBatchDelivered = true
		if len(bc.currentBatch) > 0 {
			return true, nil
		}
		if bc.serverCursor == nil {
			return false, nil
		}
		// First batch was empty but the server cursor is still alive;
		// fall through to the getMore loop below.
	}

	for {
		if bc.serverCursor == nil {
			bc.currentBatch = nil
			return false, nil
		}

		if bc.timeoutMode == TimeoutIteration {
			bc.timeout.ResetIfPresent()
		}

		batch, err := bc.getMore(ctx)
		if err != nil {
			return false, err
		}

		bc.currentBatch = batch
		if len(batch) == 0 && bc.serverCursor != nil {
			// Drains empty-but-live cursors without yielding control,
			// per spec.md §4.4 step 7.
			continue
		}
		return len(batch) > 0, nil
	}
}

func (bc *BatchCursor) getMore(ctx context.Context) ([]bsoncore.Document, error) {
	size, ok := calcGetMoreBatchSize(*bc)
	if !ok {
		return nil, fmt.Errorf("invalid batch size computed from limit %d and numReturned %d", bc.limit, bc.numReturned)
	}

	conn, err := bc.checkoutConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	cmd := bc.buildGetMore(size)
	raw, err := conn.Command(ctx, bc.ns.DB, cmd)
	if err != nil {
		var ot *OperationTimeout
		if errors.As(err, &ot) && ot.CorruptedConnection() {
			bc.resources.markCorrupted()
			conn.MarkStale()
		}
		return nil, err
	}

	resp, err := NewCursorResponse(raw, conn.Description().Addr)
	if err != nil {
		return nil, err
	}

	bc.numReturned += int32(len(resp.Batch))
	if resp.PostBatchResumeToken != nil {
		bc.postBatchResumeToken = resp.PostBatchResumeToken
	}
	if resp.OperationTime != nil {
		bc.operationTime = resp.OperationTime
	}

	if resp.CursorID == 0 {
		bc.releaseServerResources()
		bc.serverCursor = nil
	} else {
		bc.serverCursor.ID = resp.CursorID
	}
	return resp.Batch, nil
}

func (bc *BatchCursor) buildGetMore(batchSize int32) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt64Element(dst, "getMore", bc.serverCursor.ID)
	dst = bsoncore.AppendStringElement(dst, "collection", bc.ns.Collection)
	if batchSize > 0 {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", batchSize)
	}
	if bc.maxTimeMS > 0 && (bc.tailable && bc.awaitData) {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", bc.maxTimeMS)
	} else if bc.timeout != nil {
		dst = bc.timeout.PutMaxTimeMS(dst, bc.tailable)
	}
	if bc.comment.Data != nil {
		dst = bsoncore.AppendValueElement(dst, "comment", bc.comment)
	}
	dst = bsoncore.AppendStringElement(dst, "$db", bc.ns.DB)
	doc, _ := bsoncore.AppendDocumentEnd(dst, idx)
	return doc
}

// checkoutConnection returns the pinned connection in load-balanced mode,
// or checks one out from the retained ConnectionSource otherwise, per
// spec.md §4.4 step 5: "on load-balanced servers this must be the pinned
// connection."
func (bc *BatchCursor) checkoutConnection(ctx context.Context) (Connection, error) {
	if bc.pinnedConn != nil {
		bc.pinnedConn.Retain()
		return bc.pinnedConn, nil
	}
	if bc.source == nil {
		return nil, ErrCursorClosed
	}
	return bc.source.Connection(ctx)
}

// Close kills the server cursor (best effort; errors are swallowed, per
// spec.md §4.4 "Close") and releases retained resources exactly once.
func (bc *BatchCursor) Close(ctx context.Context) error {
	if runNow := bc.resources.close(); runNow {
		bc.runClose(ctx)
	}
	return nil
}

func (bc *BatchCursor) runClose(ctx context.Context) {
	if bc.serverCursor != nil && !bc.resources.shouldSkipServerResources() {
		bc.killCursor(ctx)
	}
	bc.releaseServerResources()
	bc.serverCursor = nil
}

func (bc *BatchCursor) killCursor(ctx context.Context) {
	conn, err := bc.checkoutConnection(ctx)
	if err != nil {
		return
	}
	defer conn.Release()

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "killCursors", bc.ns.Collection)
	aidx, dst := bsoncore.AppendArrayElementStart(dst, "cursors")
	dst = bsoncore.AppendInt64Element(dst, "0", bc.serverCursor.ID)
	dst, _ = bsoncore.AppendArrayEnd(dst, aidx)
	dst = bsoncore.AppendStringElement(dst, "$db", bc.ns.DB)
	doc, _ := bsoncore.AppendDocumentEnd(dst, idx)

	// Best effort: kill-cursors failures are swallowed, never surfaced to
	// the caller of Close (spec.md §4.4).
	_, _ = conn.Command(ctx, bc.ns.DB, doc)
}

func (bc *BatchCursor) releaseServerResources() {
	if bc.source != nil {
		_ = bc.source.Release()
		bc.source = nil
	}
	if bc.pinnedConn != nil {
		_ = bc.pinnedConn.Release()
		bc.pinnedConn = nil
	}
}
