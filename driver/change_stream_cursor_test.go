package driver

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/internal/assert"
)

// fakeResumeTokenSource records the token every Reopen call was given and
// hands back a scripted cursor.
type fakeResumeTokenSource struct {
	reopenCalls int
	lastToken   bsoncore.Document
	nextCursor  *BatchCursor
	nextErr     error
}

func (f *fakeResumeTokenSource) Reopen(ctx context.Context, resumeToken bsoncore.Document) (*BatchCursor, error) {
	f.reopenCalls++
	f.lastToken = resumeToken
	return f.nextCursor, f.nextErr
}

func changeDoc(id int32) bsoncore.Document {
	idIdx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "ts", id)
	idDoc, _ := bsoncore.AppendDocumentEnd(dst, idIdx)

	idx, dst2 := bsoncore.AppendDocumentStart(nil)
	dst2 = bsoncore.AppendDocumentElement(dst2, "_id", idDoc)
	doc, _ := bsoncore.AppendDocumentEnd(dst2, idx)
	return doc
}

func newExhaustedCursorWithBatch(t *testing.T, batch []bsoncore.Document) *BatchCursor {
	t.Helper()
	resp := CursorResponse{
		Namespace: Namespace{DB: "testdb", Collection: "testcoll"},
		CursorID:  0,
		Batch:     batch,
	}
	bc, err := NewBatchCursor(BatchCursorConfig{Response: resp})
	assert.NoError(t, err)
	return bc
}

func okCommandReply() bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendDoubleElement(dst, "ok", 1)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func TestChangeStreamAdoptsTokenFromLastDocID(t *testing.T) {
	inner := newExhaustedCursorWithBatch(t, []bsoncore.Document{changeDoc(1), changeDoc(2)})
	cs := NewChangeStreamBatchCursor(inner, &fakeResumeTokenSource{})

	assert.True(t, cs.Next(context.Background()))
	assert.Equal(t, 2, len(cs.Batch()))

	tok := cs.ResumeToken()
	assert.NotNil(t, tok)
	tsVal, err := tok.LookupErr("ts")
	assert.NoError(t, err)
	ts, ok := tsVal.AsInt32OK()
	assert.True(t, ok)
	assert.Equal(t, int32(2), ts)
}

// docMissingID builds a change-event-shaped document carrying no "_id",
// used to exercise spec.md §4.5's token-missing failure.
func docMissingID() bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "operationType", "invalidate")
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

// spec.md §4.5: "if any returned document lacks _id, the cursor fails the
// current call with ChangeStreamTokenMissing and remains resumable from
// the previously stored token." The check scans every document in the
// batch, not just the last one.
func TestChangeStreamFailsCallWhenADocumentLacksID(t *testing.T) {
	inner := newExhaustedCursorWithBatch(t, []bsoncore.Document{docMissingID(), changeDoc(1)})
	cs := NewChangeStreamBatchCursor(inner, &fakeResumeTokenSource{})

	ok := cs.Next(context.Background())
	assert.False(t, ok)

	var tokMissing *ChangeStreamTokenMissing
	assert.True(t, errors.As(cs.Err(), &tokMissing))
	assert.Nil(t, cs.Batch())
}

// The previously stored token must survive a later batch's missing _id.
func TestChangeStreamKeepsPreviousTokenWhenLaterBatchLacksID(t *testing.T) {
	first := newExhaustedCursorWithBatch(t, []bsoncore.Document{changeDoc(7)})
	cs := NewChangeStreamBatchCursor(first, &fakeResumeTokenSource{})
	assert.True(t, cs.Next(context.Background()))
	firstToken := cs.ResumeToken()
	assert.NotNil(t, firstToken)

	cs.inner = newExhaustedCursorWithBatch(t, []bsoncore.Document{docMissingID()})

	ok := cs.Next(context.Background())
	assert.False(t, ok)
	assert.Error(t, cs.Err())
	assert.Equal(t, firstToken, cs.ResumeToken())
}

func TestChangeStreamResumesOnceOnNetworkError(t *testing.T) {
	failing, _ := newTestCursor(t, func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		if _, err := cmd.LookupErr("getMore"); err == nil {
			return nil, &NetworkError{Err: context.DeadlineExceeded}
		}
		return okCommandReply(), nil // killCursors, issued while tearing down the abandoned cursor.
	}, nil, 55)

	replacement := newExhaustedCursorWithBatch(t, []bsoncore.Document{changeDoc(9)})
	source := &fakeResumeTokenSource{nextCursor: replacement}

	cs := NewChangeStreamBatchCursor(failing, source)

	ok := cs.Next(context.Background())
	assert.True(t, ok)
	assert.Equal(t, 1, source.reopenCalls)
	assert.Equal(t, 1, len(cs.Batch()))
	assert.True(t, failing.IsClosed())
}

func TestChangeStreamGivesUpOnNonResumableError(t *testing.T) {
	failing, _ := newTestCursor(t, func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		return nil, &InvalidArgument{Message: "bad pipeline"}
	}, nil, 77)

	source := &fakeResumeTokenSource{}
	cs := NewChangeStreamBatchCursor(failing, source)

	ok := cs.Next(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 0, source.reopenCalls)
	assert.Error(t, cs.Err())
	// A non-resumable failure is surfaced as-is; the abandoned server
	// cursor is left for the caller's eventual Close, not torn down here.
	assert.False(t, failing.IsClosed())
}

func TestChangeStreamCloseDuringResumeTearsDownFreshCursor(t *testing.T) {
	failing, _ := newTestCursor(t, func(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
		if _, err := cmd.LookupErr("getMore"); err == nil {
			return nil, &NetworkError{Err: context.DeadlineExceeded}
		}
		return okCommandReply(), nil
	}, nil, 88)

	replacement := newExhaustedCursorWithBatch(t, []bsoncore.Document{changeDoc(9)})

	source := &closingResumeSource{fresh: replacement}
	cs := NewChangeStreamBatchCursor(failing, source)
	source.cs = cs

	ok := cs.Next(context.Background())
	assert.False(t, ok)
	assert.True(t, cs.IsClosed())
	assert.True(t, replacement.IsClosed())
}

// closingResumeSource simulates a Close() racing in right after Reopen
// returns, before the new cursor is installed (spec.md §4.5's
// close-during-resume sequence).
type closingResumeSource struct {
	cs    *ChangeStreamBatchCursor
	fresh *BatchCursor
}

func (s *closingResumeSource) Reopen(ctx context.Context, resumeToken bsoncore.Document) (*BatchCursor, error) {
	_ = s.cs.Close(ctx)
	return s.fresh, nil
}
