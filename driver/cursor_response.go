package driver

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// ServerCursorReference identifies a live server-side cursor, per spec.md
// §3: "(cursor_id: i64, server_address, optional_session_id); cursor_id ==
// 0 means exhausted."
type ServerCursorReference struct {
	ID        int64
	Address   string
	SessionID *bson.Binary
}

// Exhausted reports whether the server has already freed this cursor.
func (sc ServerCursorReference) Exhausted() bool {
	return sc.ID == 0
}

// CursorResponse is decoded from every cursor-bearing reply (the initial
// command reply or a getMore reply), per spec.md §3's Command Cursor
// Result: "{namespace, cursor_id, first_or_next_batch, post_batch_resume_
// token?, operation_time?, server_address}".
type CursorResponse struct {
	Namespace            Namespace
	CursorID             int64
	Batch                []bsoncore.Document
	PostBatchResumeToken bsoncore.Document
	OperationTime        *bson.Timestamp
	ServerAddress        string
	Raw                  bsoncore.Document // the full decoded "cursor" sub-document, for callers that need more than the fields above.
}

// NewCursorResponse decodes response into a CursorResponse. response is
// expected to be the full command reply, with a "cursor" sub-document,
// matching every cursor-returning command in spec.md §6 (aggregate, find,
// getMore, listCollections, listIndexes, listDatabases does not return a
// cursor and is handled separately).
func NewCursorResponse(response bsoncore.Document, serverAddress string) (CursorResponse, error) {
	cursorVal, err := response.LookupErr("cursor")
	if err != nil {
		return CursorResponse{}, fmt.Errorf("decoding cursor response: %w", err)
	}
	cursorDoc, ok := cursorVal.DocumentOK()
	if !ok {
		return CursorResponse{}, fmt.Errorf("decoding cursor response: expected cursor field to be a document, got %s", cursorVal.Type)
	}

	cr := CursorResponse{ServerAddress: serverAddress, Raw: cursorDoc}

	if idVal, err := cursorDoc.LookupErr("id"); err == nil {
		id, ok := idVal.Int64OK()
		if !ok {
			return CursorResponse{}, fmt.Errorf("decoding cursor response: expected id field to be an int64, got %s", idVal.Type)
		}
		cr.CursorID = id
	}

	if nsVal, err := cursorDoc.LookupErr("ns"); err == nil {
		ns, ok := nsVal.StringValueOK()
		if !ok {
			return CursorResponse{}, fmt.Errorf("decoding cursor response: expected ns field to be a string, got %s", nsVal.Type)
		}
		cr.Namespace = ParseNamespace(ns)
	}

	batchKey := "nextBatch"
	if _, err := cursorDoc.LookupErr("firstBatch"); err == nil {
		batchKey = "firstBatch"
	}
	if batchVal, err := cursorDoc.LookupErr(batchKey); err == nil {
		arr, ok := batchVal.ArrayOK()
		if !ok {
			return CursorResponse{}, fmt.Errorf("decoding cursor response: expected %s field to be an array, got %s", batchKey, batchVal.Type)
		}
		values, err := arr.Values()
		if err != nil {
			return CursorResponse{}, fmt.Errorf("decoding cursor response: %w", err)
		}
		cr.Batch = make([]bsoncore.Document, 0, len(values))
		for _, v := range values {
			doc, ok := v.DocumentOK()
			if !ok {
				return CursorResponse{}, fmt.Errorf("decoding cursor response: expected batch element to be a document, got %s", v.Type)
			}
			cr.Batch = append(cr.Batch, doc)
		}
	}

	if tokVal, err := cursorDoc.LookupErr("postBatchResumeToken"); err == nil {
		if doc, ok := tokVal.DocumentOK(); ok {
			cr.PostBatchResumeToken = doc
		}
	}

	if otVal, err := response.LookupErr("operationTime"); err == nil {
		if t, i, ok := otVal.TimestampOK(); ok {
			cr.OperationTime = &bson.Timestamp{T: t, I: i}
		}
	}

	return cr, nil
}

// ServerCursor returns the ServerCursorReference this response carries, or
// the zero value (Exhausted) once CursorID is 0.
func (cr CursorResponse) ServerCursor() ServerCursorReference {
	return ServerCursorReference{ID: cr.CursorID, Address: cr.ServerAddress}
}
