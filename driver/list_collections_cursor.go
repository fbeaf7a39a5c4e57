package driver

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// ListCollectionsBatchCursor wraps a BatchCursor to apply the
// name-projection property (spec.md §8 property 6): every document's
// "name" field, received from the server as "db.coll", is rewritten down
// to just "coll" before being handed to the caller, matching what
// mongo.Database.ListCollectionNames does to the raw listCollections
// cursor in the real driver.
type ListCollectionsBatchCursor struct {
	*BatchCursor
	db      string
	current []bsoncore.Document
}

// NewListCollectionsBatchCursor wraps bc, stripping the "db." prefix from
// every document's "name" field as it surfaces through Batch.
func NewListCollectionsBatchCursor(bc *BatchCursor, db string) (*ListCollectionsBatchCursor, error) {
	return &ListCollectionsBatchCursor{BatchCursor: bc, db: db}, nil
}

// Next advances the underlying cursor and re-projects its batch.
func (lc *ListCollectionsBatchCursor) Next(ctx context.Context) bool {
	if !lc.BatchCursor.Next(ctx) {
		lc.current = nil
		return false
	}
	lc.current = projectCollectionNames(lc.BatchCursor.Batch(), lc.db)
	return true
}

// Batch returns the most recently delivered batch, with each document's
// name projected down to its bare collection name.
func (lc *ListCollectionsBatchCursor) Batch() []bsoncore.Document { return lc.current }

func projectCollectionNames(batch []bsoncore.Document, db string) []bsoncore.Document {
	prefix := db + "."
	out := make([]bsoncore.Document, 0, len(batch))
	for _, doc := range batch {
		nameVal, err := doc.LookupErr("name")
		if err != nil {
			out = append(out, doc)
			continue
		}
		name, ok := nameVal.StringValueOK()
		if !ok || len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			out = append(out, doc)
			continue
		}
		out = append(out, rewriteName(doc, name[len(prefix):]))
	}
	return out
}

// rewriteName rebuilds doc with its "name" element's value replaced,
// preserving every other element and their order.
func rewriteName(doc bsoncore.Document, newName string) bsoncore.Document {
	elems, err := doc.Elements()
	if err != nil {
		return doc
	}
	idx, dst := bsoncore.AppendDocumentStart(nil)
	for _, elem := range elems {
		if elem.Key() == "name" {
			dst = bsoncore.AppendStringElement(dst, "name", newName)
			continue
		}
		dst = bsoncore.AppendValueElement(dst, elem.Key(), elem.Value())
	}
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}
