package driver

import "fmt"

// Namespace is a (database, collection) pair, per spec.md §3: "both
// non-empty strings; immutable."
type Namespace struct {
	DB         string
	Collection string
}

// NewNamespace validates and constructs a Namespace.
func NewNamespace(db, collection string) (Namespace, error) {
	if db == "" {
		return Namespace{}, &InvalidArgument{Message: "database name must not be empty"}
	}
	if collection == "" {
		return Namespace{}, &InvalidArgument{Message: "collection name must not be empty"}
	}
	return Namespace{DB: db, Collection: collection}, nil
}

// FullName returns the "db.collection" fully qualified namespace string, as
// embedded in listCollections/listIndexes cursor replies.
func (ns Namespace) FullName() string {
	return fmt.Sprintf("%s.%s", ns.DB, ns.Collection)
}

// ParseNamespace splits a fully-qualified "db.collection" string into a
// Namespace. Used to interpret the `ns` field of a cursor reply.
func ParseNamespace(full string) Namespace {
	for i := 0; i < len(full); i++ {
		if full[i] == '.' {
			return Namespace{DB: full[:i], Collection: full[i+1:]}
		}
	}
	return Namespace{DB: full}
}
