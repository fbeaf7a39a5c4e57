// Package tag models replica-set member tag sets, used by ReadPref to
// express locality-aware server selection (e.g. {"region": "us-east"}).
// Grounded on the import seen in mongodb-mongo-tools-common's
// db/read_preferences_test.go ("go.mongodb.org/mongo-driver/tag"), which
// confirms a standalone tag package is the idiom this lineage uses rather
// than folding tag sets into the readpref package itself.
package tag

// Tag is a single key/value pair a replica set member can be tagged with.
type Tag struct {
	Name  string
	Value string
}

// Set is an ordered list of tags all of which a candidate server must
// match for a ReadPref with that tag set to select it.
type Set []Tag

// ContainedIn reports whether every tag in the set is present in other.
func (ts Set) ContainedIn(other Set) bool {
	for _, t := range ts {
		var found bool
		for _, o := range other {
			if t.Name == o.Name && t.Value == o.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NewTagSetsFromMaps builds a list of tag Sets from a list of plain maps,
// the shape tag sets are usually configured in (connection string options,
// test fixtures).
func NewTagSetsFromMaps(maps []map[string]string) []Set {
	sets := make([]Set, 0, len(maps))
	for _, m := range maps {
		var set Set
		for k, v := range m {
			set = append(set, Tag{Name: k, Value: v})
		}
		sets = append(sets, set)
	}
	return sets
}
