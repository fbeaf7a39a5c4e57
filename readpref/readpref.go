// Package readpref models read-preference mode and tag sets, the input the
// Connection Binding's server-selection step consults (spec.md §4.2, "The
// read flavor uses read_preference for server selection"). Reconstructed
// from its call sites (x/mongo/driver/operation/list_collections.go's
// `readPreference *readpref.ReadPref` field); full server-selection scoring
// against a topology is explicitly out of this core's scope (spec.md §1).
package readpref

import "github.com/shardwire/mongocore/tag"

// Mode is a read preference mode.
type Mode uint8

// Mode values.
const (
	PrimaryMode Mode = iota
	PrimaryPreferredMode
	SecondaryMode
	SecondaryPreferredMode
	NearestMode
)

func (m Mode) String() string {
	switch m {
	case PrimaryMode:
		return "primary"
	case PrimaryPreferredMode:
		return "primaryPreferred"
	case SecondaryMode:
		return "secondary"
	case SecondaryPreferredMode:
		return "secondaryPreferred"
	case NearestMode:
		return "nearest"
	default:
		return "unknown"
	}
}

// ReadPref describes how to select a server for a read operation.
type ReadPref struct {
	mode    Mode
	tagSets []tag.Set
}

// Primary requests the replica set primary; the zero value of ReadPref is
// already Primary, matching the server's own default.
func Primary() *ReadPref { return &ReadPref{mode: PrimaryMode} }

// PrimaryPreferred prefers the primary, falling back to a secondary.
func PrimaryPreferred(opts ...Option) *ReadPref { return newReadPref(PrimaryPreferredMode, opts...) }

// Secondary requests a secondary.
func Secondary(opts ...Option) *ReadPref { return newReadPref(SecondaryMode, opts...) }

// SecondaryPreferred prefers a secondary, falling back to the primary.
func SecondaryPreferred(opts ...Option) *ReadPref { return newReadPref(SecondaryPreferredMode, opts...) }

// Nearest requests the server with the lowest measured latency regardless
// of type.
func Nearest(opts ...Option) *ReadPref { return newReadPref(NearestMode, opts...) }

func newReadPref(mode Mode, opts ...Option) *ReadPref {
	rp := &ReadPref{mode: mode}
	for _, opt := range opts {
		opt(rp)
	}
	return rp
}

// Option configures a ReadPref constructed via one of the mode
// constructors above.
type Option func(*ReadPref)

// WithTagSets attaches tag sets, evaluated in order until one matches a
// candidate server.
func WithTagSets(sets ...tag.Set) Option {
	return func(rp *ReadPref) { rp.tagSets = sets }
}

// Mode returns the read preference mode.
func (rp *ReadPref) Mode() Mode {
	if rp == nil {
		return PrimaryMode
	}
	return rp.mode
}

// TagSets returns the configured tag sets, if any.
func (rp *ReadPref) TagSets() []tag.Set {
	if rp == nil {
		return nil
	}
	return rp.tagSets
}

// IsServerDefault reports whether this is the implicit primary preference,
// which is never encoded as a $readPreference field on the command.
func (rp *ReadPref) IsServerDefault() bool {
	return rp == nil || (rp.mode == PrimaryMode && len(rp.tagSets) == 0)
}
