// Package readconcern models the consistency contract requested for reads,
// per spec.md §3. Reconstructed in the same spirit as writeconcern: the
// real driver's mongo/readconcern package was stripped from the retrieved
// reference set, so only the well-known {level: "..."} wire shape survives
// here.
package readconcern

import "go.mongodb.org/mongo-driver/v2/bson"

// Level names, per the server's readConcern.level enum.
const (
	LevelLocal        = "local"
	LevelMajority      = "majority"
	LevelLinearizable  = "linearizable"
	LevelAvailable     = "available"
	LevelSnapshot      = "snapshot"
)

// ReadConcern describes the consistency level requested for a read.
type ReadConcern struct {
	level string
}

// Local requests the local/default consistency level.
func Local() *ReadConcern { return &ReadConcern{level: LevelLocal} }

// Majority requests majority-committed data.
func Majority() *ReadConcern { return &ReadConcern{level: LevelMajority} }

// Linearizable requests linearizable reads.
func Linearizable() *ReadConcern { return &ReadConcern{level: LevelLinearizable} }

// Available requests the fastest available data, without waiting for
// replication acknowledgement.
func Available() *ReadConcern { return &ReadConcern{level: LevelAvailable} }

// Snapshot requests a snapshot read, valid only within a transaction or
// alongside an atClusterTime.
func Snapshot() *ReadConcern { return &ReadConcern{level: LevelSnapshot} }

// Level returns the requested consistency level name.
func (rc *ReadConcern) Level() string {
	if rc == nil {
		return ""
	}
	return rc.level
}

// IsServerDefault reports whether this read concern carries no explicit
// level and so should be omitted from the outgoing command, per spec.md
// §4.1 ("Attach readConcern when non-default").
func (rc *ReadConcern) IsServerDefault() bool {
	return rc == nil || rc.level == ""
}

// MarshalBSONValue encodes the read concern to {level: "..."}.
func (rc *ReadConcern) MarshalBSONValue() (bson.Type, []byte, error) {
	doc := bson.D{{Key: "level", Value: rc.level}}
	t, data, err := bson.MarshalValue(doc)
	if err != nil {
		return 0, nil, err
	}
	return t, data, nil
}
