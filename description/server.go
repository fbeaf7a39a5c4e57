// Package description holds the server and connection metadata that the
// operation execution layer uses to gate retry, pinning, and
// version-conditional command fields. It mirrors the teacher driver's
// x/mongo/driver/description package, which ships with the real driver but
// was not part of the retrieved reference set, so the types here are
// reconstructed from their observed call sites (x/mongo/driver/topology,
// x/mongo/driver/operation).
package description

import "fmt"

// ServerKind represents the type of a single server in a deployment.
type ServerKind uint32

// ServerKind constants, matching the wire protocol's server type tags.
const (
	Unknown ServerKind = iota
	Standalone
	RSPrimary
	RSSecondary
	RSArbiter
	RSMember
	RSGhost
	Mongos
	LoadBalancer
)

func (kind ServerKind) String() string {
	switch kind {
	case Standalone:
		return "Standalone"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case RSArbiter:
		return "RSArbiter"
	case RSMember:
		return "RSMember"
	case RSGhost:
		return "RSGhost"
	case Mongos:
		return "Mongos"
	case LoadBalancer:
		return "LoadBalancer"
	default:
		return "Unknown"
	}
}

// TopologyKind represents the shape of the deployment a server was selected
// from. It is folded into SelectedServer so retry and pinning logic can
// distinguish, e.g., a mongos from a load balancer without re-deriving the
// topology shape from the server kind alone.
type TopologyKind uint32

// TopologyKind constants.
const (
	TopologyUnknown TopologyKind = iota
	TopologySingle
	TopologyReplicaSet
	TopologyReplicaSetNoPrimary
	TopologyReplicaSetWithPrimary
	TopologySharded
	TopologyLoadBalanced
)

// Server describes a single server as of its most recent heartbeat. Only the
// fields the operation execution layer consults are modeled; a full SDAM
// implementation would carry many more (RTT, tags, election id, ...) but
// those belong to server selection, which spec.md places out of scope.
type Server struct {
	Addr                  string
	Kind                  ServerKind
	WireVersion           *VersionRange
	SessionTimeoutMinutes *int64
	MaxBatchCount         int
	MaxDocumentSize       int
	MaxMessageSize        int
}

// VersionRange is an inclusive range of wire versions.
type VersionRange struct {
	Min int32
	Max int32
}

func (vr VersionRange) String() string {
	return fmt.Sprintf("[%d, %d]", vr.Min, vr.Max)
}

// Includes reports whether v falls within the range.
func (vr VersionRange) Includes(v int32) bool {
	return v >= vr.Min && v <= vr.Max
}

// SelectedServer pairs a Server description with the TopologyKind it was
// selected from. Retry and pinning decisions need both: whether the server
// itself supports sessions (Server.SessionTimeoutMinutes), and whether the
// deployment as a whole is load-balanced (TopologyKind), which is a
// deployment-wide property no single Server carries on its own.
type SelectedServer struct {
	Server
	Kind TopologyKind
}

// SupportsSessions reports whether the server advertises a logical session
// timeout and is not a standalone, the signal the driver uses to gate
// retryable writes and session-bearing commands.
func (s Server) SupportsSessions() bool {
	return s.SessionTimeoutMinutes != nil && s.Kind != Standalone
}

// LoadBalanced reports whether the server was selected from a load-balanced
// deployment, which forces connection pinning for cursors (spec.md
// invariant 2).
func (ss SelectedServer) LoadBalanced() bool {
	return ss.Kind == TopologyLoadBalanced || ss.Server.Kind == LoadBalancer
}
