package description

// Connection describes the server-side capabilities negotiated for a single
// wire connection: its max wire version (used to gate command fields such
// as the driver-added RetryableWriteError label) and the address it is
// connected to. This is the minimal slice of the real driver's
// description.Server that is specific to one connection rather than to the
// server as a whole (a connection's negotiated wire version can lag a
// freshly heartbeated Server description by one round trip).
type Connection struct {
	Addr           string
	MaxWireVersion int32
}
