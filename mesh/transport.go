package mesh

import "context"

// Frame is one transport delivery. Source is always the sender's unicast
// address: a node replying to a group send rewrites the source to its own
// identity, and receivers reject frames claiming a group source.
type Frame struct {
	Source  Addr
	Payload []byte
}

// Transport delivers payloads to unicast or group addresses, at least once,
// with possible loss and no ordering guarantee across targets.
//
// Frames() carries inbound frames for the life of the transport. Resets()
// signals a transport-level reconnect; receivers must drop any partial
// reassembly state when it fires.
type Transport interface {
	Send(ctx context.Context, to Addr, payload []byte) error
	Frames() <-chan Frame
	Resets() <-chan struct{}
	Close(ctx context.Context) error
}
