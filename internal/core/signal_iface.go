package core

// Frame is a raw payload ready for the wire.
type Frame []byte

// SignalConnection abstracts one live transport connection.
// TrySend must never block: it enqueues onto the connection's write pump
// and reports backpressure as an error. Owned by the adapter; the adapter
// must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
