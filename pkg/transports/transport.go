package transports

import "context"

// Transport is the I/O boundary between chat clients and the engine.
// Implementations own their connection lifecycle; Recv is closed by Stop.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan Event
	Send(Event) error
}

// ReadyReporter allows transports to expose readiness metadata.
// Used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
