package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/mcpchat/pkg/transports"
)

// Transport is an in-memory transport for local testing and integration.
// It implements the transports.Transport interface without any network dependency.
type Transport struct {
	recvCh chan transports.Event
	sentCh chan transports.Event
	mu     sync.RWMutex
	closed bool
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan transports.Event, 256),
		sentCh: make(chan transports.Event, 1024),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.recvCh)
		close(t.sentCh)
	}
	return nil
}

func (t *Transport) Recv() <-chan transports.Event { return t.recvCh }

func (t *Transport) Send(ev transports.Event) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil
	}
	select {
	case t.sentCh <- ev:
	default:
	}
	return nil
}

// Push injects an inbound event into the transport.
func (t *Transport) Push(ev transports.Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.recvCh <- ev:
	default:
	}
}

// Sent exposes outbound events for inspection.
func (t *Transport) Sent() <-chan transports.Event { return t.sentCh }
