package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/mcpchat/pkg/llm"
	"github.com/harunnryd/mcpchat/pkg/tools"
)

// Connection is a live tool provider owned by a session.
type Connection interface {
	tools.Caller
	Close() error
}

// Session is the per-chat context: conversation history, tool registry and
// the live provider connections. Turns are serialized with LockTurn.
type Session struct {
	id      string
	traceID string
	created time.Time
	ctx     context.Context
	cancel  context.CancelFunc

	turnMu sync.Mutex

	mu       sync.RWMutex
	history  []llm.Message
	registry *tools.Registry
	conns    map[string]Connection
	closed   bool
}

func New(id, traceID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:       id,
		traceID:  traceID,
		created:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		registry: tools.NewRegistry(),
		conns:    make(map[string]Connection),
	}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) TraceID() string    { return s.traceID }
func (s *Session) Created() time.Time { return s.created }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Tools() *tools.Registry { return s.registry }

// LockTurn blocks until no other turn is running on this session.
func (s *Session) LockTurn()   { s.turnMu.Lock() }
func (s *Session) UnlockTurn() { s.turnMu.Unlock() }

// History returns a copy of the conversation so far.
func (s *Session) History() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) Append(msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Connection satisfies tools.Connections.
func (s *Session) Connection(name string) (tools.Caller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[name]
	if !ok {
		return nil, false
	}
	return c, true
}

// Attach stores conn under name and returns the connection it replaced.
func (s *Session) Attach(name string, conn Connection) (Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.conns[name]
	s.conns[name] = conn
	return prev, ok
}

// Detach removes and returns the connection under name without closing it.
func (s *Session) Detach(name string) (Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[name]
	if ok {
		delete(s.conns, name)
	}
	return c, ok
}

func (s *Session) ConnectionNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.conns))
	for name := range s.conns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close cancels the session context and closes every connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := s.conns
	s.conns = make(map[string]Connection)
	s.mu.Unlock()

	s.cancel()
	var errs []error
	for name, c := range conns {
		s.registry.Unregister(name)
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
