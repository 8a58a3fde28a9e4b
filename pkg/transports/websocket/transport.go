package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/mcpchat/pkg/errorsx"
	"github.com/harunnryd/mcpchat/pkg/transports"
)

type Config struct {
	Path           string   `mapstructure:"ws_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	SendBuffer     int      `mapstructure:"send_buffer"`
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1 << 20
	}
	return c
}

var ErrSessionNotConnected = errors.New("session not connected")

// Transport serves chat sessions over websocket connections. It is an
// http.Handler and is mounted by the HTTP server.
type Transport struct {
	cfg      Config
	upgrader websocket.Upgrader
	recvCh   chan transports.Event
	done     chan struct{}

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool

	draining atomic.Bool
	stopOnce sync.Once
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh:   make(chan transports.Event, 512),
		done:     make(chan struct{}),
		sessions: make(map[string]*session),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "websocket" }

func (t *Transport) Path() string { return t.cfg.Path }

func (t *Transport) Recv() <-chan transports.Event { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{"ws_path": t.cfg.Path, "allow_any_origin": t.cfg.AllowAnyOrigin}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Stop()
		case <-t.done:
		}
	}()
	return nil
}

// SetDraining makes new upgrades fail with 503 while live sessions continue.
func (t *Transport) SetDraining(v bool) { t.draining.Store(v) }

func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		t.draining.Store(true)
		close(t.done)
		t.mu.Lock()
		t.closed = true
		for _, sess := range t.sessions {
			_ = sess.close()
		}
		t.sessions = make(map[string]*session)
		close(t.recvCh)
		t.mu.Unlock()
	})
	return nil
}

// Sessions counts live websocket connections.
func (t *Transport) Sessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket_upgrade_failed", "error", err.Error())
		return
	}
	defer conn.Close()
	conn.SetReadLimit(t.cfg.MaxMessageSize)

	sessionID := uuid.NewString()
	traceID := uuid.NewString()
	sess := t.attach(sessionID, conn)
	if sess == nil {
		return
	}
	_ = sess.enqueue(transports.Event{Type: transports.EventSession, SessionID: sessionID})
	t.push(transports.Event{Type: transports.EventSessionStart, SessionID: sessionID, TraceID: traceID})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var ev transports.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			_ = sess.enqueue(transports.Event{Type: transports.EventError, SessionID: sessionID, Text: "invalid event payload", Reason: "invalid_event"})
			continue
		}
		if !ev.Type.Inbound() {
			_ = sess.enqueue(transports.Event{Type: transports.EventError, SessionID: sessionID, Text: fmt.Sprintf("unsupported event type %q", ev.Type), Reason: "invalid_event"})
			continue
		}
		ev.SessionID = sessionID
		ev.TraceID = traceID
		t.push(ev)
	}
	t.push(transports.Event{Type: transports.EventSessionEnd, SessionID: sessionID, TraceID: traceID})
	t.detach(sessionID)
}

// Send delivers ev to the connection named by ev.SessionID. Events for one
// session are written in the order Send is called.
func (t *Transport) Send(ev transports.Event) error {
	sess := t.session(ev.SessionID)
	if sess == nil {
		return errorsx.Wrap(fmt.Errorf("%w: %s", ErrSessionNotConnected, ev.SessionID), errorsx.ReasonTransportSend)
	}
	if err := sess.enqueue(ev); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

func (t *Transport) push(ev transports.Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.recvCh <- ev:
	case <-t.done:
	}
}

func (t *Transport) attach(sessionID string, conn *websocket.Conn) *session {
	sess := &session{
		conn:         conn,
		sendCh:       make(chan []byte, t.cfg.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: t.cfg.WriteTimeout,
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.sessions[sessionID] = sess
	t.mu.Unlock()
	go sess.loop()
	return sess
}

func (t *Transport) detach(sessionID string) {
	t.mu.Lock()
	sess := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()
	if sess != nil {
		_ = sess.close()
	}
}

func (t *Transport) session(sessionID string) *session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[sessionID]
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return sameOrigin(origin, r.Host)
}

// sameOrigin accepts browsers loading the page from this server.
func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

type session struct {
	conn         *websocket.Conn
	sendCh       chan []byte
	done         chan struct{}
	closed       atomic.Bool
	writeTimeout time.Duration
}

func (s *session) enqueue(ev transports.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionNotConnected
	default:
	}
	select {
	case s.sendCh <- b:
		return nil
	case <-s.done:
		return ErrSessionNotConnected
	}
}

func (s *session) loop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sendCh:
			if s.conn == nil {
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("websocket_write_failed", "error", err.Error())
			}
		}
	}
}

func (s *session) close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
