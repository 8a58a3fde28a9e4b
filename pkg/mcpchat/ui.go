package mcpchat

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/harunnryd/mcpchat/pkg/chat"
	"github.com/harunnryd/mcpchat/pkg/tools"
	"github.com/harunnryd/mcpchat/pkg/transports"
)

// transportUI renders a chat session as protocol events on a transport.
// Send failures are logged; a client that went away must not fail the turn.
type transportUI struct {
	transport transports.Transport
	sessionID string
	traceID   string
	log       *slog.Logger
}

func newTransportUI(t transports.Transport, sessionID, traceID string, log *slog.Logger) *transportUI {
	return &transportUI{transport: t, sessionID: sessionID, traceID: traceID, log: log}
}

func (u *transportUI) send(ev transports.Event) {
	ev.SessionID = u.sessionID
	ev.TraceID = u.traceID
	if err := u.transport.Send(ev); err != nil {
		u.log.Debug("ui_send_failed", "type", ev.Type, "error", err)
	}
}

func (u *transportUI) NewMessage() chat.Stream {
	s := &messageStream{ui: u, id: uuid.NewString()}
	u.send(transports.Event{Type: transports.EventMessageStart, MessageID: s.id})
	return s
}

func (u *transportUI) Notify(text string) {
	u.send(transports.Event{Type: transports.EventNotification, Text: text})
}

func (u *transportUI) Step(step tools.Step) {
	u.send(transports.Event{Type: transports.EventStep, Step: transports.NewStepPayload(step)})
}

// Error reports a failed turn to the client.
func (u *transportUI) Error(text, reason string) {
	u.send(transports.Event{Type: transports.EventError, Text: text, Reason: reason})
}

type messageStream struct {
	ui   *transportUI
	id   string
	once sync.Once
}

func (s *messageStream) Token(text string) {
	if text == "" {
		return
	}
	s.ui.send(transports.Event{Type: transports.EventToken, MessageID: s.id, Text: text})
}

func (s *messageStream) Finish() {
	s.once.Do(func() {
		s.ui.send(transports.Event{Type: transports.EventMessageEnd, MessageID: s.id})
	})
}

var _ chat.UI = (*transportUI)(nil)
