package mock

import (
	"testing"

	"github.com/harunnryd/mcpchat/pkg/transports"
)

func TestMockTransportPushAndSend(t *testing.T) {
	tr := New()
	tr.Push(transports.Event{Type: transports.EventUserMessage, SessionID: "s", Text: "hi"})
	if ev := <-tr.Recv(); ev.Text != "hi" {
		t.Fatalf("unexpected pushed event %+v", ev)
	}
	_ = tr.Send(transports.Event{Type: transports.EventToken, Text: "x"})
	if ev := <-tr.Sent(); ev.Type != transports.EventToken {
		t.Fatalf("unexpected sent event %+v", ev)
	}
	_ = tr.Stop()
	_ = tr.Stop()
	_ = tr.Send(transports.Event{Type: transports.EventToken})
	tr.Push(transports.Event{Type: transports.EventUserMessage})
}
