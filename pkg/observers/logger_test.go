package observers

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/harunnryd/mcpchat/pkg/metrics"
	"github.com/harunnryd/mcpchat/pkg/redact"
)

func TestLoggerObserverRedactsStringFields(t *testing.T) {
	redact.SetEnabled(true)
	defer redact.SetEnabled(false)

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggerObserver(log)
	obs.RecordEvent(metrics.MetricsEvent{
		Name:   metrics.EventToolCall,
		Tags:   map[string]string{"tool": "send_mail"},
		Fields: map[string]any{"input": `{"to":"a@b.com"}`, "attempts": 1},
	})
	out := buf.String()
	if strings.Contains(out, "a@b.com") {
		t.Fatalf("expected email redacted, got %q", out)
	}
	if !strings.Contains(out, "tool=send_mail") {
		t.Fatalf("expected tool tag, got %q", out)
	}
}

type flushCounter struct {
	metrics.MemoryObserver
	flushed int
}

func (f *flushCounter) Flush() error {
	f.flushed++
	return nil
}

func TestMultiObserverFanOutAndFlush(t *testing.T) {
	a := metrics.NewMemoryObserver()
	b := &flushCounter{}
	multi := NewMultiObserver(a, nil, b)
	multi.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSessionStart})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("expected event delivered to both observers")
	}
	if err := multi.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if b.flushed != 1 {
		t.Fatalf("expected one flush, got %d", b.flushed)
	}
}
