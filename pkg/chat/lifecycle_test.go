package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/mcpchat/pkg/llm"
	"github.com/harunnryd/mcpchat/pkg/session"
)

func stubConnector(conns map[string]*stubConn, tools map[string][]llm.Tool) Connector {
	return func(ctx context.Context, name, spec string) (session.Connection, []llm.Tool, error) {
		c, ok := conns[spec]
		if !ok {
			return nil, nil, errors.New("dial " + spec + ": refused")
		}
		return c, tools[spec], nil
	}
}

func TestOnChatStartGreetsAndAutoConnects(t *testing.T) {
	store := session.NewStore()
	sess, _ := store.Create("s1", "t")
	conn := &stubConn{}
	lc := NewLifecycle(store, LifecycleConfig{
		Presets: []ServerPreset{
			{Name: "weather", Spec: "stdio://weather", AutoConnect: true},
			{Name: "manual", Spec: "stdio://manual"},
			{Name: "broken", Spec: "stdio://broken", AutoConnect: true},
		},
		Connector: stubConnector(
			map[string]*stubConn{"stdio://weather": conn},
			map[string][]llm.Tool{"stdio://weather": {{Name: "get_weather"}, {Name: "get_forecast"}}},
		),
	})
	ui := &recordingUI{}
	lc.OnChatStart(context.Background(), sess, ui)

	if len(ui.messages) != 1 || ui.messages[0].Text() != DefaultGreeting || ui.messages[0].finished != 1 {
		t.Fatalf("expected greeting message, got %+v", ui.messages)
	}
	if len(ui.notes) != 2 {
		t.Fatalf("expected connect and failure notes, got %v", ui.notes)
	}
	if ui.notes[0] != "MCP connection 'weather' established. Available tools: get_weather, get_forecast" {
		t.Fatalf("unexpected notification %q", ui.notes[0])
	}
	if _, ok := sess.Connection("manual"); ok {
		t.Fatalf("manual preset must not auto-connect")
	}
	if sess.Tools().Len() != 2 {
		t.Fatalf("expected weather tools registered")
	}
}

func TestConnectByPresetNameAndReconnect(t *testing.T) {
	store := session.NewStore()
	sess, _ := store.Create("s1", "t")
	first := &stubConn{}
	lc := NewLifecycle(store, LifecycleConfig{
		Presets: []ServerPreset{{Name: "weather", Spec: "stdio://weather"}},
		Connector: stubConnector(
			map[string]*stubConn{"stdio://weather": first},
			map[string][]llm.Tool{"stdio://weather": {{Name: "get_weather"}}},
		),
	})
	ui := &recordingUI{}
	if err := lc.Connect(context.Background(), sess, ui, "weather", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	second := &stubConn{}
	lc.OnConnect(sess, ui, "weather", second, []llm.Tool{{Name: "get_weather_v2"}})
	if first.closed != 1 {
		t.Fatalf("expected previous connection closed")
	}
	if got := llm.Names(sess.Tools().Flatten()); len(got) != 1 || got[0] != "get_weather_v2" {
		t.Fatalf("expected replaced tools, got %v", got)
	}
	if err := lc.Connect(context.Background(), sess, ui, "missing", ""); !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("expected unknown server, got %v", err)
	}
}

func TestOnDisconnectAndChatEnd(t *testing.T) {
	store := session.NewStore()
	sess, _ := store.Create("s1", "t")
	conn := &stubConn{}
	lc := NewLifecycle(store, LifecycleConfig{})
	ui := &recordingUI{}
	lc.OnConnect(sess, ui, "weather", conn, []llm.Tool{{Name: "get_weather"}})

	if !lc.OnDisconnect(sess, "weather") {
		t.Fatalf("expected first disconnect to report removal")
	}
	if lc.OnDisconnect(sess, "weather") {
		t.Fatalf("expected second disconnect to report nothing removed")
	}
	if conn.closed != 1 {
		t.Fatalf("expected single close, got %d", conn.closed)
	}
	if sess.Tools().Len() != 0 {
		t.Fatalf("expected tools unregistered")
	}

	other := &stubConn{}
	lc.OnConnect(sess, ui, "time", other, nil)
	lc.OnChatEnd(sess)
	if other.closed != 1 {
		t.Fatalf("expected connections closed on chat end")
	}
	if _, ok := store.Get("s1"); ok {
		t.Fatalf("expected session removed from store")
	}
}

func TestConnectClientSpecPolicy(t *testing.T) {
	store := session.NewStore()
	sess, _ := store.Create("s1", "t")
	dialed := map[string]int{}
	connector := func(ctx context.Context, name, spec string) (session.Connection, []llm.Tool, error) {
		dialed[spec]++
		return &stubConn{}, []llm.Tool{{Name: "tool_" + name}}, nil
	}
	presets := []ServerPreset{{Name: "weather", Spec: "stdio://weather-server"}}

	locked := NewLifecycle(store, LifecycleConfig{Presets: presets, Connector: connector})
	ui := &recordingUI{}
	if err := locked.Connect(context.Background(), sess, ui, "x", "stdio://sh -c id"); !errors.Is(err, ErrSpecNotAllowed) {
		t.Fatalf("expected spec rejected, got %v", err)
	}
	if err := locked.Connect(context.Background(), sess, ui, "remote", "https://mcp.example.com/sse"); !errors.Is(err, ErrSpecNotAllowed) {
		t.Fatalf("expected remote spec rejected without opt-in, got %v", err)
	}
	if err := locked.Connect(context.Background(), sess, ui, "weather", " stdio://weather-server "); err != nil {
		t.Fatalf("expected preset spec accepted, got %v", err)
	}
	if len(dialed) != 1 || dialed["stdio://weather-server"] != 1 {
		t.Fatalf("expected only the preset dialed, got %v", dialed)
	}

	open := NewLifecycle(store, LifecycleConfig{
		Presets:            presets,
		Connector:          connector,
		AllowClientSpecs:   true,
		AllowedExecutables: []string{"npx"},
	})
	if err := open.Connect(context.Background(), sess, ui, "x", "stdio://sh -c id"); !errors.Is(err, ErrSpecNotAllowed) {
		t.Fatalf("expected sh rejected, got %v", err)
	}
	if err := open.Connect(context.Background(), sess, ui, "fs", "stdio:///usr/bin/npx server-fs"); err != nil {
		t.Fatalf("expected allowed executable, got %v", err)
	}
	if err := open.Connect(context.Background(), sess, ui, "remote", "https://mcp.example.com/sse"); err != nil {
		t.Fatalf("expected remote spec accepted, got %v", err)
	}
	if dialed["stdio://sh -c id"] != 0 {
		t.Fatalf("rejected spec reached the connector")
	}
}

func TestOnChatStartDialsPresetsRegardlessOfClientPolicy(t *testing.T) {
	store := session.NewStore()
	sess, _ := store.Create("s1", "t")
	conn := &stubConn{}
	lc := NewLifecycle(store, LifecycleConfig{
		Presets: []ServerPreset{{Name: "local", Spec: "stdio://go run ./server", AutoConnect: true}},
		Connector: stubConnector(
			map[string]*stubConn{"stdio://go run ./server": conn},
			map[string][]llm.Tool{"stdio://go run ./server": {{Name: "echo"}}},
		),
	})
	lc.OnChatStart(context.Background(), sess, &recordingUI{})
	if _, ok := sess.Connection("local"); !ok {
		t.Fatalf("expected auto-connect preset dialed")
	}
}
