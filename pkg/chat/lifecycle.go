package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/harunnryd/mcpchat/pkg/llm"
	"github.com/harunnryd/mcpchat/pkg/mcp"
	"github.com/harunnryd/mcpchat/pkg/metrics"
	"github.com/harunnryd/mcpchat/pkg/session"
)

const DefaultGreeting = "Hello! I'm ready to help. I can use the tools from any connected MCP servers."

// ServerPreset is a configured MCP server a client may connect by name.
type ServerPreset struct {
	Name        string
	Spec        string
	AutoConnect bool
}

// Connector opens a provider connection and lists its tools.
type Connector func(ctx context.Context, name, spec string) (session.Connection, []llm.Tool, error)

// DialMCP is the default Connector.
func DialMCP(ctx context.Context, name, spec string) (session.Connection, []llm.Tool, error) {
	client, err := mcp.Connect(ctx, name, spec)
	if err != nil {
		return nil, nil, err
	}
	list, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, list, nil
}

type LifecycleConfig struct {
	Greeting  string
	Presets   []ServerPreset
	Connector Connector
	// AllowClientSpecs lets clients dial specs that are not configured presets.
	AllowClientSpecs bool
	// AllowedExecutables limits client stdio specs to these programs.
	// Empty means clients may not launch processes at all.
	AllowedExecutables []string
	Observer           metrics.Observer
	Logger             *slog.Logger
}

// Lifecycle handles chat start and end plus connection events for a session.
type Lifecycle struct {
	store *session.Store
	cfg   LifecycleConfig
}

var (
	ErrUnknownServer  = errors.New("unknown MCP server")
	ErrSpecNotAllowed = errors.New("MCP connection spec not allowed")
)

func NewLifecycle(store *session.Store, cfg LifecycleConfig) *Lifecycle {
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.Connector == nil {
		cfg.Connector = DialMCP
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Lifecycle{store: store, cfg: cfg}
}

func (l *Lifecycle) Presets() []ServerPreset {
	out := make([]ServerPreset, len(l.cfg.Presets))
	copy(out, l.cfg.Presets)
	return out
}

// OnChatStart greets the user and connects auto-connect presets. A failed
// preset is reported to the user and does not end the chat.
func (l *Lifecycle) OnChatStart(ctx context.Context, sess *session.Session, ui UI) {
	stream := ui.NewMessage()
	stream.Token(l.cfg.Greeting)
	stream.Finish()

	for _, p := range l.cfg.Presets {
		if !p.AutoConnect {
			continue
		}
		if err := l.dial(ctx, sess, ui, p.Name, p.Spec); err != nil {
			ui.Notify(fmt.Sprintf("MCP connection '%s' failed: %v", p.Name, err))
		}
	}
}

// Connect handles a client connect request. An empty spec is looked up among
// the presets; any other spec must pass the client spec policy.
func (l *Lifecycle) Connect(ctx context.Context, sess *session.Session, ui UI, name, spec string) error {
	name = strings.TrimSpace(name)
	spec = strings.TrimSpace(spec)
	if spec == "" {
		preset, ok := l.preset(name)
		if !ok {
			return fmt.Errorf("%w %q", ErrUnknownServer, name)
		}
		spec = preset.Spec
	} else if err := l.checkClientSpec(name, spec); err != nil {
		l.cfg.Logger.Warn("mcp_spec_rejected", "session_id", sess.ID(), "server", name, "error", err)
		return err
	}
	return l.dial(ctx, sess, ui, name, spec)
}

func (l *Lifecycle) checkClientSpec(name, spec string) error {
	if preset, ok := l.preset(name); ok && strings.TrimSpace(preset.Spec) == spec {
		return nil
	}
	if !l.cfg.AllowClientSpecs {
		return fmt.Errorf("%w: connect to a configured server by name", ErrSpecNotAllowed)
	}
	target, err := mcp.ParseSpec(spec)
	if err != nil {
		return err
	}
	if !target.IsStdio() {
		return nil
	}
	exe := target.Executable()
	for _, allowed := range l.cfg.AllowedExecutables {
		if exe == allowed || filepath.Base(exe) == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: executable %q", ErrSpecNotAllowed, exe)
}

func (l *Lifecycle) dial(ctx context.Context, sess *session.Session, ui UI, name, spec string) error {
	conn, list, err := l.cfg.Connector(ctx, name, spec)
	if err != nil {
		l.cfg.Logger.Warn("mcp_connect_failed", "session_id", sess.ID(), "server", name, "error", err)
		return err
	}
	l.OnConnect(sess, ui, name, conn, list)
	return nil
}

func (l *Lifecycle) preset(name string) (ServerPreset, bool) {
	for _, p := range l.cfg.Presets {
		if p.Name == name {
			return p, true
		}
	}
	return ServerPreset{}, false
}

// OnConnect attaches conn, registers its tools and notifies the user.
// A connection already held under name is closed first.
func (l *Lifecycle) OnConnect(sess *session.Session, ui UI, name string, conn session.Connection, list []llm.Tool) {
	if prev, ok := sess.Attach(name, conn); ok && prev != nil {
		_ = prev.Close()
	}
	sess.Tools().Register(name, list)
	names := llm.Names(list)
	l.cfg.Logger.Info("mcp_connect", "session_id", sess.ID(), "server", name, "tools", len(names))
	metrics.Record(l.cfg.Observer, metrics.MetricsEvent{
		Name:  metrics.EventMCPConnect,
		Value: float64(len(names)),
		Tags:  map[string]string{"session_id": sess.ID(), "server": name},
	})
	ui.Notify(fmt.Sprintf("MCP connection '%s' established. Available tools: %s", name, strings.Join(names, ", ")))
}

// OnDisconnect forgets name's tools and closes its connection. It reports
// whether a connection was held under name.
func (l *Lifecycle) OnDisconnect(sess *session.Session, name string) bool {
	sess.Tools().Unregister(name)
	conn, ok := sess.Detach(name)
	if !ok {
		return false
	}
	if err := conn.Close(); err != nil {
		l.cfg.Logger.Warn("mcp_close_failed", "session_id", sess.ID(), "server", name, "error", err)
	}
	l.cfg.Logger.Info("mcp_disconnect", "session_id", sess.ID(), "server", name)
	metrics.Record(l.cfg.Observer, metrics.MetricsEvent{
		Name: metrics.EventMCPDisconnect,
		Tags: map[string]string{"session_id": sess.ID(), "server": name},
	})
	return true
}

// OnChatEnd closes the session and drops it from the store.
func (l *Lifecycle) OnChatEnd(sess *session.Session) {
	if err := l.store.Remove(sess.ID()); err != nil {
		l.cfg.Logger.Warn("session_close_failed", "session_id", sess.ID(), "error", err)
	}
}
