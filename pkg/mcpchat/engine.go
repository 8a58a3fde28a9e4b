package mcpchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/mcpchat/pkg/chat"
	"github.com/harunnryd/mcpchat/pkg/configutil"
	"github.com/harunnryd/mcpchat/pkg/errorsx"
	"github.com/harunnryd/mcpchat/pkg/logging"
	"github.com/harunnryd/mcpchat/pkg/metrics"
	"github.com/harunnryd/mcpchat/pkg/observers"
	"github.com/harunnryd/mcpchat/pkg/redact"
	"github.com/harunnryd/mcpchat/pkg/runner"
	"github.com/harunnryd/mcpchat/pkg/server"
	"github.com/harunnryd/mcpchat/pkg/session"
	"github.com/harunnryd/mcpchat/pkg/tools"
	"github.com/harunnryd/mcpchat/pkg/transports"
	"github.com/harunnryd/mcpchat/pkg/transports/websocket"
)

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Transport defaults to a websocket transport mounted on the HTTP server.
	Transport transports.Transport
	// Connector defaults to chat.DialMCP.
	Connector chat.Connector
	Listeners []chat.StateListener
	LogWriter io.Writer
	// Banner, when set, receives the startup banner.
	Banner io.Writer
}

// Engine wires configuration, the chat loop, sessions and the client
// transport into one running service.
type Engine struct {
	cfg       Config
	log       *slog.Logger
	providers *ProviderRegistry
	store     *session.Store
	transport transports.Transport
	ws        *websocket.Transport
	server    *server.Server
	lifecycle *chat.Lifecycle
	orch      *chat.Orchestrator
	runner    *runner.Lifecycle
	asyncObs  *metrics.AsyncObserver
	jsonl     *metrics.JSONLObserver

	mu      sync.Mutex
	workers map[string]*sessionWorker
	wg      sync.WaitGroup
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	log := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, opts.LogWriter)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	log.Info("mcpchat_init",
		"environment", cfg.Environment,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"mcp_servers", len(cfg.MCP.Servers),
	)

	obsList := []metrics.Observer{observers.NewLoggerObserver(log)}
	var jsonl *metrics.JSONLObserver
	if path := strings.TrimSpace(cfg.Observability.MetricsPath); path != "" {
		j, err := metrics.OpenJSONL(path)
		if err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("open metrics file: %w", err), errorsx.ReasonConfig)
		}
		jsonl = j
		obsList = append(obsList, j)
	}
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
		RegisterDefaultProviders(providers)
	}
	binding, err := providers.BuildLLM(cfg.Vendors.LLM.Provider, cfg)
	if err != nil {
		asyncObs.Close()
		if jsonl != nil {
			_ = jsonl.Close()
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	if binding.Breaker != nil {
		binding.Breaker.SetObserver(asyncObs)
	}

	store := session.NewStore()
	store.OnCreate = func(s *session.Session) {
		metrics.Record(asyncObs, metrics.MetricsEvent{Name: metrics.EventSessionStart, Tags: map[string]string{"session_id": s.ID(), "trace_id": s.TraceID()}})
	}
	store.OnEnd = func(s *session.Session) {
		metrics.Record(asyncObs, metrics.MetricsEvent{
			Name:  metrics.EventSessionEnd,
			Value: time.Since(s.Created()).Seconds(),
			Tags:  map[string]string{"session_id": s.ID(), "trace_id": s.TraceID()},
		})
	}

	conv := chat.NewConversation(binding.Driver, chat.ConversationConfig{
		Model:     binding.Model,
		MaxTokens: binding.MaxTokens,
		System:    cfg.Chat.SystemPrompt,
		Observer:  asyncObs,
		Logger:    logging.Component(log, "conversation"),
	})
	orch := chat.NewOrchestrator(conv, chat.OrchestratorConfig{
		Tools: tools.Options{
			Timeout:      configutil.Millis(cfg.Tools.TimeoutMS, 0),
			Retries:      cfg.Tools.Retries,
			RetryBackoff: configutil.Millis(cfg.Tools.RetryBackoffMS, 0),
		},
		MaxToolTurns: cfg.Chat.MaxToolTurns,
		Observer:     asyncObs,
		Logger:       logging.Component(log, "orchestrator"),
		Listeners:    opts.Listeners,
	})
	presets := cfg.MCP.Presets()
	lifecycle := chat.NewLifecycle(store, chat.LifecycleConfig{
		Greeting:           cfg.Chat.Greeting,
		Presets:            presets,
		Connector:          opts.Connector,
		AllowClientSpecs:   cfg.MCP.AllowClientSpecs,
		AllowedExecutables: cfg.MCP.AllowedExecutables,
		Observer:           asyncObs,
		Logger:             logging.Component(log, "lifecycle"),
	})

	e := &Engine{
		cfg:       cfg,
		log:       log,
		providers: providers,
		store:     store,
		transport: opts.Transport,
		lifecycle: lifecycle,
		orch:      orch,
		asyncObs:  asyncObs,
		jsonl:     jsonl,
		workers:   make(map[string]*sessionWorker),
	}
	if e.transport == nil {
		e.ws = websocket.New(websocket.Config{
			Path:           cfg.Server.WSPath,
			AllowAnyOrigin: cfg.Server.AllowAnyOrigin,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})
		e.transport = e.ws
		e.server = server.New(server.Config{
			Addr:              cfg.Server.Addr,
			WSPath:            cfg.Server.WSPath,
			CORSOrigins:       cfg.Server.CORSOrigins,
			ReadHeaderTimeout: configutil.Millis(cfg.Server.ReadHeaderTimeoutMS, 5*time.Second),
			Debug:             cfg.Server.Debug,
		}, server.Deps{
			Store:     store,
			WebSocket: e.ws,
			Presets:   presets,
			Logger:    logging.Component(log, "http"),
		})
	}

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "MCP Chat Ready", "transport", e.transport.Name(), "model", conv.Model()}
			if e.server != nil {
				fields = append(fields, "addr", e.server.Addr())
			}
			if rr, ok := e.transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			log.Info("engine_ready", fields...)
		},
		OnStop: func() {
			asyncObs.Close()
			if jsonl != nil {
				_ = jsonl.Close()
			}
			log.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_sessions", store.Count())
		},
	}
	timeout := configutil.Millis(cfg.Server.DrainTimeoutMS, 20*time.Second)
	e.runner = runner.NewLifecycle(runner.DrainerFunc(e.drain), hooks, timeout)
	if opts.Banner != nil {
		e.runner.Banner = opts.Banner
	}
	return e, nil
}

// drain refuses new sessions, closes the live ones and waits for in-flight
// turns to return.
func (e *Engine) drain(ctx context.Context) error {
	if e.ws != nil {
		e.ws.SetDraining(true)
	}
	e.store.SetDraining(true)
	_ = e.transport.Stop()
	e.store.CloseAll()
	e.store.WaitForEmpty(ctx, 200*time.Millisecond)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if e.server != nil {
		if serr := e.server.Shutdown(ctx); serr != nil && !errors.Is(serr, context.Canceled) {
			err = errors.Join(err, serr)
		}
	}
	return err
}

// Start opens the transport, the HTTP server when one is configured and
// the event router. It returns once everything is listening.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	if e.server != nil {
		if err := e.server.Start(ctx); err != nil {
			_ = e.transport.Stop()
			return err
		}
	}
	go e.routeTransport(ctx)
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	return e.runner.Stop()
}

func (e *Engine) routeTransport(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.transport.Recv():
			if !ok {
				return
			}
			if ev.SessionID == "" {
				continue
			}
			e.route(ev)
		}
	}
}

func (e *Engine) route(ev transports.Event) {
	switch ev.Type {
	case transports.EventSessionStart:
		e.startSession(ev)
	case transports.EventSessionEnd:
		e.endSession(ev.SessionID)
	default:
		e.mu.Lock()
		w := e.workers[ev.SessionID]
		e.mu.Unlock()
		if w == nil {
			e.log.Warn("event_for_unknown_session", "session_id", ev.SessionID, "type", ev.Type)
			_ = e.transport.Send(transports.Event{
				Type:      transports.EventError,
				SessionID: ev.SessionID,
				Text:      "session not found",
				Reason:    string(errorsx.ReasonSessionNotFound),
			})
			return
		}
		if !w.enqueue(ev) {
			e.log.Warn("session_inbox_full", "session_id", ev.SessionID, "type", ev.Type)
			_ = e.transport.Send(transports.Event{
				Type:      transports.EventError,
				SessionID: ev.SessionID,
				Text:      "session is busy, try again shortly",
				Reason:    string(errorsx.ReasonSessionBusy),
			})
		}
	}
}

func (e *Engine) startSession(ev transports.Event) {
	sess, err := e.store.Create(ev.SessionID, ev.TraceID)
	if err != nil {
		e.log.Warn("session_create_failed", "session_id", ev.SessionID, "error", err)
		_ = e.transport.Send(transports.Event{Type: transports.EventError, SessionID: ev.SessionID, Text: err.Error()})
		return
	}
	ui := newTransportUI(e.transport, sess.ID(), sess.TraceID(), e.log)
	w := newSessionWorker(e, sess, ui)
	e.mu.Lock()
	e.workers[sess.ID()] = w
	e.mu.Unlock()
	e.log.Info("session_start", "session_id", sess.ID(), "trace_id", sess.TraceID())

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		w.run()
	}()
}

func (e *Engine) endSession(id string) {
	e.mu.Lock()
	w := e.workers[id]
	delete(e.workers, id)
	e.mu.Unlock()
	if w == nil {
		return
	}
	// Closing the session cancels any turn still in flight.
	e.lifecycle.OnChatEnd(w.sess)
	w.stop()
	e.log.Info("session_end", "session_id", id)
}

func (e *Engine) Store() *session.Store { return e.store }

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

func (e *Engine) Transport() transports.Transport { return e.transport }

// Handler is the HTTP surface, nil when a custom transport was supplied.
func (e *Engine) Handler() http.Handler {
	if e.server == nil {
		return nil
	}
	return e.server.Handler()
}

func (e *Engine) Config() Config { return e.cfg }

// State reports the service lifecycle state.
func (e *Engine) State() runner.State { return e.runner.State() }

// sessionWorker applies one session's events in arrival order.
type sessionWorker struct {
	e     *Engine
	sess  *session.Session
	ui    *transportUI
	inbox chan transports.Event
	once  sync.Once
}

func newSessionWorker(e *Engine, sess *session.Session, ui *transportUI) *sessionWorker {
	return &sessionWorker{e: e, sess: sess, ui: ui, inbox: make(chan transports.Event, 64)}
}

// enqueue never blocks the router; a full inbox rejects the event.
func (w *sessionWorker) enqueue(ev transports.Event) bool {
	select {
	case w.inbox <- ev:
		return true
	default:
		return false
	}
}

func (w *sessionWorker) stop() {
	w.once.Do(func() { close(w.inbox) })
}

func (w *sessionWorker) run() {
	ctx := w.sess.Context()
	w.e.lifecycle.OnChatStart(ctx, w.sess, w.ui)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.inbox:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		}
	}
}

func (w *sessionWorker) handle(ctx context.Context, ev transports.Event) {
	switch ev.Type {
	case transports.EventUserMessage:
		text := ev.Text
		if w.e.cfg.Chat.SanitizeInput {
			text = sanitizeInput(text)
		}
		if strings.TrimSpace(text) == "" {
			return
		}
		if _, err := w.e.orch.HandleMessage(ctx, w.sess, w.ui, text); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.e.log.Error("message_failed", "session_id", w.sess.ID(), "reason_code", errorsx.Reason(err), "error", err)
			w.ui.Error(err.Error(), string(errorsx.Reason(err)))
		}
	case transports.EventMCPConnect:
		if err := w.e.lifecycle.Connect(ctx, w.sess, w.ui, ev.Name, ev.Spec); err != nil {
			w.ui.Notify(fmt.Sprintf("MCP connection '%s' failed: %v", ev.Name, err))
		}
	case transports.EventMCPDisconnect:
		if w.e.lifecycle.OnDisconnect(w.sess, ev.Name) {
			w.ui.Notify(fmt.Sprintf("MCP connection '%s' closed.", ev.Name))
		}
	}
}
