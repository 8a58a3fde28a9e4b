package chat

import (
	"context"
	"log/slog"

	"github.com/harunnryd/mcpchat/pkg/errorsx"
	"github.com/harunnryd/mcpchat/pkg/llm"
	"github.com/harunnryd/mcpchat/pkg/metrics"
	"github.com/harunnryd/mcpchat/pkg/session"
	"github.com/harunnryd/mcpchat/pkg/tools"
)

// Outcome summarizes one handled user message.
type Outcome struct {
	Final      string
	HasFinal   bool
	StopReason llm.StopReason
	ToolTurns  int
}

type OrchestratorConfig struct {
	Tools tools.Options
	// MaxToolTurns bounds tool round-trips per user message; 0 is unbounded.
	MaxToolTurns int
	Observer     metrics.Observer
	Logger       *slog.Logger
	Listeners    []StateListener
}

// Orchestrator alternates model turns and tool executions until the model
// stops asking for tools. Only the first tool_use block of a reply runs.
type Orchestrator struct {
	conv      *Conversation
	cfg       OrchestratorConfig
	listeners []StateListener
}

func NewOrchestrator(conv *Conversation, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tools.Observer == nil {
		cfg.Tools.Observer = cfg.Observer
	}
	if cfg.Tools.Logger == nil {
		cfg.Tools.Logger = cfg.Logger
	}
	o := &Orchestrator{conv: conv, cfg: cfg}
	o.listeners = append(o.listeners, StateListenerFunc(o.recordState))
	o.listeners = append(o.listeners, cfg.Listeners...)
	return o
}

func (o *Orchestrator) HandleMessage(ctx context.Context, sess *session.Session, ui UI, text string) (Outcome, error) {
	sess.LockTurn()
	defer sess.UnlockTurn()

	fsm := newStateMachine(sess.ID(), o.listeners)
	dispatcher := tools.NewDispatcher(sess.Tools(), sess, o.cfg.Tools).WithSteps(ui)
	logger := o.cfg.Logger.With("session_id", sess.ID(), "trace_id", sess.TraceID())

	sess.Append(llm.UserText(text))
	_ = fsm.Transition(StateAwaitingModel, "user_message")

	var out Outcome
	for {
		resp, err := o.conv.Converse(ctx, ui, sess.History(), sess.Tools().Flatten())
		if err != nil {
			_ = fsm.Transition(StateIdle, "model_error")
			return out, err
		}
		out.StopReason = resp.StopReason

		if resp.StopReason == llm.StopToolUse {
			call, ok := llm.FirstToolUse(resp.Content)
			if ok {
				if o.cfg.MaxToolTurns > 0 && out.ToolTurns >= o.cfg.MaxToolTurns {
					_ = fsm.Transition(StateIdle, "tool_turn_limit")
					logger.Warn("tool_turn_limit", "limit", o.cfg.MaxToolTurns, "tool_name", call.Name)
					return out, errorsx.New(errorsx.ReasonToolTurnLimit, "tool turn limit of %d reached", o.cfg.MaxToolTurns)
				}
				_ = fsm.Transition(StateExecutingTool, call.Name)
				res := dispatcher.Dispatch(ctx, call)
				sess.Append(llm.AssistantBlocks(resp.Content), llm.ToolResultMessage(res.Block()))
				out.ToolTurns++
				_ = fsm.Transition(StateAwaitingModel, "tool_result")
				continue
			}
			logger.Warn("tool_use_without_block")
		}

		if final, ok := llm.FirstText(resp.Content); ok && final != "" {
			sess.Append(llm.AssistantText(final))
			out.Final = final
			out.HasFinal = true
		}
		_ = fsm.Transition(StateIdle, string(resp.StopReason))
		return out, nil
	}
}

func (o *Orchestrator) recordState(ev StateChange) {
	o.cfg.Logger.Debug("loop_state", "session_id", ev.SessionID, "from", ev.FromState.String(), "to", ev.ToState.String(), "reason", ev.Reason)
	metrics.Record(o.cfg.Observer, metrics.MetricsEvent{
		Name: metrics.EventLoopState,
		Time: ev.Timestamp,
		Tags: map[string]string{"session_id": ev.SessionID, "from": ev.FromState.String(), "to": ev.ToState.String()},
	})
}
