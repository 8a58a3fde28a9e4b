package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/mcpchat/pkg/errorsx"
	"github.com/harunnryd/mcpchat/pkg/llm"
	"github.com/harunnryd/mcpchat/pkg/metrics"
	"github.com/harunnryd/mcpchat/pkg/resilience"
)

const DefaultModel = "claude-sonnet-4-20250514"

type ConversationConfig struct {
	Model     string
	MaxTokens int
	System    string
	Observer  metrics.Observer
	Logger    *slog.Logger
}

// Conversation runs a single model turn and streams it into the UI.
type Conversation struct {
	driver llm.Driver
	cfg    ConversationConfig
}

func NewConversation(driver llm.Driver, cfg ConversationConfig) *Conversation {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Conversation{driver: driver, cfg: cfg}
}

func (c *Conversation) Model() string { return c.cfg.Model }

// Converse sends history and the available tools to the model. Exactly one UI
// message is opened and it is always finished, even on failure or when the
// reply carries no text.
func (c *Conversation) Converse(ctx context.Context, ui UI, history []llm.Message, tools []llm.Tool) (llm.Response, error) {
	req := llm.Request{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    c.cfg.System,
		Messages:  history,
	}
	if len(tools) > 0 {
		req.Tools = tools
	}

	stream := ui.NewMessage()
	defer stream.Finish()

	start := time.Now()
	resp, err := c.driver.Stream(ctx, req, stream.Token)
	dur := time.Since(start)
	if err != nil {
		reason := errorsx.ReasonLLMStream
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonLLMRateLimit
		}
		err = errorsx.Wrap(err, reason)
		c.cfg.Logger.Error("llm_turn_failed", "driver", c.driver.Name(), "reason_code", errorsx.Reason(err), "error", err)
		c.record(dur, "error", resp)
		return llm.Response{}, err
	}
	c.cfg.Logger.Debug("llm_turn", "driver", c.driver.Name(), "stop_reason", resp.StopReason, "blocks", len(resp.Content), "duration_ms", dur.Milliseconds())
	c.record(dur, string(resp.StopReason), resp)
	return resp, nil
}

func (c *Conversation) record(dur time.Duration, status string, resp llm.Response) {
	metrics.Record(c.cfg.Observer, metrics.MetricsEvent{
		Name:  metrics.EventLLMTurn,
		Value: float64(dur.Milliseconds()),
		Tags:  map[string]string{"driver": c.driver.Name(), "model": c.cfg.Model, "status": status},
		Fields: map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
	})
}
