package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harunnryd/mcpchat/pkg/llm"
	"github.com/harunnryd/mcpchat/pkg/resilience"
)

// DefaultModel is used when neither the config nor the request names a model.
const DefaultModel = "claude-sonnet-4-20250514"

type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// Driver streams Messages API turns through the official SDK.
type Driver struct {
	cfg    Config
	client sdk.Client
}

func New(cfg Config) *Driver {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are owned by llm.RetryDriver so a streamed turn is never replayed.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Driver{cfg: cfg, client: sdk.NewClient(opts...)}
}

func (d *Driver) Name() string { return "anthropic" }

func (d *Driver) Stream(ctx context.Context, req llm.Request, sink llm.TokenSink) (llm.Response, error) {
	params := d.buildParams(req)
	stream := d.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := sdk.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return llm.Response{}, err
		}
		if ev, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" && sink != nil {
				sink(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return llm.Response{}, mapError(err)
	}
	return fromMessage(message), nil
}

func (d *Driver) buildParams(req llm.Request) sdk.MessageNewParams {
	model := req.Model
	if model == "" {
		model = d.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = d.cfg.MaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toMessageParams(req.Messages),
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toToolParams(req.Tools)
	}
	return params
}

func toMessageParams(history []llm.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(history))
	for _, m := range history {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch v := b.(type) {
			case llm.TextBlock:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case llm.ToolUseBlock:
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Arguments(), v.Name))
			case llm.ToolResultBlock:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolUseID, v.Content, v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == llm.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func toToolParams(tools []llm.Tool) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := sdk.ToolInputSchemaParam{
			Properties: t.Properties(),
			Required:   t.Required(),
		}
		extra := map[string]any{}
		for k, v := range t.InputSchema {
			switch k {
			case "type", "properties", "required":
			default:
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			schema.ExtraFields = extra
		}
		tool := &sdk.ToolParam{Name: t.Name, InputSchema: schema}
		if t.Description != "" {
			tool.Description = sdk.String(t.Description)
		}
		out = append(out, sdk.ToolUnionParam{OfTool: tool})
	}
	return out
}

func fromMessage(msg sdk.Message) llm.Response {
	resp := llm.Response{
		StopReason: llm.StopReason(msg.StopReason),
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content = append(resp.Content, llm.TextBlock{Text: block.Text})
		case "tool_use":
			input := json.RawMessage(block.Input)
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			resp.Content = append(resp.Content, llm.ToolUseBlock{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	return resp
}

func mapError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, 529:
			rl := resilience.RateLimitError{Provider: "anthropic", Message: err.Error()}
			if apiErr.Response != nil {
				rl.RetryAfter = resilience.ParseRetryAfter(apiErr.Response.Header.Get("retry-after"), time.Now())
			}
			return rl
		}
	}
	return err
}
