package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harunnryd/mcpchat/pkg/errorsx"
	"github.com/harunnryd/mcpchat/pkg/llm"
)

// ClientName and ClientVersion identify this application to MCP servers.
var (
	ClientName    = "mcpchat"
	ClientVersion = "dev"
)

// Client is one live connection to an MCP server.
type Client struct {
	name    string
	spec    string
	mu      sync.Mutex
	session *mcpsdk.ClientSession
}

// Connect dials the server described by spec and completes the MCP handshake.
func Connect(ctx context.Context, name, spec string) (*Client, error) {
	transport, err := transportBuilder(ctx, spec)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("mcp %s: %w", name, err), errorsx.ReasonMCPConnect)
	}
	impl := mcpsdk.NewClient(&mcpsdk.Implementation{Name: ClientName, Version: ClientVersion}, nil)
	session, err := impl.Connect(ctx, transport, nil)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("mcp %s: connect: %w", name, err), errorsx.ReasonMCPConnect)
	}
	return &Client{name: name, spec: spec, session: session}, nil
}

func (c *Client) Name() string { return c.name }
func (c *Client) Spec() string { return c.spec }

func (c *Client) active() (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("mcp %s: connection closed", c.name)
	}
	return c.session, nil
}

// ListTools returns every tool the server advertises, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]llm.Tool, error) {
	session, err := c.active()
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonMCPListTools)
	}
	var tools []llm.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("mcp %s: list tools: %w", c.name, err), errorsx.ReasonMCPListTools)
		}
		tools = append(tools, toTool(tool))
	}
	return tools, nil
}

// CallTool invokes a tool with its raw JSON arguments and renders the result
// as a single string. A result flagged IsError is returned as an error.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	session, err := c.active()
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	out := renderResult(res)
	if res.IsError {
		if out == "" {
			out = "tool reported an error"
		}
		return "", fmt.Errorf("%s", out)
	}
	return out, nil
}

// Close ends the session. Calling it more than once is safe.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

func toTool(t *mcpsdk.Tool) llm.Tool {
	if t == nil {
		return llm.Tool{}
	}
	return llm.Tool{Name: t.Name, Description: t.Description, InputSchema: schemaMap(t.InputSchema)}
}

func schemaMap(schema any) map[string]any {
	switch v := schema.(type) {
	case nil:
		return map[string]any{"type": "object"}
	case map[string]any:
		return v
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

func renderResult(res *mcpsdk.CallToolResult) string {
	if res == nil {
		return ""
	}
	parts := make([]string, 0, len(res.Content))
	for _, content := range res.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		if raw, err := json.Marshal(content); err == nil {
			parts = append(parts, string(raw))
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if raw, err := json.Marshal(res.StructuredContent); err == nil {
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}
