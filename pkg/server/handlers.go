package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harunnryd/mcpchat/pkg/chat"
	"github.com/harunnryd/mcpchat/pkg/llm"
	"github.com/harunnryd/mcpchat/pkg/redact"
	"github.com/harunnryd/mcpchat/pkg/session"
)

const historyTextLimit = 500

type handlers struct {
	store   *session.Store
	presets []chat.ServerPreset
}

func (h handlers) Health(c *gin.Context) {
	var count int64
	draining := false
	if h.store != nil {
		count = h.store.Count()
		draining = h.store.Draining()
	}
	status := "ok"
	code := http.StatusOK
	if draining {
		status = "draining"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "sessions": count})
}

func (h handlers) ListSessions(c *gin.Context) {
	ids := []string{}
	if h.store != nil {
		ids = append(ids, h.store.IDs()...)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(ids), "sessions": ids})
}

func (h handlers) lookup(c *gin.Context) (*session.Session, bool) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "session not found"})
		return nil, false
	}
	sess, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"err": "session not found"})
		return nil, false
	}
	return sess, true
}

type toolView struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type providerView struct {
	Name      string     `json:"name"`
	Connected bool       `json:"connected"`
	Tools     []toolView `json:"tools"`
}

func (h handlers) SessionTools(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	reg := sess.Tools()
	providers := []providerView{}
	for _, name := range reg.Providers() {
		_, connected := sess.Connection(name)
		view := providerView{Name: name, Connected: connected, Tools: []toolView{}}
		for _, t := range reg.Tools(name) {
			view.Tools = append(view.Tools, toolView{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
		}
		providers = append(providers, view)
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID(), "count": reg.Len(), "providers": providers})
}

type blockView struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Tool      string `json:"tool,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type messageView struct {
	Role   string      `json:"role"`
	Blocks []blockView `json:"blocks"`
}

func (h handlers) SessionHistory(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	history := sess.History()
	out := make([]messageView, 0, len(history))
	for _, m := range history {
		view := messageView{Role: string(m.Role), Blocks: make([]blockView, 0, len(m.Content))}
		for _, b := range m.Content {
			view.Blocks = append(view.Blocks, toBlockView(b))
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID(), "messages": out})
}

func toBlockView(b llm.ContentBlock) blockView {
	switch v := b.(type) {
	case llm.TextBlock:
		return blockView{Type: string(llm.BlockText), Text: scrub(v.Text)}
	case llm.ToolUseBlock:
		return blockView{Type: string(llm.BlockToolUse), Tool: v.Name, ToolUseID: v.ID}
	case llm.ToolResultBlock:
		return blockView{Type: string(llm.BlockToolResult), ToolUseID: v.ToolUseID, Text: scrub(v.Content), IsError: v.IsError}
	default:
		return blockView{Type: "unknown"}
	}
}

func scrub(s string) string {
	return redact.Truncate(redact.Text(redact.Secrets(s)), historyTextLimit)
}

type presetView struct {
	Name        string `json:"name"`
	Spec        string `json:"spec"`
	AutoConnect bool   `json:"auto_connect"`
}

func (h handlers) Servers(c *gin.Context) {
	out := make([]presetView, 0, len(h.presets))
	for _, p := range h.presets {
		out = append(out, presetView{Name: p.Name, Spec: redact.Secrets(p.Spec), AutoConnect: p.AutoConnect})
	}
	c.JSON(http.StatusOK, gin.H{"servers": out})
}
