package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/harunnryd/mcpchat/pkg/tools"
)

type recordingUI struct {
	mu       sync.Mutex
	messages []*recordedStream
	notes    []string
	steps    []tools.Step
}

type recordedStream struct {
	tokens   []string
	finished int
}

func (s *recordedStream) Token(text string) { s.tokens = append(s.tokens, text) }
func (s *recordedStream) Finish()           { s.finished++ }
func (s *recordedStream) Text() string      { return strings.Join(s.tokens, "") }

func (u *recordingUI) NewMessage() Stream {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := &recordedStream{}
	u.messages = append(u.messages, s)
	return s
}

func (u *recordingUI) Notify(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notes = append(u.notes, text)
}

func (u *recordingUI) Step(step tools.Step) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.steps = append(u.steps, step)
}

type stubConn struct {
	mu     sync.Mutex
	calls  []string
	args   []json.RawMessage
	output string
	err    error
	closed int
}

func (c *stubConn) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	c.args = append(c.args, args)
	return c.output, c.err
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}
