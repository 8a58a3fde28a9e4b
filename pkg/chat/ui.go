package chat

import "github.com/harunnryd/mcpchat/pkg/tools"

// Stream is one outgoing assistant message being rendered token by token.
type Stream interface {
	Token(text string)
	Finish()
}

// UI is the session's presentation surface.
type UI interface {
	NewMessage() Stream
	Notify(text string)
	tools.StepObserver
}
