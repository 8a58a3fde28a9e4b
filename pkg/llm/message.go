package llm

import "encoding/json"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags the variant of a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a closed union: TextBlock, ToolUseBlock or ToolResultBlock.
type ContentBlock interface {
	Type() BlockType
	contentBlock()
}

type TextBlock struct {
	Text string
}

// ToolUseBlock is a tool invocation requested by the model.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultBlock answers the ToolUseBlock with the same ID.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (TextBlock) Type() BlockType       { return BlockText }
func (ToolUseBlock) Type() BlockType    { return BlockToolUse }
func (ToolResultBlock) Type() BlockType { return BlockToolResult }

func (TextBlock) contentBlock()       {}
func (ToolUseBlock) contentBlock()    {}
func (ToolResultBlock) contentBlock() {}

// Arguments returns the tool input, defaulting to an empty JSON object.
func (b ToolUseBlock) Arguments() json.RawMessage {
	if len(b.Input) == 0 {
		return json.RawMessage("{}")
	}
	return b.Input
}

type Message struct {
	Role    Role
	Content []ContentBlock
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock{Text: text}}}
}

func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{TextBlock{Text: text}}}
}

// AssistantBlocks records a model reply verbatim, tool requests included.
func AssistantBlocks(blocks []ContentBlock) Message {
	content := make([]ContentBlock, len(blocks))
	copy(content, blocks)
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage wraps tool results in the user turn the API expects.
func ToolResultMessage(results ...ToolResultBlock) Message {
	content := make([]ContentBlock, 0, len(results))
	for _, r := range results {
		content = append(content, r)
	}
	return Message{Role: RoleUser, Content: content}
}

// FirstText returns the first text block.
func FirstText(blocks []ContentBlock) (string, bool) {
	for _, b := range blocks {
		switch v := b.(type) {
		case TextBlock:
			return v.Text, true
		case ToolUseBlock, ToolResultBlock:
		}
	}
	return "", false
}

// FirstToolUse returns the first tool invocation request.
func FirstToolUse(blocks []ContentBlock) (ToolUseBlock, bool) {
	for _, b := range blocks {
		switch v := b.(type) {
		case ToolUseBlock:
			return v, true
		case TextBlock, ToolResultBlock:
		}
	}
	return ToolUseBlock{}, false
}

// Text concatenates every text block of the message.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if t, ok := b.(TextBlock); ok {
			out += t.Text
		}
	}
	return out
}
