package llm

// Tool describes a callable tool as advertised by its provider.
// Names are unique within one provider only.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Properties returns the "properties" member of the input schema.
func (t Tool) Properties() map[string]any {
	if t.InputSchema == nil {
		return map[string]any{}
	}
	props, _ := t.InputSchema["properties"].(map[string]any)
	if props == nil {
		return map[string]any{}
	}
	return props
}

// Required returns the "required" member of the input schema.
func (t Tool) Required() []string {
	if t.InputSchema == nil {
		return nil
	}
	switch req := t.InputSchema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Names lists tool names in order.
func Names(tools []Tool) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Name)
	}
	return out
}
