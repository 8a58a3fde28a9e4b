package mcpchat

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// sanitizeInput strips markup from user text before it reaches the model.
// The policy escapes what it keeps, so entities are decoded back to plain text.
func sanitizeInput(in string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(in)))
}
