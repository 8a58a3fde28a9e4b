package mcp

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// transportBuilder is swapped in tests for in-memory transports.
var transportBuilder = buildTransport

const (
	stdioSchemePrefix = "stdio://"
	sseSchemePrefix   = "sse://"

	kindStdio      = "stdio"
	kindSSE        = "sse"
	kindStreamable = "streamable"
)

// Target is a parsed connection spec.
type Target struct {
	Kind     string
	Endpoint string
	Command  []string
}

// IsStdio reports whether the target launches a local subprocess.
func (t Target) IsStdio() bool { return t.Kind == kindStdio }

// Executable is the program a stdio target runs, empty for network targets.
func (t Target) Executable() string {
	if !t.IsStdio() || len(t.Command) == 0 {
		return ""
	}
	return t.Command[0]
}

// ParseSpec classifies a connection spec. Accepted forms:
//
//	stdio://cmd args    sse://host/path    http+sse://host/path
//	http+stream://...   https://host/path (SSE)    cmd args (stdio)
func ParseSpec(spec string) (Target, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Target{}, fmt.Errorf("mcp: connection spec is empty")
	}
	lowered := strings.ToLower(spec)
	switch {
	case strings.HasPrefix(lowered, stdioSchemePrefix):
		return stdioTarget(spec[len(stdioSchemePrefix):])
	case strings.HasPrefix(lowered, sseSchemePrefix):
		endpoint, err := normalizeHTTPURL(spec[len(sseSchemePrefix):], true)
		if err != nil {
			return Target{}, fmt.Errorf("mcp: invalid SSE endpoint: %w", err)
		}
		return Target{Kind: kindSSE, Endpoint: endpoint}, nil
	}

	if kind, endpoint, matched, err := parseHTTPFamilySpec(spec); err != nil {
		return Target{}, err
	} else if matched {
		return Target{Kind: kind, Endpoint: endpoint}, nil
	}

	if strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://") {
		endpoint, err := normalizeHTTPURL(spec, false)
		if err != nil {
			return Target{}, fmt.Errorf("mcp: invalid SSE endpoint: %w", err)
		}
		return Target{Kind: kindSSE, Endpoint: endpoint}, nil
	}
	return stdioTarget(spec)
}

func stdioTarget(cmd string) (Target, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return Target{}, fmt.Errorf("mcp: stdio command is empty")
	}
	return Target{Kind: kindStdio, Command: parts}, nil
}

func buildTransport(ctx context.Context, spec string) (mcpsdk.Transport, error) {
	target, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	switch target.Kind {
	case kindStdio:
		// #nosec G204 -- specs come from the operator's config or the local chat user
		cmd := exec.CommandContext(ctx, target.Command[0], target.Command[1:]...)
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case kindStreamable:
		return &mcpsdk.StreamableClientTransport{Endpoint: target.Endpoint}, nil
	default:
		return &mcpsdk.SSEClientTransport{Endpoint: target.Endpoint}, nil
	}
}

func parseHTTPFamilySpec(spec string) (kind string, endpoint string, matched bool, err error) {
	u, parseErr := url.Parse(spec)
	if parseErr != nil || u.Scheme == "" {
		return "", "", false, nil
	}
	base, hint, hasHint := strings.Cut(strings.ToLower(u.Scheme), "+")
	if !hasHint || (base != "http" && base != "https") {
		return "", "", false, nil
	}
	switch hint {
	case "sse":
		kind = kindSSE
	case "stream", "streamable", "http", "json":
		kind = kindStreamable
	default:
		return "", "", true, fmt.Errorf("mcp: unsupported HTTP transport hint %q", hint)
	}
	normalized := *u
	normalized.Scheme = base
	endpoint, err = normalizeHTTPURL(normalized.String(), false)
	if err != nil {
		return "", "", true, fmt.Errorf("mcp: invalid %s endpoint: %w", kind, err)
	}
	return kind, endpoint, true, nil
}

func normalizeHTTPURL(raw string, guessScheme bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("endpoint is empty")
	}
	if guessScheme && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	parsed.Scheme = scheme
	return parsed.String(), nil
}
