package mcp

import (
	"context"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestParseSpec(t *testing.T) {
	cases := []struct {
		spec     string
		kind     string
		endpoint string
		command  string
	}{
		{spec: "stdio://python weather.py", kind: kindStdio, command: "python"},
		{spec: "npx -y @mcp/server-time", kind: kindStdio, command: "npx"},
		{spec: "sse://mcp.example.com/sse", kind: kindSSE, endpoint: "https://mcp.example.com/sse"},
		{spec: "http+sse://localhost:8080/sse", kind: kindSSE, endpoint: "http://localhost:8080/sse"},
		{spec: "https+stream://mcp.example.com/mcp", kind: kindStreamable, endpoint: "https://mcp.example.com/mcp"},
		{spec: "http+streamable://localhost:9000/mcp", kind: kindStreamable, endpoint: "http://localhost:9000/mcp"},
		{spec: "https://mcp.example.com/sse", kind: kindSSE, endpoint: "https://mcp.example.com/sse"},
	}
	for _, tc := range cases {
		got, err := ParseSpec(tc.spec)
		if err != nil {
			t.Fatalf("ParseSpec(%q): %v", tc.spec, err)
		}
		if got.Kind != tc.kind || got.Endpoint != tc.endpoint {
			t.Fatalf("ParseSpec(%q) = %+v", tc.spec, got)
		}
		if tc.command != "" && (len(got.Command) == 0 || got.Command[0] != tc.command) {
			t.Fatalf("ParseSpec(%q) command = %v", tc.spec, got.Command)
		}
	}
}

func TestParseSpecRejectsInvalid(t *testing.T) {
	for _, spec := range []string{"", "stdio://   ", "http+grpc://host/x", "sse://"} {
		if _, err := ParseSpec(spec); err == nil {
			t.Fatalf("expected error for %q", spec)
		}
	}
}

func TestBuildTransportKinds(t *testing.T) {
	ctx := context.Background()
	tr, err := buildTransport(ctx, "stdio://echo hi")
	if err != nil {
		t.Fatalf("stdio: %v", err)
	}
	if _, ok := tr.(*mcpsdk.CommandTransport); !ok {
		t.Fatalf("expected command transport, got %T", tr)
	}
	tr, err = buildTransport(ctx, "http+stream://localhost:1/mcp")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if _, ok := tr.(*mcpsdk.StreamableClientTransport); !ok {
		t.Fatalf("expected streamable transport, got %T", tr)
	}
	tr, err = buildTransport(ctx, "http://localhost:1/sse")
	if err != nil {
		t.Fatalf("sse: %v", err)
	}
	if _, ok := tr.(*mcpsdk.SSEClientTransport); !ok {
		t.Fatalf("expected SSE transport, got %T", tr)
	}
}
