package runner

import (
	"strings"
	"testing"
	"time"

	"agentbot/pkg/logx"
)

func TestClassifyOrderedRules(t *testing.T) {
	t.Parallel()
	s := New(Config{Binary: "claude", DefaultTimeout: time.Second}, logx.Nop())

	tests := []struct {
		name    string
		stderr  string
		status  Status
		msgPart string
	}{
		{name: "auth", stderr: "Invalid API key: please run login again", status: StatusError, msgPart: "claude login"},
		{name: "auth beats rate limit", stderr: "auth error: rate limit", status: StatusError, msgPart: "authentication"},
		{name: "rate limit", stderr: "Rate limit exceeded, retry later", status: StatusRateLimited, msgPart: "usage limit"},
		{name: "rate_limit underscore", stderr: "error: rate_limit_error", status: StatusRateLimited, msgPart: "usage limit"},
		{name: "mcp", stderr: "MCP server connection refused", status: StatusError, msgPart: "tool integration failure"},
		{name: "generic", stderr: "segfault in module", status: StatusError, msgPart: "segfault"},
		{name: "empty", stderr: "", status: StatusError, msgPart: "unknown error"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			status, msg := s.classify(tt.stderr)
			if status != tt.status {
				t.Fatalf("status = %s, want %s", status, tt.status)
			}
			if !strings.Contains(msg, tt.msgPart) {
				t.Fatalf("message %q does not contain %q", msg, tt.msgPart)
			}
		})
	}
}

func TestClassifyTruncatesDiagnostics(t *testing.T) {
	t.Parallel()
	s := New(Config{Binary: "claude", DefaultTimeout: time.Second}, logx.Nop())

	long := strings.Repeat("x", 2000)
	_, msg := s.classify(long)
	if len([]rune(msg)) != diagLimit {
		t.Fatalf("generic diagnostic length = %d, want %d", len([]rune(msg)), diagLimit)
	}

	_, msg = s.classify("mcp " + long)
	want := "tool integration failure: "
	if !strings.HasPrefix(msg, want) {
		t.Fatalf("unexpected prefix: %q", msg)
	}
	if len([]rune(msg)) != len(want)+toolDiagLimit {
		t.Fatalf("tool diagnostic length = %d", len([]rune(msg)))
	}
}
