package runner

import (
	"fmt"
	"strings"
)

const (
	// diagLimit caps generic diagnostics surfaced to the user.
	diagLimit = 500
	// toolDiagLimit caps tool-integration diagnostics.
	toolDiagLimit = 200
)

// classify maps the CLI's stderr to a status and a user-facing message.
// Rules are ordered: authentication beats rate limiting beats tool errors.
func (s *Service) classify(stderr string) (Status, string) {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "auth") || strings.Contains(lower, "login"):
		return StatusError, fmt.Sprintf("authentication expired; run `%s login` on the host and retry", s.cfg.Binary)
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit"):
		return StatusRateLimited, "usage limit reached; the request will be retried"
	case strings.Contains(lower, "mcp"):
		return StatusError, "tool integration failure: " + truncate(stderr, toolDiagLimit)
	case stderr == "":
		return StatusError, "unknown error"
	default:
		return StatusError, truncate(stderr, diagLimit)
	}
}

func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
