package router

import "strings"

// destructiveKeywords trigger the approve/deny gate before a prompt is
// queued. Word-boundary matching keeps "format" from firing on
// "information".
var destructiveKeywords = []string{
	"delete", "remove", "erase", "wipe", "drop",
	"rm", "rmdir", "truncate", "format",
	"shutdown", "reboot", "restart", "kill",
	"uninstall", "overwrite", "force push", "reset --hard",
}

func needsConfirmation(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range destructiveKeywords {
		if containsWord(lower, kw) {
			return true
		}
	}
	return false
}

// containsWord reports whether s contains kw bounded by non-letter
// characters (or string edges).
func containsWord(s, kw string) bool {
	for from := 0; ; {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return false
		}
		i += from
		before := i == 0 || !isWordByte(s[i-1])
		afterIdx := i + len(kw)
		after := afterIdx >= len(s) || !isWordByte(s[afterIdx])
		if before && after {
			return true
		}
		from = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
