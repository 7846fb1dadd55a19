package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agentbot/internal/storage"
	"agentbot/pkg/logx"
)

type fakeConvs struct {
	convs []storage.Conversation
}

func (f *fakeConvs) RecentConversations(ctx context.Context, n int) ([]storage.Conversation, error) {
	if n < len(f.convs) {
		return f.convs[len(f.convs)-n:], nil
	}
	return f.convs, nil
}

func TestBuildPromptAssemblesSections(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	mustWrite(t, dir, "SOUL.md", "Calm, direct, a little dry.")
	mustWrite(t, dir, "USER.md", "Owner prefers short answers.")
	mustWrite(t, dir, "MEMORY.md", "- deploy key lives in ~/keys\n")

	convs := &fakeConvs{convs: []storage.Conversation{
		{UserMessage: "what broke", AssistantResponse: "the cron job"},
	}}
	s := New(Config{Dir: dir}, convs, logx.Nop())

	prompt := s.BuildPrompt(context.Background(), "restart it please")

	for _, want := range []string{
		"[system]",
		"Calm, direct",
		"Owner prefers short answers",
		"deploy key lives in ~/keys",
		"User: what broke",
		"Assistant: the cron job",
		"[current message]\nrestart it please",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\n---\n%s", want, prompt)
		}
	}

	// Sections come in a fixed order: persona before memory before the message.
	if strings.Index(prompt, "Calm, direct") > strings.Index(prompt, "deploy key") {
		t.Error("persona should precede long-term memory")
	}
	if strings.Index(prompt, "deploy key") > strings.Index(prompt, "[current message]") {
		t.Error("long-term memory should precede the current message")
	}
}

func TestBuildPromptSkipsMissingFiles(t *testing.T) {
	t.Parallel()
	s := New(Config{Dir: t.TempDir()}, nil, logx.Nop())

	prompt := s.BuildPrompt(context.Background(), "hello")
	if !strings.Contains(prompt, "[system]") {
		t.Error("default system instructions missing")
	}
	if strings.Contains(prompt, "[long-term memory]") {
		t.Error("empty notes must not produce a section")
	}
	if !strings.HasSuffix(prompt, "hello") {
		t.Errorf("prompt must end with the user message:\n%s", prompt)
	}
}

func TestBuildPromptCapsNotes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	mustWrite(t, dir, "MEMORY.md", strings.Repeat("메모 ", 2000))

	s := New(Config{Dir: dir}, nil, logx.Nop())
	prompt := s.BuildPrompt(context.Background(), "x")

	start := strings.Index(prompt, "[long-term memory]\n")
	end := strings.Index(prompt, "\n[current message]")
	if start < 0 || end < 0 {
		t.Fatalf("sections missing:\n%s", prompt)
	}
	section := prompt[start+len("[long-term memory]\n") : end]
	if got := len([]rune(strings.TrimSpace(section))); got > notesCap {
		t.Fatalf("quoted notes length = %d runes, cap %d", got, notesCap)
	}
}

func TestAppendAndClearNotes(t *testing.T) {
	t.Parallel()
	s := New(Config{Dir: filepath.Join(t.TempDir(), "mem")}, nil, logx.Nop())

	if err := s.AppendNote("first"); err != nil {
		t.Fatalf("AppendNote: %v", err)
	}
	if err := s.AppendNote("  second  "); err != nil {
		t.Fatalf("AppendNote: %v", err)
	}
	if err := s.AppendNote("   "); err == nil {
		t.Fatal("blank note should be rejected")
	}

	if got := s.Notes(); got != "- first\n- second" {
		t.Fatalf("Notes = %q", got)
	}

	if err := s.ClearNotes(); err != nil {
		t.Fatalf("ClearNotes: %v", err)
	}
	if got := s.Notes(); got != "" {
		t.Fatalf("Notes after clear = %q", got)
	}
	// Clearing again is fine.
	if err := s.ClearNotes(); err != nil {
		t.Fatalf("second ClearNotes: %v", err)
	}
}

func TestDailyLogRetention(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := New(Config{Dir: dir, LogRetentionDays: 7}, nil, logx.Nop())

	now := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	if err := s.AppendDailyLog(now, "ran the briefing"); err != nil {
		t.Fatalf("AppendDailyLog: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "logs", "2026-09-01.md"))
	if err != nil {
		t.Fatalf("read daily log: %v", err)
	}
	if got := string(data); got != "- 14:30 ran the briefing\n" {
		t.Fatalf("daily log = %q", got)
	}

	// Plant an expired log and an unrelated file.
	mustWrite(t, filepath.Join(dir, "logs"), "2026-08-01.md", "old")
	mustWrite(t, filepath.Join(dir, "logs"), "README.md", "not a log")

	removed, err := s.CleanupOldLogs(now)
	if err != nil {
		t.Fatalf("CleanupOldLogs: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "logs", "2026-08-01.md")); !os.IsNotExist(err) {
		t.Fatal("expired log still present")
	}
	for _, keep := range []string{"2026-09-01.md", "README.md"} {
		if _, err := os.Stat(filepath.Join(dir, "logs", keep)); err != nil {
			t.Fatalf("%s should survive cleanup: %v", keep, err)
		}
	}
}

func TestSystemFileOverridesDefault(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	mustWrite(t, dir, "SYSTEM.md", "Speak only in haiku.")

	s := New(Config{Dir: dir}, nil, logx.Nop())
	prompt := s.BuildPrompt(context.Background(), "x")
	if !strings.Contains(prompt, "Speak only in haiku.") {
		t.Error("SYSTEM.md override not applied")
	}
	if strings.Contains(prompt, "personal assistant operating") {
		t.Error("default instructions should be replaced, not appended")
	}
}

func TestSetSystemPromptRoundTrip(t *testing.T) {
	t.Parallel()
	s := New(Config{Dir: filepath.Join(t.TempDir(), "mem")}, nil, logx.Nop())

	if got := s.SystemPrompt(); got != defaultSystem {
		t.Fatalf("fresh SystemPrompt = %q, want the default", got)
	}

	if err := s.SetSystemPrompt("  Speak only in haiku.  "); err != nil {
		t.Fatalf("SetSystemPrompt: %v", err)
	}
	if got := s.SystemPrompt(); got != "Speak only in haiku." {
		t.Fatalf("SystemPrompt = %q", got)
	}
	if prompt := s.BuildPrompt(context.Background(), "x"); !strings.Contains(prompt, "Speak only in haiku.") {
		t.Error("replaced instructions missing from built prompt")
	}

	// Blank text restores the default.
	if err := s.SetSystemPrompt("   "); err != nil {
		t.Fatalf("reset SetSystemPrompt: %v", err)
	}
	if got := s.SystemPrompt(); got != defaultSystem {
		t.Fatalf("SystemPrompt after reset = %q, want the default", got)
	}
}

func mustWrite(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}
