// Package memory assembles the prompt context for interactive invocations.
//
// Context lives in plain markdown files under one directory so the owner
// can edit it with any editor: persona files (SOUL.md, USER.md, MOOD.md),
// a long-term notes file (MEMORY.md) and per-day activity logs. Missing
// files are simply skipped, never an error.
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentbot/internal/storage"
	"agentbot/pkg/logx"
)

const (
	notesFile  = "MEMORY.md"
	systemFile = "SYSTEM.md"
	logsDir    = "logs"

	// notesCap bounds how much of MEMORY.md is quoted into a prompt.
	notesCap = 2000
)

// personaFiles are quoted into every prompt, in this order.
var personaFiles = []string{"SOUL.md", "USER.md", "MOOD.md"}

const defaultSystem = `You are a personal assistant operating on the owner's machine.
Answer concisely. When asked to change files or run commands, do exactly
what was asked and report what you did.`

// ConversationSource is the slice of storage the prompt builder needs.
type ConversationSource interface {
	RecentConversations(ctx context.Context, n int) ([]storage.Conversation, error)
}

// Config controls context assembly.
type Config struct {
	Dir                  string // memory directory, required
	ContextConversations int    // recent turns quoted into prompts, default 5
	LogRetentionDays     int    // daily logs older than this are removed, default 30
}

func (c Config) withDefaults() Config {
	if c.ContextConversations <= 0 {
		c.ContextConversations = 5
	}
	if c.LogRetentionDays <= 0 {
		c.LogRetentionDays = 30
	}
	return c
}

// Service reads and maintains the memory directory.
type Service struct {
	cfg   Config
	log   logx.Logger
	convs ConversationSource
}

func New(cfg Config, convs ConversationSource, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log, convs: convs}
}

// BuildPrompt assembles the full prompt for one user message: system
// instructions, persona, capped long-term notes, recent conversation turns,
// then the message itself.
func (s *Service) BuildPrompt(ctx context.Context, userMsg string) string {
	var b strings.Builder

	b.WriteString("[system]\n")
	b.WriteString(s.systemInstructions())
	b.WriteString("\n")

	for _, name := range personaFiles {
		if body := s.readFile(name); body != "" {
			fmt.Fprintf(&b, "\n[%s]\n%s\n", strings.TrimSuffix(name, ".md"), body)
		}
	}

	if notes := s.Notes(); notes != "" {
		b.WriteString("\n[long-term memory]\n")
		b.WriteString(truncateRunes(notes, notesCap))
		b.WriteString("\n")
	}

	if s.convs != nil {
		convs, err := s.convs.RecentConversations(ctx, s.cfg.ContextConversations)
		if err != nil {
			s.log.Warn("failed to load recent conversations for prompt", logx.Err(err))
		} else if len(convs) > 0 {
			b.WriteString("\n[recent conversation]\n")
			for _, c := range convs {
				fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", c.UserMessage, c.AssistantResponse)
			}
		}
	}

	b.WriteString("\n[current message]\n")
	b.WriteString(userMsg)
	return b.String()
}

// Notes returns the raw contents of the long-term notes file.
func (s *Service) Notes() string {
	return s.readFile(notesFile)
}

// AppendNote adds one bullet to the long-term notes file, creating it on
// first use.
func (s *Service) AppendNote(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty note")
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.cfg.Dir, notesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open notes: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "- %s\n", text); err != nil {
		return fmt.Errorf("append note: %w", err)
	}
	return nil
}

// ClearNotes empties the long-term notes file.
func (s *Service) ClearNotes() error {
	path := filepath.Join(s.cfg.Dir, notesFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear notes: %w", err)
	}
	return nil
}

// AppendDailyLog appends one timestamped line to today's activity log.
func (s *Service) AppendDailyLog(now time.Time, line string) error {
	dir := filepath.Join(s.cfg.Dir, logsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	path := filepath.Join(dir, now.Format("2006-01-02")+".md")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open daily log: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "- %s %s\n", now.Format("15:04"), line); err != nil {
		return fmt.Errorf("append daily log: %w", err)
	}
	return nil
}

// CleanupOldLogs removes daily logs older than the retention window.
// It returns how many files were removed.
func (s *Service) CleanupOldLogs(now time.Time) (int, error) {
	dir := filepath.Join(s.cfg.Dir, logsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read logs dir: %w", err)
	}

	cutoff := now.AddDate(0, 0, -s.cfg.LogRetentionDays)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		day, err := time.Parse("2006-01-02", strings.TrimSuffix(name, ".md"))
		if err != nil || !strings.HasSuffix(name, ".md") {
			continue // not one of ours
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				s.log.Warn("failed to remove old daily log", logx.String("file", name), logx.Err(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("removed old daily logs", logx.Int("count", removed))
	}
	return removed, nil
}

// SystemPrompt returns the active system instructions: the owner's
// SYSTEM.md if present, the built-in default otherwise.
func (s *Service) SystemPrompt() string {
	return s.systemInstructions()
}

// SetSystemPrompt replaces the system instructions. Empty text restores
// the built-in default by removing SYSTEM.md.
func (s *Service) SetSystemPrompt(text string) error {
	text = strings.TrimSpace(text)
	path := filepath.Join(s.cfg.Dir, systemFile)
	if text == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reset system prompt: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write system prompt: %w", err)
	}
	return nil
}

func (s *Service) systemInstructions() string {
	if body := s.readFile(systemFile); body != "" {
		return body
	}
	return defaultSystem
}

func (s *Service) readFile(name string) string {
	data, err := os.ReadFile(filepath.Join(s.cfg.Dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
