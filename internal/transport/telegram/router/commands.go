package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentbot/internal/transport"
	"agentbot/pkg/logx"
)

const helpText = `I forward what you write to the reasoning tool and reply with its output.

/cd <dir> - change the working directory for this chat
/pwd - show the working directory
/status - queue depth and running state
/history [n] - recent executions
/running - is an invocation running here
/cancel - kill the running invocation for this chat
/memory - show long-term notes
/memory_add <text> - add a note
/memory_clear - wipe the notes
/forget - clear conversation context
/system [text] - show or replace the system prompt
/getfile <path> - send a file from the machine here
/cron list|add|remove|toggle - scheduled prompts (see /cron)

Send me a document or photo and I save it to the upload directory.`

func (s *Service) cmdStart(ctx context.Context, m *transport.Message, args []string) {
	s.reply(ctx, m.ChatID, "Ready. Send me something to do, or /help for commands.")
}

func (s *Service) cmdHelp(ctx context.Context, m *transport.Message, args []string) {
	s.reply(ctx, m.ChatID, helpText)
}

func (s *Service) cmdCd(ctx context.Context, m *transport.Message, args []string) {
	if len(args) == 0 {
		s.reply(ctx, m.ChatID, "usage: /cd <dir>")
		return
	}
	dir := strings.Join(args, " ")
	if strings.HasPrefix(dir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[1:])
		}
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		s.reply(ctx, m.ChatID, fmt.Sprintf("not a directory: %s", dir))
		return
	}

	s.mu.Lock()
	s.workDirs[m.ChatID] = dir
	s.mu.Unlock()
	s.reply(ctx, m.ChatID, "working directory: "+dir)
}

func (s *Service) cmdPwd(ctx context.Context, m *transport.Message, args []string) {
	dir := s.workDir(m.ChatID)
	if dir == "" {
		dir = "(process default)"
	}
	s.reply(ctx, m.ChatID, "working directory: "+dir)
}

func (s *Service) cmdStatus(ctx context.Context, m *transport.Message, args []string) {
	running := "idle"
	if s.deps.Runner.IsRunning(chatCorrelationID(m.ChatID)) {
		running = "running"
	}
	s.reply(ctx, m.ChatID, fmt.Sprintf(
		"queue: %d pending, %d rejected total\nthis chat: %s",
		s.deps.Queue.Pending(), s.deps.Queue.Dropped(), running))
}

func (s *Service) cmdHistory(ctx context.Context, m *transport.Message, args []string) {
	n := 10
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil || n <= 0 || n > 50 {
			s.reply(ctx, m.ChatID, "usage: /history [1-50]")
			return
		}
	}
	execs, err := s.deps.Store.RecentExecutions(ctx, n)
	if err != nil {
		s.log.Error("failed to load history", logx.Err(err))
		s.reply(ctx, m.ChatID, "could not load history")
		return
	}
	if len(execs) == 0 {
		s.reply(ctx, m.ChatID, "no executions yet")
		return
	}

	var b strings.Builder
	for _, e := range execs {
		fmt.Fprintf(&b, "%s [%s/%s] %s (%s)\n",
			e.At.Format("01-02 15:04"), e.Source, e.Status,
			excerptLine(e.Prompt, 60), e.Duration.Round(100*time.Millisecond))
	}
	s.reply(ctx, m.ChatID, b.String())
}

func (s *Service) cmdMemory(ctx context.Context, m *transport.Message, args []string) {
	notes := s.deps.Memory.Notes()
	if notes == "" {
		s.reply(ctx, m.ChatID, "no notes saved")
		return
	}
	s.reply(ctx, m.ChatID, notes)
}

func (s *Service) cmdMemoryAdd(ctx context.Context, m *transport.Message, args []string) {
	if len(args) == 0 {
		s.reply(ctx, m.ChatID, "usage: /memory_add <text>")
		return
	}
	if err := s.deps.Memory.AppendNote(strings.Join(args, " ")); err != nil {
		s.log.Error("failed to append note", logx.Err(err))
		s.reply(ctx, m.ChatID, "could not save the note")
		return
	}
	s.reply(ctx, m.ChatID, "noted")
}

func (s *Service) cmdMemoryClear(ctx context.Context, m *transport.Message, args []string) {
	if err := s.deps.Memory.ClearNotes(); err != nil {
		s.log.Error("failed to clear notes", logx.Err(err))
		s.reply(ctx, m.ChatID, "could not clear the notes")
		return
	}
	s.reply(ctx, m.ChatID, "notes cleared")
}

func (s *Service) cmdForget(ctx context.Context, m *transport.Message, args []string) {
	if err := s.deps.Store.ClearConversations(ctx); err != nil {
		s.log.Error("failed to clear conversations", logx.Err(err))
		s.reply(ctx, m.ChatID, "could not clear conversation context")
		return
	}
	s.reply(ctx, m.ChatID, "conversation context cleared")
}

func (s *Service) cmdCancel(ctx context.Context, m *transport.Message, args []string) {
	if s.deps.Runner.Cancel(chatCorrelationID(m.ChatID)) {
		s.reply(ctx, m.ChatID, "invocation canceled")
		return
	}
	s.reply(ctx, m.ChatID, "nothing running for this chat")
}

func (s *Service) cmdRunning(ctx context.Context, m *transport.Message, args []string) {
	if s.deps.Runner.IsRunning(chatCorrelationID(m.ChatID)) {
		s.reply(ctx, m.ChatID, "yes, an invocation is running")
		return
	}
	s.reply(ctx, m.ChatID, "no, this chat is idle")
}

func (s *Service) cmdSystem(ctx context.Context, m *transport.Message, args []string) {
	if len(args) == 0 {
		s.reply(ctx, m.ChatID, "system prompt:\n\n"+s.deps.Memory.SystemPrompt())
		return
	}
	if err := s.deps.Memory.SetSystemPrompt(strings.Join(args, " ")); err != nil {
		s.log.Error("failed to set system prompt", logx.Err(err))
		s.reply(ctx, m.ChatID, "could not save the system prompt")
		return
	}
	s.reply(ctx, m.ChatID, "system prompt updated")
}

// chatCorrelationID keys live invocations per chat so /cancel and /running
// address the right process.
func chatCorrelationID(chatID int64) string {
	return fmt.Sprintf("chat-%d", chatID)
}

func excerptLine(s string, limit int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}
