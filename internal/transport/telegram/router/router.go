// Package router turns inbound chat updates into agent actions: slash
// commands for operations, plain text for invocations.
//
// Only the configured owner ids are served; everything else is logged and
// dropped. Each update is handled on its own supervised goroutine so a
// long invocation never blocks the update loop.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentbot/internal/runtime/supervisor"
	"agentbot/internal/services/cronjobs"
	"agentbot/internal/services/execqueue"
	"agentbot/internal/services/memory"
	"agentbot/internal/services/retry"
	"agentbot/internal/services/runner"
	"agentbot/internal/storage"
	"agentbot/internal/transport"
	"agentbot/pkg/logx"
)

// Config controls routing behavior.
type Config struct {
	Owners         []int64
	DefaultWorkDir string
	// UploadDir receives files the owner sends into the chat.
	UploadDir string
	// ConfirmTimeout bounds how long an approve/deny prompt stays valid.
	ConfirmTimeout time.Duration
	// UpdateBuffer sizes the inbound update channel.
	UpdateBuffer int
}

func (c Config) withDefaults() Config {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 2 * time.Minute
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = 64
	}
	return c
}

// Deps are the services the router drives.
type Deps struct {
	Adapter transport.Adapter
	Runner  *runner.Service
	Queue   *execqueue.Service
	Retry   *retry.Service
	Cron    *cronjobs.Service
	Memory  *memory.Service
	Store   *storage.Store
}

// Service is the command router.
type Service struct {
	cfg  Config
	log  logx.Logger
	deps Deps

	mu       sync.Mutex
	workDirs map[int64]string         // chat id -> working directory
	pending  map[int64]*pendingPrompt // chat id -> awaiting confirmation
	sup      *supervisor.Supervisor
	updates  chan transport.Update
	handlers map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, msg *transport.Message, args []string)

type pendingPrompt struct {
	prompt  string
	expires time.Time
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		deps:     deps,
		workDirs: map[int64]string{},
		pending:  map[int64]*pendingPrompt{},
	}
	s.handlers = map[string]handlerFunc{
		"start":        s.cmdStart,
		"help":         s.cmdHelp,
		"cd":           s.cmdCd,
		"pwd":          s.cmdPwd,
		"status":       s.cmdStatus,
		"history":      s.cmdHistory,
		"memory":       s.cmdMemory,
		"memory_add":   s.cmdMemoryAdd,
		"memory_clear": s.cmdMemoryClear,
		"forget":       s.cmdForget,
		"cancel":       s.cmdCancel,
		"running":      s.cmdRunning,
		"cron":         s.cmdCron,
		"system":       s.cmdSystem,
		"getfile":      s.cmdGetFile,
	}
	return s
}

// Start begins consuming updates from the adapter.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return nil
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.updates = make(chan transport.Update, s.cfg.UpdateBuffer)
	sup := s.sup
	updates := s.updates
	s.mu.Unlock()

	if err := s.deps.Adapter.Start(ctx, updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}

	sup.Go("router.loop", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up := <-updates:
				s.route(c, sup, up)
			}
		}
	})
	s.log.Info("router started", logx.Int("owners", len(s.cfg.Owners)))
	return nil
}

// Stop halts the adapter and the update loop. In-flight handlers are
// bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	err := s.deps.Adapter.Stop(ctx)
	if serr := sup.Stop(ctx); serr != nil && err == nil {
		err = serr
	}
	s.log.Info("router stopped")
	return err
}

func (s *Service) route(ctx context.Context, sup *supervisor.Supervisor, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		m := up.Message
		if m == nil {
			return
		}
		if !s.isOwner(m.FromID) {
			s.log.Warn("message from non-owner dropped",
				logx.Int64("from_id", m.FromID), logx.String("username", m.FromUsername))
			return
		}
		sup.Go("router.handle_message", func(c context.Context) {
			s.handleMessage(c, m)
		})
	case transport.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return
		}
		if !s.isOwner(cb.FromID) {
			_ = s.deps.Adapter.AnswerCallback(ctx, cb.ID, "not allowed")
			return
		}
		sup.Go("router.handle_callback", func(c context.Context) {
			s.handleCallback(c, cb)
		})
	}
}

func (s *Service) handleMessage(ctx context.Context, m *transport.Message) {
	if m.FileID != "" {
		s.handleUpload(ctx, m)
		return
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	if cmd, args, ok := parseCommand(text); ok {
		h := s.handlers[cmd]
		if h == nil {
			s.reply(ctx, m.ChatID, fmt.Sprintf("unknown command /%s, see /help", cmd))
			return
		}
		h(ctx, m, args)
		return
	}

	s.handlePrompt(ctx, m.ChatID, text)
}

func (s *Service) isOwner(id int64) bool {
	for _, o := range s.cfg.Owners {
		if o == id {
			return true
		}
	}
	return false
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) {
	if _, err := s.deps.Adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		s.log.Warn("failed to send reply", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (s *Service) workDir(chatID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.workDirs[chatID]; ok {
		return d
	}
	return s.cfg.DefaultWorkDir
}

// parseCommand splits "/cmd arg arg" into its name and args. The
// "@botname" suffix Telegram appends in groups is stripped.
func parseCommand(text string) (cmd string, args []string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd = fields[0]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), fields[1:], true
}
