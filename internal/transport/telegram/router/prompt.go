package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentbot/internal/services/execqueue"
	"agentbot/internal/services/retry"
	"agentbot/internal/services/runner"
	"agentbot/internal/storage"
	"agentbot/internal/transport"
	"agentbot/pkg/logx"

	"agentbot/internal/transport/telegram"
)

// handlePrompt is the plain-text path: gate, assemble, queue, await, reply.
func (s *Service) handlePrompt(ctx context.Context, chatID int64, text string) {
	if needsConfirmation(text) {
		s.mu.Lock()
		s.pending[chatID] = &pendingPrompt{prompt: text, expires: time.Now().Add(s.cfg.ConfirmTimeout)}
		s.mu.Unlock()

		markup := telegram.ConfirmMarkup("Run it", "approve", "Stop", "deny")
		_, err := s.deps.Adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID},
			"This looks destructive:\n\n"+excerptLine(text, 200)+"\n\nRun it?",
			&transport.SendOptions{ReplyMarkupAdapter: markup})
		if err != nil {
			s.log.Warn("failed to send confirmation prompt", logx.Err(err))
		}
		return
	}
	s.execute(ctx, chatID, text)
}

func (s *Service) handleCallback(ctx context.Context, cb *transport.Callback) {
	action := callbackAction(cb.Data)

	s.mu.Lock()
	p := s.pending[cb.ChatID]
	delete(s.pending, cb.ChatID)
	s.mu.Unlock()

	switch {
	case p == nil:
		_ = s.deps.Adapter.AnswerCallback(ctx, cb.ID, "nothing pending")
	case time.Now().After(p.expires):
		_ = s.deps.Adapter.AnswerCallback(ctx, cb.ID, "expired, send it again")
	case action == "approve":
		_ = s.deps.Adapter.AnswerCallback(ctx, cb.ID, "running")
		s.execute(ctx, cb.ChatID, p.prompt)
	default:
		_ = s.deps.Adapter.AnswerCallback(ctx, cb.ID, "discarded")
	}
}

func (s *Service) execute(ctx context.Context, chatID int64, userMsg string) {
	req := runner.Request{
		Prompt:        s.deps.Memory.BuildPrompt(ctx, userMsg),
		WorkDir:       s.workDir(chatID),
		CorrelationID: chatCorrelationID(chatID),
	}

	h, err := s.deps.Queue.Submit(req)
	switch {
	case errors.Is(err, execqueue.ErrQueueFull):
		s.reply(ctx, chatID, "the queue is full; wait for a job to finish and try again")
		return
	case err != nil:
		s.log.Error("submit failed", logx.Err(err))
		s.reply(ctx, chatID, "could not queue the request")
		return
	}
	if waiting := s.deps.Queue.Pending(); waiting > 1 {
		s.reply(ctx, chatID, fmt.Sprintf("queued behind %d job(s)", waiting-1))
	}

	res, err := h.Wait(ctx)
	if err != nil {
		s.log.Error("invocation lost", logx.Err(err))
		s.reply(ctx, chatID, "the invocation did not complete: "+err.Error())
		return
	}
	s.deliver(ctx, chatID, userMsg, req, res)
}

// deliver records one finished invocation and replies with its outcome.
// Rate-limited results are handed to the retry scheduler first.
func (s *Service) deliver(ctx context.Context, chatID int64, userMsg string, req runner.Request, res runner.Result) {
	s.recordExecution(ctx, userMsg, req, res)

	switch res.Status {
	case runner.StatusSuccess:
		if err := s.deps.Store.SaveConversation(ctx, storage.Conversation{
			At:                time.Now(),
			UserMessage:       userMsg,
			AssistantResponse: res.Output,
			WorkDir:           req.WorkDir,
			Duration:          res.Duration,
		}); err != nil {
			s.log.Error("failed to save conversation", logx.Err(err))
		}
		if err := s.deps.Memory.AppendDailyLog(time.Now(), excerptLine(userMsg, 80)); err != nil {
			s.log.Warn("failed to write daily log", logx.Err(err))
		}
		out := res.Output
		if strings.TrimSpace(out) == "" {
			out = "(no output)"
		}
		s.reply(ctx, chatID, out)

	case runner.StatusRateLimited:
		s.reply(ctx, chatID, "rate limited; I will retry in the background and report back")
		s.deps.Retry.Retry(ctx, req, func(r *runner.Result, err error) {
			switch {
			case errors.Is(err, retry.ErrMaxRetries):
				s.reply(ctx, chatID, "still rate limited after retrying; giving up on this one")
			case err != nil:
				s.log.Warn("retry chain aborted", logx.Err(err))
			default:
				s.deliver(ctx, chatID, userMsg, req, *r)
			}
		})

	default:
		s.reply(ctx, chatID, res.ErrMessage)
	}
}

func (s *Service) recordExecution(ctx context.Context, userMsg string, req runner.Request, res runner.Result) {
	err := s.deps.Store.RecordExecution(ctx, storage.Execution{
		At:         time.Now(),
		Source:     "telegram",
		Prompt:     userMsg,
		Output:     res.Output,
		Duration:   res.Duration,
		WorkDir:    req.WorkDir,
		Status:     string(res.Status),
		ErrMessage: res.ErrMessage,
	})
	if err != nil {
		s.log.Error("failed to record execution", logx.Err(err))
	}
}

// callbackAction extracts the payload from telebot callback data, which
// arrives as "\f<unique>|<payload>".
func callbackAction(data string) string {
	data = strings.TrimPrefix(data, "\f")
	if i := strings.LastIndexByte(data, '|'); i >= 0 {
		return data[i+1:]
	}
	return data
}
