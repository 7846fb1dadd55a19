package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agentbot/internal/services/cronjobs"
	"agentbot/internal/transport"
	"agentbot/pkg/logx"
)

const cronUsage = `usage:
/cron list
/cron add <m> <h> <dom> <mon> <dow> <prompt...> [--silent] [--name=<name>]
/cron remove <id>
/cron toggle <id>`

func (s *Service) cmdCron(ctx context.Context, m *transport.Message, args []string) {
	if len(args) == 0 {
		s.reply(ctx, m.ChatID, cronUsage)
		return
	}
	switch args[0] {
	case "list":
		s.cronList(ctx, m.ChatID)
	case "add":
		s.cronAdd(ctx, m.ChatID, args[1:])
	case "remove":
		s.cronRemove(ctx, m.ChatID, args[1:])
	case "toggle":
		s.cronToggle(ctx, m.ChatID, args[1:])
	default:
		s.reply(ctx, m.ChatID, cronUsage)
	}
}

func (s *Service) cronList(ctx context.Context, chatID int64) {
	jobs, err := s.deps.Cron.List(ctx)
	if err != nil {
		s.log.Error("failed to list cron jobs", logx.Err(err))
		s.reply(ctx, chatID, "could not list cron jobs")
		return
	}
	if len(jobs) == 0 {
		s.reply(ctx, chatID, "no cron jobs")
		return
	}

	var b strings.Builder
	for _, j := range jobs {
		state := "on"
		if !j.Enabled {
			state = "off"
		}
		fmt.Fprintf(&b, "%s [%s] %q %s\n", j.ID, state, j.Name, j.Spec)
	}
	s.reply(ctx, chatID, b.String())
}

func (s *Service) cronAdd(ctx context.Context, chatID int64, args []string) {
	spec, prompt, name, silent, err := parseCronAdd(args)
	if err != nil {
		s.reply(ctx, chatID, err.Error()+"\n\n"+cronUsage)
		return
	}

	j, err := s.deps.Cron.Add(ctx, spec, prompt, name, s.workDir(chatID), silent)
	if err != nil {
		if errors.Is(err, cronjobs.ErrInvalidSchedule) {
			s.reply(ctx, chatID, err.Error())
			return
		}
		s.log.Error("failed to add cron job", logx.Err(err))
		s.reply(ctx, chatID, "could not add the cron job")
		return
	}
	s.reply(ctx, chatID, fmt.Sprintf("added %s: %q at %q", j.ID, j.Name, j.Spec))
}

func (s *Service) cronRemove(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		s.reply(ctx, chatID, "usage: /cron remove <id>")
		return
	}
	switch err := s.deps.Cron.Remove(ctx, args[0]); {
	case errors.Is(err, cronjobs.ErrNotFound):
		s.reply(ctx, chatID, "no cron job with id "+args[0])
	case err != nil:
		s.log.Error("failed to remove cron job", logx.Err(err))
		s.reply(ctx, chatID, "could not remove the cron job")
	default:
		s.reply(ctx, chatID, "removed "+args[0])
	}
}

func (s *Service) cronToggle(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		s.reply(ctx, chatID, "usage: /cron toggle <id>")
		return
	}
	enabled, err := s.deps.Cron.Toggle(ctx, args[0])
	switch {
	case errors.Is(err, cronjobs.ErrNotFound):
		s.reply(ctx, chatID, "no cron job with id "+args[0])
	case err != nil:
		s.log.Error("failed to toggle cron job", logx.Err(err))
		s.reply(ctx, chatID, "could not toggle the cron job")
	case enabled:
		s.reply(ctx, chatID, args[0]+" enabled")
	default:
		s.reply(ctx, chatID, args[0]+" disabled")
	}
}

// parseCronAdd splits "/cron add" arguments: five schedule fields, then
// the prompt, with optional --silent and --name=<n> flags anywhere after
// the schedule.
func parseCronAdd(args []string) (spec, prompt, name string, silent bool, err error) {
	if len(args) < 6 {
		return "", "", "", false, errors.New("need 5 schedule fields and a prompt")
	}
	spec = strings.Join(args[:5], " ")

	var words []string
	for _, a := range args[5:] {
		switch {
		case a == "--silent":
			silent = true
		case strings.HasPrefix(a, "--name="):
			name = strings.TrimPrefix(a, "--name=")
		default:
			words = append(words, a)
		}
	}
	prompt = strings.Join(words, " ")
	if strings.TrimSpace(prompt) == "" {
		return "", "", "", false, errors.New("the prompt is empty")
	}
	return spec, prompt, name, silent, nil
}
