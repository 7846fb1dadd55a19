// Package retry re-runs rate-limited invocations after a fixed cooldown.
//
// Retries deliberately bypass the admission queue: a retried job already
// earned its slot once, and holding a queue position across a multi-minute
// cooldown would starve interactive work.
package retry

import (
	"context"
	"errors"
	"time"

	"agentbot/internal/services/runner"
	"agentbot/pkg/logx"
)

// ErrMaxRetries reports that every attempt came back rate-limited.
var ErrMaxRetries = errors.New("retries exhausted, still rate limited")

// Config controls the retry cadence.
type Config struct {
	Delay       time.Duration // cooldown before each attempt, default 5m
	MaxAttempts int           // default 3
}

func (c Config) withDefaults() Config {
	if c.Delay <= 0 {
		c.Delay = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// Service schedules rate-limit retries.
type Service struct {
	cfg Config
	log logx.Logger
	run runner.RunFunc
}

func New(cfg Config, run runner.RunFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), run: run, log: log}
}

// Retry blocks through up to MaxAttempts cooldown-then-run cycles and calls
// onComplete exactly once: with the result of the first attempt that is not
// rate-limited, or with ErrMaxRetries (or ctx.Err) and no result.
//
// Callers run it under their own supervision; Retry itself spawns nothing.
func (s *Service) Retry(ctx context.Context, req runner.Request, onComplete func(res *runner.Result, err error)) {
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		s.log.Info("rate limited; waiting before retry",
			logx.Duration("delay", s.cfg.Delay),
			logx.Int("attempt", attempt), logx.Int("max_attempts", s.cfg.MaxAttempts))

		timer := time.NewTimer(s.cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			onComplete(nil, ctx.Err())
			return
		case <-timer.C:
		}

		res := s.run(ctx, req)
		if res.Status != runner.StatusRateLimited {
			s.log.Info("retry resolved", logx.String("status", string(res.Status)), logx.Int("attempt", attempt))
			onComplete(&res, nil)
			return
		}
	}

	s.log.Warn("giving up on rate-limited job", logx.Int("attempts", s.cfg.MaxAttempts))
	onComplete(nil, ErrMaxRetries)
}
