// Package cronjobs schedules unattended invocations from persisted cron
// definitions.
//
// Definitions live in storage; the dispatcher mirrors the enabled subset
// into a live trigger set. Fired jobs bypass the interactive admission
// queue and run on the scheduler's own goroutines, so a slow job never
// delays other triggers.
package cronjobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"agentbot/internal/services/runner"
	"agentbot/internal/storage"
	"agentbot/pkg/logx"
)

var (
	// ErrInvalidSchedule is returned for expressions that are not valid
	// 5-field cron specs.
	ErrInvalidSchedule = errors.New("invalid cron expression")
	// ErrNotFound is returned when no job exists under the given id.
	ErrNotFound = errors.New("cron job not found")
)

const nameLimit = 30

// Store is the slice of persistence the dispatcher needs.
type Store interface {
	ListCronJobs(ctx context.Context) ([]storage.CronJob, error)
	GetCronJob(ctx context.Context, id string) (storage.CronJob, bool, error)
	PutCronJob(ctx context.Context, j storage.CronJob) error
	DeleteCronJob(ctx context.Context, id string) (bool, error)
	RecordExecution(ctx context.Context, e storage.Execution) error
}

// Notifier delivers a fired job's outcome to the owner.
type Notifier func(job storage.CronJob, res runner.Result)

// Config controls the dispatcher.
type Config struct {
	Enabled bool
}

// Service owns the cron clock and the live trigger set.
type Service struct {
	cfg    Config
	log    logx.Logger
	store  Store
	run    runner.RunFunc
	notify Notifier

	parser cron.Parser

	// storeMu serializes read-modify-write cycles on persisted entries so
	// concurrent Add/Remove/Toggle calls never lose an update.
	storeMu sync.Mutex

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID // job id -> live trigger
}

func New(cfg Config, store Store, run runner.RunFunc, notify Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		store:  store,
		run:    run,
		notify: notify,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		entries: map[string]cron.EntryID{},
	}
}

// Start loads persisted definitions and registers the enabled ones.
// Disabled when Config.Enabled is false.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("cron dispatcher disabled by config")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.c = cron.New(cron.WithParser(s.parser))

	jobs, err := s.store.ListCronJobs(ctx)
	if err != nil {
		s.c = nil
		return fmt.Errorf("load cron jobs: %w", err)
	}
	for _, j := range jobs {
		if !j.Enabled {
			continue
		}
		if err := s.registerLocked(j); err != nil {
			// A row that no longer parses must not block startup.
			s.log.Error("skipping unparseable cron job",
				logx.String("id", j.ID), logx.String("spec", j.Spec), logx.Err(err))
		}
	}

	s.c.Start()
	s.log.Info("cron dispatcher started", logx.Int("jobs", len(s.entries)))
	return nil
}

// Stop halts the clock. Jobs already firing run to completion.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()
	if c == nil {
		return
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.log.Warn("cron jobs still running at shutdown deadline")
	}
	s.log.Info("cron dispatcher stopped")
}

// Add validates, persists, and (when enabled and running) registers a new
// job. Name defaults to a prompt excerpt.
func (s *Service) Add(ctx context.Context, spec, prompt, name, workDir string, silentOnSuccess bool) (storage.CronJob, error) {
	if err := s.Validate(spec); err != nil {
		return storage.CronJob{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = excerpt(prompt, nameLimit)
	}

	j := storage.CronJob{
		ID:              uuid.NewString()[:8],
		Name:            name,
		Spec:            spec,
		Prompt:          prompt,
		WorkDir:         workDir,
		Enabled:         true,
		SilentOnSuccess: silentOnSuccess,
	}
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	if err := s.store.PutCronJob(ctx, j); err != nil {
		return storage.CronJob{}, fmt.Errorf("persist cron job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		if err := s.registerLocked(j); err != nil {
			return storage.CronJob{}, err
		}
	}
	s.log.Info("cron job added", logx.String("id", j.ID), logx.String("spec", j.Spec))
	return j, nil
}

// Remove deletes a job and drops its live trigger, both under storeMu so
// a racing Toggle cannot resurrect the trigger of a deleted entry.
func (s *Service) Remove(ctx context.Context, id string) error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	ok, err := s.store.DeleteCronJob(ctx, id)
	if err != nil {
		return fmt.Errorf("delete cron job: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	s.unregister(id)
	s.log.Info("cron job removed", logx.String("id", id))
	return nil
}

// Toggle flips a job's enabled flag and syncs the live trigger set.
// It returns the new state. storeMu is held across the read, the write
// and the trigger sync: two concurrent toggles must net out to the
// original state, never collapse into one.
func (s *Service) Toggle(ctx context.Context, id string) (bool, error) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	j, found, err := s.store.GetCronJob(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load cron job: %w", err)
	}
	if !found {
		return false, ErrNotFound
	}

	j.Enabled = !j.Enabled
	if err := s.store.PutCronJob(ctx, j); err != nil {
		return false, fmt.Errorf("persist cron job: %w", err)
	}

	if j.Enabled {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.c != nil {
			if err := s.registerLocked(j); err != nil {
				return false, err
			}
		}
	} else {
		s.unregister(id)
	}
	s.log.Info("cron job toggled", logx.String("id", id), logx.Bool("enabled", j.Enabled))
	return j.Enabled, nil
}

// List returns all persisted jobs, enabled or not.
func (s *Service) List(ctx context.Context) ([]storage.CronJob, error) {
	return s.store.ListCronJobs(ctx)
}

// Validate checks that spec is a well-formed 5-field cron expression.
func (s *Service) Validate(spec string) error {
	if len(strings.Fields(spec)) != 5 {
		return fmt.Errorf("%w: want 5 fields (minute hour day month weekday), got %q", ErrInvalidSchedule, spec)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return nil
}

// Registered reports the ids with a live trigger. For introspection.
func (s *Service) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

func (s *Service) registerLocked(j storage.CronJob) error {
	if old, ok := s.entries[j.ID]; ok {
		s.c.Remove(old)
	}
	id, err := s.c.AddFunc(j.Spec, func() { s.fire(j) })
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	s.entries[j.ID] = id
	return nil
}

func (s *Service) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	if eid, ok := s.entries[id]; ok {
		s.c.Remove(eid)
		delete(s.entries, id)
	}
}

// fire runs one scheduled invocation. It runs on a scheduler goroutine,
// so it must never panic out.
func (s *Service) fire(j storage.CronJob) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in cron job",
				logx.String("id", j.ID), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	s.log.Info("cron job firing", logx.String("id", j.ID), logx.String("name", j.Name))
	start := time.Now()
	res := s.run(context.Background(), runner.Request{
		Prompt:        j.Prompt,
		WorkDir:       j.WorkDir,
		CorrelationID: "cron-" + j.ID,
	})

	rec := storage.Execution{
		At:         start,
		Source:     "cron",
		CronID:     j.ID,
		Prompt:     j.Prompt,
		Output:     res.Output,
		Duration:   res.Duration,
		WorkDir:    j.WorkDir,
		Status:     string(res.Status),
		ErrMessage: res.ErrMessage,
	}
	if err := s.store.RecordExecution(context.Background(), rec); err != nil {
		s.log.Error("failed to record cron execution", logx.String("id", j.ID), logx.Err(err))
	}

	if s.notify != nil {
		if res.Status != runner.StatusSuccess || !j.SilentOnSuccess {
			s.notify(j, res)
		}
	}
}

func excerpt(s string, limit int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= limit {
		return string(r)
	}
	return string(r[:limit])
}
