// Package app wires the services together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"agentbot/internal/config"
	"agentbot/internal/runtime/supervisor"
	"agentbot/internal/services/cronjobs"
	"agentbot/internal/services/execqueue"
	"agentbot/internal/services/memory"
	"agentbot/internal/services/retry"
	"agentbot/internal/services/runner"
	"agentbot/internal/storage"
	"agentbot/internal/transport"
	"agentbot/internal/transport/telegram"
	"agentbot/internal/transport/telegram/router"
	"agentbot/pkg/logx"
)

// App is the composed bot: every service constructed, none started.
type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger

	store  *storage.Store
	run    *runner.Service
	queue  *execqueue.Service
	retr   *retry.Service
	cron   *cronjobs.Service
	mem    *memory.Service
	router *router.Service

	sup *supervisor.Supervisor
}

// New loads the config and constructs all services in dependency order.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	store, err := openStorage(cfg, log)
	if err != nil {
		logs.Close()
		return nil, err
	}

	runSvc, err := buildRunner(cfg, log)
	if err != nil {
		store.Close()
		logs.Close()
		return nil, err
	}

	queue := execqueue.New(execqueue.Config{
		Workers:   cfg.Queue.Workers,
		QueueSize: cfg.Queue.QueueSize,
	}, runSvc.Run, log.With(logx.String("comp", "queue")))

	retrSvc, err := buildRetry(cfg, runSvc, log)
	if err != nil {
		store.Close()
		logs.Close()
		return nil, err
	}

	mem := memory.New(memory.Config{
		Dir:                  cfg.Memory.Dir,
		ContextConversations: cfg.Memory.ContextConversations,
		LogRetentionDays:     cfg.Memory.LogRetentionDays,
	}, store, log.With(logx.String("comp", "memory")))

	adapter, err := buildAdapter(cfg, log)
	if err != nil {
		store.Close()
		logs.Close()
		return nil, err
	}

	cron := cronjobs.New(cronjobs.Config{Enabled: cfg.Cron.Enabled}, store, runSvc.Run,
		cronNotifier(adapter, cfg.Telegram.OwnerUserIDs, log),
		log.With(logx.String("comp", "cron")))

	rtr := router.New(router.Config{
		Owners:         cfg.Telegram.OwnerUserIDs,
		DefaultWorkDir: cfg.Agent.DefaultWorkDir,
		UploadDir:      filepath.Join(cfg.Memory.Dir, "uploads"),
	}, router.Deps{
		Adapter: adapter,
		Runner:  runSvc,
		Queue:   queue,
		Retry:   retrSvc,
		Cron:    cron,
		Memory:  mem,
		Store:   store,
	}, log.With(logx.String("comp", "router")))

	return &App{
		cfgm:   cfgm,
		cfg:    cfg,
		logs:   logs,
		log:    log.With(logx.String("comp", "app")),
		store:  store,
		run:    runSvc,
		queue:  queue,
		retr:   retrSvc,
		cron:   cron,
		mem:    mem,
		router: rtr,
	}, nil
}

// Start brings the services up: queue workers, cron clock, update loop,
// config watcher. Readiness is signaled to systemd when everything runs.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.queue.Start(ctx)
	if err := a.cron.Start(ctx); err != nil {
		return fmt.Errorf("start cron: %w", err)
	}
	if err := a.router.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	a.sup.Go("config.watch", func(c context.Context) {
		if err := a.cfgm.Watch(c); err != nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	})
	a.sup.Go("config.apply", func(c context.Context) {
		ch := a.cfgm.Subscribe(1)
		defer a.cfgm.Unsubscribe(ch)
		for {
			select {
			case <-c.Done():
				return
			case cfg := <-ch:
				if cfg == nil {
					return
				}
				a.applyReload(cfg)
			}
		}
	})
	a.sup.Go("memory.log_cleanup", func(c context.Context) {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if _, err := a.mem.CleanupOldLogs(time.Now()); err != nil {
					a.log.Warn("daily log cleanup failed", logx.Err(err))
				}
			}
		}
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify: ready")
	}
	a.log.Info("agentbot started")
	return nil
}

// Stop shuts everything down in reverse order, bounded by ctx.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err := a.router.Stop(ctx); err != nil {
		a.log.Warn("router stop", logx.Err(err))
	}
	a.cron.Stop(ctx)
	a.queue.Stop(ctx)
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("agentbot stopped")
	return a.logs.Close()
}

// applyReload applies the hot-reloadable subset of a config change. Log
// level and sinks switch live; everything else takes effect on restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log.Info("config reload applied", logx.String("log_level", cfg.Logging.Level))
}

func openStorage(cfg *config.Config, log logx.Logger) (*storage.Store, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

func buildRunner(cfg *config.Config, log logx.Logger) (*runner.Service, error) {
	timeout, err := config.ParseDurationField("agent.default_timeout", cfg.Agent.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	return runner.New(runner.Config{
		Binary:         cfg.Agent.Binary,
		ExtraArgs:      cfg.Agent.ExtraArgs,
		DefaultTimeout: timeout,
	}, log.With(logx.String("comp", "runner"))), nil
}

func buildRetry(cfg *config.Config, run *runner.Service, log logx.Logger) (*retry.Service, error) {
	delay, err := config.ParseDurationField("retry.delay", cfg.Retry.Delay)
	if err != nil {
		return nil, err
	}
	return retry.New(retry.Config{
		Delay:       delay,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}, run.Run, log.With(logx.String("comp", "retry"))), nil
}

func buildAdapter(cfg *config.Config, log logx.Logger) (*telegram.Adapter, error) {
	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	sendInterval, err := config.ParseDurationField("telegram.send_interval", cfg.Telegram.SendInterval)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:        cfg.Telegram.Token,
		PollTimeout:  pollTimeout,
		SendInterval: sendInterval,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}
	return adapter, nil
}

// cronNotifier reports fired cron jobs to every owner.
func cronNotifier(adapter transport.Adapter, owners []int64, log logx.Logger) cronjobs.Notifier {
	return func(j storage.CronJob, res runner.Result) {
		text := fmt.Sprintf("cron %q failed: %s", j.Name, res.ErrMessage)
		if res.Status == runner.StatusSuccess {
			text = fmt.Sprintf("cron %q:\n%s", j.Name, res.Output)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, owner := range owners {
			if _, err := adapter.SendText(ctx, transport.ChatTarget{ChatID: owner}, text, nil); err != nil {
				log.Warn("cron notification failed", logx.Int64("chat_id", owner), logx.Err(err))
			}
		}
	}
}
