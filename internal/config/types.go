// Package config loads and watches the bot configuration. YAML and JSON
// are both accepted; YAML is coerced to JSON bytes so one strict decoder
// (DisallowUnknownFields) covers both formats. All durations are Go
// duration strings (e.g. "30s", "5m").
package config

import (
	"errors"
	"fmt"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Agent    AgentConfig    `json:"agent"`
	Queue    QueueConfig    `json:"queue"`
	Retry    RetryConfig    `json:"retry"`
	Cron     CronConfig     `json:"cron"`
	Storage  StorageConfig  `json:"storage"`
	Memory   MemoryConfig   `json:"memory"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	SendInterval string  `json:"send_interval,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AgentConfig controls the reasoning-tool invocation.
type AgentConfig struct {
	Binary         string   `json:"binary,omitempty"`
	ExtraArgs      []string `json:"extra_args,omitempty"`
	DefaultTimeout string   `json:"default_timeout,omitempty"`
	DefaultWorkDir string   `json:"default_workdir,omitempty"`
}

type QueueConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

type RetryConfig struct {
	Delay       string `json:"delay,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

type CronConfig struct {
	Enabled bool `json:"enabled"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type MemoryConfig struct {
	Dir                  string `json:"dir"`
	ContextConversations int    `json:"context_conversations,omitempty"`
	LogRetentionDays     int    `json:"log_retention_days,omitempty"`
}

// Validate rejects configs that cannot possibly run. Duration fields are
// parsed so a typo is caught at load time, not first use.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if len(c.Telegram.OwnerUserIDs) == 0 {
		return errors.New("telegram.owner_user_ids must list at least one id")
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if c.Memory.Dir == "" {
		return errors.New("memory.dir is required")
	}

	durations := map[string]string{
		"telegram.poll_timeout":  c.Telegram.PollTimeout,
		"telegram.send_interval": c.Telegram.SendInterval,
		"agent.default_timeout":  c.Agent.DefaultTimeout,
		"retry.delay":            c.Retry.Delay,
		"storage.busy_timeout":   c.Storage.BusyTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	if c.Queue.Workers < 0 || c.Queue.QueueSize < 0 {
		return errors.New("queue.workers and queue.queue_size must be >= 0")
	}
	if c.Retry.MaxAttempts < 0 {
		return errors.New("retry.max_attempts must be >= 0")
	}
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}
