package storage

import "time"

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Execution records one reasoning-tool invocation.
// Keep it compact and schema-stable.
type Execution struct {
	At         time.Time
	Source     string // "telegram" or "cron"
	CronID     string // empty for interactive executions
	Prompt     string
	Output     string
	Duration   time.Duration
	WorkDir    string
	Status     string
	ErrMessage string
}

// Conversation is one interactive chat turn, kept for prompt context.
type Conversation struct {
	At                time.Time
	UserMessage       string
	AssistantResponse string
	WorkDir           string
	Duration          time.Duration
}

// CronJob is a persisted schedule definition.
//
// ID is stable across restarts; the dispatcher's live trigger set always
// reflects the enabled subset of these rows.
type CronJob struct {
	ID              string
	Name            string
	Spec            string // 5-field cron expression
	Prompt          string
	WorkDir         string
	Enabled         bool
	SilentOnSuccess bool
}
