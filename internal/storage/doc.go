// Package storage is the SQLite persistence layer.
//
// It holds three tables: executions (history/audit of every reasoning-tool
// invocation), conversations (interactive chat turns used for prompt
// context), and cron_jobs (persisted schedule definitions). Each mutation is
// a single statement, so the store never leaves a partially written entry
// behind on crash.
package storage
