package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"agentbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the SQLite-backed persistence layer.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the store at cfg.Path, creating the schema if needed.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- executions ----

// RecordExecution appends one execution record. Callers on the execution
// path treat failures as log-only: a broken store must never fail a job.
func (s *Store) RecordExecution(ctx context.Context, e Execution) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(at, source, cron_id, prompt, output, duration_ms, work_dir, status, err_message)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Source, nullStr(e.CronID), e.Prompt, nullStr(e.Output),
		e.Duration.Milliseconds(), nullStr(e.WorkDir), e.Status, nullStr(e.ErrMessage),
	)
	return err
}

// RecentExecutions returns up to n records, oldest first.
func (s *Store) RecentExecutions(ctx context.Context, n int) ([]Execution, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, source, cron_id, prompt, output, duration_ms, work_dir, status, err_message
		 FROM executions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var at string
		var cronID, output, workDir, errMsg sql.NullString
		var durMS int64
		if err := rows.Scan(&at, &e.Source, &cronID, &e.Prompt, &output, &durMS, &workDir, &e.Status, &errMsg); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.CronID = cronID.String
		e.Output = output.String
		e.WorkDir = workDir.String
		e.ErrMessage = errMsg.String
		e.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, e)
	}
	reverse(out)
	return out, rows.Err()
}

// ---- conversations ----

func (s *Store) SaveConversation(ctx context.Context, c Conversation) error {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(at, user_msg, assistant, work_dir, duration_ms) VALUES(?,?,?,?,?)`,
		c.At.Format(time.RFC3339Nano), c.UserMessage, c.AssistantResponse, nullStr(c.WorkDir), c.Duration.Milliseconds(),
	)
	return err
}

// RecentConversations returns up to n turns, oldest first.
func (s *Store) RecentConversations(ctx context.Context, n int) ([]Conversation, error) {
	if n <= 0 {
		n = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, user_msg, assistant, work_dir, duration_ms
		 FROM conversations ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var at string
		var workDir sql.NullString
		var durMS int64
		if err := rows.Scan(&at, &c.UserMessage, &c.AssistantResponse, &workDir, &durMS); err != nil {
			return nil, err
		}
		c.At, _ = time.Parse(time.RFC3339Nano, at)
		c.WorkDir = workDir.String
		c.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, c)
	}
	reverse(out)
	return out, rows.Err()
}

// ClearConversations drops the whole conversation context.
func (s *Store) ClearConversations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations`)
	return err
}

// ---- cron jobs ----

func (s *Store) ListCronJobs(ctx context.Context) ([]CronJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, spec, prompt, work_dir, enabled, silent_on_success
		 FROM cron_jobs ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CronJob
	for rows.Next() {
		var j CronJob
		var enabled, silent int
		if err := rows.Scan(&j.ID, &j.Name, &j.Spec, &j.Prompt, &j.WorkDir, &enabled, &silent); err != nil {
			return nil, err
		}
		j.Enabled = enabled != 0
		j.SilentOnSuccess = silent != 0
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) GetCronJob(ctx context.Context, id string) (CronJob, bool, error) {
	var j CronJob
	var enabled, silent int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, spec, prompt, work_dir, enabled, silent_on_success
		 FROM cron_jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.Name, &j.Spec, &j.Prompt, &j.WorkDir, &enabled, &silent)
	if errors.Is(err, sql.ErrNoRows) {
		return CronJob{}, false, nil
	}
	if err != nil {
		return CronJob{}, false, err
	}
	j.Enabled = enabled != 0
	j.SilentOnSuccess = silent != 0
	return j, true, nil
}

// PutCronJob inserts or replaces one entry in a single statement.
func (s *Store) PutCronJob(ctx context.Context, j CronJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_jobs(id, name, spec, prompt, work_dir, enabled, silent_on_success)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, spec=excluded.spec, prompt=excluded.prompt,
		   work_dir=excluded.work_dir, enabled=excluded.enabled,
		   silent_on_success=excluded.silent_on_success`,
		j.ID, j.Name, j.Spec, j.Prompt, j.WorkDir, boolInt(j.Enabled), boolInt(j.SilentOnSuccess),
	)
	return err
}

// DeleteCronJob removes an entry and reports whether it existed.
func (s *Store) DeleteCronJob(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ---- helpers ----

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
