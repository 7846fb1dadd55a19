package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"agentbot/pkg/logx"
)

const yamlDoc = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: "10s"
logging:
  level: "debug"
  console: true
agent:
  binary: "claude"
  default_timeout: "5m"
queue:
  workers: 1
  queue_size: 10
retry:
  delay: "5m"
  max_attempts: 3
cron:
  enabled: true
storage:
  path: "/var/lib/agentbot/agent.db"
memory:
  dir: "/var/lib/agentbot/memory"
`

const jsonDoc = `{
  "telegram": {"token": "123:abc", "owner_user_ids": [42], "poll_timeout": "10s"},
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "agent": {"binary": "claude", "default_timeout": "5m"},
  "queue": {"workers": 1, "queue_size": 10},
  "retry": {"delay": "5m", "max_attempts": 3},
  "cron": {"enabled": true},
  "storage": {"path": "/var/lib/agentbot/agent.db"},
  "memory": {"dir": "/var/lib/agentbot/memory"}
}`

func writeConfig(t *testing.T, name, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewManager(path, logx.Nop())
}

func TestYAMLAndJSONParseIdentically(t *testing.T) {
	t.Parallel()

	fromYAML, err := writeConfig(t, "bot.yaml", yamlDoc).Load()
	if err != nil {
		t.Fatalf("yaml Load: %v", err)
	}
	fromJSON, err := writeConfig(t, "bot.json", jsonDoc).Load()
	if err != nil {
		t.Fatalf("json Load: %v", err)
	}
	if !reflect.DeepEqual(fromYAML, fromJSON) {
		t.Fatalf("yaml and json configs differ:\n%+v\n%+v", fromYAML, fromJSON)
	}
	if fromYAML.Telegram.Token != "123:abc" || fromYAML.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("telegram section = %+v", fromYAML.Telegram)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	doc := strings.Replace(yamlDoc, "cron:", "corn:", 1)
	if _, err := writeConfig(t, "bot.yaml", doc).Load(); err == nil {
		t.Fatal("unknown field should be rejected")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}},
			Storage:  StorageConfig{Path: "a.db"},
			Memory:   MemoryConfig{Dir: "mem"},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("minimal config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }},
		{"no owners", func(c *Config) { c.Telegram.OwnerUserIDs = nil }},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }},
		{"missing memory dir", func(c *Config) { c.Memory.Dir = "" }},
		{"bad duration", func(c *Config) { c.Retry.Delay = "five minutes" }},
		{"negative workers", func(c *Config) { c.Queue.Workers = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("want validation error")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", " 30s "); err != nil || d != 30*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", "90"); err != nil || d != 90*time.Second {
		t.Fatalf("bare seconds: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration should fail")
	}
	if _, err := ParseDurationField("x", "-5"); err == nil {
		t.Fatal("negative bare seconds should fail")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: got %v, %v", d, err)
	}
}

func TestTrailingDataRejected(t *testing.T) {
	t.Parallel()
	if _, err := writeConfig(t, "bot.json", jsonDoc+"{}").Load(); err == nil {
		t.Fatal("trailing document should be rejected")
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "bot.yaml", yamlDoc)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := m.Get()
	next := *cfg
	next.Logging.Level = "warn"
	m.commit(&next)
	m.publish(&next)

	select {
	case got := <-ch:
		if got.Logging.Level != "warn" {
			t.Fatalf("published level = %q", got.Logging.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("no publish received")
	}
}
