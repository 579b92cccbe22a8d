package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "pierre/pkg/logx"
)

const sampleJSON = `{
  "logging": {"level": "info", "console": true},
  "poll": {"interval": "15m", "max_backoff": "2h"},
  "projects": [{"id": "MOB", "repo": "pierre"}],
  "users": {"jdoe": "U123"},
  "stash": {"base_url": "https://stash.example.com", "username": "bot", "password": "${PIERRE_TEST_PASSWORD}"},
  "notifier": {"kind": "discard"},
  "storage": {"driver": "memory"}
}`

const sampleYAML = `
logging:
  level: debug
poll:
  interval: "*/10 * * * *"
projects:
  - id: MOB
    repo: pierre
  - id: OPS
    repo: infra
stash:
  base_url: https://stash.example.com
notifier:
  kind: slack
  rate_per_sec: 0.5
  slack:
    token: xoxb-1
    channel: C1
storage:
  driver: sqlite
  path: ./data/pierre.sqlite
  busy_timeout: 3s
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDecodeJSONExpandsEnv(t *testing.T) {
	t.Setenv("PIERRE_TEST_PASSWORD", "s3cret")
	cfg, err := Decode("pierre.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Stash.Password != "s3cret" {
		t.Fatalf("password = %q", cfg.Stash.Password)
	}
	if len(cfg.Projects) != 1 || cfg.Projects[0].ID != "MOB" || cfg.Users["jdoe"] != "U123" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("pierre.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Poll.Interval != "*/10 * * * *" || len(cfg.Projects) != 2 {
		t.Fatalf("unexpected poll/projects %+v", cfg)
	}
	if cfg.Notifier.Slack == nil || cfg.Notifier.Slack.Channel != "C1" || cfg.Notifier.RatePerSec != 0.5 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"stash": {"base_url": "x", "bogus": 1}}`)); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
	if _, err := Decode("c.yml", []byte("stash: [unclosed")); err == nil {
		t.Fatal("bad yaml accepted")
	}
}

func TestValidateNamesPaths(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"busy timeout", func(c *Config) { c.Storage.BusyTimeout = "soon" }, "storage.busy_timeout"},
		{"jitter", func(c *Config) { c.Poll.Jitter = "-1s" }, "poll.jitter"},
		{"driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"sqlite path", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"postgres dsn", func(c *Config) { c.Storage.Driver = "postgresql" }, "storage.dsn"},
		{"dynamo table", func(c *Config) { c.Storage.Driver = "dynamodb" }, "storage.dynamodb.table"},
		{"notifier kind", func(c *Config) { c.Notifier.Kind = "pager" }, "notifier.kind"},
		{"slack section", func(c *Config) { c.Notifier.Kind = "slack" }, "notifier.slack"},
		{"fanout member", func(c *Config) { c.Notifier.Kind = "discard,webhook" }, "notifier.webhook"},
		{"duplicate kind", func(c *Config) { c.Notifier.Kind = "discard,sink" }, "listed twice"},
		{"project", func(c *Config) { c.Projects = append(c.Projects, ProjectConfig{ID: "X"}) }, "projects[1]"},
		{"base url", func(c *Config) { c.Stash.BaseURL = "" }, "stash.base_url"},
		{"timezone", func(c *Config) { c.Poll.Timezone = "Mars/Olympus" }, "poll.timezone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{
				Projects: []ProjectConfig{{ID: "MOB", Repo: "pierre"}},
				Stash:    StashConfig{BaseURL: "https://stash"},
			}
			tc.mut(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{"": "memory", "SQLite3": "sqlite", "pgx": "postgres", "Dynamo": "dynamodb", "file": "file"} {
		if got := NormalizeDriver(in); got != want {
			t.Fatalf("NormalizeDriver(%q) = %q, want %q", in, got, want)
		}
	}
	if NormalizeKind("") != "discard" || NormalizeKind("Slack") != "slack" {
		t.Fatal("NormalizeKind mismatch")
	}
	if got := Kinds(" Slack , webhook,"); len(got) != 2 || got[0] != "slack" || got[1] != "webhook" {
		t.Fatalf("Kinds = %v", got)
	}
	if got := Kinds(""); len(got) != 1 || got[0] != "discard" {
		t.Fatalf("Kinds(empty) = %v", got)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a := &Config{Logging: LoggingConfig{Level: "info"}, Stash: StashConfig{BaseURL: "x", Password: "p1"}}
	b := *a
	b.Logging.Level = "debug"
	c := Diff(a, &b)
	if len(c.Sections) != 1 || c.Sections[0] != "logging" || c.RestartRequired {
		t.Fatalf("logging diff = %+v", c)
	}

	b.Stash.Password = "p2"
	c = Diff(a, &b)
	if !c.RestartRequired || len(c.Sections) != 2 {
		t.Fatalf("stash diff = %+v", c)
	}
}

func TestManagerLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "PIERRE_TEST_PASSWORD=from-dotenv\n")
	path := writeFile(t, dir, "pierre.json", sampleJSON)
	os.Unsetenv("PIERRE_TEST_PASSWORD")
	t.Cleanup(func() { os.Unsetenv("PIERRE_TEST_PASSWORD") })

	m := NewManager(path, logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Stash.Password != "from-dotenv" || m.Get() != cfg {
		t.Fatalf("password = %q", cfg.Stash.Password)
	}
}

func TestManagerLoadRejectsInvalid(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "pierre.json", `{"stash": {"base_url": ""}}`)
	if _, err := NewManager(path, logx.Nop()).Load(); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestManagerReloadPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "pierre.yaml", sampleYAML)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)

	if m.reload(context.Background()) {
		t.Fatal("unchanged file published")
	}

	writeFile(t, dir, "pierre.yaml", strings.Replace(sampleYAML, "level: debug", "level: warn", 1))
	if !m.reload(context.Background()) {
		t.Fatal("changed file not published")
	}
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	default:
		t.Fatal("no config published")
	}

	writeFile(t, dir, "pierre.yaml", "logging: [")
	if m.reload(context.Background()) {
		t.Fatal("broken file published")
	}
	if m.Get().Logging.Level != "warn" {
		t.Fatal("broken reload replaced committed config")
	}
	m.Unsubscribe(sub)
}

func TestManagerWatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "pierre.yaml", sampleYAML)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "pierre.yaml", strings.Replace(sampleYAML, "level: debug", "level: error", 1))

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "error" {
			t.Fatalf("level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not publish a reload")
	}
}
