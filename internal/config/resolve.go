package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var Drivers = []string{"memory", "file", "sqlite", "postgres", "dynamodb"}

var NotifierKinds = []string{"slack", "telegram", "webhook", "process", "discard"}

// ParseDurationField parses an optional non-negative duration; empty is 0.
// Errors name the config path.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks the parts of the config that do not depend on external
// systems. Every error names the offending path.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, p := range []struct{ path, raw string }{
		{"poll.jitter", cfg.Poll.Jitter},
		{"poll.max_backoff", cfg.Poll.MaxBackoff},
		{"poll.cycle_timeout", cfg.Poll.CycleTimeout},
		{"stash.timeout", cfg.Stash.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		_, err := ParseDurationField(p.path, p.raw)
		add(err)
	}
	if tz := strings.TrimSpace(cfg.Poll.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("poll.timezone: unknown zone %q", tz))
		}
	}

	for i, p := range cfg.Projects {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Repo) == "" {
			add(fmt.Errorf("projects[%d]: id and repo are required", i))
		}
	}
	if strings.TrimSpace(cfg.Stash.BaseURL) == "" {
		add(errors.New("stash.base_url is required"))
	}
	if cfg.Stash.PageLimit < 0 {
		add(errors.New("stash.page_limit must be >= 0"))
	}

	add(validateNotifier(cfg.Notifier))
	add(validateStorage(cfg.Storage))
	if addr := strings.TrimSpace(cfg.Status.Addr); cfg.Status.Enabled && addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(fmt.Errorf("status.addr: %w", err))
		}
	}
	return errors.Join(errs...)
}

func validateNotifier(n NotifierConfig) error {
	if n.RatePerSec < 0 {
		return errors.New("notifier.rate_per_sec must be >= 0")
	}
	seen := map[string]bool{}
	for _, kind := range Kinds(n.Kind) {
		if seen[kind] {
			return fmt.Errorf("notifier.kind: %q listed twice", kind)
		}
		seen[kind] = true
		if err := validateKind(kind, n); err != nil {
			return err
		}
	}
	return nil
}

func validateKind(kind string, n NotifierConfig) error {
	switch kind {
	case "discard":
		return nil
	case "slack":
		if n.Slack == nil {
			return errors.New("notifier.slack is required for kind slack")
		}
	case "telegram":
		if n.Telegram == nil {
			return errors.New("notifier.telegram is required for kind telegram")
		}
		if _, err := ParseDurationField("notifier.telegram.timeout", n.Telegram.Timeout); err != nil {
			return err
		}
	case "webhook":
		if n.Webhook == nil {
			return errors.New("notifier.webhook is required for kind webhook")
		}
		if _, err := ParseDurationField("notifier.webhook.timeout", n.Webhook.Timeout); err != nil {
			return err
		}
	case "process":
		if n.Process == nil {
			return errors.New("notifier.process is required for kind process")
		}
		if _, err := ParseDurationField("notifier.process.stop_timeout", n.Process.StopTimeout); err != nil {
			return err
		}
	default:
		return fmt.Errorf("notifier.kind: unknown %q (want one of %s)", kind, strings.Join(NotifierKinds, ", "))
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	switch NormalizeDriver(s.Driver) {
	case "memory":
	case "file", "sqlite":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %s", NormalizeDriver(s.Driver))
		}
	case "postgres":
		if strings.TrimSpace(s.DSN) == "" {
			return errors.New("storage.dsn is required for driver postgres")
		}
	case "dynamodb":
		if s.DynamoDB == nil || strings.TrimSpace(s.DynamoDB.Table) == "" {
			return errors.New("storage.dynamodb.table is required for driver dynamodb")
		}
	default:
		return fmt.Errorf("storage.driver: unknown %q (want one of %s)", s.Driver, strings.Join(Drivers, ", "))
	}
	return nil
}

// NormalizeDriver lower-cases the driver and maps aliases. Empty means memory.
func NormalizeDriver(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	switch d {
	case "":
		return "memory"
	case "mem":
		return "memory"
	case "sqlite3":
		return "sqlite"
	case "postgresql", "pgx", "pg":
		return "postgres"
	case "dynamo":
		return "dynamodb"
	}
	return d
}

// NormalizeKind lower-cases one notifier kind. Empty means discard.
func NormalizeKind(raw string) string {
	k := strings.ToLower(strings.TrimSpace(raw))
	if k == "" || k == "sink" {
		return "discard"
	}
	return k
}

// Kinds splits a comma-separated notifier kind ("slack,webhook") into
// normalized kinds. Empty means a single discard.
func Kinds(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" && len(parts) > 1 {
			continue
		}
		out = append(out, NormalizeKind(p))
	}
	if len(out) == 0 {
		out = append(out, "discard")
	}
	return out
}
