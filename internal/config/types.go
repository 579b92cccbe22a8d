package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("15m", "30s"); Resolve turns them into typed settings.
type Config struct {
	Logging  LoggingConfig     `json:"logging"`
	Poll     PollConfig        `json:"poll"`
	Projects []ProjectConfig   `json:"projects"`
	Users    map[string]string `json:"users,omitempty"`
	Stash    StashConfig       `json:"stash"`
	Notifier NotifierConfig    `json:"notifier"`
	Storage  StorageConfig     `json:"storage"`
	Status   StatusConfig      `json:"status,omitempty"`
}

// LoggingConfig is the only section applied without a restart.
type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled  bool   `json:"enabled"`
	Path     string `json:"path"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

// PollConfig controls how often each project is polled.
//
// Interval accepts a Go duration, HH:MM, "every:"/"interval:" prefixes or a
// cron expression. Defaults:
//   - interval: "15m"
//   - jitter: "0s"
//   - max_backoff: "0s" (disabled)
//   - cycle_timeout: "0s" (unbounded)
type PollConfig struct {
	Interval     string `json:"interval"`
	Jitter       string `json:"jitter,omitempty"`
	MaxBackoff   string `json:"max_backoff,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	// Timezone for cron and HH:MM schedules. Default: local.
	Timezone string `json:"timezone,omitempty"`
}

// ProjectConfig names one watched repository. ID is the Stash project key.
type ProjectConfig struct {
	ID   string `json:"id"`
	Repo string `json:"repo"`
}

type StashConfig struct {
	BaseURL   string `json:"base_url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	State     string `json:"state,omitempty"`
	PageLimit int    `json:"page_limit,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

// NotifierConfig selects the delivery channels. Kind may list several,
// comma-separated; a record then counts as delivered only when every
// channel accepted it.
//
// Example:
//
//	"notifier": { "kind": "slack", "rate_per_sec": 1, "slack": { "token": "${SLACK_TOKEN}", "channel": "C123" } }
type NotifierConfig struct {
	Kind       string  `json:"kind"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`

	Slack    *SlackConfig    `json:"slack,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Webhook  *WebhookConfig  `json:"webhook,omitempty"`
	Process  *ProcessConfig  `json:"process,omitempty"`
}

type SlackConfig struct {
	Token            string `json:"token"`
	Channel          string `json:"channel"`
	RequireReviewers bool   `json:"require_reviewers,omitempty"`
	Username         string `json:"username,omitempty"`
	APIURL           string `json:"api_url,omitempty"`
}

type TelegramConfig struct {
	Token          string `json:"token"`
	ChatID         int64  `json:"chat_id"`
	ThreadID       int    `json:"thread_id,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	APIURL         string `json:"api_url,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
}

type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout string            `json:"timeout,omitempty"`
}

type ProcessConfig struct {
	Command     string   `json:"command"`
	Args        []string `json:"args,omitempty"`
	Env         []string `json:"env,omitempty"`
	StopTimeout string   `json:"stop_timeout,omitempty"`
}

// StorageConfig selects the record store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pierre.sqlite" }
type StorageConfig struct {
	Driver      string          `json:"driver"`
	Path        string          `json:"path,omitempty"`
	DSN         string          `json:"dsn,omitempty"`
	BusyTimeout string          `json:"busy_timeout,omitempty"` // sqlite
	DynamoDB    *DynamoDBConfig `json:"dynamodb,omitempty"`
}

type DynamoDBConfig struct {
	Table          string `json:"table"`
	Region         string `json:"region,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	ConsistentRead bool   `json:"consistent_read,omitempty"`
	AccessKey      string `json:"access_key,omitempty"`
	Secret         string `json:"secret,omitempty"`
}

// StatusConfig enables the operator HTTP endpoint. A non-loopback addr needs
// a token unless allow_insecure is set.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
