package config

// Config is the full on-disk configuration.
//
// It is accepted as JSON or YAML (YAML is coerced to JSON before the strict
// decode, see yaml.go). Unknown fields are rejected so typos surface at load
// time instead of silently disabling a section.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	Storage StorageConfig `json:"storage"`

	// Cache is the optional Redis keyboard memo cache.
	// If omitted or disabled the bot renders keyboards on every request.
	Cache *CacheConfig `json:"cache,omitempty"`

	Monitor MonitorConfig `json:"monitor"`

	Scheduler SchedulerConfig `json:"scheduler"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// OwnerUserIDs is the allowlist of Telegram user ids the bot answers to.
	// Empty means the bot is open to everyone.
	OwnerUserIDs []int64 `json:"owner_user_ids"`

	// GroupLog is the chat id used by the Telegram log sink (optional).
	GroupLog string `json:"group_log"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the SQLite catalog/ledger database.
//
// Example:
//
//	"storage": { "path": "./pricebot.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string; 0 means the sqlite default.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// CacheConfig controls the Redis keyboard memo cache.
//
// The cache is best-effort: every failure degrades to a re-render, never to a
// user-visible error.
type CacheConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	// TTL is a Go duration string; 0 disables expiry (entries live until the
	// next poll-cycle invalidation).
	TTL string `json:"ttl,omitempty"`
}

// MonitorConfig controls the polling/dispatch pipeline.
//
// All durations are Go duration strings. Markets are source tags as stored on
// products; a product whose market is in neither list is never polled.
type MonitorConfig struct {
	Enabled bool `json:"enabled"`

	// FastInterval is the cadence for high-churn marketplaces.
	FastInterval string `json:"fast_interval"`
	// SlowSpec is a cron spec (5 or 6 fields) for low-churn marketplaces.
	SlowSpec string `json:"slow_spec"`
	// DispatchInterval is the cadence of the notification dispatch job.
	DispatchInterval string `json:"dispatch_interval"`

	FastMarkets []string `json:"fast_markets"`
	SlowMarkets []string `json:"slow_markets"`

	// FetchTimeout bounds one marketplace HTTP fetch.
	FetchTimeout string `json:"fetch_timeout"`
	// SendRatePerSec caps outbound notification sends (Telegram flood limit).
	SendRatePerSec int `json:"send_rate_per_sec"`
}

// SchedulerConfig controls the job scheduler service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	Workers int  `json:"workers"`
	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout"`
	HistorySize    int    `json:"history_size"`
	// Timezone is the trigger timezone (IANA), e.g. "Europe/Minsk".
	Timezone string `json:"timezone,omitempty"`
}
