package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Reminder  ReminderConfig  `json:"reminder"`
	Timetable TimetableConfig `json:"timetable"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminChatID receives new-user notices and, optionally, log lines.
	// 0 disables both.
	AdminChatID int64 `json:"admin_chat_id,omitempty"`
	// PollTimeout is the long polling timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec caps outgoing reminder messages (default 25).
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	// Contact is shown under the daily schedule ("report a mistake").
	Contact string `json:"contact,omitempty"`
	// Signature is appended to the monthly schedule caption.
	Signature string `json:"signature,omitempty"`
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

// LoggingTelegram mirrors log lines into telegram.admin_chat_id.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ReminderConfig drives the notification scheduler.
//
// Defaults:
//   - offset: "5m"
//   - delivery_timeout: "30s"
//   - rollover: "1 0 * * *" (standard 5-field cron, evaluated in timezone)
type ReminderConfig struct {
	Offset          string `json:"offset,omitempty"`
	Timezone        string `json:"timezone"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	Rollover        string `json:"rollover,omitempty"`
}

type TimetableConfig struct {
	CSVPath string `json:"csv_path"`
	// MonthImage is sent for /month; empty falls back to a text table.
	MonthImage string `json:"month_image,omitempty"`
	// Watch reloads the CSV when it changes on disk.
	Watch bool `json:"watch,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/namazbot" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MetricsConfig controls the optional HTTP server for /metrics and pprof.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9090").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Pprof   bool   `json:"pprof,omitempty"` // mount /debug/pprof/
}
