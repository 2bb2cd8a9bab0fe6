package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"namazbot/internal/reminder"
	"namazbot/internal/storage"
	logx "namazbot/pkg/logx"
)

const (
	DefaultOffset          = 5 * time.Minute
	DefaultDeliveryTimeout = 30 * time.Second
	DefaultPollTimeout     = 10 * time.Second
	DefaultRollover        = "1 0 * * *"
	DefaultMetricsAddr     = "127.0.0.1:9090"
)

// Resolved is Config with defaults applied and every string field parsed.
type Resolved struct {
	Raw *Config

	Reminder    reminder.Config
	Location    *time.Location
	Rollover    string
	PollTimeout time.Duration
	Storage     storage.Config
	Logging     logx.Config
}

// Resolve validates cfg and applies defaults. Every problem is reported, not
// just the first one.
func Resolve(cfg *Config) (*Resolved, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	r := &Resolved{Raw: cfg}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	poll, err := ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout)
	add(err)
	r.PollTimeout = poll
	if cfg.Telegram.RatePerSec < 0 {
		add(errors.New("telegram.rate_per_sec must be >= 0"))
	}

	offset := DefaultOffset
	if strings.TrimSpace(cfg.Reminder.Offset) != "" {
		offset, err = ParseDurationField("reminder.offset", cfg.Reminder.Offset)
		add(err)
	}
	dt, err := ParseDurationOrDefault("reminder.delivery_timeout", cfg.Reminder.DeliveryTimeout, DefaultDeliveryTimeout)
	add(err)
	r.Reminder = reminder.Config{
		Offset:          offset,
		Timezone:        strings.TrimSpace(cfg.Reminder.Timezone),
		DeliveryTimeout: dt,
	}
	if r.Reminder.Timezone == "" {
		add(errors.New("reminder.timezone is required"))
	} else if loc, err := time.LoadLocation(r.Reminder.Timezone); err != nil {
		add(fmt.Errorf("reminder.timezone: %w", err))
	} else {
		r.Location = loc
	}

	r.Rollover = strings.TrimSpace(cfg.Reminder.Rollover)
	if r.Rollover == "" {
		r.Rollover = DefaultRollover
	}
	if _, err := cron.ParseStandard(r.Rollover); err != nil {
		add(fmt.Errorf("reminder.rollover: %w", err))
	}

	if strings.TrimSpace(cfg.Timetable.CSVPath) == "" {
		add(errors.New("timetable.csv_path is required"))
	}

	bt, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)
	r.Storage = storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: bt,
	}
	switch strings.ToLower(r.Storage.Driver) {
	case "", "memory", "mem":
	case "file", "sqlite", "sqlite3":
		if r.Storage.Path == "" {
			add(fmt.Errorf("storage.path is required for driver %q", r.Storage.Driver))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", r.Storage.Driver))
	}

	if cfg.Logging.Telegram.Enabled && cfg.Telegram.AdminChatID == 0 {
		add(errors.New("logging.telegram requires telegram.admin_chat_id"))
	}
	r.Logging = LogxConfig(cfg)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// LogxConfig maps the logging section onto the logger's own config.
func LogxConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.AdminChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// ListenAddr returns the configured listen address or the default.
func (c MetricsConfig) ListenAddr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultMetricsAddr
}
