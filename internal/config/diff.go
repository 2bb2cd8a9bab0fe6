package config

import (
	"strings"

	logx "namazbot/pkg/logx"
)

// Section names reported by Changes.
const (
	SectionTelegram  = "telegram"
	SectionLogging   = "logging"
	SectionReminder  = "reminder"
	SectionTimetable = "timetable"
	SectionStorage   = "storage"
	SectionMetrics   = "metrics"
)

// RestartRequired lists sections that are only read at startup.
var RestartRequired = map[string]bool{
	SectionTelegram: true,
	SectionReminder: true,
	SectionStorage:  true,
}

// Changes returns the changed sections and safe structured attrs for logging
// (never includes the bot token).
func Changes(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || o.AdminChatID != n.AdminChatID || o.PollTimeout != n.PollTimeout ||
		o.RatePerSec != n.RatePerSec || o.Contact != n.Contact || o.Signature != n.Signature {
		changed = append(changed, SectionTelegram)
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", o.Token != n.Token),
			logx.Bool("telegram.admin_set", n.AdminChatID != 0),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Reminder != newCfg.Reminder {
		changed = append(changed, SectionReminder)
		attrs = append(attrs,
			logx.String("reminder.offset", newCfg.Reminder.Offset),
			logx.String("reminder.timezone", newCfg.Reminder.Timezone),
		)
	}

	if oldCfg.Timetable != newCfg.Timetable {
		changed = append(changed, SectionTimetable)
		attrs = append(attrs,
			logx.String("timetable.csv_path", strings.TrimSpace(newCfg.Timetable.CSVPath)),
			logx.Bool("timetable.month_image_set", strings.TrimSpace(newCfg.Timetable.MonthImage) != ""),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, SectionStorage)
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, SectionMetrics)
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.ListenAddr()),
		)
	}
	return changed, attrs
}
