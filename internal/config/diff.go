package config

import (
	"strings"

	logx "taskd/pkg/logx"
)

// Changes lists the sections that differ between two configs, with fields
// suitable for a log line.
func Changes(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		fields = append(fields, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.autosave", newCfg.Storage.Autosave),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		fields = append(fields,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
		)
	}
	if len(changed) > 0 {
		fields = append(fields, logx.String("sections", strings.Join(changed, ",")))
	}
	return changed, fields
}
