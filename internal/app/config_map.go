package app

import (
	"strings"
	"time"

	"taskd/internal/config"
	"taskd/internal/notify"
	"taskd/internal/storage"
	logx "taskd/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy := 5 * time.Second
	if strings.TrimSpace(sc.BusyTimeout) != "" {
		d, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		busy = d
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Autosave:    strings.TrimSpace(sc.Autosave),
	}, nil
}

func mapNotifierConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Enabled:     cfg.Notifier.Enabled,
		RatePerSec:  cfg.Notifier.RatePerSec,
		HistorySize: cfg.Notifier.HistorySize,
	}
}

// validateReload rejects configs the running process cannot map.
func validateReload(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	_, err := cfg.Scheduler.Location()
	return err
}
