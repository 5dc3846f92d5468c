// Package config loads the taskd configuration from JSON or YAML and watches
// it for changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  NotifierConfig  `json:"notifier"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls how execution times are displayed and parsed.
type SchedulerConfig struct {
	// Timezone is an IANA name ("Europe/Berlin"). Empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls task persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tasks.tsv", "autosave": "@every 1m" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Autosave is a cron spec; empty disables periodic saves.
	Autosave string `json:"autosave,omitempty"`
}

// NotifierConfig controls the EXEC line output for fired tasks.
type NotifierConfig struct {
	Enabled     bool `json:"enabled"`
	RatePerSec  int  `json:"rate_per_sec"`
	HistorySize int  `json:"history_size"`
}

// Default is used when no config file exists. A decoded file starts from it
// too, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{
			Driver:      "file",
			Path:        "./tasks.tsv",
			BusyTimeout: "5s",
		},
		Notifier: NotifierConfig{Enabled: true, RatePerSec: 5, HistorySize: 100},
	}
}

// Location resolves the scheduler timezone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

var autosaveParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	switch strings.ToUpper(strings.TrimSpace(c.Logging.Level)) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path is required when file logging is enabled"))
	}
	if _, err := c.Scheduler.Location(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3", "none", "off":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if spec := strings.TrimSpace(c.Storage.Autosave); spec != "" {
		if _, err := autosaveParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("storage.autosave: %w", err))
		}
	}
	if c.Notifier.RatePerSec < 0 {
		errs = append(errs, errors.New("notifier.rate_per_sec must be >= 0"))
	}
	if c.Notifier.HistorySize < 0 {
		errs = append(errs, errors.New("notifier.history_size must be >= 0"))
	}
	return errors.Join(errs...)
}
