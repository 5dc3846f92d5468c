package storage

import (
	"errors"
	"strings"

	logx "taskd/pkg/logx"
)

// Open initializes the configured store.
// It returns ErrDisabled if the driver is "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "file"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "none", "off":
		return nil, ErrDisabled
	case "file":
		return openFile(cfg, log.With(logx.String("driver", "file")))
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log.With(logx.String("driver", "sqlite")))
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
