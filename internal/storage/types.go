package storage

import (
	"context"
	"errors"
	"time"

	"taskd/internal/task"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrMalformed marks a stored record that could not be decoded. Load skips
	// such records and reports them joined into its error.
	ErrMalformed = errors.New("malformed record")
	// ErrUnencodable marks a task the driver cannot represent (e.g. a tab in the
	// name for the file driver). Nothing is written when it is returned.
	ErrUnencodable = errors.New("unencodable task")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): tab separated line file at Path
//   - "sqlite": SQLite database file at Path
//   - "none": persistence disabled
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Autosave is a cron spec ("@every 1m", "*/5 * * * *"). Empty disables it.
	Autosave string
}

// Record is a decoded but not yet validated task. Validation happens when the
// record is fed to the scheduler.
type Record struct {
	Line      int
	ID        string
	Name      string
	Priority  int
	ExecuteAt time.Time
}

type Store interface {
	// Load returns every decodable record in stored order. A missing backing
	// file is an empty store, not an error.
	Load(ctx context.Context) ([]Record, error)
	// Save replaces the stored set with tasks.
	Save(ctx context.Context, tasks []task.Task) error
	Close() error
}
