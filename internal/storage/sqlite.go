package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	pragmas := []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"}
	if cfg.BusyTimeout > 0 {
		pragmas = append([]string{fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())}, pragmas...)
	}
	st.pragmas(pragmas)

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// pragmas applies connection tuning. Failures leave SQLite defaults in place.
func (s *sqliteStore) pragmas(stmts []string) int {
	failed := 0
	for _, p := range stmts {
		if _, err := s.db.Exec(p); err != nil {
			failed++
			s.log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}
	return failed
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, priority, execute_at FROM tasks ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out  []Record
		errs []error
		n    int
	)
	for rows.Next() {
		n++
		var (
			rec Record
			at  string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Priority, &at); err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w: %v", n, ErrMalformed, err))
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w: execute_at %q", n, ErrMalformed, at))
			continue
		}
		rec.ExecuteAt = t
		rec.Line = n
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	return out, errors.Join(errs...)
}

// Save replaces the whole table in one transaction.
func (s *sqliteStore) Save(ctx context.Context, tasks []task.Task) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tasks(id, name, priority, execute_at, position) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, t := range tasks {
		if _, err := stmt.ExecContext(ctx, t.ID().String(), t.Name(), t.Priority(), t.ExecuteAt().UTC().Format(time.RFC3339Nano), i); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("tasks saved", logx.Int("count", len(tasks)))
	return nil
}
