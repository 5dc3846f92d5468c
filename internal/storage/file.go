package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

const fieldSep = "\t"

// fileStore keeps the task set in a single text file:
//
//	<id>\t<name>\t<priority>\t<executeAt RFC3339Nano UTC>
//
// Saves write <path>.tmp and rename it over <path>.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeLines(ctx, f)
}

func decodeLines(ctx context.Context, r io.Reader) ([]Record, error) {
	var (
		out  []Record
		errs []error
		line int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return out, err
		}
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		rec, err := decodeLine(text)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		rec.Line = line
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, err
	}
	return out, errors.Join(errs...)
}

func decodeLine(text string) (Record, error) {
	parts := strings.Split(text, fieldSep)
	if len(parts) != 4 {
		return Record{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformed, len(parts))
	}
	prio, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return Record{}, fmt.Errorf("%w: priority %q", ErrMalformed, parts[2])
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(parts[3]))
	if err != nil {
		return Record{}, fmt.Errorf("%w: execute_at %q", ErrMalformed, parts[3])
	}
	return Record{
		ID:        strings.TrimSpace(parts[0]),
		Name:      parts[1],
		Priority:  prio,
		ExecuteAt: at,
	}, nil
}

func encodeLine(t task.Task) (string, error) {
	if strings.ContainsAny(t.Name(), "\t\r\n") {
		return "", fmt.Errorf("%w: name of %s contains a tab or line break", ErrUnencodable, t.ID())
	}
	return strings.Join([]string{
		t.ID().String(),
		t.Name(),
		strconv.Itoa(t.Priority()),
		t.ExecuteAt().UTC().Format(time.RFC3339Nano),
	}, fieldSep), nil
}

func (s *fileStore) Save(ctx context.Context, tasks []task.Task) error {
	// Encode everything first so a bad task never truncates the file.
	var b strings.Builder
	for _, t := range tasks {
		line, err := encodeLine(t)
		if err != nil {
			return err
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, b.String()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.log.Debug("tasks saved", logx.String("path", s.path), logx.Int("count", len(tasks)))
	return nil
}
