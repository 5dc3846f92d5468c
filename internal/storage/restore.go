package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// Adder is the scheduler entry point used to reload tasks with their ids.
type Adder interface {
	AddWithID(id uuid.UUID, name string, priority int, executeAt time.Time) (task.Task, error)
}

// Restore loads every record from st and feeds it to a. Malformed or invalid
// records are logged and skipped. It returns the number of tasks restored and
// fails only if the store itself could not be read.
func Restore(ctx context.Context, st Store, a Adder, log logx.Logger) (int, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	recs, err := st.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrMalformed) {
			return 0, err
		}
		log.Warn("skipped malformed records", logx.Err(err))
	}

	n := 0
	for _, r := range recs {
		id, err := task.ParseID(r.ID)
		if err == nil {
			_, err = a.AddWithID(id, r.Name, r.Priority, r.ExecuteAt)
		}
		if err != nil {
			log.Warn("skipped invalid record", logx.Int("line", r.Line), logx.Err(err))
			continue
		}
		n++
	}
	log.Info("tasks restored", logx.Int("count", n), logx.Int("records", len(recs)))
	return n, nil
}
