package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// Snapshotter yields the task set to persist.
type Snapshotter interface {
	Snapshot() []task.Task
}

// Autosaver periodically snapshots the scheduler into a store on a cron schedule.
type Autosaver struct {
	log  logx.Logger
	st   Store
	src  Snapshotter
	spec string

	mu      sync.Mutex
	c       *cron.Cron
	saves   uint64
	lastErr error
	lastAt  time.Time
}

var autosaveParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewAutosaver validates spec. An empty spec yields a saver whose Start is a no-op.
func NewAutosaver(spec string, st Store, src Snapshotter, log logx.Logger) (*Autosaver, error) {
	if st == nil || src == nil {
		return nil, errors.New("autosave: store and snapshot source are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	spec = strings.TrimSpace(spec)
	if spec != "" {
		if _, err := autosaveParser.Parse(spec); err != nil {
			return nil, err
		}
	}
	return &Autosaver{log: log, st: st, src: src, spec: spec}, nil
}

func (a *Autosaver) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.c != nil || a.spec == "" {
		return
	}
	a.c = cron.New(cron.WithParser(autosaveParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := a.c.AddFunc(a.spec, a.tick); err != nil {
		// Parse already succeeded in NewAutosaver.
		a.log.Error("autosave schedule rejected", logx.String("spec", a.spec), logx.Err(err))
		a.c = nil
		return
	}
	a.c.Start()
	a.log.Info("autosave started", logx.String("spec", a.spec))
}

// Stop halts the schedule and waits for a running save until ctx is done.
func (a *Autosaver) Stop(ctx context.Context) {
	a.mu.Lock()
	c := a.c
	a.c = nil
	a.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	a.log.Info("autosave stopped")
}

func (a *Autosaver) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.SaveNow(ctx); err != nil {
		a.log.Warn("autosave failed", logx.Err(err))
	}
}

// SaveNow snapshots and saves immediately.
func (a *Autosaver) SaveNow(ctx context.Context) error {
	tasks := a.src.Snapshot()
	err := a.st.Save(ctx, tasks)

	a.mu.Lock()
	a.lastAt = time.Now()
	a.lastErr = err
	if err == nil {
		a.saves++
	}
	a.mu.Unlock()
	return err
}

// Status returns the number of successful saves and the outcome of the last one.
func (a *Autosaver) Status() (saves uint64, lastAt time.Time, lastErr error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves, a.lastAt, a.lastErr
}
