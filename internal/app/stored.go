package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"taskd/internal/config"
	"taskd/internal/scheduler"
	"taskd/internal/storage"
	"taskd/internal/timer"
	logx "taskd/pkg/logx"
)

// PrintStored lists the persisted tasks without arming any timer. Records that
// fail validation are reported on stderr and skipped.
func PrintStored(ctx context.Context, cfgPath string, w io.Writer) error {
	cfg, err := config.NewManager(cfgPath, logx.Nop()).Load()
	if err != nil {
		return err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	log := logx.NewJSON(logx.Stderr(), "warn")

	st, err := storage.Open(sc, log)
	if errors.Is(err, storage.ErrDisabled) {
		_, err = fmt.Fprintln(w, "storage disabled")
		return err
	}
	if err != nil {
		return err
	}
	defer st.Close()

	// A manual clock that is never advanced keeps every restored task pending.
	s := scheduler.New(scheduler.Options{Source: timer.NewManual(time.Now()), Log: log, Location: loc})
	defer s.Shutdown()
	if _, err := storage.Restore(ctx, st, s, log); err != nil {
		return err
	}
	return s.WriteList(w)
}
