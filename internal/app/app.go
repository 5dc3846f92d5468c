// Package app wires config, logging, storage, the scheduler, the notifier and
// the command loop into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"taskd/internal/command"
	"taskd/internal/config"
	"taskd/internal/eventbus"
	"taskd/internal/notify"
	"taskd/internal/runtime/supervisor"
	"taskd/internal/scheduler"
	"taskd/internal/storage"
	"taskd/internal/timer"
	logx "taskd/pkg/logx"
	"taskd/pkg/systemd"
)

const stopTimeout = 10 * time.Second

type Options struct {
	ConfigPath string
	// In feeds the command loop. Nil runs without one until ctx is done.
	In  io.Reader
	Out io.Writer
	// Prompt is printed before every command line.
	Prompt string
	// Source overrides the scheduler's timer source.
	Source timer.Source
}

type App struct {
	opts Options
	out  io.Writer

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	bus    *eventbus.MemBus
	store  storage.Store
	saver  *storage.Autosaver
	sched  *scheduler.Scheduler
	notif  *notify.Service
	router *command.Router

	sup      *supervisor.Supervisor
	restored bool

	quitOnce sync.Once
	quit     chan struct{}
	stopOnce sync.Once
}

func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	out = &syncWriter{w: out}

	a := &App{
		opts: opts,
		out:  out,
		cfgm: cfgm,
		log:  log.With(logx.String("comp", "app")),
		logs: logs,
		bus:  eventbus.New(),
		quit: make(chan struct{}),
	}

	a.sched = scheduler.New(scheduler.Options{
		Source:   opts.Source,
		Log:      log.With(logx.String("comp", "scheduler")),
		Bus:      a.bus,
		Location: loc,
	})

	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	switch {
	case errors.Is(err, storage.ErrDisabled):
		a.log.Info("storage disabled")
	case err != nil:
		a.sched.Shutdown()
		_ = logs.Close()
		return nil, err
	default:
		saver, err := storage.NewAutosaver(sc.Autosave, st, a.sched, log.With(logx.String("comp", "autosave")))
		if err != nil {
			_ = st.Close()
			a.sched.Shutdown()
			_ = logs.Close()
			return nil, err
		}
		a.store, a.saver = st, saver
		a.log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a.notif = notify.New(mapNotifierConfig(cfg), out, a.bus, log.With(logx.String("comp", "notifier")))
	a.router = command.NewRouter(command.Options{
		Scheduler: a.sched,
		Log:       log.With(logx.String("comp", "commands")),
		Save:      a.afterMutation,
		Now:       a.sched.Now,
		Location:  loc,
	})
	return a, nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

func (a *App) Router() *command.Router { return a.router }

func (a *App) Notifier() *notify.Service { return a.notif }

// Save writes the current task set to the store. It is a no-op without one.
func (a *App) Save(ctx context.Context) error {
	if a.saver == nil || !a.restored {
		return nil
	}
	return a.saver.SaveNow(ctx)
}

// afterMutation saves and republishes the task count as the systemd status.
func (a *App) afterMutation(ctx context.Context) error {
	err := a.Save(ctx)
	systemd.Status(a.log, statusLine(a.sched.Len()))
	return err
}

func statusLine(tasks int) string { return fmt.Sprintf("%d tasks", tasks) }

// Run loads the stored tasks, starts every service and blocks until ctx is
// done, the command loop quits or a supervised loop fails.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateReload(cfg) })

	// Before restore: overdue tasks fire as soon as they are armed.
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.store != nil {
		n, err := storage.Restore(a.sup.Context(), a.store, a.sched, a.log)
		if err != nil {
			a.log.Error("restore failed; refusing to overwrite storage", logx.Err(err))
			a.Stop(context.Background(), StopFatalError)
			return fmt.Errorf("restore: %w", err)
		}
		a.log.Info("tasks restored", logx.Int("count", n))
	}
	a.restored = true

	if err := a.sched.Start(); err != nil {
		a.log.Warn("some tasks could not be armed", logx.Err(err))
	}
	if a.saver != nil {
		a.saver.Start()
	}

	a.goEventLog()
	a.goConfigReload()
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		if err := systemd.Watchdog(c, a.log); err != nil {
			a.log.Warn("systemd watchdog unavailable", logx.Err(err))
		}
		return nil
	})
	if a.opts.In != nil {
		a.sup.Go("command.loop", a.commandLoop)
	}

	systemd.Ready(a.log, statusLine(a.sched.Len()))
	a.log.Info("app started", logx.Int("tasks", a.sched.Len()))

	var reason StopReason
	select {
	case <-a.quit:
		reason = StopExit
	case <-a.sup.Context().Done():
		reason = StopFatalError
		if ctx.Err() != nil {
			reason = StopSignal
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	fatal := a.sup.Err()
	a.Stop(stopCtx, reason)
	if reason == StopFatalError {
		return fatal
	}
	return nil
}

func (a *App) requestQuit() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func (a *App) commandLoop(ctx context.Context) error {
	err := a.router.Run(ctx, a.opts.In, a.out, a.opts.Prompt)
	switch {
	case errors.Is(err, io.EOF):
		a.log.Info("command input closed; running until signalled")
		return nil
	case ctx.Err() != nil:
		return nil
	case err != nil:
		return err
	}
	a.requestQuit()
	return nil
}

func (a *App) goEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				fields := []logx.Field{logx.String("type", string(e.Type)), logx.Time("time", e.Time)}
				if te, ok := e.Data.(scheduler.TaskEvent); ok {
					fields = append(fields, logx.String("id", te.ID.String()), logx.String("name", te.Name))
				}
				a.log.Debug("event", fields...)
			}
		}
	})
}

func (a *App) goConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, fields := config.Changes(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if slices.Contains(sections, "storage") || slices.Contains(sections, "scheduler") {
		a.log.Warn("storage or scheduler config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))

	wasEnabled := a.notif.Enabled()
	ncfg := mapNotifierConfig(newCfg)
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(a.sup.Context())
	}

	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts everything down once. The task set is saved after the scheduler
// stops so no firing can race the final snapshot.
func (a *App) Stop(ctx context.Context, reason StopReason) {
	a.stopOnce.Do(func() {
		a.log.Info("stopping", logx.String("reason", string(reason)))
		systemd.Stopping(a.log)
		if a.sup != nil {
			a.sup.Cancel()
		}

		a.step(ctx, "autosave", 2*time.Second, func(c context.Context) error {
			if a.saver != nil {
				a.saver.Stop(c)
			}
			return nil
		})
		a.step(ctx, "scheduler", time.Second, func(context.Context) error { a.sched.Shutdown(); return nil })
		a.step(ctx, "save", 3*time.Second, a.Save)
		a.step(ctx, "notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
		a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
			if a.sup == nil {
				return nil
			}
			return a.sup.Wait(c)
		})
		a.step(ctx, "storage", time.Second, func(context.Context) error {
			if a.store != nil {
				return a.store.Close()
			}
			return nil
		})

		a.log.Info("stopped")
		_ = a.logs.Close()
	})
}

// syncWriter serializes writes from the command loop and the notifier.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
