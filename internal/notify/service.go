// Package notify renders task firings to an output sink.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskd/internal/eventbus"
	rtsup "taskd/internal/runtime/supervisor"
	"taskd/internal/scheduler"
	logx "taskd/pkg/logx"
)

var ErrDisabled = errors.New("notifier disabled")

// Service queues task.fired events and writes one "EXEC <name>" line per
// firing to its writer, rate limited. Firings are queued without bound while
// delivery waits for tokens, so a burst is delayed rather than lost.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	sup   *rtsup.Supervisor
	queue *eventbus.Queue
	unsub func()

	wmu sync.Mutex
	out io.Writer

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, out io.Writer, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if out == nil {
		out = io.Discard
	}
	s := &Service{log: log, bus: bus, out: out}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the rate and history size at runtime. Enabling or disabling
// takes effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
	s.log.Info("notifier config applied", logx.Int("rate_per_sec", cfg.RatePerSec), logx.Int("history_size", cfg.HistorySize))
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	s.cfg = cfg
	if s.limiter == nil {
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
}

// Start subscribes to task.fired and runs the delivery loop. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled || s.bus == nil {
		return
	}
	q, unsub := s.bus.SubscribeQueue(eventbus.TaskFired)
	s.queue, s.unsub = q, unsub
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))))
	s.sup.GoRestart("notify.loop", func(c context.Context) error {
		return s.loop(c, q)
	})
	s.log.Info("notifier started", logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

// Stop waits for the delivery loop until ctx is done, then unsubscribes.
// Lines still queued are discarded and counted in the log.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, q, unsub := s.sup, s.queue, s.unsub
	s.sup, s.queue, s.unsub = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("notifier stop", logx.Err(err))
	}
	if n := q.Len(); n > 0 {
		s.log.Warn("notifier stopped with undelivered lines", logx.Int("pending", n))
	}
	unsub()
	s.log.Info("notifier stopped")
}

// Pending returns the number of firings queued but not yet written.
func (s *Service) Pending() int {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.Len()
}

func (s *Service) loop(ctx context.Context, q *eventbus.Queue) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-q.Ready():
			if !ok {
				return nil
			}
		}
		for {
			e, ok := q.Pop()
			if !ok {
				break
			}
			te, ok := e.Data.(scheduler.TaskEvent)
			if !ok {
				s.log.Warn("unexpected fired payload", logx.String("type", fmt.Sprintf("%T", e.Data)))
				continue
			}
			if err := s.Notify(ctx, "EXEC "+te.Name); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Warn("notify failed", logx.String("task", te.Name), logx.Err(err))
			}
		}
	}
}

// Notify waits for a rate token and writes text as one line.
func (s *Service) Notify(ctx context.Context, text string) error {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	lim := s.limiter
	keep := s.cfg.HistorySize
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return err
	}

	s.wmu.Lock()
	_, err := fmt.Fprintln(s.out, text)
	s.wmu.Unlock()
	if err != nil {
		return err
	}
	s.appendHistory(text, keep)
	return nil
}

// History returns the most recent delivered lines, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(text string, keep int) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > keep {
		s.history = append([]HistoryItem(nil), s.history[len(s.history)-keep:]...)
	}
	s.hmu.Unlock()
}
