package scheduler

import (
	"time"

	"github.com/google/uuid"

	"taskd/internal/eventbus"
	"taskd/internal/task"
	"taskd/internal/timer"
	logx "taskd/pkg/logx"
)

func New(opts Options) *Scheduler {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	src := opts.Source
	if src == nil {
		src = timer.NewSerial(log, 0)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		log:     log,
		bus:     opts.Bus,
		loc:     loc,
		src:     src,
		onFire:  opts.OnFire,
		pending: map[uuid.UUID]pendingTimer{},
	}
}

// Start arms a timer for every stored task that lacks one. It is meant to run
// once after bulk-loading from storage; calling it again is harmless.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrShutdown
	}
	s.started = true
	armed := 0
	var firstErr error
	for _, t := range s.tasks {
		ok, err := s.armLocked(t)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			armed++
		}
	}
	n := len(s.tasks)
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.Int("tasks", n), logx.Int("armed", armed))
	return firstErr
}

// Shutdown stops the timer source. Unfired timers are abandoned and no further
// scheduling is possible. It does not wait for an in-flight firing.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	abandoned := len(s.pending)
	s.pending = map[uuid.UUID]pendingTimer{}
	s.mu.Unlock()

	s.src.Stop()
	s.log.Info("scheduler stopped", logx.Int("abandoned", abandoned))
}

// armLocked arms t unless a timer is already pending for its id.
// Call with s.mu held.
func (s *Scheduler) armLocked(t task.Task) (bool, error) {
	if s.stopped {
		return false, ErrShutdown
	}
	if _, ok := s.pending[t.ID()]; ok {
		return false, nil
	}
	delay := t.ExecuteAt().Sub(s.src.Now())
	if delay < 0 {
		delay = 0
	}
	s.gen++
	gen := s.gen
	id := t.ID()
	h, err := s.src.Arm(delay, func() { s.fire(id, gen) })
	if err != nil {
		return false, err
	}
	s.pending[id] = pendingTimer{h: h, gen: gen}
	s.log.Debug("task armed", logx.String("id", id.String()), logx.String("name", t.Name()), logx.Duration("delay", delay))
	return true, nil
}

// cancelLocked pops and cancels the pending timer of id, if any.
// Call with s.mu held.
func (s *Scheduler) cancelLocked(id uuid.UUID) {
	p, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	s.cancelled++
	if !p.h.Cancel() {
		// Already running or done; the generation check makes it a no-op.
		s.log.Debug("cancel raced with firing", logx.String("id", id.String()))
	}
}

func (s *Scheduler) fire(id uuid.UUID, gen uint64) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	t := s.tasks[idx]
	s.removeAtLocked(idx)
	s.fired++
	now := s.src.Now()
	s.mu.Unlock()

	late := now.Sub(t.ExecuteAt())
	if late < 0 {
		late = 0
	}
	s.log.Info("task fired", logx.String("id", t.ID().String()), logx.String("name", t.Name()), logx.Int("priority", t.Priority()), logx.Duration("late", late))
	s.publish(eventbus.TaskFired, t, late)
	if s.onFire != nil {
		s.onFire(t)
	}
}

func (s *Scheduler) publish(typ eventbus.Type, t task.Task, late time.Duration) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Data: TaskEvent{ID: t.ID(), Name: t.Name(), Priority: t.Priority(), ExecuteAt: t.ExecuteAt(), Late: late},
	})
}

// Call with s.mu held.
func (s *Scheduler) indexLocked(id uuid.UUID) int {
	for i := range s.tasks {
		if s.tasks[i].ID() == id {
			return i
		}
	}
	return -1
}

// removeAtLocked deletes tasks[i] keeping enumeration order. Call with s.mu held.
func (s *Scheduler) removeAtLocked(i int) {
	copy(s.tasks[i:], s.tasks[i+1:])
	s.tasks[len(s.tasks)-1] = task.Task{}
	s.tasks = s.tasks[:len(s.tasks)-1]
}
