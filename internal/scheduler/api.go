package scheduler

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskd/internal/eventbus"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// Add stores t and arms its timer in one critical section. Adding an id that is
// already registered replaces the stored value (keeping its position) and re-arms it.
func (s *Scheduler) Add(t task.Task) error {
	if t.IsZero() {
		return fmt.Errorf("%w: zero task", task.ErrInvalidArgument)
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrShutdown
	}
	replaced := false
	if i := s.indexLocked(t.ID()); i >= 0 {
		s.cancelLocked(t.ID())
		s.tasks[i] = t
		replaced = true
	} else {
		s.tasks = append(s.tasks, t)
	}
	_, err := s.armLocked(t)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.log.Debug("task added", logx.String("id", t.ID().String()), logx.String("name", t.Name()), logx.Bool("replaced", replaced))
	if replaced {
		s.publish(eventbus.TaskChanged, t, 0)
	} else {
		s.publish(eventbus.TaskAdded, t, 0)
	}
	return nil
}

// AddNew builds a task with a generated id and adds it.
func (s *Scheduler) AddNew(name string, priority int, executeAt time.Time) (task.Task, error) {
	t, err := task.New(name, priority, executeAt)
	if err != nil {
		return task.Task{}, err
	}
	return t, s.Add(t)
}

// AddWithID builds a task with a caller supplied id and adds it (reload path).
func (s *Scheduler) AddWithID(id uuid.UUID, name string, priority int, executeAt time.Time) (task.Task, error) {
	t, err := task.NewWithID(id, name, priority, executeAt)
	if err != nil {
		return task.Task{}, err
	}
	return t, s.Add(t)
}

// Remove drops the task with id and cancels its timer. It reports whether a
// task was removed; an unknown id is a no-op.
func (s *Scheduler) Remove(id uuid.UUID) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	t := s.tasks[idx]
	s.removeAtLocked(idx)
	s.cancelLocked(id)
	s.mu.Unlock()

	s.log.Debug("task removed", logx.String("id", id.String()), logx.String("name", t.Name()))
	s.publish(eventbus.TaskRemoved, t, 0)
	return true
}

// RemoveByName drops every task named name and returns how many were removed.
func (s *Scheduler) RemoveByName(name string) int {
	return s.removeWhere("name", func(t task.Task) bool { return t.Name() == name })
}

// RemoveByPriority drops every task with the given priority and returns how many were removed.
func (s *Scheduler) RemoveByPriority(priority int) int {
	return s.removeWhere("priority", func(t task.Task) bool { return t.Priority() == priority })
}

func (s *Scheduler) removeWhere(by string, match func(task.Task) bool) int {
	s.mu.Lock()
	var removed []task.Task
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if match(t) {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	clear(s.tasks[len(kept):])
	s.tasks = kept
	for _, t := range removed {
		s.cancelLocked(t.ID())
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.log.Debug("tasks removed", logx.String("by", by), logx.Int("count", len(removed)))
	}
	for _, t := range removed {
		s.publish(eventbus.TaskRemoved, t, 0)
	}
	return len(removed)
}

func (s *Scheduler) SortByName() {
	s.sort(func(a, b task.Task) int { return strings.Compare(a.Name(), b.Name()) })
}

func (s *Scheduler) SortByPriority() {
	s.sort(func(a, b task.Task) int { return cmp.Compare(a.Priority(), b.Priority()) })
}

func (s *Scheduler) SortByTime() {
	s.sort(func(a, b task.Task) int { return a.ExecuteAt().Compare(b.ExecuteAt()) })
}

func (s *Scheduler) sort(less func(a, b task.Task) int) {
	s.mu.Lock()
	slices.SortStableFunc(s.tasks, less)
	s.mu.Unlock()
}

// ChangeName replaces the name of task id. It reports false if id is unknown.
func (s *Scheduler) ChangeName(id uuid.UUID, name string) (bool, error) {
	return s.replace(id, func(t task.Task) (task.Task, error) { return t.WithName(name) })
}

// ChangePriority replaces the priority of task id. It reports false if id is unknown.
func (s *Scheduler) ChangePriority(id uuid.UUID, priority int) (bool, error) {
	return s.replace(id, func(t task.Task) (task.Task, error) { return t.WithPriority(priority) })
}

// ChangeExecuteAt moves task id to a new execution time. It reports false if id is unknown.
func (s *Scheduler) ChangeExecuteAt(id uuid.UUID, at time.Time) (bool, error) {
	return s.replace(id, func(t task.Task) (task.Task, error) { return t.WithExecuteAt(at) })
}

// replace swaps the stored task for edit(old) and re-arms it, all under one lock
// so the task is never observable as unscheduled. The new timer's delay is
// recomputed from ExecuteAt, so a change made after the deadline fires at once.
func (s *Scheduler) replace(id uuid.UUID, edit func(task.Task) (task.Task, error)) (bool, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false, nil
	}
	if s.stopped {
		s.mu.Unlock()
		return false, ErrShutdown
	}
	nt, err := edit(s.tasks[idx])
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.cancelLocked(id)
	s.tasks[idx] = nt
	_, err = s.armLocked(nt)
	s.mu.Unlock()

	if err != nil {
		return true, err
	}
	s.log.Debug("task changed", logx.String("id", id.String()), logx.String("name", nt.Name()), logx.Int("priority", nt.Priority()))
	s.publish(eventbus.TaskChanged, nt, 0)
	return true, nil
}
