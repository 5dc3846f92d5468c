package scheduler

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"taskd/internal/task"
)

const listTimeFormat = "2006-01-02 15:04:05 MST"

// Snapshot returns a point-in-time copy of all tasks in enumeration order.
func (s *Scheduler) Snapshot() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Get returns the stored task with id.
func (s *Scheduler) Get(id uuid.UUID) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.tasks[i], true
	}
	return task.Task{}, false
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// List renders one line per task: id, name, priority and the execution time in
// the scheduler's display location.
func (s *Scheduler) List() []string {
	tasks := s.Snapshot()
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, fmt.Sprintf("%s\t%s\t%d\t%s", t.ID(), t.Name(), t.Priority(), s.localTime(t)))
	}
	return out
}

// WriteList writes the List rows as an aligned table with a header.
func (s *Scheduler) WriteList(w io.Writer) error {
	tasks := s.Snapshot()
	if len(tasks) == 0 {
		_, err := io.WriteString(w, "no tasks\n")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRIORITY\tEXECUTION")
	for _, t := range tasks {
		fmt.Fprintln(tw, t.ID().String()+"\t"+t.Name()+"\t"+strconv.Itoa(t.Priority())+"\t"+s.localTime(t))
	}
	return tw.Flush()
}

func (s *Scheduler) localTime(t task.Task) string {
	return t.ExecuteAt().In(s.loc).Format(listTimeFormat)
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Tasks:     len(s.tasks),
		Pending:   len(s.pending),
		Fired:     s.fired,
		Cancelled: s.cancelled,
		Started:   s.started,
		Stopped:   s.stopped,
	}
}

// Now reads the scheduler's clock.
func (s *Scheduler) Now() time.Time { return s.src.Now() }
