package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"taskd/internal/eventbus"
	"taskd/internal/task"
	"taskd/internal/timer"
	logx "taskd/pkg/logx"
)

var epoch = time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

type fireLog struct {
	mu    sync.Mutex
	tasks []task.Task
	ch    chan task.Task
}

func newFireLog() *fireLog { return &fireLog{ch: make(chan task.Task, 1024)} }

func (f *fireLog) record(t task.Task) {
	f.mu.Lock()
	f.tasks = append(f.tasks, t)
	f.mu.Unlock()
	f.ch <- t
}

func (f *fireLog) all() []task.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]task.Task(nil), f.tasks...)
}

func newManualScheduler(t *testing.T) (*Scheduler, *timer.Manual, *fireLog) {
	t.Helper()
	clk := timer.NewManual(epoch)
	fl := newFireLog()
	s := New(Options{Source: clk, Log: logx.Nop(), Location: time.UTC, OnFire: fl.record})
	t.Cleanup(s.Shutdown)
	return s, clk, fl
}

func mustAdd(t *testing.T, s *Scheduler, name string, priority int, at time.Time) task.Task {
	t.Helper()
	tk, err := s.AddNew(name, priority, at)
	if err != nil {
		t.Fatalf("AddNew(%q) error: %v", name, err)
	}
	return tk
}

func TestAddThenSnapshotHasNoDuplicates(t *testing.T) {
	t.Parallel()
	s, _, _ := newManualScheduler(t)
	const n = 25
	for i := 0; i < n; i++ {
		mustAdd(t, s, fmt.Sprintf("t%d", i), i%5+1, epoch.Add(time.Duration(n-i)*time.Minute))
	}
	snap := s.Snapshot()
	if len(snap) != n {
		t.Fatalf("snapshot len = %d, want %d", len(snap), n)
	}
	seen := map[uuid.UUID]bool{}
	for _, tk := range snap {
		if seen[tk.ID()] {
			t.Fatalf("duplicate id %s", tk.ID())
		}
		seen[tk.ID()] = true
	}
	if st := s.Stats(); st.Pending != n {
		t.Fatalf("pending = %d, want %d", st.Pending, n)
	}
}

func TestAddRejectsZeroTaskAndInvalidArgs(t *testing.T) {
	t.Parallel()
	s, _, _ := newManualScheduler(t)
	if err := s.Add(task.Task{}); !errors.Is(err, task.ErrInvalidArgument) {
		t.Fatalf("Add(zero) err = %v", err)
	}
	if _, err := s.AddNew("", 1, epoch); !errors.Is(err, task.ErrInvalidArgument) {
		t.Fatalf("AddNew(empty) err = %v", err)
	}
	if _, err := s.AddNew("a", 7, epoch); !errors.Is(err, task.ErrInvalidArgument) {
		t.Fatalf("AddNew(p=7) err = %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("invalid tasks were stored: %d", s.Len())
	}
}

func TestAddSameIDReplaces(t *testing.T) {
	t.Parallel()
	s, clk, fl := newManualScheduler(t)
	id := uuid.New()
	if _, err := s.AddWithID(id, "first", 1, epoch.Add(time.Minute)); err != nil {
		t.Fatalf("AddWithID error: %v", err)
	}
	if _, err := s.AddWithID(id, "second", 2, epoch.Add(2*time.Minute)); err != nil {
		t.Fatalf("AddWithID error: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	if clk.Pending() != 1 {
		t.Fatalf("armed timers = %d, want 1", clk.Pending())
	}
	clk.Advance(time.Hour)
	got := fl.all()
	if len(got) != 1 || got[0].Name() != "second" {
		t.Fatalf("fired = %v", got)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	s, clk, _ := newManualScheduler(t)
	tk := mustAdd(t, s, "a", 1, epoch.Add(time.Minute))
	keep := mustAdd(t, s, "b", 1, epoch.Add(time.Minute))

	if !s.Remove(tk.ID()) {
		t.Fatal("first Remove returned false")
	}
	if s.Remove(tk.ID()) {
		t.Fatal("second Remove returned true")
	}
	if s.Remove(uuid.New()) {
		t.Fatal("Remove(unknown) returned true")
	}
	for _, got := range s.Snapshot() {
		if got.ID() == tk.ID() {
			t.Fatal("removed id still in snapshot")
		}
	}
	if _, ok := s.Get(keep.ID()); !ok {
		t.Fatal("unrelated task removed")
	}
	if clk.Pending() != 1 {
		t.Fatalf("armed timers = %d, want 1", clk.Pending())
	}
}

func TestRemovedTaskNeverFires(t *testing.T) {
	t.Parallel()
	s, clk, fl := newManualScheduler(t)
	mustAdd(t, s, "Report", 3, clk.Now().Add(5*time.Second))
	if n := s.RemoveByName("Report"); n != 1 {
		t.Fatalf("RemoveByName = %d, want 1", n)
	}
	clk.Advance(time.Minute)
	if got := fl.all(); len(got) != 0 {
		t.Fatalf("removed task fired: %v", got)
	}
	if s.Len() != 0 {
		t.Fatalf("snapshot not empty: %v", s.Snapshot())
	}
}

func TestFiresAtDeadline(t *testing.T) {
	t.Parallel()
	s, clk, fl := newManualScheduler(t)
	tk := mustAdd(t, s, "Report", 3, clk.Now().Add(5*time.Second))

	clk.Advance(4 * time.Second)
	if len(fl.all()) != 0 {
		t.Fatal("fired before deadline")
	}
	clk.Advance(time.Second)
	got := fl.all()
	if len(got) != 1 || got[0].ID() != tk.ID() {
		t.Fatalf("fired = %v", got)
	}
	if s.Len() != 0 {
		t.Fatal("fired task still registered")
	}
	st := s.Stats()
	if st.Fired != 1 || st.Pending != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPastTaskFiresAfterStart(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	fl := newFireLog()
	s := New(Options{Log: logx.Nop(), Bus: bus, OnFire: fl.record})
	t.Cleanup(s.Shutdown)

	id := uuid.New()
	if _, err := s.AddWithID(id, "Build", 2, time.Now().Add(-10*time.Second)); err != nil {
		t.Fatalf("AddWithID error: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	select {
	case got := <-fl.ch:
		if got.ID() != id || got.Name() != "Build" {
			t.Fatalf("fired %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("past task did not fire within 1s")
	}
	if s.Len() != 0 {
		t.Fatalf("snapshot = %v, want empty", s.Snapshot())
	}

	deadline := time.After(time.Second)
	for {
		select {
		case e := <-events:
			if e.Type != eventbus.TaskFired {
				continue
			}
			te, ok := e.Data.(TaskEvent)
			if !ok || te.Name != "Build" || te.ID != id {
				t.Fatalf("unexpected fired payload: %+v", e.Data)
			}
			if te.Late < 10*time.Second {
				t.Fatalf("late = %v, want >= 10s", te.Late)
			}
			return
		case <-deadline:
			t.Fatal("no task.fired event")
		}
	}
}

func TestConcurrentAddsAreNotLost(t *testing.T) {
	t.Parallel()
	s, _, _ := newManualScheduler(t)
	const (
		workers = 8
		per     = 50
	)
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, workers*per)
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				tk, err := s.AddNew(fmt.Sprintf("w%d-%d", w, i), i%5+1, epoch.Add(time.Hour))
				if err != nil {
					t.Errorf("AddNew error: %v", err)
					return
				}
				ids <- tk.ID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	counts := map[uuid.UUID]int{}
	for _, tk := range s.Snapshot() {
		counts[tk.ID()]++
	}
	n := 0
	for id := range ids {
		n++
		if counts[id] != 1 {
			t.Fatalf("id %s appears %d times", id, counts[id])
		}
	}
	if n != workers*per || len(counts) != workers*per {
		t.Fatalf("added %d, snapshot has %d", n, len(counts))
	}
}

func TestSortingOrdersWithoutChangingSet(t *testing.T) {
	t.Parallel()
	s, clk, fl := newManualScheduler(t)
	mustAdd(t, s, "charlie", 2, epoch.Add(3*time.Minute))
	mustAdd(t, s, "alpha", 5, epoch.Add(1*time.Minute))
	mustAdd(t, s, "bravo", 1, epoch.Add(4*time.Minute))
	mustAdd(t, s, "delta", 2, epoch.Add(2*time.Minute))
	before := map[uuid.UUID]task.Task{}
	for _, tk := range s.Snapshot() {
		before[tk.ID()] = tk
	}

	check := func(name string, ok func(a, b task.Task) bool) {
		t.Helper()
		snap := s.Snapshot()
		if len(snap) != len(before) {
			t.Fatalf("%s: len = %d", name, len(snap))
		}
		for i, tk := range snap {
			if before[tk.ID()] != tk {
				t.Fatalf("%s: task changed: %s", name, tk)
			}
			if i > 0 && !ok(snap[i-1], tk) {
				t.Fatalf("%s: order violated at %d: %s before %s", name, i, snap[i-1], tk)
			}
		}
	}

	s.SortByPriority()
	check("priority", func(a, b task.Task) bool { return a.Priority() <= b.Priority() })
	s.SortByTime()
	check("time", func(a, b task.Task) bool { return !a.ExecuteAt().After(b.ExecuteAt()) })
	s.SortByName()
	check("name", func(a, b task.Task) bool { return a.Name() <= b.Name() })

	// Firing order follows execution time, not enumeration order.
	clk.Advance(time.Hour)
	fired := fl.all()
	want := []string{"alpha", "delta", "charlie", "bravo"}
	if len(fired) != len(want) {
		t.Fatalf("fired %d, want %d", len(fired), len(want))
	}
	for i, name := range want {
		if fired[i].Name() != name {
			t.Fatalf("fired[%d] = %s, want %s", i, fired[i].Name(), name)
		}
	}
}

func TestSortByPriorityIsStable(t *testing.T) {
	t.Parallel()
	s, _, _ := newManualScheduler(t)
	a := mustAdd(t, s, "a", 3, epoch.Add(time.Hour))
	b := mustAdd(t, s, "b", 1, epoch.Add(time.Hour))
	c := mustAdd(t, s, "c", 3, epoch.Add(time.Hour))
	s.SortByPriority()
	snap := s.Snapshot()
	if snap[0].ID() != b.ID() || snap[1].ID() != a.ID() || snap[2].ID() != c.ID() {
		t.Fatalf("unexpected order: %v", snap)
	}
}

func TestChangeNameKeepsIdentityAndArmsOnce(t *testing.T) {
	t.Parallel()
	s, clk, fl := newManualScheduler(t)
	tk := mustAdd(t, s, "Old", 2, clk.Now().Add(5*time.Second))

	ok, err := s.ChangeName(tk.ID(), "NewName")
	if err != nil || !ok {
		t.Fatalf("ChangeName = %v, %v", ok, err)
	}
	got, found := s.Get(tk.ID())
	if !found {
		t.Fatal("task missing after change")
	}
	if got.Name() != "NewName" || !got.ExecuteAt().Equal(tk.ExecuteAt()) || got.Priority() != 2 {
		t.Fatalf("changed task = %s", got)
	}
	if clk.Pending() != 1 {
		t.Fatalf("armed timers = %d, want 1", clk.Pending())
	}

	clk.Advance(10 * time.Second)
	fired := fl.all()
	if len(fired) != 1 || fired[0].Name() != "NewName" || fired[0].ID() != tk.ID() {
		t.Fatalf("fired = %v", fired)
	}
}

func TestChangeKeepsEnumerationPosition(t *testing.T) {
	t.Parallel()
	s, _, _ := newManualScheduler(t)
	mustAdd(t, s, "a", 1, epoch.Add(time.Hour))
	mid := mustAdd(t, s, "b", 1, epoch.Add(time.Hour))
	mustAdd(t, s, "c", 1, epoch.Add(time.Hour))
	if _, err := s.ChangePriority(mid.ID(), 4); err != nil {
		t.Fatalf("ChangePriority error: %v", err)
	}
	snap := s.Snapshot()
	if snap[1].ID() != mid.ID() || snap[1].Priority() != 4 {
		t.Fatalf("snapshot = %v", snap)
	}
}

func TestChangeInvalidLeavesTaskArmed(t *testing.T) {
	t.Parallel()
	s, clk, fl := newManualScheduler(t)
	tk := mustAdd(t, s, "a", 2, clk.Now().Add(time.Second))

	if ok, err := s.ChangePriority(tk.ID(), 9); !errors.Is(err, task.ErrInvalidArgument) || ok {
		t.Fatalf("ChangePriority(9) = %v, %v", ok, err)
	}
	if ok, err := s.ChangeName(tk.ID(), ""); !errors.Is(err, task.ErrInvalidArgument) || ok {
		t.Fatalf("ChangeName(\"\") = %v, %v", ok, err)
	}
	got, _ := s.Get(tk.ID())
	if got != tk {
		t.Fatalf("task modified: %s", got)
	}
	clk.Advance(time.Second)
	if len(fl.all()) != 1 {
		t.Fatal("task lost its timer after rejected change")
	}
}

func TestChangeUnknownIDIsNoop(t *testing.T) {
	t.Parallel()
	s, _, _ := newManualScheduler(t)
	mustAdd(t, s, "a", 1, epoch.Add(time.Hour))
	if ok, err := s.ChangeName(uuid.New(), "x"); ok || err != nil {
		t.Fatalf("ChangeName(unknown) = %v, %v", ok, err)
	}
	if ok, err := s.ChangePriority(uuid.New(), 3); ok || err != nil {
		t.Fatalf("ChangePriority(unknown) = %v, %v", ok, err)
	}
}

func TestChangeExecuteAtIntoPastFiresImmediately(t *testing.T) {
	t.Parallel()
	s, clk, fl := newManualScheduler(t)
	tk := mustAdd(t, s, "a", 1, clk.Now().Add(time.Hour))
	if _, err := s.ChangeExecuteAt(tk.ID(), clk.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("ChangeExecuteAt error: %v", err)
	}
	clk.Advance(0)
	if got := fl.all(); len(got) != 1 {
		t.Fatalf("fired = %v, want immediate firing", got)
	}
}

func TestStaleCallbackIsIgnored(t *testing.T) {
	t.Parallel()
	s, _, fl := newManualScheduler(t)
	tk := mustAdd(t, s, "a", 1, epoch.Add(time.Minute))

	s.mu.Lock()
	oldGen := s.pending[tk.ID()].gen
	s.mu.Unlock()

	if _, err := s.ChangeName(tk.ID(), "b"); err != nil {
		t.Fatalf("ChangeName error: %v", err)
	}
	// Simulate the old timer's callback winning the race with Cancel.
	s.fire(tk.ID(), oldGen)

	if _, ok := s.Get(tk.ID()); !ok {
		t.Fatal("stale callback retired the replacement task")
	}
	if len(fl.all()) != 0 {
		t.Fatal("stale callback notified")
	}
}

func TestRemoveByPriority(t *testing.T) {
	t.Parallel()
	s, clk, _ := newManualScheduler(t)
	mustAdd(t, s, "a", 1, epoch.Add(time.Hour))
	mustAdd(t, s, "b", 3, epoch.Add(time.Hour))
	mustAdd(t, s, "c", 3, epoch.Add(time.Hour))
	if n := s.RemoveByPriority(3); n != 2 {
		t.Fatalf("RemoveByPriority = %d, want 2", n)
	}
	if n := s.RemoveByPriority(3); n != 0 {
		t.Fatalf("second RemoveByPriority = %d, want 0", n)
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Name() != "a" {
		t.Fatalf("snapshot = %v", snap)
	}
	if clk.Pending() != 1 {
		t.Fatalf("armed timers = %d, want 1", clk.Pending())
	}
}

func TestShutdownAbandonsAndRejects(t *testing.T) {
	t.Parallel()
	s, clk, fl := newManualScheduler(t)
	tk := mustAdd(t, s, "a", 1, clk.Now().Add(time.Second))
	s.Shutdown()
	s.Shutdown()

	clk.Advance(time.Minute)
	if len(fl.all()) != 0 {
		t.Fatal("task fired after shutdown")
	}
	if _, err := s.AddNew("b", 1, clk.Now()); !errors.Is(err, ErrShutdown) {
		t.Fatalf("AddNew after shutdown err = %v", err)
	}
	if _, err := s.ChangeName(tk.ID(), "c"); !errors.Is(err, ErrShutdown) {
		t.Fatalf("ChangeName after shutdown err = %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrShutdown) {
		t.Fatalf("Start after shutdown err = %v", err)
	}
	// The registry is still readable for the final snapshot.
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestListRendersDisplayLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("XST", 2*3600)
	s := New(Options{Source: timer.NewManual(epoch), Location: loc})
	t.Cleanup(s.Shutdown)
	tk := mustAdd(t, s, "Report", 4, time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC))

	lines := s.List()
	if len(lines) != 1 {
		t.Fatalf("lines = %v", lines)
	}
	want := tk.ID().String() + "\tReport\t4\t2030-06-01 12:00:00 XST"
	if lines[0] != want {
		t.Fatalf("line = %q, want %q", lines[0], want)
	}

	var b strings.Builder
	if err := s.WriteList(&b); err != nil {
		t.Fatalf("WriteList error: %v", err)
	}
	if !strings.Contains(b.String(), "PRIORITY") || !strings.Contains(b.String(), "Report") {
		t.Fatalf("table = %q", b.String())
	}
}

func TestFireAndRemoveAreExclusive(t *testing.T) {
	t.Parallel()
	fl := newFireLog()
	s := New(Options{Log: logx.Nop(), OnFire: fl.record})
	t.Cleanup(s.Shutdown)

	const n = 200
	now := time.Now()
	tasks := make([]task.Task, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, mustAdd(t, s, fmt.Sprintf("t%d", i), i%5+1, now.Add(time.Duration(i%20)*time.Millisecond)))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		removed = map[uuid.UUID]bool{}
	)
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; i < n; i += 4 {
				if i%2 == 0 {
					if s.Remove(tasks[i].ID()) {
						mu.Lock()
						removed[tasks[i].ID()] = true
						mu.Unlock()
					}
				} else {
					_, _ = s.ChangePriority(tasks[i].ID(), 5)
				}
			}
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(3 * time.Second)
	for s.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Len() != 0 {
		t.Fatalf("%d tasks never retired", s.Len())
	}

	firedCount := map[uuid.UUID]int{}
	for _, tk := range fl.all() {
		firedCount[tk.ID()]++
	}
	for _, tk := range tasks {
		f := firedCount[tk.ID()]
		r := removed[tk.ID()]
		if f > 1 {
			t.Fatalf("%s fired %d times", tk.Name(), f)
		}
		if (f == 1) == r {
			t.Fatalf("%s fired=%d removed=%v; want exactly one", tk.Name(), f, r)
		}
	}
}
