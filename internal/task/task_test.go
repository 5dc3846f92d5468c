package task

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewKeepsFields(t *testing.T) {
	t.Parallel()
	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	seen := map[uuid.UUID]bool{}
	for p := MinPriority; p <= MaxPriority; p++ {
		tk, err := New("Report", p, at)
		if err != nil {
			t.Fatalf("New(p=%d) error: %v", p, err)
		}
		if tk.Name() != "Report" || tk.Priority() != p || !tk.ExecuteAt().Equal(at) {
			t.Fatalf("unexpected task: %s", tk)
		}
		if tk.ID() == uuid.Nil {
			t.Fatal("expected generated id")
		}
		if seen[tk.ID()] {
			t.Fatalf("duplicate id %s", tk.ID())
		}
		seen[tk.ID()] = true
	}
}

func TestNewStoresUTC(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+2", 2*3600)
	at := time.Date(2030, 1, 2, 12, 0, 0, 0, loc)
	tk, err := New("x", 1, at)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if tk.ExecuteAt().Location() != time.UTC {
		t.Fatalf("location = %v, want UTC", tk.ExecuteAt().Location())
	}
	if !tk.ExecuteAt().Equal(at) {
		t.Fatalf("instant changed: %v vs %v", tk.ExecuteAt(), at)
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	t.Parallel()
	at := time.Now().Add(time.Minute)
	tests := []struct {
		name     string
		taskName string
		priority int
		at       time.Time
	}{
		{name: "empty name", taskName: "", priority: 3, at: at},
		{name: "blank name", taskName: "   ", priority: 3, at: at},
		{name: "priority zero", taskName: "a", priority: 0, at: at},
		{name: "priority six", taskName: "a", priority: 6, at: at},
		{name: "negative priority", taskName: "a", priority: -1, at: at},
		{name: "missing time", taskName: "a", priority: 1, at: time.Time{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.taskName, tt.priority, tt.at)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestNewWithIDRejectsNilID(t *testing.T) {
	t.Parallel()
	_, err := NewWithID(uuid.Nil, "a", 1, time.Now())
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	id := uuid.New()
	tk, err := NewWithID(id, "a", 1, time.Now())
	if err != nil {
		t.Fatalf("NewWithID error: %v", err)
	}
	if tk.ID() != id {
		t.Fatalf("id = %s, want %s", tk.ID(), id)
	}
}

func TestWithVariantsKeepIdentity(t *testing.T) {
	t.Parallel()
	at := time.Now().Add(time.Hour).UTC()
	orig, err := New("Build", 2, at)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	renamed, err := orig.WithName("Deploy")
	if err != nil {
		t.Fatalf("WithName error: %v", err)
	}
	if renamed.ID() != orig.ID() || renamed.Priority() != 2 || !renamed.ExecuteAt().Equal(at) || renamed.Name() != "Deploy" {
		t.Fatalf("WithName produced %s", renamed)
	}
	if orig.Name() != "Build" {
		t.Fatalf("original mutated: %s", orig)
	}

	reprio, err := orig.WithPriority(5)
	if err != nil {
		t.Fatalf("WithPriority error: %v", err)
	}
	if reprio.ID() != orig.ID() || reprio.Priority() != 5 || reprio.Name() != "Build" {
		t.Fatalf("WithPriority produced %s", reprio)
	}

	later := at.Add(time.Hour)
	moved, err := orig.WithExecuteAt(later)
	if err != nil {
		t.Fatalf("WithExecuteAt error: %v", err)
	}
	if moved.ID() != orig.ID() || !moved.ExecuteAt().Equal(later) {
		t.Fatalf("WithExecuteAt produced %s", moved)
	}
}

func TestWithVariantsReject(t *testing.T) {
	t.Parallel()
	orig, err := New("Build", 2, time.Now())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := orig.WithName(""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("WithName(\"\") err = %v", err)
	}
	for _, p := range []int{0, 6, 100, -3} {
		if _, err := orig.WithPriority(p); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("WithPriority(%d) err = %v", p, err)
		}
	}
	if _, err := orig.WithExecuteAt(time.Time{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("WithExecuteAt(zero) err = %v", err)
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	got, err := ParseID(" " + id.String() + " ")
	if err != nil {
		t.Fatalf("ParseID error: %v", err)
	}
	if got != id {
		t.Fatalf("ParseID = %s, want %s", got, id)
	}
	if _, err := ParseID("not-a-uuid"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("ParseID(garbage) err = %v", err)
	}
	if _, err := ParseID(uuid.Nil.String()); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("ParseID(nil) err = %v", err)
	}
}
