package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinPriority = 1
	MaxPriority = 5
)

// ErrInvalidArgument is wrapped by every construction/modification failure.
var ErrInvalidArgument = errors.New("invalid task argument")

type Task struct {
	id        uuid.UUID
	name      string
	priority  int
	executeAt time.Time
}

// New builds a task with a freshly generated id.
func New(name string, priority int, executeAt time.Time) (Task, error) {
	return NewWithID(uuid.New(), name, priority, executeAt)
}

// NewWithID builds a task with a caller supplied id (used when reloading from storage).
func NewWithID(id uuid.UUID, name string, priority int, executeAt time.Time) (Task, error) {
	if id == uuid.Nil {
		return Task{}, fmt.Errorf("%w: id required", ErrInvalidArgument)
	}
	if err := validateName(name); err != nil {
		return Task{}, err
	}
	if err := validatePriority(priority); err != nil {
		return Task{}, err
	}
	if executeAt.IsZero() {
		return Task{}, fmt.Errorf("%w: execution time required", ErrInvalidArgument)
	}
	return Task{id: id, name: name, priority: priority, executeAt: executeAt.UTC()}, nil
}

// ParseID parses the textual id form produced by Task.ID().String().
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: id %q: %v", ErrInvalidArgument, s, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: id required", ErrInvalidArgument)
	}
	return id, nil
}

func (t Task) ID() uuid.UUID        { return t.id }
func (t Task) Name() string         { return t.name }
func (t Task) Priority() int        { return t.priority }
func (t Task) ExecuteAt() time.Time { return t.executeAt }

// IsZero reports whether t is the zero Task (never produced by a constructor).
func (t Task) IsZero() bool { return t.id == uuid.Nil }

func (t Task) WithName(name string) (Task, error) {
	if err := validateName(name); err != nil {
		return Task{}, err
	}
	t.name = name
	return t, nil
}

func (t Task) WithPriority(priority int) (Task, error) {
	if err := validatePriority(priority); err != nil {
		return Task{}, err
	}
	t.priority = priority
	return t, nil
}

func (t Task) WithExecuteAt(at time.Time) (Task, error) {
	if at.IsZero() {
		return Task{}, fmt.Errorf("%w: execution time required", ErrInvalidArgument)
	}
	t.executeAt = at.UTC()
	return t, nil
}

func (t Task) String() string {
	return fmt.Sprintf("%s %q p%d @%s", t.id, t.name, t.priority, t.executeAt.Format(time.RFC3339))
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidArgument)
	}
	return nil
}

func validatePriority(p int) error {
	if p < MinPriority || p > MaxPriority {
		return fmt.Errorf("%w: priority %d out of range [%d,%d]", ErrInvalidArgument, p, MinPriority, MaxPriority)
	}
	return nil
}
