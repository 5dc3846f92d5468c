package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskd/internal/eventbus"
	"taskd/internal/task"
	"taskd/internal/timer"
	logx "taskd/pkg/logx"
)

// ErrShutdown is returned by mutations that would arm a timer after Shutdown.
var ErrShutdown = errors.New("scheduler shut down")

type Options struct {
	// Source defaults to a timer.Serial owned by the scheduler.
	Source timer.Source
	Log    logx.Logger
	Bus    eventbus.Bus
	// Location is used to render execution times in List (default time.Local).
	Location *time.Location
	// OnFire runs on the firing goroutine after a task has been retired.
	OnFire func(task.Task)
}

// TaskEvent is the payload of every task.* event published on the bus.
type TaskEvent struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Priority  int       `json:"priority"`
	ExecuteAt time.Time `json:"execute_at"`
	// Late is how far past ExecuteAt a fired task was retired.
	Late time.Duration `json:"late,omitempty"`
}

type Stats struct {
	Tasks     int
	Pending   int
	Fired     uint64
	Cancelled uint64
	Started   bool
	Stopped   bool
}

type pendingTimer struct {
	h   timer.Handle
	gen uint64
}

type Scheduler struct {
	mu sync.Mutex

	log    logx.Logger
	bus    eventbus.Bus
	loc    *time.Location
	src    timer.Source
	onFire func(task.Task)

	tasks   []task.Task
	pending map[uuid.UUID]pendingTimer
	gen     uint64

	started bool
	stopped bool

	fired     uint64
	cancelled uint64
}
