package timer

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "taskd/pkg/logx"
)

const defaultQueueSize = 256

const (
	stateArmed int32 = iota
	stateQueued
	stateRunning
	stateDone
	stateCancelled
)

// Serial arms runtime timers (time.AfterFunc) and runs every expired callback
// on a single goroutine owned by the source.
type Serial struct {
	log logx.Logger

	mu      sync.Mutex
	stopped bool
	timers  map[*serialHandle]struct{}

	queue  chan *serialHandle
	stopCh chan struct{}
	done   chan struct{}

	fired atomic.Uint64
}

type serialHandle struct {
	src   *Serial
	fn    func()
	t     *time.Timer
	state atomic.Int32
}

// NewSerial starts the firing goroutine. Call Stop to release it.
func NewSerial(log logx.Logger, queueSize int) *Serial {
	if log.IsZero() {
		log = logx.Nop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &Serial{
		log:    log,
		timers: map[*serialHandle]struct{}{},
		queue:  make(chan *serialHandle, queueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *Serial) Now() time.Time { return time.Now() }

func (s *Serial) Arm(d time.Duration, fn func()) (Handle, error) {
	if d < 0 {
		d = 0
	}
	h := &serialHandle{src: s, fn: fn}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}
	s.timers[h] = struct{}{}
	// Registering under s.mu keeps Stop from missing a timer armed concurrently.
	h.t = time.AfterFunc(d, func() { s.dispatch(h) })
	return h, nil
}

func (s *Serial) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	n := len(s.timers)
	for h := range s.timers {
		h.state.CompareAndSwap(stateArmed, stateCancelled)
		if h.t != nil {
			_ = h.t.Stop()
		}
	}
	s.timers = map[*serialHandle]struct{}{}
	s.mu.Unlock()

	close(s.stopCh)
	s.log.Debug("timer source stopped", logx.Int("abandoned", n), logx.Uint64("fired", s.fired.Load()))
}

// Done is closed once the firing goroutine has exited after Stop.
func (s *Serial) Done() <-chan struct{} { return s.done }

// Fired returns the number of callbacks that have run.
func (s *Serial) Fired() uint64 { return s.fired.Load() }

func (s *Serial) dispatch(h *serialHandle) {
	s.mu.Lock()
	delete(s.timers, h)
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	if !h.state.CompareAndSwap(stateArmed, stateQueued) {
		return
	}
	select {
	case s.queue <- h:
	case <-s.stopCh:
	}
}

func (s *Serial) worker() {
	defer close(s.done)
	for {
		// A closed stopCh wins over queued callbacks.
		select {
		case <-s.stopCh:
			return
		default:
		}
		select {
		case <-s.stopCh:
			return
		case h := <-s.queue:
			s.run(h)
		}
	}
}

func (s *Serial) run(h *serialHandle) {
	if !h.state.CompareAndSwap(stateQueued, stateRunning) {
		return
	}
	defer func() {
		h.state.Store(stateDone)
		if r := recover(); r != nil {
			s.log.Error("panic in timer callback", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	s.fired.Add(1)
	h.fn()
}

func (h *serialHandle) Cancel() bool {
	if h.state.CompareAndSwap(stateArmed, stateCancelled) {
		_ = h.t.Stop()
		h.src.mu.Lock()
		delete(h.src.timers, h)
		h.src.mu.Unlock()
		return true
	}
	// Expired but still waiting in the queue: the worker skips it.
	return h.state.CompareAndSwap(stateQueued, stateCancelled)
}
