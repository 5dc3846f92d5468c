// Package eventbus is an in-memory fanout used to decouple the scheduler from
// whoever reacts to task lifecycle changes.
//
// Publish never blocks. Channel subscribers are bounded and lose events when
// full; queue subscribers are unbounded FIFOs and never lose events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names one kind of lifecycle signal.
type Type string

const (
	TaskAdded   Type = "task.added"
	TaskRemoved Type = "task.removed"
	TaskChanged Type = "task.changed"
	TaskFired   Type = "task.fired"
)

type Event struct {
	Type Type
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a bounded channel of the given types (all when none).
	Subscribe(buffer int, types ...Type) (ch <-chan Event, unsubscribe func())
	// SubscribeQueue returns an unbounded queue of the given types (all when none).
	SubscribeQueue(types ...Type) (q *Queue, unsubscribe func())
}

// New returns an empty bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]*subscription{}}
}

type subscription struct {
	types map[Type]bool
	ch    chan Event
	q     *Queue
}

func (s *subscription) wants(t Type) bool {
	return len(s.types) == 0 || s.types[t]
}

type MemBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscription
	next uint64

	dropped atomic.Uint64
}

// Publish delivers e to every matching subscriber without blocking. The read
// lock is held across delivery so an unsubscribe cannot close a channel
// mid-send; every delivery is a non-blocking send or an append.
func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		if s.q != nil {
			s.q.push(e)
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *MemBus) Subscribe(buffer int, types ...Type) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscription{types: typeSet(types), ch: make(chan Event, buffer)}
	id := b.add(s)
	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.remove(id)
			close(s.ch)
		})
	}
}

func (b *MemBus) SubscribeQueue(types ...Type) (*Queue, func()) {
	s := &subscription{types: typeSet(types), q: newQueue()}
	id := b.add(s)
	var once sync.Once
	return s.q, func() {
		once.Do(func() {
			b.remove(id)
			s.q.close()
		})
	}
}

func (b *MemBus) add(s *subscription) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.subs[b.next] = s
	return b.next
}

func (b *MemBus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Dropped counts channel deliveries skipped because a buffer was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

func typeSet(types []Type) map[Type]bool {
	if len(types) == 0 {
		return nil
	}
	m := make(map[Type]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

// Queue is an unbounded FIFO of events. Ready signals after pushes and is
// closed on unsubscribe; Pop drains.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	ready  chan struct{}
	closed bool
}

func newQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

func (q *Queue) push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, e)
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready receives a value when events may be waiting. It is closed once the
// queue is unsubscribed.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Pop removes and returns the oldest event.
func (q *Queue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Event{}, false
	}
	e := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return e, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.ready)
}
