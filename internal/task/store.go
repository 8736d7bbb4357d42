package task

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// Sink receives terminal transitions for individual tasks.
type Sink interface {
	Succeed(index int, image string) error
	Fail(index int, cause ClassifiedError) error
}

// Store holds the live state of one batch and notifies subscribers as tasks settle.
//
// Every task lives in its own slot. Settling a task is a compare-and-swap on
// that slot only, so concurrent updates to different tasks never contend on a
// store-wide lock and a slot can leave the pending state at most once.
type Store struct {
	slots     []atomic.Pointer[Task]
	remaining atomic.Int64
	done      chan struct{}

	subMu    sync.RWMutex
	subs     map[*subscriber]struct{}
	finished bool
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	seen   []bool
	closed bool
}

// Subscription is a snapshot of the store plus the events that follow it.
// Events never repeats a task that is already terminal in Snapshot and is
// closed after the last task settles or when Close is called.
type Subscription struct {
	Snapshot []Task
	Events   <-chan Event
	cancel   func()
}

// Close stops delivery and closes Events. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

var _ Sink = (*Store)(nil)

// NewStore creates a store with one pending task per prompt of b.
func NewStore(b *Batch) *Store {
	s := &Store{
		slots: make([]atomic.Pointer[Task], len(b.Prompts)),
		done:  make(chan struct{}),
		subs:  make(map[*subscriber]struct{}),
	}
	for i, prompt := range b.Prompts {
		s.slots[i].Store(&Task{Index: i, Prompt: prompt, State: StatePending})
	}
	s.remaining.Store(int64(len(b.Prompts)))
	if len(b.Prompts) == 0 {
		s.finish()
	}
	return s
}

// Len returns the number of tasks.
func (s *Store) Len() int { return len(s.slots) }

// Succeed marks the task at index as succeeded with the given base64 image.
func (s *Store) Succeed(index int, image string) error {
	return s.settle(index, func(t *Task) {
		t.State = StateSucceeded
		t.Image = image
	})
}

// Fail marks the task at index as failed.
func (s *Store) Fail(index int, cause ClassifiedError) error {
	return s.settle(index, func(t *Task) {
		t.State = StateFailed
		t.Error = &cause
	})
}

func (s *Store) settle(index int, apply func(*Task)) error {
	if index < 0 || index >= len(s.slots) {
		return ErrIndexOutOfRange
	}
	slot := &s.slots[index]
	current := slot.Load()
	if current.Terminal() {
		return ErrAlreadyTerminated
	}
	next := *current
	apply(&next)
	if !slot.CompareAndSwap(current, &next) {
		return ErrAlreadyTerminated
	}

	s.publish(Event{Index: index, Task: next})
	if s.remaining.Add(-1) == 0 {
		s.finish()
	}
	return nil
}

func (s *Store) publish(ev Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for sub := range s.subs {
		sub.deliver(ev)
	}
}

// finish runs once, after the last publish has returned.
func (s *Store) finish() {
	s.subMu.Lock()
	s.finished = true
	for sub := range s.subs {
		sub.close()
		delete(s.subs, sub)
	}
	s.subMu.Unlock()
	close(s.done)
}

// Subscribe returns the current snapshot and a channel of subsequent transitions.
func (s *Store) Subscribe() *Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	snapshot := s.Snapshot()
	sub := &subscriber{
		ch:   make(chan Event, len(s.slots)),
		seen: make([]bool, len(s.slots)),
	}
	for i, t := range snapshot {
		sub.seen[i] = t.Terminal()
	}
	if s.finished {
		sub.close()
		return &Subscription{Snapshot: snapshot, Events: sub.ch}
	}
	s.subs[sub] = struct{}{}
	return &Subscription{
		Snapshot: snapshot,
		Events:   sub.ch,
		cancel:   func() { s.unsubscribe(sub) },
	}
}

func (s *Store) unsubscribe(sub *subscriber) {
	s.subMu.Lock()
	delete(s.subs, sub)
	s.subMu.Unlock()
	sub.close()
}

// Snapshot returns a copy of every task in batch order.
func (s *Store) Snapshot() []Task {
	out := make([]Task, len(s.slots))
	for i := range s.slots {
		out[i] = *s.slots[i].Load()
	}
	return out
}

// Get returns a copy of the task at index.
func (s *Store) Get(index int) (Task, bool) {
	if index < 0 || index >= len(s.slots) {
		return Task{}, false
	}
	return *s.slots[index].Load(), true
}

// Summary counts the store's tasks by state.
func (s *Store) Summary() Summary { return Summarize(s.Snapshot()) }

// Summarize counts tasks by state.
func Summarize(tasks []Task) Summary {
	counts := lo.CountValuesBy(tasks, func(t Task) State { return t.State })
	return Summary{
		Total:     len(tasks),
		Pending:   counts[StatePending],
		Succeeded: counts[StateSucceeded],
		Failed:    counts[StateFailed],
	}
}

// Done is closed once every task has settled.
func (s *Store) Done() <-chan struct{} { return s.done }

// Wait blocks until every task has settled or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sub *subscriber) deliver(ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed || sub.seen[ev.Index] {
		return
	}
	sub.seen[ev.Index] = true
	// the buffer holds one event per task, so this never blocks
	sub.ch <- ev
}

func (sub *subscriber) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
