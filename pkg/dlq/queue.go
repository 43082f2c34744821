// Package dlq holds decisions whose primary persistence failed in a
// bounded in-process queue and retries them with capped exponential
// backoff. Memory use is O(max size) at all times.
package dlq

import (
	"sync"
	"time"

	"github.com/crestline/advisor/pkg/contracts"
)

// Queue defaults.
const (
	DefaultMaxSize     = 1000
	DefaultMaxAttempts = 10
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffMult = 2.0
	DefaultBackoffCap  = 60 * time.Second
)

// OverflowPolicy selects what happens when the queue is full.
type OverflowPolicy int

// Overflow policies. DropOldest is the default.
const (
	DropOldest OverflowPolicy = iota
	RejectNew
)

// Entry is one queued decision with its retry state.
type Entry struct {
	Decision   *contracts.Decision
	Attempts   int
	EnqueuedAt time.Time
	NotBefore  time.Time // next retry is not attempted before this
}

// Hooks receive queue lifecycle notifications; used to feed metrics.
// All hooks are optional.
type Hooks struct {
	OnEnqueue      func(size int)
	OnRetry        func()
	OnDropOverflow func()
	OnDropTerminal func()
	OnPersisted    func(size int)
}

// Queue is the bounded FIFO. All methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	entries  []*Entry
	max      int
	overflow OverflowPolicy
	hooks    Hooks
	clock    func() time.Time
}

// NewQueue creates a queue; maxSize <= 0 falls back to the default.
func NewQueue(maxSize int, overflow OverflowPolicy, hooks Hooks) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Queue{
		max:      maxSize,
		overflow: overflow,
		hooks:    hooks,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (q *Queue) WithClock(clock func() time.Time) *Queue {
	q.clock = clock
	return q
}

// Enqueue adds a failed decision. Returns false only under the
// RejectNew policy with a full queue; DropOldest always accepts,
// discarding the head and counting the drop.
func (q *Queue) Enqueue(d *contracts.Decision) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.max {
		if q.overflow == RejectNew {
			if q.hooks.OnDropOverflow != nil {
				q.hooks.OnDropOverflow()
			}
			return false
		}
		q.entries = q.entries[1:]
		if q.hooks.OnDropOverflow != nil {
			q.hooks.OnDropOverflow()
		}
	}
	now := q.clock()
	q.entries = append(q.entries, &Entry{
		Decision:   d,
		EnqueuedAt: now,
		NotBefore:  now, // first retry is immediate
	})
	if q.hooks.OnEnqueue != nil {
		q.hooks.OnEnqueue(len(q.entries))
	}
	return true
}

// Size returns the current queue depth.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// popDue removes and returns the head entry if its backoff has elapsed.
func (q *Queue) popDue(now time.Time) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	head := q.entries[0]
	if head.NotBefore.After(now) {
		return nil
	}
	q.entries = q.entries[1:]
	return head
}

// requeue puts a failed entry back at the tail with its next-retry time
// set. If the queue filled up meanwhile, the entry is dropped under the
// same overflow accounting as Enqueue.
func (q *Queue) requeue(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.max {
		if q.hooks.OnDropOverflow != nil {
			q.hooks.OnDropOverflow()
		}
		return
	}
	q.entries = append(q.entries, e)
}
