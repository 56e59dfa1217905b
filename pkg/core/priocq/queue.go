package priocq

import (
    "sync"
    "time"
)

// Class is a priority class: control frames always leave before data.
type Class int

const (
    Control Class = iota
    Data
    numClasses
)

type Item struct {
    Bytes   []byte
    Class   Class
    Arrived time.Time
}

// Queue is a bounded two-level FIFO feeding one link writer. Push never
// blocks: when the queue holds Cap items new data is dropped. Control items
// may exceed the cap by one slot per class so a hello is never lost.
type Queue struct {
    mu     sync.Mutex
    lvls   [numClasses][]Item
    n      int
    cap    int
    closed bool
    notify chan struct{}

    dropped uint64
}

func New(capacity int) *Queue {
    if capacity <= 0 { capacity = 256 }
    return &Queue{cap: capacity, notify: make(chan struct{}, 1)}
}

// Push enqueues it and reports whether it was accepted.
func (q *Queue) Push(it Item) bool {
    if it.Arrived.IsZero() { it.Arrived = time.Now() }
    q.mu.Lock()
    if q.closed || (q.n >= q.cap && it.Class != Control) {
        q.dropped++
        q.mu.Unlock()
        return false
    }
    q.lvls[it.Class] = append(q.lvls[it.Class], it)
    q.n++
    q.mu.Unlock()
    select {
    case q.notify <- struct{}{}:
    default:
    }
    return true
}

// Pop returns the next item by strict priority, blocking until one is
// available, stop is closed, or the queue is closed and drained.
func (q *Queue) Pop(stop <-chan struct{}) (Item, bool) {
    for {
        if it, ok, done := q.tryPop(); ok || done {
            return it, ok
        }
        select {
        case <-stop:
            return Item{}, false
        case <-q.notify:
        }
    }
}

func (q *Queue) tryPop() (it Item, ok bool, done bool) {
    q.mu.Lock()
    defer q.mu.Unlock()
    for c := range q.lvls {
        l := q.lvls[c]
        if len(l) == 0 { continue }
        it = l[0]
        l[0] = Item{}
        q.lvls[c] = l[1:]
        q.n--
        return it, true, false
    }
    return Item{}, false, q.closed
}

func (q *Queue) Len() int { q.mu.Lock(); defer q.mu.Unlock(); return q.n }

// Dropped returns how many pushes were rejected.
func (q *Queue) Dropped() uint64 { q.mu.Lock(); defer q.mu.Unlock(); return q.dropped }

// Close rejects further pushes; Pop drains what is left and then fails.
func (q *Queue) Close() {
    q.mu.Lock()
    q.closed = true
    q.mu.Unlock()
    select {
    case q.notify <- struct{}{}:
    default:
    }
}
