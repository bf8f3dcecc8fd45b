package timer

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned when scheduling on a stopped Timer
var ErrStopped = errors.New("timer is stopped")

// entry is one pending deadline
type entry struct {
	id    string
	at    time.Time
	fire  func()
	index int
}

// deadlines is a min-heap ordered by fire time
type deadlines []*entry

func (d deadlines) Len() int           { return len(d) }
func (d deadlines) Less(i, j int) bool { return d[i].at.Before(d[j].at) }

func (d deadlines) Swap(i, j int) {
	d[i], d[j] = d[j], d[i]
	d[i].index = i
	d[j].index = j
}

func (d *deadlines) Push(x any) {
	e := x.(*entry)
	e.index = len(*d)
	*d = append(*d, e)
}

func (d *deadlines) Pop() any {
	old := *d
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*d = old[:n-1]
	return e
}

// Timer fires named one-shot callbacks at their deadlines from a single
// goroutine. Each callback runs on its own goroutine so a slow callback never
// delays the others. Scheduling an existing ID replaces its deadline.
type Timer struct {
	mu      sync.Mutex
	pending deadlines
	byID    map[string]*entry
	wakeup  chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	stopped bool
}

// New creates a timer. Call Start to begin firing.
func New() *Timer {
	return &Timer{
		byID:   make(map[string]*entry),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the firing loop. Calling it twice is a no-op.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started || t.stopped {
		return
	}
	t.started = true
	go t.loop()
}

// Stop ends the firing loop and drops pending deadlines. Callbacks already
// running are not waited for.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	started := t.started
	t.pending = nil
	t.byID = make(map[string]*entry)
	close(t.stopCh)
	t.mu.Unlock()

	if started {
		<-t.done
	}
}

// Schedule arranges for fire to run at at
func (t *Timer) Schedule(id string, at time.Time, fire func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return ErrStopped
	}

	if old, ok := t.byID[id]; ok {
		heap.Remove(&t.pending, old.index)
	}

	e := &entry{id: id, at: at, fire: fire}
	heap.Push(&t.pending, e)
	t.byID[id] = e

	if t.pending[0] == e {
		t.poke()
	}
	return nil
}

// Cancel removes a pending deadline and reports whether one existed
func (t *Timer) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&t.pending, e.index)
	delete(t.byID, id)
	return true
}

// Deadline returns the pending fire time for id
func (t *Timer) Deadline(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Len returns the number of pending deadlines
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Timer) poke() {
	select {
	case t.wakeup <- struct{}{}:
	default:
	}
}

func (t *Timer) loop() {
	defer close(t.done)

	idle := time.NewTimer(time.Hour)
	defer idle.Stop()

	for {
		wait := t.fireDue()

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(wait)

		select {
		case <-idle.C:
		case <-t.wakeup:
		case <-t.stopCh:
			return
		}
	}
}

// fireDue launches every callback whose deadline has passed and returns how
// long to wait for the next one.
func (t *Timer) fireDue() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.pending) > 0 {
		wait := time.Until(t.pending[0].at)
		if wait > 0 {
			return wait
		}
		e := heap.Pop(&t.pending).(*entry)
		delete(t.byID, e.id)
		go e.fire()
	}
	return time.Hour
}
