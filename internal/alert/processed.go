package alert

import (
	"container/list"
	"sync"
	"time"
)

// ProcessedSet remembers alert IDs that were already dispatched. Entries age
// out after the retention window; when maxSize is reached the oldest entry
// is evicted first, so a recent ID is never forgotten while older ones remain.
type ProcessedSet struct {
	mu        sync.Mutex
	retention time.Duration
	maxSize   int
	now       func() time.Time
	order     *list.List // of *processedEntry, oldest at front
	index     map[string]*list.Element
}

type processedEntry struct {
	id     string
	seenAt time.Time
}

// NewProcessedSet creates a set. A non-positive maxSize disables the ceiling.
func NewProcessedSet(retention time.Duration, maxSize int, now func() time.Time) *ProcessedSet {
	if now == nil {
		now = time.Now
	}
	return &ProcessedSet{
		retention: retention,
		maxSize:   maxSize,
		now:       now,
		order:     list.New(),
		index:     make(map[string]*list.Element),
	}
}

// Contains reports whether id was added within the retention window
func (s *ProcessedSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	_, ok := s.index[id]
	return ok
}

// Add records id as processed now. Re-adding refreshes its age.
func (s *ProcessedSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addLocked(id, s.now())
}

// AddAt records id as processed at seenAt, used to restore history after a
// restart. IDs already outside the retention window are ignored. Calls must
// be made oldest first and before any Add.
func (s *ProcessedSet) AddAt(id string, seenAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retention > 0 && !seenAt.After(s.now().Add(-s.retention)) {
		return false
	}
	s.addLocked(id, seenAt)
	return true
}

func (s *ProcessedSet) addLocked(id string, seenAt time.Time) {
	s.expireLocked()

	if el, ok := s.index[id]; ok {
		s.order.Remove(el)
	}
	s.index[id] = s.order.PushBack(&processedEntry{id: id, seenAt: seenAt})

	for s.maxSize > 0 && s.order.Len() > s.maxSize {
		s.removeLocked(s.order.Front())
	}
}

// Len returns the number of remembered IDs
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	return s.order.Len()
}

func (s *ProcessedSet) expireLocked() {
	if s.retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.retention)
	for el := s.order.Front(); el != nil; el = s.order.Front() {
		if el.Value.(*processedEntry).seenAt.After(cutoff) {
			return
		}
		s.removeLocked(el)
	}
}

func (s *ProcessedSet) removeLocked(el *list.Element) {
	e := s.order.Remove(el).(*processedEntry)
	delete(s.index, e.id)
}
