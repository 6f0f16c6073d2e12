package conversation

import (
	"sync"
	"time"

	"github.com/dvloznov/bookkeeper/internal/clock"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[Key]*Pending
	locks   map[Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:   c,
		entries: make(map[Key]*Pending),
		locks:   make(map[Key]*keyLock),
	}
}

// Lock blocks until no other caller holds key. The per-key mutex is
// dropped once nobody references it.
func (s *MemoryStore) Lock(key Key) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			s.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, key)
			}
			s.mu.Unlock()
		})
	}
}

func (s *MemoryStore) Get(key Key) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[key]
	if !ok {
		return nil
	}
	if p.Expired(s.clock.Now()) {
		delete(s.entries, key)
		return nil
	}
	return p.Clone()
}

func (s *MemoryStore) Save(key Key, p *Pending) {
	if p == nil {
		s.Clear(key)
		return
	}
	s.mu.Lock()
	s.entries[key] = p.Clone()
	s.mu.Unlock()
}

func (s *MemoryStore) Clear(key Key) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, p := range s.entries {
		if p.Expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
