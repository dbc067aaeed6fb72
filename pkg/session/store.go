// Package session holds the signed-in profile for one desk client.
package session

import (
	"sync"

	"schoollib/pkg/backend"
	"schoollib/pkg/domain"
)

// Session is the signed-in state. Delegated is nil for students, who have
// no provider session.
type Session struct {
	Profile   domain.Profile
	Delegated *backend.DelegatedSession
}

// Store is a single owned slot. Readers always observe a whole session or
// nil; Set and Clear replace the slot under one lock and notify observers
// in registration order after the lock is released.
type Store struct {
	mu       sync.RWMutex
	current  *Session
	version  uint64
	nextID   int
	watchers map[int]func(*Session)
	order    []int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{watchers: make(map[int]func(*Session))}
}

// Get returns a copy of the current session, or nil when signed out.
func (s *Store) Get() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.current)
}

// Profile returns the current profile and whether one is signed in.
func (s *Store) Profile() (domain.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Profile{}, false
	}
	return s.current.Profile, true
}

// Set publishes next, replacing any previous session.
func (s *Store) Set(next Session) {
	s.publish(clone(&next))
}

// Clear signs the slot out. Clearing an empty store notifies nobody.
func (s *Store) Clear() {
	s.mu.RLock()
	empty := s.current == nil
	s.mu.RUnlock()
	if empty {
		return
	}
	s.publish(nil)
}

// Subscribe registers fn for every future change and returns a function
// that removes it. fn receives a copy and must not block.
func (s *Store) Subscribe(fn func(*Session)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
		})
	}
}

func (s *Store) publish(next *Session) {
	s.mu.Lock()
	s.current = next
	s.version++
	version := s.version
	fns := make([]func(*Session), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.watchers[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		// Stop once a newer publish has replaced this value.
		s.mu.RLock()
		stale := s.version != version
		s.mu.RUnlock()
		if stale {
			return
		}
		fn(clone(next))
	}
}

func clone(s *Session) *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Delegated != nil {
		d := *s.Delegated
		out.Delegated = &d
	}
	return &out
}
