// internal/game/game_store.go
package game

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/models"
)

// roomSession owns the authoritative in-memory copy of one room. Every
// operation on the room holds mu for its whole read-persist-publish cycle.
type roomSession struct {
	mu   sync.Mutex
	room *models.Room
	rng  *rand.Rand

	// fresh is set until the room's first successful save.
	fresh bool
	// deleted is set once the room is gone; waiters must reload.
	deleted bool

	// loadID tells apart action indexes counted by different loads of the same
	// room, since actionIndex is per process and restarts at 0 on every load.
	loadID      uuid.UUID
	actionIndex int
}

// sessionStore is the registry of loaded rooms, indexed by ID and by name.
type sessionStore struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*roomSession
	byName map[string]*roomSession
	// gone holds the IDs of deleted rooms so a load that raced the delete
	// cannot register the room again.
	gone map[uuid.UUID]struct{}
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		byID:   make(map[uuid.UUID]*roomSession),
		byName: make(map[string]*roomSession),
		gone:   make(map[uuid.UUID]struct{}),
	}
}

func (s *sessionStore) get(id uuid.UUID) *roomSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

func (s *sessionStore) getByName(name string) *roomSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byName[name]
}

// add registers sess unless another loader got there first, in which case the
// already registered session is returned instead. It returns nil for a room
// that has been deleted.
func (s *sessionStore) add(sess *roomSession) *roomSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gone[sess.room.ID]; ok {
		return nil
	}
	if existing, ok := s.byID[sess.room.ID]; ok {
		return existing
	}
	if existing, ok := s.byName[sess.room.Name]; ok {
		return existing
	}
	s.byID[sess.room.ID] = sess
	s.byName[sess.room.Name] = sess
	return sess
}

// remove drops sess, leaving any newer session registered under the same keys alone.
func (s *sessionStore) remove(sess *roomSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, name := sess.room.ID, sess.room.Name
	if s.byID[id] == sess {
		delete(s.byID, id)
	}
	if s.byName[name] == sess {
		delete(s.byName, name)
	}
}

// bury removes sess for good: its ID can never be registered again.
func (s *sessionStore) bury(sess *roomSession) {
	s.remove(sess)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gone[sess.room.ID] = struct{}{}
}

func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
