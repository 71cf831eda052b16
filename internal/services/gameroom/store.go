package gameroom

import "sync"

// RoomStore is the process-wide match id -> room table.
type RoomStore interface {
	Get(matchID string) (*MatchRoom, bool)
	// LoadOrStore returns the existing room or stores the one built by create.
	// create runs at most once per call and only when the id is absent.
	LoadOrStore(matchID string, create func() *MatchRoom) (room *MatchRoom, created bool)
	// Delete removes the entry only if it still points at room.
	Delete(matchID string, room *MatchRoom) bool
	Range(fn func(room *MatchRoom) bool)
	Len() int
}

type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*MatchRoom
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*MatchRoom)}
}

func (s *MemoryStore) Get(matchID string) (*MatchRoom, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[matchID]
	return r, ok
}

func (s *MemoryStore) LoadOrStore(matchID string, create func() *MatchRoom) (*MatchRoom, bool) {
	if r, ok := s.Get(matchID); ok {
		return r, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[matchID]; ok {
		return r, false
	}
	r := create()
	s.rooms[matchID] = r
	return r, true
}

func (s *MemoryStore) Delete(matchID string, room *MatchRoom) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rooms[matchID]; ok && cur == room {
		delete(s.rooms, matchID)
		return true
	}
	return false
}

func (s *MemoryStore) Range(fn func(room *MatchRoom) bool) {
	s.mu.RLock()
	rooms := make([]*MatchRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	for _, r := range rooms {
		if !fn(r) {
			return
		}
	}
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
