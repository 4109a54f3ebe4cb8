package memory

import (
	"context"
	"sync"

	"elsa-quiz-live/internal/hub"
)

// RoomStore is an in-memory implementation of hub.RoomStore.
type RoomStore struct {
	mu       sync.RWMutex
	reserved map[string]struct{}
	rooms    map[string]*hub.Room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		reserved: make(map[string]struct{}),
		rooms:    make(map[string]*hub.Room),
	}
}

func (s *RoomStore) Reserve(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.reserved[code]; taken {
		return false, nil
	}
	s.reserved[code] = struct{}{}
	return true, nil
}

func (s *RoomStore) Put(room *hub.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved[room.Code()] = struct{}{}
	s.rooms[room.Code()] = room
}

func (s *RoomStore) Get(code string) (*hub.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	return room, ok
}

func (s *RoomStore) Release(_ context.Context, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
	delete(s.reserved, code)
}
