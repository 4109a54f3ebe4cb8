package redis

import (
	"context"
	"sync"
	"time"

	"elsa-quiz-live/internal/hub"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RoomStore reserves room codes in Redis so several hub processes never hand
// out the same code. Live room state stays in the local map; Redis only holds
// the reservation, refreshed while the room is open.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration

	mu    sync.RWMutex
	rooms map[string]*hub.Room
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client: client,
		ttl:    ttl,
		rooms:  make(map[string]*hub.Room),
	}
}

// Reserve claims code with SETNX.
func (s *RoomStore) Reserve(ctx context.Context, code string) (bool, error) {
	return s.client.SetNX(ctx, s.key(code), "1", s.ttl).Result()
}

func (s *RoomStore) Put(room *hub.Room) {
	s.mu.Lock()
	s.rooms[room.Code()] = room
	s.mu.Unlock()
	// best-effort refresh of the reservation
	if err := s.client.Expire(context.Background(), s.key(room.Code()), s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("room", room.Code()).Msg("room reservation refresh failed")
	}
}

func (s *RoomStore) Get(code string) (*hub.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	return room, ok
}

func (s *RoomStore) Release(ctx context.Context, code string) {
	s.mu.Lock()
	delete(s.rooms, code)
	s.mu.Unlock()
	if err := s.client.Del(ctx, s.key(code)).Err(); err != nil {
		log.Warn().Err(err).Str("room", code).Msg("room reservation release failed")
	}
}

func (s *RoomStore) key(code string) string {
	return "room:code:" + code
}
