package memory

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Vasu1712/otoge-battle-backend/internal/room"
)

const (
	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// RoomStore is the room registry: a capped set of live rooms keyed by a
// short join code.
type RoomStore struct {
	mu       sync.RWMutex          // guards rooms
	rooms    map[string]*room.Room // join code -> live room
	maxRooms int                   // global cap checked by Create
	newCode  func() string         // code generator, replaced in tests
}

// NewRoomStore creates a registry that admits at most maxRooms rooms.
func NewRoomStore(maxRooms int) *RoomStore {
	return &RoomStore{
		rooms:    make(map[string]*room.Room),
		maxRooms: maxRooms,
		newCode:  newRoomCode,
	}
}

// Create allocates a collision-free code and stores the room built for it.
func (s *RoomStore) Create(build func(id string) *room.Room) (*room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rooms) >= s.maxRooms {
		return nil, room.ErrTooManyRooms
	}
	id := s.newCode()
	for _, taken := s.rooms[id]; taken; _, taken = s.rooms[id] {
		id = s.newCode()
	}
	r := build(id)
	s.rooms[id] = r

	log.Info().Str("room", id).Int("rooms", len(s.rooms)).Msg("[registry] room created")
	return r, nil
}

// Get retrieves a room by its code.
func (s *RoomStore) Get(id string) (*room.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	return r, ok
}

// List returns every live room, oldest first.
func (s *RoomStore) List() []*room.Room {
	s.mu.RLock()
	out := make([]*room.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	s.mu.RUnlock()

	type keyed struct {
		r   *room.Room
		key int64
	}
	ks := make([]keyed, len(out))
	for i, r := range out {
		ks[i] = keyed{r: r, key: r.Summary().CreatedAt.UnixNano()}
	}
	sort.Slice(ks, func(i, j int) bool {
		if ks[i].key != ks[j].key {
			return ks[i].key < ks[j].key
		}
		return ks[i].r.ID() < ks[j].r.ID()
	})
	for i := range ks {
		out[i] = ks[i].r
	}
	return out
}

// Remove drops the entry for id if it still points at r.
func (s *RoomStore) Remove(id string, r *room.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.rooms[id]; ok && current == r {
		delete(s.rooms, id)
		log.Info().Str("room", id).Int("rooms", len(s.rooms)).Msg("[registry] room removed")
		return true
	}
	return false
}

// Destroy removes the room and closes it, returning the evicted member
// ids. Destroying an absent room is a no-op.
func (s *RoomStore) Destroy(id, reason string) []string {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if ok {
		delete(s.rooms, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return r.Close(reason)
}

// Len returns the number of live rooms.
func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func newRoomCode() string {
	raw := uuid.New()
	code := make([]byte, roomCodeLength)
	for i := range code {
		code[i] = roomCodeAlphabet[int(raw[i])%len(roomCodeAlphabet)]
	}
	return string(code)
}
