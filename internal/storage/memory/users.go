package memory

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/Vasu1712/otoge-battle-backend/internal/models"
)

// UserStore is the identity registry.
type UserStore struct {
	mu    sync.RWMutex            // guards users
	users map[string]*models.User // userID -> record, handed out by copy
	clock clock.Clock             // stamps LastSeen
}

func NewUserStore(clk clock.Clock) *UserStore {
	if clk == nil {
		clk = clock.New()
	}
	return &UserStore{
		users: make(map[string]*models.User),
		clock: clk,
	}
}

// Create issues a new identity.
func (s *UserStore) Create(name string, ephemeral bool) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &models.User{
		ID:        uuid.NewString(),
		Name:      name,
		LastSeen:  s.clock.Now(),
		Ephemeral: ephemeral,
	}
	s.users[u.ID] = u
	return *u
}

// Get returns a copy of the user record.
func (s *UserStore) Get(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, false
	}
	return *u, true
}

// Touch refreshes the user's last-seen time.
func (s *UserStore) Touch(id string) bool {
	return s.update(id, func(*models.User) {})
}

// SetRoom records the room the user currently sits in.
func (s *UserStore) SetRoom(id, roomID string, role models.Role) bool {
	return s.update(id, func(u *models.User) {
		u.RoomID = roomID
		u.Role = role
	})
}

// ClearRoom empties the room pointer, but only while it still names roomID.
func (s *UserStore) ClearRoom(id, roomID string) bool {
	cleared := false
	s.update(id, func(u *models.User) {
		if u.RoomID == roomID {
			u.RoomID = ""
			cleared = true
		}
	})
	return cleared
}

func (s *UserStore) SetRole(id string, role models.Role) bool {
	return s.update(id, func(u *models.User) { u.Role = role })
}

func (s *UserStore) SetOnline(id string, online bool) bool {
	return s.update(id, func(u *models.User) { u.Online = online })
}

// AddPoints adds to the user's cross-room running total.
func (s *UserStore) AddPoints(id string, points int) bool {
	return s.update(id, func(u *models.User) { u.Points += points })
}

// Delete removes the user and returns the last record.
func (s *UserStore) Delete(id string) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, false
	}
	delete(s.users, id)
	return *u, true
}

// Stale lists users with no room and no live connection that have not
// been seen for longer than idle.
func (s *UserStore) Stale(now time.Time, idle time.Duration) []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.User
	for _, u := range s.users {
		if u.RoomID == "" && !u.Online && now.Sub(u.LastSeen) > idle {
			out = append(out, *u)
		}
	}
	return out
}

func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *UserStore) update(id string, fn func(*models.User)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false
	}
	fn(u)
	u.LastSeen = s.clock.Now()
	return true
}
