// Package tournament coordinates the identity registry, the room registry
// and the per-room state machines behind one set of operations.
package tournament

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/Vasu1712/otoge-battle-backend/internal/feed"
	"github.com/Vasu1712/otoge-battle-backend/internal/models"
	"github.com/Vasu1712/otoge-battle-backend/internal/room"
	"github.com/Vasu1712/otoge-battle-backend/internal/storage/memory"
)

const feedTimeout = 5 * time.Second

// Broadcaster is the fan-out: room channels plus the global channel.
type Broadcaster interface {
	room.Publisher
	PublishAll(ev models.Event)
}

// PasswordHasher digests new room passwords and checks join attempts.
type PasswordHasher interface {
	room.PasswordChecker
	Hash(plain string) (string, error)
}

type Options struct {
	MaxNameLength     int
	MaxPlayersPerRoom int
	Debounce          time.Duration
	ChatHistory       int
}

type Deps struct {
	Users     *memory.UserStore
	Rooms     *memory.RoomStore
	Publisher Broadcaster
	Passwords PasswordHasher
	Feed      feed.Publisher
	Clock     clock.Clock
}

// Service implements every client-facing operation. It is safe for
// concurrent use; per-room serialization lives in room.Room, and the
// operations that change a user's room hold that user's lock first.
type Service struct {
	opts      Options
	users     *memory.UserStore // identity registry
	rooms     *memory.RoomStore // room registry
	pub       Broadcaster       // room and global fan-out
	passwords PasswordHasher    // room password digests
	feed      feed.Publisher    // finalized rounds, fire and forget
	clock     clock.Clock

	locks  userLocks      // per-user, always taken before any room lock
	feedWG sync.WaitGroup // in-flight feed publishes
}

func New(opts Options, deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Feed == nil {
		deps.Feed = feed.Nop{}
	}
	if deps.Publisher == nil {
		deps.Publisher = nopBroadcaster{}
	}
	return &Service{
		opts:      opts,
		users:     deps.Users,
		rooms:     deps.Rooms,
		pub:       deps.Publisher,
		passwords: deps.Passwords,
		feed:      deps.Feed,
		clock:     deps.Clock,
	}
}

// CreateRoomParams is the input of CreateRoom. Capacity 0 selects the
// configured per-room maximum.
type CreateRoomParams struct {
	Name      string
	Rule      string
	Password  string
	CreatorID string
	Capacity  int
}

// JoinParams is the input of Join.
type JoinParams struct {
	RoomID   string
	UserID   string
	Password string
	AsPlayer bool
	ConnID   string
}

// Connect issues a new identity.
func (s *Service) Connect(name string, ephemeral bool) (models.User, error) {
	name, ok := s.cleanName(name)
	if !ok {
		return models.User{}, room.ErrInvalidName
	}
	u := s.users.Create(name, ephemeral)
	log.Info().Str("user", u.ID).Str("name", u.Name).Bool("ephemeral", ephemeral).Msg("[tournament] user connected")
	return u, nil
}

// User returns the identity record.
func (s *Service) User(userID string) (models.User, error) {
	u, ok := s.users.Get(userID)
	if !ok {
		return models.User{}, room.ErrUserNotFound
	}
	return u, nil
}

// Logout leaves the user's room and forgets the identity.
func (s *Service) Logout(userID string) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	u, ok := s.users.Get(userID)
	if !ok {
		return room.ErrUserNotFound
	}
	if u.RoomID != "" {
		s.leaveRoom(u.RoomID, userID)
		s.broadcastRooms()
	}
	s.users.Delete(userID)
	log.Info().Str("user", userID).Msg("[tournament] user logged out")
	return nil
}

// Attach marks a live connection for the user.
func (s *Service) Attach(userID string) {
	s.users.SetOnline(userID, true)
}

// Disconnect handles a closed transport connection. The member leaves its
// room if connID still represents it; socket-only identities are dropped.
func (s *Service) Disconnect(userID, connID string) {
	unlock := s.locks.lock(userID)
	defer unlock()

	u, ok := s.users.Get(userID)
	if !ok {
		return
	}
	changed := false
	if u.RoomID != "" {
		if r, ok := s.rooms.Get(u.RoomID); ok {
			if res, left := r.LeaveConn(userID, connID); left {
				s.afterLeave(u.RoomID, r, userID, res)
				changed = true
			}
		}
	}
	if u.Ephemeral {
		if cur, ok := s.users.Get(userID); ok && cur.RoomID != "" {
			changed = s.leaveRoom(cur.RoomID, userID) || changed
		}
		s.users.Delete(userID)
	} else {
		s.users.SetOnline(userID, false)
	}
	if changed {
		s.broadcastRooms()
	}
	log.Debug().Str("user", userID).Str("conn", connID).Msg("[tournament] connection closed")
}

// CreateRoom validates the request and registers an empty room.
func (s *Service) CreateRoom(p CreateRoomParams) (models.RoomSummary, error) {
	name, ok := s.cleanName(p.Name)
	if !ok {
		return models.RoomSummary{}, room.ErrInvalidName
	}
	rule, ok := models.ParseRule(p.Rule)
	if !ok {
		return models.RoomSummary{}, room.ErrInvalidRule
	}
	if p.CreatorID != "" {
		if utf8.RuneCountInString(p.CreatorID) > s.opts.MaxNameLength {
			return models.RoomSummary{}, room.ErrInvalidName
		}
		if _, ok := s.users.Get(p.CreatorID); !ok {
			return models.RoomSummary{}, room.ErrUserNotFound
		}
	}
	capacity := p.Capacity
	if capacity == 0 {
		capacity = s.opts.MaxPlayersPerRoom
	}
	if capacity < 1 || capacity > s.opts.MaxPlayersPerRoom {
		return models.RoomSummary{}, room.ErrInvalidCapacity
	}
	digest := ""
	if p.Password != "" {
		d, err := s.passwords.Hash(p.Password)
		if err != nil {
			return models.RoomSummary{}, err
		}
		digest = d
	}

	r, err := s.rooms.Create(func(id string) *room.Room {
		return room.New(room.Config{
			ID:             id,
			Name:           name,
			Rule:           rule,
			PasswordDigest: digest,
			CreatorID:      p.CreatorID,
			Capacity:       capacity,
			Debounce:       s.opts.Debounce,
			ChatLimit:      s.opts.ChatHistory,
		}, room.Deps{
			Clock:     s.clock,
			Publisher: s.pub,
			Passwords: s.passwords,
			Observer:  s,
		})
	})
	if err != nil {
		log.Warn().Err(err).Str("name", name).Msg("[tournament] create room rejected")
		return models.RoomSummary{}, err
	}
	if p.CreatorID != "" {
		s.users.Touch(p.CreatorID)
	}
	s.broadcastRooms()
	return r.Summary(), nil
}

// ListRooms projects every live room to its summary.
func (s *Service) ListRooms() []models.RoomSummary {
	rooms := s.rooms.List()
	out := make([]models.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		if r.Closed() {
			continue
		}
		out = append(out, r.Summary())
	}
	return out
}

// Room returns the full state of one room.
func (s *Service) Room(roomID string) (models.RoomState, error) {
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return models.RoomState{}, room.ErrRoomNotFound
	}
	return r.Snapshot()
}

// History returns a room's finalized rounds.
func (s *Service) History(roomID string) ([]models.HistoryEntry, error) {
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	return r.History(), nil
}

// Join puts the user into a room. Once the target room has admitted the
// request, membership in any other room is removed first, with its own
// leave side effects. A rejected join leaves the current room untouched.
func (s *Service) Join(p JoinParams) (models.RoomState, error) {
	unlock := s.locks.lock(p.UserID)
	defer unlock()

	u, ok := s.users.Get(p.UserID)
	if !ok {
		return models.RoomState{}, room.ErrUserNotFound
	}
	r, ok := s.rooms.Get(p.RoomID)
	if !ok {
		return models.RoomState{}, room.ErrRoomNotFound
	}
	req := room.JoinRequest{
		UserID:   p.UserID,
		Name:     u.Name,
		Password: p.Password,
		AsPlayer: p.AsPlayer,
		ConnID:   p.ConnID,
	}
	moving := u.RoomID != "" && u.RoomID != p.RoomID
	if moving {
		if err := r.Admits(req); err != nil {
			log.Debug().Err(err).Str("room", p.RoomID).Str("user", p.UserID).Msg("[tournament] join rejected")
			return models.RoomState{}, err
		}
		s.leaveRoom(u.RoomID, p.UserID)
	}
	state, err := r.Join(req)
	if err != nil {
		// another member took the last seat between Admits and Join
		log.Debug().Err(err).Str("room", p.RoomID).Str("user", p.UserID).Msg("[tournament] join rejected")
		if moving {
			s.broadcastRooms()
		}
		return models.RoomState{}, err
	}
	s.users.SetRoom(p.UserID, p.RoomID, models.RoleFor(p.AsPlayer))
	if r.Closed() {
		// deleted or swept while we were joining
		s.users.ClearRoom(p.UserID, p.RoomID)
		s.broadcastRooms()
		return models.RoomState{}, room.ErrRoomNotFound
	}
	s.broadcastRooms()
	return state, nil
}

// Leave removes the user from the room.
func (s *Service) Leave(roomID, userID string) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	r, ok := s.rooms.Get(roomID)
	if !ok {
		return room.ErrRoomNotFound
	}
	res, err := r.Leave(userID)
	if err != nil {
		return err
	}
	s.afterLeave(roomID, r, userID, res)
	s.broadcastRooms()
	return nil
}

func (s *Service) ToggleRole(roomID, userID string, isPlayer bool) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	r, ok := s.rooms.Get(roomID)
	if !ok {
		return room.ErrRoomNotFound
	}
	if err := r.ToggleRole(userID, isPlayer); err != nil {
		return err
	}
	s.users.SetRole(userID, models.RoleFor(isPlayer))
	s.broadcastRooms()
	return nil
}

// SubmitScore normalizes client input and hands it to the room. Input
// that is not numeric is dropped here, exactly like out-of-range input is
// dropped by the room.
func (s *Service) SubmitScore(roomID, userID string, in models.ScoreInput) error {
	score, ok := in.Normalize()
	if !ok {
		log.Debug().Str("room", roomID).Str("user", userID).Msg("[tournament] non-numeric score dropped")
		return nil
	}
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return room.ErrRoomNotFound
	}
	if err := r.SubmitScore(userID, score); err != nil {
		return err
	}
	s.users.Touch(userID)
	return nil
}

func (s *Service) FinishRound(roomID, userID string) error {
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return room.ErrRoomNotFound
	}
	before := r.Summary().Round
	if err := r.FinishRound(userID); err != nil {
		return err
	}
	s.users.Touch(userID)
	if r.Summary().Round != before {
		s.broadcastRooms()
	}
	return nil
}

func (s *Service) ResetPoints(roomID, userID string) error {
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return room.ErrRoomNotFound
	}
	return r.ResetPoints(userID)
}

// DeleteRoom evicts everyone and removes the room. Host only.
func (s *Service) DeleteRoom(roomID, userID string) error {
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return room.ErrRoomNotFound
	}
	ids, err := r.Delete(userID)
	if err != nil {
		return err
	}
	s.rooms.Remove(roomID, r)
	for _, id := range ids {
		s.users.ClearRoom(id, roomID)
	}
	s.pub.PublishAll(models.Event{Type: models.EventRoomDeleted, Room: roomID, Data: map[string]string{"reason": "deleted"}})
	s.broadcastRooms()
	log.Info().Str("room", roomID).Str("host", userID).Msg("[tournament] room deleted")
	return nil
}

func (s *Service) Chat(roomID, userID, text string) (models.ChatMessage, error) {
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return models.ChatMessage{}, room.ErrRoomNotFound
	}
	return r.Chat(userID, text)
}

// SweepRooms destroys rooms idle for longer than idle.
func (s *Service) SweepRooms(now time.Time, idle time.Duration) int {
	n := 0
	for _, r := range s.rooms.List() {
		if !r.Idle(now, idle) {
			continue
		}
		for _, id := range s.rooms.Destroy(r.ID(), "idle") {
			s.users.ClearRoom(id, r.ID())
		}
		s.pub.PublishAll(models.Event{Type: models.EventRoomDeleted, Room: r.ID(), Data: map[string]string{"reason": "idle"}})
		n++
	}
	if n > 0 {
		s.broadcastRooms()
	}
	return n
}

// SweepUsers forgets identities that sit in no room, hold no live
// connection and have been quiet for longer than idle.
func (s *Service) SweepUsers(now time.Time, idle time.Duration) int {
	stale := s.users.Stale(now, idle)
	for _, u := range stale {
		s.users.Delete(u.ID)
	}
	return len(stale)
}

// RoundFinalized credits cross-room totals and forwards the result to the feed.
func (s *Service) RoundFinalized(roomID string, entry models.HistoryEntry) {
	for _, e := range entry.Ranking {
		if e.Points > 0 {
			s.users.AddPoints(e.UserID, e.Points)
		}
	}
	s.feedWG.Add(1)
	go func() {
		defer s.feedWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), feedTimeout)
		defer cancel()
		if err := s.feed.PublishRound(ctx, roomID, entry); err != nil {
			log.Warn().Err(err).Str("room", roomID).Int("round", entry.Round).Msg("[tournament] round feed publish failed")
		}
	}()
}

// RoomChanged refreshes the global listing after a timer-driven change.
func (s *Service) RoomChanged(string) {
	s.broadcastRooms()
}

// Close waits for in-flight feed publishes and closes every room.
func (s *Service) Close() {
	for _, r := range s.rooms.List() {
		s.rooms.Destroy(r.ID(), "shutdown")
	}
	s.feedWG.Wait()
	s.feed.Close()
}

func (s *Service) leaveRoom(roomID, userID string) bool {
	r, ok := s.rooms.Get(roomID)
	if !ok {
		s.users.ClearRoom(userID, roomID)
		return false
	}
	res, err := r.Leave(userID)
	if err != nil {
		s.users.ClearRoom(userID, roomID)
		return false
	}
	s.afterLeave(roomID, r, userID, res)
	return true
}

func (s *Service) afterLeave(roomID string, r *room.Room, userID string, res room.LeaveResult) {
	s.users.ClearRoom(userID, roomID)
	if res.Empty {
		s.rooms.Remove(roomID, r)
	}
}

func (s *Service) broadcastRooms() {
	s.pub.PublishAll(models.Event{Type: models.EventRoomList, Data: s.ListRooms()})
}

func (s *Service) cleanName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	return name, n > 0 && n <= s.opts.MaxNameLength
}

type nopBroadcaster struct{}

func (nopBroadcaster) Subscribe(string, string) {}
func (nopBroadcaster) Unsubscribe(string, string) {}
func (nopBroadcaster) PublishRoom(string, models.Event, ...string) {}
func (nopBroadcaster) SendConn(string, models.Event) {}
func (nopBroadcaster) CloseRoom(string) {}
func (nopBroadcaster) PublishAll(models.Event) {}
