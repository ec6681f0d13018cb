package room

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Vasu1712/otoge-battle-backend/internal/models"
)

const (
	DefaultDebounce  = 3 * time.Second
	DefaultChatLimit = 100
	MaxChatLength    = 500
)

// Publisher delivers room events to whatever transport holds the
// connections. Implementations must not call back into the room.
type Publisher interface {
	Subscribe(connID, roomID string)
	Unsubscribe(connID, roomID string)
	PublishRoom(roomID string, ev models.Event, except ...string)
	SendConn(connID string, ev models.Event)
	CloseRoom(roomID string)
}

// PasswordChecker compares a plaintext candidate with a stored digest.
type PasswordChecker interface {
	Compare(digest, candidate string) bool
}

// Observer is told about round results and about state changes that
// happen on the room's own timer, with no caller to report to.
// RoundFinalized runs while the room is locked; RoomChanged after unlock.
type Observer interface {
	RoundFinalized(roomID string, entry models.HistoryEntry)
	RoomChanged(roomID string)
}

// Config is the immutable setup of a room.
type Config struct {
	ID             string
	Name           string
	Rule           models.Rule
	PasswordDigest string
	CreatorID      string
	Capacity       int
	Debounce       time.Duration
	ChatLimit      int
}

// Deps are the collaborators a room talks to.
type Deps struct {
	Clock     clock.Clock
	Publisher Publisher
	Passwords PasswordChecker
	Observer  Observer
}

// JoinRequest carries everything Join needs about the joining user.
type JoinRequest struct {
	UserID   string
	Name     string
	Password string
	AsPlayer bool
	ConnID   string
}

// LeaveResult reports what a departure did to the room.
type LeaveResult struct {
	Empty   bool
	NewHost string
}

type member struct {
	userID   string
	name     string
	role     models.Role
	connID   string
	joinedAt time.Time
	seq      uint64
}

// Room is one tournament session. Every exported method is serialized on
// the room's mutex, including the debounce timer callback.
type Room struct {
	mu sync.Mutex // guards everything below

	id             string        // short join code
	name           string        // display name
	rule           models.Rule   // which score field ranks
	passwordDigest string        // empty for open rooms
	creatorID      string        // may be empty
	capacity       int           // members, players and spectators alike
	debounceAfter  time.Duration // all-zero window
	chatLimit      int           // chat ring buffer size

	clock     clock.Clock
	pub       Publisher
	passwords PasswordChecker
	observer  Observer // may be nil

	createdAt    time.Time
	lastActivity time.Time // refreshed by every mutation, read by the sweeper

	members map[string]*member // userID -> member
	hostID  string             // always a member while members is non-empty
	seq     uint64             // join counter, orders members and breaks host ties

	roundNo int                   // number of the round in progress, starts at 1
	round   *round                // scores of the round in progress
	history []models.HistoryEntry // finalized rounds, oldest first
	ledger  map[string]int        // userID -> points earned in this room
	chat    []models.ChatMessage  // last chatLimit messages

	debounce      *clock.Timer // armed all-zero timer, nil when idle
	debounceToken uint64       // bumped on every arm and cancel

	closed bool // set once, never cleared
}

// New builds an empty room at round 1.
func New(cfg Config, deps Deps) *Room {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ChatLimit <= 0 {
		cfg.ChatLimit = DefaultChatLimit
	}
	now := deps.Clock.Now()
	return &Room{
		id:             cfg.ID,
		name:           cfg.Name,
		rule:           cfg.Rule,
		passwordDigest: cfg.PasswordDigest,
		creatorID:      cfg.CreatorID,
		capacity:       cfg.Capacity,
		debounceAfter:  cfg.Debounce,
		chatLimit:      cfg.ChatLimit,
		clock:          deps.Clock,
		pub:            deps.Publisher,
		passwords:      deps.Passwords,
		observer:       deps.Observer,
		createdAt:      now,
		lastActivity:   now,
		members:        make(map[string]*member),
		roundNo:        1,
		round:          newRound(),
		ledger:         make(map[string]int),
	}
}

func (r *Room) ID() string { return r.id }

// Admits reports whether Join would accept req right now, without
// changing anything.
func (r *Room) Admits(req JoinRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admitLocked(req)
}

func (r *Room) admitLocked(req JoinRequest) error {
	if r.closed {
		return ErrRoomNotFound
	}
	if r.passwordDigest != "" && (r.passwords == nil || !r.passwords.Compare(r.passwordDigest, req.Password)) {
		return ErrWrongPassword
	}
	if _, existing := r.members[req.UserID]; !existing && len(r.members) >= r.capacity {
		return ErrRoomFull
	}
	return nil
}

// Join adds or refreshes a member. A rejoin keeps the member's join order
// and ledger entry; a new connection id replaces the old subscription.
func (r *Room) Join(req JoinRequest) (models.RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.admitLocked(req); err != nil {
		return models.RoomState{}, err
	}
	m, existing := r.members[req.UserID]

	now := r.clock.Now()
	role := models.RoleFor(req.AsPlayer)
	if existing {
		if req.Name != "" {
			m.name = req.Name
		}
		if req.ConnID != "" && req.ConnID != m.connID {
			r.rebind(m, req.ConnID)
		}
		if r.applyRole(m, role) {
			r.reevaluate()
		}
	} else {
		r.seq++
		m = &member{userID: req.UserID, name: req.Name, role: role, joinedAt: now, seq: r.seq}
		r.members[req.UserID] = m
		if req.ConnID != "" {
			r.rebind(m, req.ConnID)
		}
		if _, ok := r.members[r.hostID]; !ok {
			r.hostID = req.UserID
		}
		if role == models.RolePlayer {
			r.ensureLedger(req.UserID)
		}
	}
	r.lastActivity = now

	state := r.snapshotLocked()
	if m.connID != "" {
		r.pub.SendConn(m.connID, models.Event{Type: models.EventJoined, Room: r.id, Data: state})
	}
	r.pub.PublishRoom(r.id, models.Event{
		Type: models.EventMemberJoined,
		Room: r.id,
		Data: models.MemberChange{Member: r.view(m), Members: state.Members},
	}, m.connID)

	log.Info().Str("room", r.id).Str("user", req.UserID).Str("role", string(role)).Int("members", len(r.members)).Msg("[room] member joined")
	return state, nil
}

// Leave removes a member. When the room empties it closes itself and
// reports Empty so the registry can drop it.
func (r *Room) Leave(userID string) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return LeaveResult{}, ErrRoomNotFound
	}
	m, ok := r.members[userID]
	if !ok {
		return LeaveResult{}, ErrNotMember
	}
	return r.leaveLocked(m), nil
}

// LeaveConn is Leave driven by a transport disconnect. It only removes the
// member while connID still represents them, so a stale socket closing
// after a reconnect does nothing.
func (r *Room) LeaveConn(userID, connID string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return LeaveResult{}, false
	}
	m, ok := r.members[userID]
	if !ok || m.connID == "" || m.connID != connID {
		return LeaveResult{}, false
	}
	return r.leaveLocked(m), true
}

func (r *Room) leaveLocked(m *member) LeaveResult {
	delete(r.members, m.userID)
	delete(r.round.scores, m.userID)
	r.cancelDebounce()
	r.settleRound()
	r.lastActivity = r.clock.Now()
	if m.connID != "" {
		r.pub.Unsubscribe(m.connID, r.id)
	}

	var res LeaveResult
	if r.hostID == m.userID {
		r.hostID = ""
		if next := r.nextHost(); next != nil {
			r.hostID = next.userID
			res.NewHost = next.userID
		}
	}

	log.Info().Str("room", r.id).Str("user", m.userID).Int("members", len(r.members)).Msg("[room] member left")
	r.pub.PublishRoom(r.id, models.Event{
		Type: models.EventMemberLeft,
		Room: r.id,
		Data: models.MemberChange{Member: r.view(m), Members: r.memberViews()},
	})

	if len(r.members) == 0 {
		r.closeLocked()
		res.Empty = true
		return res
	}
	if res.NewHost != "" {
		host := r.members[res.NewHost]
		r.pub.PublishRoom(r.id, models.Event{Type: models.EventHostChanged, Room: r.id, Data: models.HostChange{HostID: host.userID, Name: host.name}})
	}
	// the departure cancelled any armed debounce; re-arm it if the
	// remaining players still all sit at zero
	finishing := r.round.active && r.allFinished()
	r.reevaluate()
	if !finishing {
		r.publishRanking()
	}
	return res
}

// ToggleRole moves a member between player and spectator.
func (r *Room) ToggleRole(userID string, isPlayer bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomNotFound
	}
	m, ok := r.members[userID]
	if !ok {
		return ErrNotMember
	}
	r.lastActivity = r.clock.Now()
	if !r.applyRole(m, models.RoleFor(isPlayer)) {
		return nil
	}
	r.pub.PublishRoom(r.id, models.Event{
		Type: models.EventMembers,
		Room: r.id,
		Data: models.MemberChange{Member: r.view(m), Members: r.memberViews()},
	})
	r.reevaluate()
	if r.round.active {
		r.publishRanking()
	}
	return nil
}

// SubmitScore records a player's running score. Malformed or out-of-range
// scores are dropped without an error and without touching state.
func (r *Room) SubmitScore(userID string, s models.Score) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomNotFound
	}
	m, ok := r.members[userID]
	if !ok {
		return ErrNotMember
	}
	if m.role != models.RolePlayer {
		return ErrNotPlayer
	}
	normal, ex, ok := normalizeScore(s)
	if !ok {
		log.Debug().Str("room", r.id).Str("user", userID).Float64("normal", s.Normal).Float64("ex", s.Ex).Msg("[room] score dropped")
		return nil
	}

	now := r.clock.Now()
	r.lastActivity = now
	value := r.rule.Pick(normal, ex)
	if !r.round.active {
		if value == 0 {
			r.publishRanking()
			return nil
		}
		r.round.active = true
		r.pub.PublishRoom(r.id, models.Event{Type: models.EventRoundStarted, Room: r.id, Data: models.Ranking{Round: r.roundNo, Active: true}})
		log.Debug().Str("room", r.id).Int("round", r.roundNo).Msg("[room] round started")
	}

	e := r.round.entry(userID)
	e.latestNormal, e.latestEx = normal, ex
	if value != 0 {
		e.standingNormal, e.standingEx = normal, ex
		e.standingAt = now
		e.hasStanding = true
	}
	r.evaluateDebounce()
	r.publishRanking()
	return nil
}

// FinishRound marks the player done; the last player to finish closes the round.
func (r *Room) FinishRound(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomNotFound
	}
	m, ok := r.members[userID]
	if !ok {
		return ErrNotMember
	}
	if m.role != models.RolePlayer {
		return ErrNotPlayer
	}
	if !r.round.active {
		return ErrNoActiveRound
	}
	r.lastActivity = r.clock.Now()
	r.round.entry(userID).finished = true
	if r.allFinished() {
		r.finalize()
		return nil
	}
	r.publishRanking()
	return nil
}

// ResetPoints zeroes every ledger entry. Host only.
func (r *Room) ResetPoints(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomNotFound
	}
	if userID != r.hostID {
		return ErrPermissionDenied
	}
	for id := range r.ledger {
		r.ledger[id] = 0
	}
	r.lastActivity = r.clock.Now()
	r.pub.PublishRoom(r.id, models.Event{Type: models.EventPointsReset, Room: r.id, Data: r.ledgerCopy()})
	log.Info().Str("room", r.id).Str("host", userID).Msg("[room] points reset")
	return nil
}

// Delete closes the room on the host's request and returns the evicted member ids.
func (r *Room) Delete(userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRoomNotFound
	}
	if userID != r.hostID {
		return nil, ErrPermissionDenied
	}
	return r.evictLocked("deleted"), nil
}

// Close evicts everyone and stops the room. Safe to call more than once.
func (r *Room) Close(reason string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	return r.evictLocked(reason)
}

func (r *Room) evictLocked(reason string) []string {
	ids := make([]string, 0, len(r.members))
	r.pub.PublishRoom(r.id, models.Event{Type: models.EventRoomDeleted, Room: r.id, Data: map[string]string{"reason": reason}})
	for id, m := range r.members {
		ids = append(ids, id)
		if m.connID != "" {
			r.pub.Unsubscribe(m.connID, r.id)
		}
	}
	r.members = make(map[string]*member)
	r.hostID = ""
	r.closeLocked()
	log.Info().Str("room", r.id).Str("reason", reason).Int("evicted", len(ids)).Msg("[room] closed")
	return ids
}

func (r *Room) closeLocked() {
	r.closed = true
	r.cancelDebounce()
	r.pub.CloseRoom(r.id)
}

// Chat appends to the room's bounded message buffer and broadcasts it.
func (r *Room) Chat(userID, text string) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > MaxChatLength {
		return models.ChatMessage{}, ErrInvalidText
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return models.ChatMessage{}, ErrRoomNotFound
	}
	m, ok := r.members[userID]
	if !ok {
		return models.ChatMessage{}, ErrNotMember
	}
	now := r.clock.Now()
	msg := models.ChatMessage{ID: uuid.NewString(), UserID: userID, Name: m.name, Text: text, SentAt: now}
	if len(r.chat) >= r.chatLimit {
		copy(r.chat, r.chat[1:])
		r.chat = r.chat[:len(r.chat)-1]
	}
	r.chat = append(r.chat, msg)
	r.lastActivity = now
	r.pub.PublishRoom(r.id, models.Event{Type: models.EventChat, Room: r.id, Data: msg})
	return msg, nil
}

// DebounceExpired is the timer event for the all-zero trigger. The token
// must match the timer that is currently armed; anything else is stale.
func (r *Room) DebounceExpired(token uint64) bool {
	r.mu.Lock()
	fired := false
	if !r.closed && r.debounce != nil && token == r.debounceToken {
		r.debounce = nil
		if r.round.active {
			_, fired = r.finalize()
		}
	}
	r.mu.Unlock()

	if fired {
		log.Info().Str("room", r.id).Msg("[room] round finalized after all-zero debounce")
		if r.observer != nil {
			r.observer.RoomChanged(r.id)
		}
	}
	return fired
}

// PendingDebounce reports the armed debounce timer's token, if any.
func (r *Room) PendingDebounce() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.debounceToken, r.debounce != nil
}

// Snapshot returns the full room state.
func (r *Room) Snapshot() (models.RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return models.RoomState{}, ErrRoomNotFound
	}
	return r.snapshotLocked(), nil
}

// Summary returns the listing projection.
func (r *Room) Summary() models.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

// History returns the finalized rounds, oldest first.
func (r *Room) History() []models.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.HistoryEntry(nil), r.history...)
}

// HostID returns the current host, empty when the room has no members.
func (r *Room) HostID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// Idle reports whether nothing has happened in the room for longer than after.
func (r *Room) Idle(now time.Time, after time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && now.Sub(r.lastActivity) > after
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) rebind(m *member, connID string) {
	if m.connID != "" {
		r.pub.Unsubscribe(m.connID, r.id)
	}
	m.connID = connID
	r.pub.Subscribe(connID, r.id)
}

// applyRole switches a member's role. Spectators drop their round entry;
// players get a ledger entry if they have none.
func (r *Room) applyRole(m *member, role models.Role) bool {
	if role == models.RolePlayer {
		r.ensureLedger(m.userID)
	}
	if m.role == role {
		return false
	}
	m.role = role
	if role == models.RoleSpectator {
		delete(r.round.scores, m.userID)
		r.settleRound()
	}
	return true
}

func (r *Room) ensureLedger(userID string) {
	if _, ok := r.ledger[userID]; !ok {
		r.ledger[userID] = 0
	}
}

// settleRound drops an active round back to idle once nobody in it holds a score.
func (r *Room) settleRound() {
	if r.round.active && !r.round.hasStanding() {
		r.cancelDebounce()
		r.round = newRound()
	}
}

// reevaluate re-checks both round boundaries after the player set changed.
func (r *Room) reevaluate() {
	if !r.round.active {
		r.cancelDebounce()
		return
	}
	if r.allFinished() {
		r.finalize()
		return
	}
	r.evaluateDebounce()
}

func (r *Room) evaluateDebounce() {
	if !r.allZero() {
		r.cancelDebounce()
		return
	}
	if r.debounce != nil {
		return
	}
	r.debounceToken++
	token := r.debounceToken
	r.debounce = r.clock.AfterFunc(r.debounceAfter, func() {
		r.DebounceExpired(token)
	})
}

func (r *Room) cancelDebounce() {
	if r.debounce != nil {
		r.debounce.Stop()
		r.debounce = nil
	}
	r.debounceToken++
}

func (r *Room) allZero() bool {
	players := 0
	for _, m := range r.members {
		if m.role != models.RolePlayer {
			continue
		}
		players++
		if e := r.round.scores[m.userID]; e != nil && r.rule.Pick(e.latestNormal, e.latestEx) != 0 {
			return false
		}
	}
	return players > 0
}

func (r *Room) allFinished() bool {
	players := 0
	for _, m := range r.members {
		if m.role != models.RolePlayer {
			continue
		}
		players++
		if e := r.round.scores[m.userID]; e == nil || !e.finished {
			return false
		}
	}
	return players > 0
}

// finalize closes the current round. A round without a single standing
// score is left alone and nothing is published.
func (r *Room) finalize() (models.HistoryEntry, bool) {
	r.cancelDebounce()
	ranked := rank(r.rule, r.round.scores)
	if len(ranked) == 0 {
		return models.HistoryEntry{}, false
	}

	now := r.clock.Now()
	ranking := make([]models.RankEntry, len(ranked))
	for i, rs := range ranked {
		pts := pointsFor(i + 1)
		r.ledger[rs.userID] += pts
		ranking[i] = r.rankEntry(i+1, rs)
		ranking[i].Points = pts
	}
	entry := models.HistoryEntry{Round: r.roundNo, Rule: r.rule, Ranking: ranking, FinishedAt: now}
	r.history = append(r.history, entry)
	r.roundNo++
	r.round = newRound()
	r.lastActivity = now

	log.Info().Str("room", r.id).Int("round", entry.Round).Int("ranked", len(ranking)).Msg("[room] round finished")
	r.pub.PublishRoom(r.id, models.Event{
		Type: models.EventRoundFinished,
		Room: r.id,
		Data: models.RoundFinished{Round: entry.Round, Ranking: ranking, Ledger: r.ledgerCopy(), NextRound: r.roundNo},
	})
	r.pub.PublishRoom(r.id, models.Event{Type: models.EventRoomState, Room: r.id, Data: r.snapshotLocked()})
	if r.observer != nil {
		r.observer.RoundFinalized(r.id, entry)
	}
	return entry, true
}

func (r *Room) nextHost() *member {
	var next *member
	for _, m := range r.members {
		if next == nil || m.joinedAt.Before(next.joinedAt) || (m.joinedAt.Equal(next.joinedAt) && m.seq < next.seq) {
			next = m
		}
	}
	return next
}

func (r *Room) publishRanking() {
	r.pub.PublishRoom(r.id, models.Event{
		Type: models.EventRanking,
		Room: r.id,
		Data: models.Ranking{Round: r.roundNo, Active: r.round.active, Ranking: r.liveRanking()},
	})
}

func (r *Room) liveRanking() []models.RankEntry {
	ranked := rank(r.rule, r.round.scores)
	out := make([]models.RankEntry, len(ranked))
	for i, rs := range ranked {
		out[i] = r.rankEntry(i+1, rs)
	}
	return out
}

func (r *Room) rankEntry(pos int, rs rankedScore) models.RankEntry {
	name := ""
	if m, ok := r.members[rs.userID]; ok {
		name = m.name
	}
	return models.RankEntry{
		Rank:        pos,
		UserID:      rs.userID,
		Name:        name,
		NormalScore: rs.entry.standingNormal,
		ExScore:     rs.entry.standingEx,
		Finished:    rs.entry.finished,
	}
}

func (r *Room) view(m *member) models.MemberView {
	return models.MemberView{
		UserID:   m.userID,
		Name:     m.name,
		Role:     m.role,
		IsHost:   m.userID == r.hostID,
		Points:   r.ledger[m.userID],
		Online:   m.connID != "",
		JoinedAt: m.joinedAt,
	}
}

func (r *Room) memberViews() []models.MemberView {
	ms := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].seq < ms[j].seq })
	out := make([]models.MemberView, len(ms))
	for i, m := range ms {
		out[i] = r.view(m)
	}
	return out
}

func (r *Room) ledgerCopy() map[string]int {
	out := make(map[string]int, len(r.ledger))
	for id, pts := range r.ledger {
		out[id] = pts
	}
	return out
}

func (r *Room) summaryLocked() models.RoomSummary {
	s := models.RoomSummary{
		ID:            r.id,
		Name:          r.name,
		Rule:          r.rule,
		MemberCount:   len(r.members),
		Capacity:      r.capacity,
		HasPassword:   r.passwordDigest != "",
		Round:         r.roundNo,
		HistoryLength: len(r.history),
		CreatedAt:     r.createdAt,
	}
	for _, m := range r.members {
		if m.role == models.RolePlayer {
			s.Players++
		} else {
			s.Spectators++
		}
	}
	return s
}

func (r *Room) snapshotLocked() models.RoomState {
	return models.RoomState{
		RoomSummary: r.summaryLocked(),
		HostID:      r.hostID,
		CreatorID:   r.creatorID,
		RoundActive: r.round.active,
		Members:     r.memberViews(),
		Ranking:     r.liveRanking(),
		Ledger:      r.ledgerCopy(),
		History:     append([]models.HistoryEntry(nil), r.history...),
		Chat:        append([]models.ChatMessage(nil), r.chat...),
	}
}

type nopPublisher struct{}

func (nopPublisher) Subscribe(string, string) {}
func (nopPublisher) Unsubscribe(string, string) {}
func (nopPublisher) PublishRoom(string, models.Event, ...string) {}
func (nopPublisher) SendConn(string, models.Event) {}
func (nopPublisher) CloseRoom(string) {}
