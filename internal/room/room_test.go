package room

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/otoge-battle-backend/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
	subs   map[string]string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{subs: make(map[string]string)}
}

func (p *recordingPublisher) Subscribe(connID, roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[connID] = roomID
}

func (p *recordingPublisher) Unsubscribe(connID, roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs[connID] == roomID {
		delete(p.subs, connID)
	}
}

func (p *recordingPublisher) PublishRoom(roomID string, ev models.Event, except ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) SendConn(connID string, ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) CloseRoom(string) {}

func (p *recordingPublisher) ofType(t string) []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type plainPasswords struct{}

func (plainPasswords) Compare(digest, candidate string) bool { return digest == "plain:"+candidate }

type finalizeCounter struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
	changed int
}

func (o *finalizeCounter) RoundFinalized(_ string, entry models.HistoryEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, entry)
}

func (o *finalizeCounter) RoomChanged(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed++
}

func (o *finalizeCounter) changedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.changed
}

func (o *finalizeCounter) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

type fixture struct {
	room  *Room
	clock *clock.Mock
	pub   *recordingPublisher
	obs   *finalizeCounter
}

func newFixture(t *testing.T, rule models.Rule, capacity int) *fixture {
	t.Helper()
	mock := clock.NewMock()
	pub := newRecordingPublisher()
	obs := &finalizeCounter{}
	r := New(Config{ID: "ROOM01", Name: "arcade", Rule: rule, Capacity: capacity}, Deps{
		Clock:     mock,
		Publisher: pub,
		Passwords: plainPasswords{},
		Observer:  obs,
	})
	return &fixture{room: r, clock: mock, pub: pub, obs: obs}
}

func (f *fixture) join(t *testing.T, id string, player bool) models.RoomState {
	t.Helper()
	state, err := f.room.Join(JoinRequest{UserID: id, Name: "name-" + id, AsPlayer: player, ConnID: "conn-" + id})
	require.NoError(t, err)
	f.clock.Add(time.Millisecond)
	return state
}

func TestRoom_FirstJoinerBecomesHost(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	state := f.join(t, "A", true)
	f.join(t, "B", true)

	assert.Equal(t, "A", state.HostID)
	assert.Equal(t, "A", f.room.HostID())
	assert.Equal(t, 0, state.Ledger["A"])
	assert.Len(t, f.pub.ofType(models.EventJoined), 2)
	assert.Len(t, f.pub.ofType(models.EventMemberJoined), 2)
}

func TestRoom_JoinRejectsWhenFull(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 2)
	f.join(t, "A", true)
	f.join(t, "B", false)

	_, err := f.room.Join(JoinRequest{UserID: "C", AsPlayer: true})
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, KindCapacity, KindOf(err))

	state, err := f.room.Snapshot()
	require.NoError(t, err)
	require.Len(t, state.Members, 2)
	assert.Equal(t, "A", state.Members[0].UserID)
	assert.Equal(t, "B", state.Members[1].UserID)
}

func TestRoom_RejoinWhenFullRefreshesMember(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 1)
	f.join(t, "A", true)

	state, err := f.room.Join(JoinRequest{UserID: "A", AsPlayer: false, ConnID: "conn-A2"})
	require.NoError(t, err)
	require.Len(t, state.Members, 1)
	assert.Equal(t, models.RoleSpectator, state.Members[0].Role)
	assert.Equal(t, "ROOM01", f.pub.subs["conn-A2"])
	_, stale := f.pub.subs["conn-A"]
	assert.False(t, stale)
}

func TestRoom_JoinChecksPassword(t *testing.T) {
	mock := clock.NewMock()
	r := New(Config{ID: "LOCKED", Rule: models.RuleNormal, Capacity: 4, PasswordDigest: "plain:secret"}, Deps{Clock: mock, Passwords: plainPasswords{}})

	_, err := r.Join(JoinRequest{UserID: "A", Password: "nope", AsPlayer: true})
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.Equal(t, KindUnauthorized, KindOf(err))

	_, err = r.Join(JoinRequest{UserID: "A", Password: "secret", AsPlayer: true})
	assert.NoError(t, err)
	assert.True(t, r.Summary().HasPassword)
}

func TestRoom_SubmitScoreFloorsAndRanksByRule(t *testing.T) {
	f := newFixture(t, models.RuleEx, 4)
	f.join(t, "A", true)
	f.join(t, "B", true)

	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 100.9, Ex: 500.2}))
	require.NoError(t, f.room.SubmitScore("B", models.Score{Normal: 200, Ex: 300}))

	state, err := f.room.Snapshot()
	require.NoError(t, err)
	require.Len(t, state.Ranking, 2)
	assert.Equal(t, "A", state.Ranking[0].UserID)
	assert.Equal(t, int64(100), state.Ranking[0].NormalScore)
	assert.Equal(t, int64(500), state.Ranking[0].ExScore)
	assert.Equal(t, "B", state.Ranking[1].UserID)
	assert.True(t, state.RoundActive)
	assert.NotEmpty(t, f.pub.ofType(models.EventRoundStarted))
}

func TestRoom_SubmitScoreDropsInvalidInput(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	f.pub.reset()

	tests := []struct {
		name  string
		score models.Score
	}{
		{"negative", models.Score{Normal: -1, Ex: 0}},
		{"too large", models.Score{Normal: MaxScore + 1, Ex: 0}},
		{"ex too large", models.Score{Normal: 1, Ex: MaxScore + 0.5}},
		{"not a number", models.Score{Normal: math.NaN(), Ex: 1}},
		{"infinite", models.Score{Normal: 1, Ex: math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, f.room.SubmitScore("A", tt.score))
		})
	}

	state, err := f.room.Snapshot()
	require.NoError(t, err)
	assert.False(t, state.RoundActive)
	assert.Empty(t, state.Ranking)
	assert.Empty(t, f.pub.ofType(models.EventRanking))
}

func TestRoom_SubmitScoreAcceptsUpperBound(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)

	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: MaxScore, Ex: 0}))
	state, err := f.room.Snapshot()
	require.NoError(t, err)
	require.Len(t, state.Ranking, 1)
	assert.Equal(t, int64(MaxScore), state.Ranking[0].NormalScore)
}

func TestRoom_SpectatorScoreIsIgnored(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	f.join(t, "S", false)
	f.pub.reset()

	err := f.room.SubmitScore("S", models.Score{Normal: 1000, Ex: 10})
	assert.ErrorIs(t, err, ErrNotPlayer)
	assert.Equal(t, KindIllegalState, KindOf(err))

	state, err := f.room.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, state.Ranking)
	assert.False(t, state.RoundActive)
	assert.Empty(t, f.pub.ofType(models.EventRanking))
}

func TestRoom_AllZeroDebounceFinalizesRound(t *testing.T) {
	f := newFixture(t, models.RuleEx, 4)
	f.join(t, "A", true)
	f.join(t, "B", true)

	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 100, Ex: 500}))
	require.NoError(t, f.room.SubmitScore("B", models.Score{Normal: 200, Ex: 300}))
	require.NoError(t, f.room.SubmitScore("A", models.Score{}))
	_, armed := f.room.PendingDebounce()
	assert.False(t, armed, "B still has a nonzero score")

	require.NoError(t, f.room.SubmitScore("B", models.Score{}))
	_, armed = f.room.PendingDebounce()
	require.True(t, armed)

	f.clock.Add(DefaultDebounce)
	require.Eventually(t, func() bool { return f.obs.count() == 1 }, time.Second, 5*time.Millisecond)

	state, err := f.room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2, state.Round)
	assert.False(t, state.RoundActive)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, state.Ledger)
	require.Len(t, state.History, 1)
	ranking := state.History[0].Ranking
	require.Len(t, ranking, 2)
	assert.Equal(t, "A", ranking[0].UserID)
	assert.Equal(t, 2, ranking[0].Points)
	assert.Equal(t, "B", ranking[1].UserID)
	assert.Equal(t, 1, ranking[1].Points)
	assert.Equal(t, models.RuleEx, state.History[0].Rule)

	finished := f.pub.ofType(models.EventRoundFinished)
	require.Len(t, finished, 1)
	payload := finished[0].Data.(models.RoundFinished)
	assert.Equal(t, 2, payload.NextRound)
	assert.Eventually(t, func() bool { return f.obs.changedCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRoom_NonzeroScoreCancelsDebounce(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)

	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 900}))
	require.NoError(t, f.room.SubmitScore("A", models.Score{}))
	token, armed := f.room.PendingDebounce()
	require.True(t, armed)

	f.clock.Add(DefaultDebounce / 2)
	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 50}))
	_, armed = f.room.PendingDebounce()
	assert.False(t, armed)

	f.clock.Add(DefaultDebounce)
	assert.False(t, f.room.DebounceExpired(token), "stale token must not finalize")
	assert.Never(t, func() bool { return f.obs.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	state, err := f.room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, state.Round)
	require.Len(t, state.Ranking, 1)
	assert.Equal(t, int64(50), state.Ranking[0].NormalScore)
}

func TestRoom_DebounceExpiredEventIsDeterministic(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 10}))
	require.NoError(t, f.room.SubmitScore("A", models.Score{}))

	token, armed := f.room.PendingDebounce()
	require.True(t, armed)
	assert.True(t, f.room.DebounceExpired(token))
	assert.False(t, f.room.DebounceExpired(token), "second delivery is a no-op")
	assert.Equal(t, 1, f.obs.count())
}

func TestRoom_ZeroScoresOnIdleRoundNeverFinalize(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	f.join(t, "B", true)

	require.NoError(t, f.room.SubmitScore("A", models.Score{}))
	require.NoError(t, f.room.SubmitScore("B", models.Score{}))
	_, armed := f.room.PendingDebounce()
	assert.False(t, armed)

	f.clock.Add(10 * DefaultDebounce)
	state, err := f.room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, state.Round)
	assert.Empty(t, state.History)
	assert.Empty(t, f.pub.ofType(models.EventRoundFinished))
}

func TestRoom_FinishRoundByEveryPlayer(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	f.join(t, "B", true)
	f.join(t, "C", true)
	f.join(t, "S", false)

	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 300}))
	require.NoError(t, f.room.SubmitScore("B", models.Score{Normal: 900}))
	require.NoError(t, f.room.SubmitScore("C", models.Score{Normal: 600}))

	assert.ErrorIs(t, f.room.FinishRound("S"), ErrNotPlayer)
	require.NoError(t, f.room.FinishRound("A"))
	require.NoError(t, f.room.FinishRound("B"))
	assert.Equal(t, 0, f.obs.count())
	require.NoError(t, f.room.FinishRound("C"))
	require.Equal(t, 1, f.obs.count())

	state, err := f.room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 0, "B": 2, "C": 1}, state.Ledger)
	assert.NotContains(t, state.Ledger, "S")
	assert.Equal(t, 2, state.Round)

	assert.ErrorIs(t, f.room.FinishRound("A"), ErrNoActiveRound)
}

func TestRoom_ExplicitFinishCancelsDebounce(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 10}))
	require.NoError(t, f.room.SubmitScore("A", models.Score{}))
	token, armed := f.room.PendingDebounce()
	require.True(t, armed)

	require.NoError(t, f.room.FinishRound("A"))
	_, armed = f.room.PendingDebounce()
	assert.False(t, armed)
	assert.False(t, f.room.DebounceExpired(token))
	assert.Equal(t, 1, f.obs.count())
}

func TestRoom_LedgerAccumulatesAcrossRounds(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	f.join(t, "B", true)

	play := func(a, b float64) {
		require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: a}))
		require.NoError(t, f.room.SubmitScore("B", models.Score{Normal: b}))
		require.NoError(t, f.room.FinishRound("A"))
		require.NoError(t, f.room.FinishRound("B"))
	}
	play(10, 20)
	play(30, 20)
	play(5, 40)

	state, err := f.room.Snapshot()
	require.NoError(t, err)
	require.Len(t, state.History, 3)
	sum := map[string]int{}
	for _, h := range state.History {
		for _, e := range h.Ranking {
			sum[e.UserID] += e.Points
		}
	}
	assert.Equal(t, sum, state.Ledger)
	assert.Equal(t, map[string]int{"A": 4, "B": 5}, state.Ledger)
	assert.Equal(t, 4, state.Round)
}

func TestRoom_HostLeaveTransfersAuthority(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	f.join(t, "B", true)
	f.join(t, "C", false)

	res, err := f.room.Leave("A")
	require.NoError(t, err)
	assert.False(t, res.Empty)
	assert.Equal(t, "B", res.NewHost)
	assert.Equal(t, "B", f.room.HostID())

	changes := f.pub.ofType(models.EventHostChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, "B", changes[0].Data.(models.HostChange).HostID)

	_, err = f.room.Delete("A")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	ids, err := f.room.Delete("B")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"B", "C"}, ids)
	assert.True(t, f.room.Closed())
}

func TestRoom_LastLeaveClosesRoom(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 10}))
	require.NoError(t, f.room.SubmitScore("A", models.Score{}))
	token, armed := f.room.PendingDebounce()
	require.True(t, armed)

	res, err := f.room.Leave("A")
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.True(t, f.room.Closed())
	assert.False(t, f.room.DebounceExpired(token))

	f.clock.Add(DefaultDebounce)
	assert.Never(t, func() bool { return f.obs.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	_, err = f.room.Join(JoinRequest{UserID: "B", AsPlayer: true})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoom_LeaveConnIgnoresStaleConnection(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	_, err := f.room.Join(JoinRequest{UserID: "A", AsPlayer: true, ConnID: "conn-A-new"})
	require.NoError(t, err)

	_, left := f.room.LeaveConn("A", "conn-A")
	assert.False(t, left)
	_, left = f.room.LeaveConn("A", "conn-A-new")
	assert.True(t, left)
}

func TestRoom_LeaveClearsScoreAndFinishesRemaining(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	f.join(t, "B", true)
	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 100}))
	require.NoError(t, f.room.SubmitScore("B", models.Score{Normal: 50}))
	require.NoError(t, f.room.FinishRound("B"))

	_, err := f.room.Leave("A")
	require.NoError(t, err)
	require.Equal(t, 1, f.obs.count())
	entry := f.obs.entries[0]
	require.Len(t, entry.Ranking, 1)
	assert.Equal(t, "B", entry.Ranking[0].UserID)
	assert.Equal(t, 2, entry.Ranking[0].Points)
}

func TestRoom_ToggleRole(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	f.join(t, "B", false)
	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 100}))
	require.NoError(t, f.room.FinishRound("A"))

	require.NoError(t, f.room.ToggleRole("B", true))
	state, err := f.room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 0, state.Ledger["B"])
	assert.Equal(t, 2, state.Ledger["A"])

	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 70}))
	require.NoError(t, f.room.ToggleRole("A", false))
	state, err = f.room.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, state.Ranking, "spectator score is cleared")
	assert.False(t, state.RoundActive)

	require.NoError(t, f.room.ToggleRole("A", true))
	state, err = f.room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2, state.Ledger["A"], "existing total survives a role round trip")

	assert.ErrorIs(t, f.room.ToggleRole("nobody", true), ErrNotMember)
}

func TestRoom_ResetPointsHostOnly(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	f.join(t, "B", true)
	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 1}))
	require.NoError(t, f.room.FinishRound("A"))
	require.NoError(t, f.room.FinishRound("B"))

	assert.ErrorIs(t, f.room.ResetPoints("B"), ErrPermissionDenied)
	require.NoError(t, f.room.ResetPoints("A"))

	state, err := f.room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 0, "B": 0}, state.Ledger)
	assert.Len(t, f.pub.ofType(models.EventPointsReset), 1)
}

func TestRoom_ChatKeepsBoundedHistory(t *testing.T) {
	mock := clock.NewMock()
	r := New(Config{ID: "CHAT", Rule: models.RuleNormal, Capacity: 2, ChatLimit: 3}, Deps{Clock: mock})
	_, err := r.Join(JoinRequest{UserID: "A", Name: "alice", AsPlayer: true})
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three", "four"} {
		_, err := r.Chat("A", text)
		require.NoError(t, err)
	}
	_, err = r.Chat("A", "   ")
	assert.ErrorIs(t, err, ErrInvalidText)
	_, err = r.Chat("B", "hi")
	assert.ErrorIs(t, err, ErrNotMember)

	state, err := r.Snapshot()
	require.NoError(t, err)
	require.Len(t, state.Chat, 3)
	assert.Equal(t, "two", state.Chat[0].Text)
	assert.Equal(t, "four", state.Chat[2].Text)
	assert.Equal(t, "alice", state.Chat[2].Name)
}

func TestRoom_IdleTracksLastActivity(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	f.clock.Add(5 * time.Minute)
	assert.False(t, f.room.Idle(f.clock.Now(), 10*time.Minute))

	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 1}))
	f.clock.Add(10*time.Minute + time.Second)
	assert.True(t, f.room.Idle(f.clock.Now(), 10*time.Minute))

	ids := f.room.Close("idle")
	assert.Equal(t, []string{"A"}, ids)
	assert.Nil(t, f.room.Close("idle"))
	assert.False(t, f.room.Idle(f.clock.Now(), time.Minute))
}

func TestRoom_SpectatorLeaveKeepsDebounceRunning(t *testing.T) {
	f := newFixture(t, models.RuleEx, 4)
	f.join(t, "A", true)
	f.join(t, "B", true)
	f.join(t, "C", false)
	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 100, Ex: 500}))
	require.NoError(t, f.room.SubmitScore("B", models.Score{Normal: 200, Ex: 300}))
	require.NoError(t, f.room.SubmitScore("A", models.Score{}))
	require.NoError(t, f.room.SubmitScore("B", models.Score{}))
	before, armed := f.room.PendingDebounce()
	require.True(t, armed)

	f.clock.Add(time.Second)
	_, err := f.room.Leave("C")
	require.NoError(t, err)
	after, armed := f.room.PendingDebounce()
	require.True(t, armed, "remaining players are still all zero")
	assert.NotEqual(t, before, after)
	assert.False(t, f.room.DebounceExpired(before))

	f.clock.Add(DefaultDebounce)
	require.Eventually(t, func() bool { return f.obs.count() == 1 }, time.Second, 5*time.Millisecond)
	state, err := f.room.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2, state.Round)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, state.Ledger)
}

func TestRoom_PlayerLeaveLeavingOnlyZerosArmsDebounce(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 4)
	f.join(t, "A", true)
	f.join(t, "B", true)
	require.NoError(t, f.room.SubmitScore("A", models.Score{Normal: 300}))
	require.NoError(t, f.room.SubmitScore("B", models.Score{Normal: 100}))
	require.NoError(t, f.room.SubmitScore("B", models.Score{}))
	_, armed := f.room.PendingDebounce()
	require.False(t, armed)

	_, err := f.room.Leave("A")
	require.NoError(t, err)
	token, armed := f.room.PendingDebounce()
	require.True(t, armed)
	require.True(t, f.room.DebounceExpired(token))

	history := f.room.History()
	require.Len(t, history, 1)
	require.Len(t, history[0].Ranking, 1)
	assert.Equal(t, "B", history[0].Ranking[0].UserID)
}

func TestRoom_AdmitsChecksWithoutJoining(t *testing.T) {
	f := newFixture(t, models.RuleNormal, 1)
	f.room.passwordDigest = "plain:pw"

	assert.ErrorIs(t, f.room.Admits(JoinRequest{UserID: "A"}), ErrWrongPassword)
	require.NoError(t, f.room.Admits(JoinRequest{UserID: "A", Password: "pw"}))
	state, err := f.room.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, state.Members)

	_, err = f.room.Join(JoinRequest{UserID: "A", Password: "pw", AsPlayer: true})
	require.NoError(t, err)
	assert.ErrorIs(t, f.room.Admits(JoinRequest{UserID: "B", Password: "pw"}), ErrRoomFull)
	assert.NoError(t, f.room.Admits(JoinRequest{UserID: "A", Password: "pw"}), "rejoin ignores capacity")

	f.room.Close("test")
	assert.ErrorIs(t, f.room.Admits(JoinRequest{UserID: "A", Password: "pw"}), ErrRoomNotFound)
}

func checkRoomInvariants(t *testing.T, state models.RoomState, capacity int) {
	t.Helper()
	assert.LessOrEqual(t, len(state.Members), capacity)
	hosts := 0
	for _, m := range state.Members {
		if m.IsHost {
			hosts++
			assert.Equal(t, state.HostID, m.UserID)
		}
	}
	if len(state.Members) > 0 {
		assert.Equal(t, 1, hosts, "exactly one host while the room has members")
	}
	assert.Equal(t, len(state.History)+1, state.Round)
	for i, h := range state.History {
		assert.Equal(t, i+1, h.Round)
	}
}

func TestRoom_ConcurrentOperationsKeepInvariants(t *testing.T) {
	const capacity = 4
	f := newFixture(t, models.RuleNormal, capacity)
	f.join(t, "anchor", false)

	done := make(chan struct{})
	var drivers sync.WaitGroup
	drivers.Add(2)
	go func() {
		defer drivers.Done()
		for {
			select {
			case <-done:
				return
			default:
				f.clock.Add(DefaultDebounce)
			}
		}
	}()
	go func() {
		defer drivers.Done()
		for {
			select {
			case <-done:
				return
			default:
				state, err := f.room.Snapshot()
				if assert.NoError(t, err) {
					checkRoomInvariants(t, state, capacity)
				}
			}
		}
	}()

	var workers sync.WaitGroup
	for i, id := range []string{"A", "B", "C", "D", "E"} {
		workers.Add(1)
		go func(i int, id string) {
			defer workers.Done()
			for n := 0; n < 300; n++ {
				var err error
				switch (n + i) % 6 {
				case 0:
					_, err = f.room.Join(JoinRequest{UserID: id, Name: id, AsPlayer: true, ConnID: "conn-" + id})
				case 1:
					err = f.room.SubmitScore(id, models.Score{Normal: float64(n*10 + i)})
				case 2:
					err = f.room.SubmitScore(id, models.Score{})
				case 3:
					err = f.room.FinishRound(id)
				case 4:
					err = f.room.ToggleRole(id, n%4 != 0)
				case 5:
					if n%5 == 0 {
						_, err = f.room.Leave(id)
					}
				}
				if err != nil {
					assert.NotEqual(t, KindInternal, KindOf(err), err.Error())
				}
			}
		}(i, id)
	}
	workers.Wait()
	close(done)
	drivers.Wait()

	state, err := f.room.Snapshot()
	require.NoError(t, err)
	checkRoomInvariants(t, state, capacity)
	assert.Eventually(t, func() bool { return f.obs.count() == len(f.room.History()) }, time.Second, 5*time.Millisecond)
}
