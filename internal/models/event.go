package models

// Server event types pushed to websocket clients.
const (
	EventRoomState     = "room-state"
	EventJoined        = "joined"
	EventMemberJoined  = "member-joined"
	EventMemberLeft    = "member-left"
	EventHostChanged   = "host-changed"
	EventMembers       = "members-updated"
	EventRanking       = "ranking"
	EventRoundStarted  = "round-started"
	EventRoundFinished = "round-finished"
	EventPointsReset   = "points-reset"
	EventRoomDeleted   = "room-deleted"
	EventRoomList      = "room-list"
	EventChat          = "chat"
	EventError         = "error"
	EventSession       = "session"
)

// Client event types accepted over the websocket.
const (
	ActionCreateRoom  = "create-room"
	ActionJoinRoom    = "join-room"
	ActionLeaveRoom   = "leave-room"
	ActionToggleRole  = "toggle-role"
	ActionSubmitScore = "submit-score"
	ActionFinishRound = "finish-round"
	ActionResetPoints = "reset-points"
	ActionDeleteRoom  = "delete-room"
	ActionListRooms   = "list-rooms"
	ActionChat        = "chat"
	ActionSync        = "sync"
)

// Event is the envelope every server push uses.
type Event struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
	Data any    `json:"data,omitempty"`
}

// RoundFinished is the payload of EventRoundFinished.
type RoundFinished struct {
	Round     int            `json:"round"`
	Ranking   []RankEntry    `json:"ranking"`
	Ledger    map[string]int `json:"points"`
	NextRound int            `json:"nextRound"`
}

// MemberChange is the payload of member-joined / member-left / role changes.
type MemberChange struct {
	Member  MemberView   `json:"member"`
	Members []MemberView `json:"members"`
}

// HostChange is the payload of EventHostChanged.
type HostChange struct {
	HostID string `json:"hostId"`
	Name   string `json:"name"`
}

// Ranking is the payload of EventRanking.
type Ranking struct {
	Round   int         `json:"round"`
	Active  bool        `json:"active"`
	Ranking []RankEntry `json:"ranking"`
}

// ErrorBody is the payload of EventError.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
