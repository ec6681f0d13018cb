package models

import "time"

// Rule selects which of the two score fields decides rank and round boundaries.
type Rule string

const (
	RuleNormal Rule = "normal"
	RuleEx     Rule = "ex"
)

// ParseRule returns the rule named by s. Empty input selects RuleNormal.
func ParseRule(s string) (Rule, bool) {
	switch Rule(s) {
	case "", RuleNormal:
		return RuleNormal, true
	case RuleEx:
		return RuleEx, true
	}
	return "", false
}

// Pick returns the rule-selected value out of a normal/ex pair.
func (r Rule) Pick(normal, ex int64) int64 {
	if r == RuleEx {
		return ex
	}
	return normal
}

// Role is a member's participation mode inside a room.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// RoleFor maps the "wants to play" flag used by join and toggle requests.
func RoleFor(isPlayer bool) Role {
	if isPlayer {
		return RolePlayer
	}
	return RoleSpectator
}

// RoomSummary is the listing projection of a live room.
type RoomSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Rule          Rule      `json:"rule"`
	Players       int       `json:"playerCount"`
	Spectators    int       `json:"spectatorCount"`
	MemberCount   int       `json:"memberCount"`
	Capacity      int       `json:"capacity"`
	HasPassword   bool      `json:"hasPassword"`
	Round         int       `json:"round"`
	HistoryLength int       `json:"historyLength"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MemberView is the room-scoped view of a user sent to clients.
type MemberView struct {
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	Role     Role      `json:"role"`
	IsHost   bool      `json:"isHost"`
	Points   int       `json:"points"`
	Online   bool      `json:"online"`
	JoinedAt time.Time `json:"joinedAt"`
}

// RankEntry is one row of a live or finalized ranking. Points is only
// meaningful on finalized rankings, where it holds the points awarded.
type RankEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	NormalScore int64  `json:"normalScore"`
	ExScore     int64  `json:"exScore"`
	Finished    bool   `json:"finished"`
	Points      int    `json:"points"`
}

// HistoryEntry is the immutable record of a finalized round.
type HistoryEntry struct {
	Round      int         `json:"round"`
	Rule       Rule        `json:"rule"`
	Ranking    []RankEntry `json:"ranking"`
	FinishedAt time.Time   `json:"finishedAt"`
}

// ChatMessage is kept in a bounded per-room buffer.
type ChatMessage struct {
	ID     string    `json:"id"`
	UserID string    `json:"userId"`
	Name   string    `json:"name"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// RoomState is the full snapshot sent on join and after round changes.
type RoomState struct {
	RoomSummary
	HostID      string         `json:"hostId"`
	CreatorID   string         `json:"creatorId,omitempty"`
	RoundActive bool           `json:"roundActive"`
	Members     []MemberView   `json:"members"`
	Ranking     []RankEntry    `json:"ranking"`
	Ledger      map[string]int `json:"points"`
	History     []HistoryEntry `json:"history"`
	Chat        []ChatMessage  `json:"chat"`
}
