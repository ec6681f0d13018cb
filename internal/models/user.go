package models

import "time"

// User is a participant known to the identity registry.
type User struct {
	ID       string    `json:"userId"`
	Name     string    `json:"username"`
	RoomID   string    `json:"roomId,omitempty"`
	Points   int       `json:"points"`
	Online   bool      `json:"online"`
	Role     Role      `json:"role,omitempty"`
	LastSeen time.Time `json:"lastSeen"`

	// Ephemeral identities only live as long as their socket.
	Ephemeral bool `json:"-"`
}
