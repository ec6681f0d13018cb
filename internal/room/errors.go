package room

import "errors"

// Kind classifies errors reported back to the originating caller.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindCapacity
	KindIllegalState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindCapacity:
		return "capacity_exceeded"
	case KindIllegalState:
		return "illegal_state"
	}
	return "internal"
}

// Error is a classified, caller-facing failure.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var (
	ErrInvalidName      = &Error{KindValidation, "name is empty or too long"}
	ErrInvalidRule      = &Error{KindValidation, "rule must be normal or ex"}
	ErrInvalidText      = &Error{KindValidation, "message is empty or too long"}
	ErrInvalidCapacity  = &Error{KindValidation, "capacity is out of range"}
	ErrRoomNotFound     = &Error{KindNotFound, "room not found"}
	ErrUserNotFound     = &Error{KindNotFound, "user not found"}
	ErrNotMember        = &Error{KindNotFound, "user is not a member of this room"}
	ErrWrongPassword    = &Error{KindUnauthorized, "wrong room password"}
	ErrPermissionDenied = &Error{KindUnauthorized, "only the host can do that"}
	ErrRoomFull         = &Error{KindCapacity, "room is full"}
	ErrTooManyRooms     = &Error{KindCapacity, "room limit reached"}
	ErrNotPlayer        = &Error{KindIllegalState, "spectators cannot take part in rounds"}
	ErrNoActiveRound    = &Error{KindIllegalState, "no round in progress"}
)

// KindOf unwraps err down to its classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
