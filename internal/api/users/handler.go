package users

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Vasu1712/otoge-battle-backend/internal/api/respond"
	"github.com/Vasu1712/otoge-battle-backend/internal/auth"
	"github.com/Vasu1712/otoge-battle-backend/internal/models"
	"github.com/Vasu1712/otoge-battle-backend/internal/room"
	"github.com/Vasu1712/otoge-battle-backend/internal/tournament"
)

// UserHandler serves the identity endpoints.
type UserHandler struct {
	Service *tournament.Service
	Tokens  *auth.Tokens
}

type connectResponse struct {
	models.User
	Token string `json:"token"`
}

// Connect issues an identity and a session token for the websocket handshake.
func (h *UserHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	u, err := h.Service.Connect(req.Username, false)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	token, err := h.Tokens.Issue(u.ID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, connectResponse{User: u, Token: token})
}

// Logout forgets the caller's identity.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	userID, err := Caller(r, h.Tokens, req.UserID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.Service.Logout(userID); err != nil {
		respond.Error(w, r, err)
		return
	}
	log.Info().Str("user", userID).Msg("[users] logout")
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.User(mux.Vars(r)["id"])
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, u)
}

var (
	// ErrSession rejects an Authorization header that does not verify.
	ErrSession = &room.Error{Kind: room.KindUnauthorized, Msg: "invalid session token"}
	// ErrSessionRequired rejects a privileged request without a bearer token.
	ErrSessionRequired = &room.Error{Kind: room.KindUnauthorized, Msg: "session token required"}
)

// Session resolves the acting user from the bearer token alone. Host-only
// routes use it so a room's public hostId cannot be replayed in a body.
func Session(r *http.Request, tokens *auth.Tokens) (string, error) {
	if _, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); !ok || tokens == nil {
		return "", ErrSessionRequired
	}
	return Caller(r, tokens, "")
}

// Caller resolves the acting user: a bearer token wins over the id in the
// request body.
func Caller(r *http.Request, tokens *auth.Tokens, bodyUserID string) (string, error) {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && tokens != nil {
		userID, err := tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			return "", ErrSession
		}
		return userID, nil
	}
	if bodyUserID == "" {
		return "", room.ErrUserNotFound
	}
	return bodyUserID, nil
}
