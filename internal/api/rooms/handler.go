package rooms

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Vasu1712/otoge-battle-backend/internal/api/respond"
	"github.com/Vasu1712/otoge-battle-backend/internal/api/users"
	"github.com/Vasu1712/otoge-battle-backend/internal/auth"
	"github.com/Vasu1712/otoge-battle-backend/internal/models"
	"github.com/Vasu1712/otoge-battle-backend/internal/tournament"
)

const maxBody = 64 << 10

// RoomHandler serves the room endpoints. Acting users are named by
// "userId" in the body or by a bearer token; host-only routes accept the
// token alone.
type RoomHandler struct {
	Service *tournament.Service
	Tokens  *auth.Tokens // bearer tokens; required for host-only routes
}

type actor struct {
	UserID string `json:"userId"`
}

func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.Service.ListRooms())
}

func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		actor
		Name     string `json:"name"`
		Rule     string `json:"rule"`
		Password string `json:"password"`
		Capacity int    `json:"capacity"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	creator := req.UserID
	if r.Header.Get("Authorization") != "" {
		id, err := users.Caller(r, h.Tokens, req.UserID)
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		creator = id
	}
	sum, err := h.Service.CreateRoom(tournament.CreateRoomParams{
		Name:      req.Name,
		Rule:      req.Rule,
		Password:  req.Password,
		CreatorID: creator,
		Capacity:  req.Capacity,
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	log.Info().Str("room", sum.ID).Str("name", sum.Name).Str("rule", string(sum.Rule)).Msg("[rooms] created")
	respond.JSON(w, http.StatusCreated, sum)
}

func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	state, err := h.Service.Room(mux.Vars(r)["id"])
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, state)
}

func (h *RoomHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.Service.History(mux.Vars(r)["id"])
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if history == nil {
		history = []models.HistoryEntry{}
	}
	respond.JSON(w, http.StatusOK, history)
}

// JoinRoom joins as a player unless "asPlayer" is false.
func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		actor
		Password string `json:"password"`
		AsPlayer *bool  `json:"asPlayer"`
	}
	userID, ok := h.decode(w, r, &req, &req.actor)
	if !ok {
		return
	}
	asPlayer := req.AsPlayer == nil || *req.AsPlayer
	state, err := h.Service.Join(tournament.JoinParams{
		RoomID:   mux.Vars(r)["id"],
		UserID:   userID,
		Password: req.Password,
		AsPlayer: asPlayer,
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, state)
}

func (h *RoomHandler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	var req actor
	userID, ok := h.decode(w, r, &req, &req)
	if !ok {
		return
	}
	if err := h.Service.Leave(mux.Vars(r)["id"], userID); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) ToggleRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		actor
		IsPlayer bool `json:"isPlayer"`
	}
	userID, ok := h.decode(w, r, &req, &req.actor)
	if !ok {
		return
	}
	if err := h.Service.ToggleRole(mux.Vars(r)["id"], userID, req.IsPlayer); err != nil {
		respond.Error(w, r, err)
		return
	}
	h.writeState(w, r)
}

// SubmitScore takes {"userId", "normalScore", "exScore"}. Non-numeric
// scores are accepted and ignored.
func (h *RoomHandler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		respond.Error(w, r, respond.ErrBadRequest)
		return
	}
	var req actor
	if err := json.Unmarshal(raw, &req); err != nil {
		respond.Error(w, r, respond.ErrBadRequest)
		return
	}
	userID, err := users.Caller(r, h.Tokens, req.UserID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	score := models.ParseScoreInput(raw)
	if err := h.Service.SubmitScore(mux.Vars(r)["id"], userID, score); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) FinishRound(w http.ResponseWriter, r *http.Request) {
	var req actor
	userID, ok := h.decode(w, r, &req, &req)
	if !ok {
		return
	}
	if err := h.Service.FinishRound(mux.Vars(r)["id"], userID); err != nil {
		respond.Error(w, r, err)
		return
	}
	h.writeState(w, r)
}

// ResetPoints is host only and requires the session token.
func (h *RoomHandler) ResetPoints(w http.ResponseWriter, r *http.Request) {
	userID, err := users.Session(r, h.Tokens)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.Service.ResetPoints(mux.Vars(r)["id"], userID); err != nil {
		respond.Error(w, r, err)
		return
	}
	h.writeState(w, r)
}

func (h *RoomHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		actor
		Text string `json:"text"`
	}
	userID, ok := h.decode(w, r, &req, &req.actor)
	if !ok {
		return
	}
	msg, err := h.Service.Chat(mux.Vars(r)["id"], userID, req.Text)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, msg)
}

// DeleteRoom accepts the acting user in the body, a bearer token or the
// "userId" query parameter.
// DeleteRoom is host only and requires the session token.
func (h *RoomHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	userID, err := users.Session(r, h.Tokens)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.Service.DeleteRoom(mux.Vars(r)["id"], userID); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) decode(w http.ResponseWriter, r *http.Request, body any, who *actor) (string, bool) {
	if err := respond.Decode(r, body); err != nil {
		respond.Error(w, r, err)
		return "", false
	}
	userID, err := users.Caller(r, h.Tokens, who.UserID)
	if err != nil {
		respond.Error(w, r, err)
		return "", false
	}
	return userID, true
}

func (h *RoomHandler) writeState(w http.ResponseWriter, r *http.Request) {
	state, err := h.Service.Room(mux.Vars(r)["id"])
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, state)
}
