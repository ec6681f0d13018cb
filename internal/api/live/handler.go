package live

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Vasu1712/otoge-battle-backend/internal/api/respond"
	"github.com/Vasu1712/otoge-battle-backend/internal/auth"
	"github.com/Vasu1712/otoge-battle-backend/internal/models"
	"github.com/Vasu1712/otoge-battle-backend/internal/room"
	"github.com/Vasu1712/otoge-battle-backend/internal/tournament"
	"github.com/Vasu1712/otoge-battle-backend/internal/ws"
)

var (
	ErrUnknownAction = &room.Error{Kind: room.KindValidation, Msg: "unknown event type"}
	ErrNoIdentity    = &room.Error{Kind: room.KindValidation, Msg: "token or name is required"}
	ErrNoRoom        = &room.Error{Kind: room.KindValidation, Msg: "room is required"}
)

// LiveHandler upgrades websocket connections and routes client events to
// the tournament service.
type LiveHandler struct {
	Service  *tournament.Service // every room operation goes through here
	Hub      *ws.Hub             // connection registry and fan-out
	Tokens   *auth.Tokens        // verifies ?token= on the handshake
	upgrader websocket.Upgrader  // CheckOrigin bound to the configured origin
}

func NewLiveHandler(svc *tournament.Service, hub *ws.Hub, tokens *auth.Tokens, allowedOrigin string) *LiveHandler {
	return &LiveHandler{
		Service: svc,
		Hub:     hub,
		Tokens:  tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
	}
}

type inbound struct {
	Type string          `json:"type"`
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
}

type session struct {
	UserID string `json:"userId"`
	Name   string `json:"username"`
	ConnID string `json:"connId"`
}

// ServeWS binds the connection to an identity. "?token=" resumes one
// issued by /api/connect; "?name=" creates a socket-only identity that is
// forgotten when the connection closes.
func (h *LiveHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, err := h.identify(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("user", user.ID).Msg("[live] websocket upgrade failed")
		if user.Ephemeral {
			_ = h.Service.Logout(user.ID)
		}
		return
	}

	client := ws.NewClient(conn, user.ID)
	h.Hub.Register(client)
	h.Service.Attach(user.ID)
	log.Info().Str("user", user.ID).Str("conn", client.ConnID).Msg("[live] websocket connected")

	h.Hub.SendConn(client.ConnID, models.Event{Type: models.EventSession, Data: session{UserID: user.ID, Name: user.Name, ConnID: client.ConnID}})
	h.Hub.SendConn(client.ConnID, models.Event{Type: models.EventRoomList, Data: h.Service.ListRooms()})

	client.Serve(h.Hub, h.dispatch, func(c *ws.Client) {
		h.Service.Disconnect(c.UserID, c.ConnID)
		log.Info().Str("user", c.UserID).Str("conn", c.ConnID).Msg("[live] websocket disconnected")
	})
}

func (h *LiveHandler) identify(r *http.Request) (models.User, error) {
	q := r.URL.Query()
	if token := q.Get("token"); token != "" {
		userID, err := h.Tokens.Parse(token)
		if err != nil {
			return models.User{}, &room.Error{Kind: room.KindUnauthorized, Msg: "invalid session token"}
		}
		return h.Service.User(userID)
	}
	if name := q.Get("name"); name != "" {
		return h.Service.Connect(name, true)
	}
	return models.User{}, ErrNoIdentity
}

func (h *LiveHandler) dispatch(c *ws.Client, payload []byte) {
	var msg inbound
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.fail(c, "", respond.ErrBadRequest)
		return
	}
	roomID := msg.Room
	if roomID == "" {
		if u, err := h.Service.User(c.UserID); err == nil {
			roomID = u.RoomID
		}
	}
	if err := h.handle(c, msg, roomID); err != nil {
		log.Debug().Err(err).Str("user", c.UserID).Str("event", msg.Type).Str("room", roomID).Msg("[live] event rejected")
		h.fail(c, roomID, err)
	}
}

func (h *LiveHandler) handle(c *ws.Client, msg inbound, roomID string) error {
	needRoom := func() error {
		if roomID == "" {
			return ErrNoRoom
		}
		return nil
	}

	switch msg.Type {
	case models.ActionCreateRoom:
		var p struct {
			Name     string `json:"name"`
			Rule     string `json:"rule"`
			Password string `json:"password"`
			Capacity int    `json:"capacity"`
			AsPlayer *bool  `json:"asPlayer"`
		}
		if err := decodeData(msg.Data, &p); err != nil {
			return err
		}
		sum, err := h.Service.CreateRoom(tournament.CreateRoomParams{
			Name:      p.Name,
			Rule:      p.Rule,
			Password:  p.Password,
			CreatorID: c.UserID,
			Capacity:  p.Capacity,
		})
		if err != nil {
			return err
		}
		_, err = h.Service.Join(tournament.JoinParams{
			RoomID:   sum.ID,
			UserID:   c.UserID,
			Password: p.Password,
			AsPlayer: p.AsPlayer == nil || *p.AsPlayer,
			ConnID:   c.ConnID,
		})
		return err

	case models.ActionJoinRoom:
		var p struct {
			Password string `json:"password"`
			AsPlayer *bool  `json:"asPlayer"`
		}
		if err := decodeData(msg.Data, &p); err != nil {
			return err
		}
		if msg.Room == "" {
			return ErrNoRoom
		}
		_, err := h.Service.Join(tournament.JoinParams{
			RoomID:   msg.Room,
			UserID:   c.UserID,
			Password: p.Password,
			AsPlayer: p.AsPlayer == nil || *p.AsPlayer,
			ConnID:   c.ConnID,
		})
		return err

	case models.ActionLeaveRoom:
		if err := needRoom(); err != nil {
			return err
		}
		return h.Service.Leave(roomID, c.UserID)

	case models.ActionToggleRole:
		var p struct {
			IsPlayer bool `json:"isPlayer"`
		}
		if err := decodeData(msg.Data, &p); err != nil {
			return err
		}
		if err := needRoom(); err != nil {
			return err
		}
		return h.Service.ToggleRole(roomID, c.UserID, p.IsPlayer)

	case models.ActionSubmitScore:
		if err := needRoom(); err != nil {
			return err
		}
		score := models.ParseScoreInput(msg.Data)
		return h.Service.SubmitScore(roomID, c.UserID, score)

	case models.ActionFinishRound:
		if err := needRoom(); err != nil {
			return err
		}
		return h.Service.FinishRound(roomID, c.UserID)

	case models.ActionResetPoints:
		if err := needRoom(); err != nil {
			return err
		}
		return h.Service.ResetPoints(roomID, c.UserID)

	case models.ActionDeleteRoom:
		if err := needRoom(); err != nil {
			return err
		}
		return h.Service.DeleteRoom(roomID, c.UserID)

	case models.ActionListRooms:
		h.Hub.SendConn(c.ConnID, models.Event{Type: models.EventRoomList, Data: h.Service.ListRooms()})
		return nil

	case models.ActionChat:
		var p struct {
			Text string `json:"text"`
		}
		if err := decodeData(msg.Data, &p); err != nil {
			return err
		}
		if err := needRoom(); err != nil {
			return err
		}
		_, err := h.Service.Chat(roomID, c.UserID, p.Text)
		return err

	case models.ActionSync:
		if err := needRoom(); err != nil {
			return err
		}
		state, err := h.Service.Room(roomID)
		if err != nil {
			return err
		}
		h.Hub.SendConn(c.ConnID, models.Event{Type: models.EventRoomState, Room: roomID, Data: state})
		return nil
	}
	return ErrUnknownAction
}

// fail reports err to the originating connection only.
func (h *LiveHandler) fail(c *ws.Client, roomID string, err error) {
	h.Hub.SendConn(c.ConnID, models.Event{Type: models.EventError, Room: roomID, Data: respond.Body(err)})
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return respond.ErrBadRequest
	}
	return nil
}
