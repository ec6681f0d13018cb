package rooms

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoomRoutes mounts the room endpoints under /api/rooms.
func RegisterRoomRoutes(r *mux.Router, handler *RoomHandler) {
	s := r.PathPrefix("/api/rooms").Subrouter()
	s.HandleFunc("", handler.ListRooms).Methods(http.MethodGet)
	s.HandleFunc("", handler.CreateRoom).Methods(http.MethodPost)
	s.HandleFunc("/{id}", handler.GetRoom).Methods(http.MethodGet)
	s.HandleFunc("/{id}", handler.DeleteRoom).Methods(http.MethodDelete)
	s.HandleFunc("/{id}/history", handler.History).Methods(http.MethodGet)
	s.HandleFunc("/{id}/join", handler.JoinRoom).Methods(http.MethodPost)
	s.HandleFunc("/{id}/leave", handler.LeaveRoom).Methods(http.MethodPost)
	s.HandleFunc("/{id}/role", handler.ToggleRole).Methods(http.MethodPost)
	s.HandleFunc("/{id}/score", handler.SubmitScore).Methods(http.MethodPost)
	s.HandleFunc("/{id}/finish", handler.FinishRound).Methods(http.MethodPost)
	s.HandleFunc("/{id}/reset-points", handler.ResetPoints).Methods(http.MethodPost)
	s.HandleFunc("/{id}/chat", handler.Chat).Methods(http.MethodPost)
}
