package live

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterLiveRoutes mounts the websocket endpoint.
func RegisterLiveRoutes(r *mux.Router, handler *LiveHandler) {
	r.HandleFunc("/ws", handler.ServeWS).Methods(http.MethodGet)
}
