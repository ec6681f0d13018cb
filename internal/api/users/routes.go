package users

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterUserRoutes mounts the identity endpoints under /api.
func RegisterUserRoutes(r *mux.Router, handler *UserHandler) {
	r.HandleFunc("/api/connect", handler.Connect).Methods(http.MethodPost)
	r.HandleFunc("/api/logout", handler.Logout).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{id}", handler.GetUser).Methods(http.MethodGet)
}
