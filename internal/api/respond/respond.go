// Package respond writes JSON bodies and maps room errors to HTTP statuses.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Vasu1712/otoge-battle-backend/internal/models"
	"github.com/Vasu1712/otoge-battle-backend/internal/room"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("[api] failed to write response")
	}
}

// Status maps an error kind to its HTTP status.
func Status(kind room.Kind) int {
	switch kind {
	case room.KindValidation:
		return http.StatusBadRequest
	case room.KindNotFound:
		return http.StatusNotFound
	case room.KindUnauthorized:
		return http.StatusForbidden
	case room.KindCapacity, room.KindIllegalState:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Body is the error document for err. Internal failures never expose
// their message.
func Body(err error) models.ErrorBody {
	kind := room.KindOf(err)
	msg := err.Error()
	if kind == room.KindInternal {
		msg = "internal error"
	}
	return models.ErrorBody{Code: kind.String(), Message: msg}
}

// Error writes err as a classified JSON error.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	kind := room.KindOf(err)
	if kind == room.KindInternal {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("[api] request failed")
	}
	JSON(w, Status(kind), Body(err))
}

// ErrBadRequest marks a body that could not be decoded.
var ErrBadRequest = &room.Error{Kind: room.KindValidation, Msg: "invalid request body"}

// Decode reads a JSON body into v. An empty body leaves v untouched.
func Decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("[api] bad request body")
		return ErrBadRequest
	}
	return nil
}
