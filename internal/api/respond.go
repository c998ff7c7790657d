package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/gateway"
	"github.com/pysugar/area-nexus/internal/logging"
)

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConfiguration:
		return http.StatusInternalServerError
	case apperr.KindTransientProvider:
		return http.StatusBadGateway
	}
	var se *gateway.StatusError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	var body errorBody
	body.Error.Type = string(apperr.KindOf(err))
	body.Error.Message = err.Error()
	if status >= http.StatusInternalServerError {
		log.Printf("%s❌ [API] %s %s: %v", logging.Prefix(r.Context()), r.Method, r.URL.Path, err)
		if status == http.StatusInternalServerError && apperr.KindOf(err) == apperr.KindInternal {
			body.Error.Message = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func writeMessage(w http.ResponseWriter, status int, kind apperr.Kind, msg string) {
	var body errorBody
	body.Error.Type = string(kind)
	body.Error.Message = msg
	writeJSON(w, status, body)
}
