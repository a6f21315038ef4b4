package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "github.com/unclebandit/leadnurture/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, status int, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	body["success"] = true
	writeJSON(w, status, body)
}

// WriteError maps an error kind to a status and the {success:false} body.
func WriteError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), map[string]any{"success": false, "error": err.Error()})
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, appErrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrInvalidStateTransition), errors.Is(err, appErrors.ErrDuplicateLead),
		errors.Is(err, appErrors.ErrDuplicateCampaign):
		return http.StatusConflict
	case errors.Is(err, appErrors.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
