package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edvin/pagehost/internal/errs"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errs.IsValidation(err):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errs.IsNotFound(err):
		WriteError(w, http.StatusNotFound, err.Error())
	case errs.IsConflict(err):
		WriteError(w, http.StatusConflict, err.Error())
	case errs.IsRecoverable(err):
		WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		var ee *errs.ExternalError
		if errors.As(err, &ee) {
			WriteError(w, http.StatusBadGateway, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
