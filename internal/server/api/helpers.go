package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/pkg/models"
)

const maxListLimit = 200

func writeJSON(w http.ResponseWriter, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(data)
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, data)
}

func respondErrorJSON(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, models.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// respondServiceError maps service sentinels to status codes. Anything
// unrecognized is logged and hidden behind a 500.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidStatusTransition):
		respondErrorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidToken):
		respondErrorJSON(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrNotApproved),
		errors.Is(err, services.ErrForbidden),
		errors.Is(err, services.ErrUnauthorizedCode):
		respondErrorJSON(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrEstateNotFound),
		errors.Is(err, services.ErrHouseholdNotFound),
		errors.Is(err, services.ErrAccessCodeNotFound),
		errors.Is(err, services.ErrNotificationNotFound),
		errors.Is(err, services.ErrGuestMessageNotFound),
		errors.Is(err, services.ErrDeviceNotFound):
		respondErrorJSON(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrConflict):
		respondErrorJSON(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrDeviceApprovalExpired):
		respondErrorJSON(w, http.StatusGone, err.Error())
	default:
		log.Printf("Error: %v", err)
		respondErrorJSON(w, http.StatusInternalServerError, "internal error")
	}
}

// queryLimit reads ?limit=, falling back to zero (the service default).
func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
