package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/pkg/models"
)

type ActivityHandler struct {
	activity *services.GuardActivityService
}

func NewActivityHandler(activity *services.GuardActivityService) *ActivityHandler {
	return &ActivityHandler{activity: activity}
}

func (h *ActivityHandler) GuardHistory(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	records, err := h.activity.History(r.Context(), actor, chi.URLParam(r, "guard_id"), queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.HistoryResponse{Verifications: records, Count: len(records)})
}

func (h *ActivityHandler) GuardStats(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	stats, err := h.activity.Stats(r.Context(), actor, chi.URLParam(r, "guard_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *ActivityHandler) EstateActivity(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	records, err := h.activity.EstateHistory(r.Context(), actor, queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.HistoryResponse{Verifications: records, Count: len(records)})
}
