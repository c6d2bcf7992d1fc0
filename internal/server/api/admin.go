package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/pkg/models"
)

// AdminHandler serves account review and estate setup.
type AdminHandler struct {
	directory *services.DirectoryService
	security  *services.SecurityLogService
}

func NewAdminHandler(directory *services.DirectoryService, security *services.SecurityLogService) *AdminHandler {
	return &AdminHandler{
		directory: directory,
		security:  security,
	}
}

func (h *AdminHandler) ListPendingUsers(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	users, err := h.directory.ListPending(r.Context(), actor, r.URL.Query().Get("estate_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *AdminHandler) ApproveUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	user, err := h.directory.ApproveUser(r.Context(), actor, chi.URLParam(r, "user_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) RejectUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	req, ok := decodeReview(w, r)
	if !ok {
		return
	}
	user, err := h.directory.RejectUser(r.Context(), actor, chi.URLParam(r, "user_id"), req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) SuspendUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	req, ok := decodeReview(w, r)
	if !ok {
		return
	}
	user, err := h.directory.SuspendUser(r.Context(), actor, chi.URLParam(r, "user_id"), req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// decodeReview accepts an empty body since the reason is optional.
func decodeReview(w http.ResponseWriter, r *http.Request) (models.ReviewUserRequest, bool) {
	var req models.ReviewUserRequest
	if err := decodeJSON(r, &req); err != nil && err != io.EOF {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	return req, true
}

func (h *AdminHandler) CreateEstate(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	var req models.CreateEstateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	estate, err := h.directory.CreateEstate(r.Context(), actor, req.Name, req.Address)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, estate)
}

func (h *AdminHandler) ListEstates(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	estates, err := h.directory.ListEstates(r.Context(), actor)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, estates)
}

func (h *AdminHandler) GetEstate(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	estate, err := h.directory.GetEstate(r.Context(), actor, chi.URLParam(r, "estate_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, estate)
}

func (h *AdminHandler) AddEstateAdmin(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	var req models.MemberRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		respondErrorJSON(w, http.StatusBadRequest, "user_id is required")
		return
	}
	estate, err := h.directory.AddEstateAdmin(r.Context(), actor, chi.URLParam(r, "estate_id"), req.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, estate)
}

func (h *AdminHandler) RemoveEstateAdmin(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	estate, err := h.directory.RemoveEstateAdmin(r.Context(), actor, chi.URLParam(r, "estate_id"), chi.URLParam(r, "user_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, estate)
}

func (h *AdminHandler) CreateHousehold(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	var req models.CreateHouseholdRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	estateID := req.EstateID
	if estateID == "" {
		estateID = actor.EstateID
	}
	household, err := h.directory.CreateHousehold(r.Context(), actor, estateID, req.Name, req.Address)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, household)
}

func (h *AdminHandler) ListHouseholds(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	estateID := r.URL.Query().Get("estate_id")
	if estateID == "" {
		estateID = actor.EstateID
	}
	households, err := h.directory.ListHouseholds(r.Context(), actor, estateID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, households)
}

func (h *AdminHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	var req models.MemberRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		respondErrorJSON(w, http.StatusBadRequest, "user_id is required")
		return
	}
	household, err := h.directory.AddMember(r.Context(), actor, chi.URLParam(r, "household_id"), req.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, household)
}

func (h *AdminHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	household, err := h.directory.RemoveMember(r.Context(), actor, chi.URLParam(r, "household_id"), chi.URLParam(r, "user_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, household)
}

// SecurityLogs lists audit entries for ?estate_id=, or the platform scope
// when a platform admin omits it.
func (h *AdminHandler) SecurityLogs(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	entries, err := h.security.List(r.Context(), actor, r.URL.Query().Get("estate_id"), queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
