package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/pkg/models"
)

type AccessCodeHandler struct {
	codes *services.AccessCodeService
	gate  *services.VerificationService
}

func NewAccessCodeHandler(codes *services.AccessCodeService, gate *services.VerificationService) *AccessCodeHandler {
	return &AccessCodeHandler{codes: codes, gate: gate}
}

func (h *AccessCodeHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	var req models.CreateAccessCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	householdID := req.HouseholdID
	if householdID == "" {
		householdID = actor.HouseholdID
	}
	expiresAt := req.ExpiresAt
	if expiresAt == nil && req.ValidForMinutes > 0 {
		ms := time.Now().Add(time.Duration(req.ValidForMinutes) * time.Minute).UnixMilli()
		expiresAt = &ms
	}

	code, err := h.codes.Create(r.Context(), actor, models.CreateAccessCodeInput{
		HouseholdID: householdID,
		Description: req.Description,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, code)
}

// List returns the caller's codes, or a household's with ?household_id=.
func (h *AccessCodeHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	var (
		codes []models.AccessCode
		err   error
	)
	if householdID := r.URL.Query().Get("household_id"); householdID != "" {
		codes, err = h.codes.ListByHousehold(r.Context(), actor, householdID)
	} else {
		codes, err = h.codes.ListByOwner(r.Context(), actor, actor.UserID)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.ListAccessCodesResponse{AccessCodes: codes, Count: len(codes)})
}

func (h *AccessCodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	code, err := h.codes.Get(r.Context(), actor, chi.URLParam(r, "code_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, code)
}

func (h *AccessCodeHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	code, err := h.codes.Deactivate(r.Context(), actor, chi.URLParam(r, "code_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, code)
}

// QR serves the code as a PNG, sized with ?size=.
func (h *AccessCodeHandler) QR(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	png, err := h.codes.QRPNG(r.Context(), actor, chi.URLParam(r, "code_id"), size)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// Verify checks a code at the gate. Unusable codes are a 200 with
// isValid=false.
func (h *AccessCodeHandler) Verify(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	var req models.VerifyCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.gate.Verify(r.Context(), actor, req.Code, req.DestinationAddress)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if result.AccessCode != nil {
		result.AccessCode.QRCode = ""
	}
	respondJSON(w, http.StatusOK, result)
}
