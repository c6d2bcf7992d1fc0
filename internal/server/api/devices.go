package api

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/pkg/models"
)

type DeviceHandler struct {
	devices *services.DeviceApprovalService
}

func NewDeviceHandler(devices *services.DeviceApprovalService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

func (h *DeviceHandler) Check(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	var req models.DeviceCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.devices.Check(r.Context(), actor, req.Fingerprint)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// RequestApproval emails the user a link that trusts this device.
func (h *DeviceHandler) RequestApproval(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	var req models.DeviceCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	device, err := h.devices.RequestApproval(r.Context(), actor, req.Fingerprint, req.Label, ip)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, models.DeviceCheckResponse{
		Status:   device.Status,
		DeviceID: device.ID.String(),
	})
}

// Approve is the link target from the approval email. The token is the
// credential, so it sits outside the auth middleware.
func (h *DeviceHandler) Approve(w http.ResponseWriter, r *http.Request) {
	device, err := h.devices.Approve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.DeviceCheckResponse{
		Status:   device.Status,
		DeviceID: device.ID.String(),
	})
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	devices, err := h.devices.List(r.Context(), actor)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, devices)
}

func (h *DeviceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	id, err := uuid.Parse(chi.URLParam(r, "device_id"))
	if err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid device ID")
		return
	}
	if err := h.devices.Remove(r.Context(), actor, id); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
