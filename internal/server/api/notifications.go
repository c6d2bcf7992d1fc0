package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/pkg/models"
)

type NotificationHandler struct {
	notifications *services.NotificationService
}

func NewNotificationHandler(notifications *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	list, err := h.notifications.List(r.Context(), actor, actor.UserID, queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	unread, err := h.notifications.UnreadCount(r.Context(), actor, actor.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.ListNotificationsResponse{Notifications: list, Unread: unread})
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	unread, err := h.notifications.UnreadCount(r.Context(), actor, actor.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.UnreadCountResponse{Unread: unread})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	if err := h.notifications.MarkRead(r.Context(), actor, actor.UserID, chi.URLParam(r, "notification_id")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	n, err := h.notifications.MarkAllRead(r.Context(), actor, actor.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"marked": n})
}
