package api

import (
	"net/http"

	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/pkg/models"
)

type AuthHandler struct {
	authService *services.AuthService
	directory   *services.DirectoryService
}

func NewAuthHandler(authService *services.AuthService, directory *services.DirectoryService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		directory:   directory,
	}
}

// Login exchanges a Firebase ID token for an API token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FirebaseToken == "" {
		respondErrorJSON(w, http.StatusBadRequest, "firebase_token is required")
		return
	}

	resp, err := h.authService.Login(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Me returns the caller's profile. It works for pending accounts too.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r)
	if !ok {
		respondErrorJSON(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.directory.GetUser(r.Context(), actor, actor.UserID)
	if err != nil {
		if actor.PlatformAdmin {
			respondJSON(w, http.StatusOK, &models.User{
				ID:     actor.UserID,
				Email:  actor.Email,
				Role:   actor.Role,
				Status: actor.Status,
			})
			return
		}
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}
