package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/utils"
)

type contextKey string

const (
	userClaimsKey contextKey = "userClaims"
	actorKey      contextKey = "actor"
)

// ActorResolver loads the current user record behind a token.
type ActorResolver interface {
	ResolveActor(ctx context.Context, userID, email string) (models.Actor, *models.User, error)
}

// AuthMiddleware validates the bearer token and loads the caller's actor.
// Role and status always come from the stored user, so approvals and
// suspensions apply to tokens already issued. Browsers cannot set headers on
// websocket upgrades, so ?access_token= is accepted as well.
func AuthMiddleware(jwtSecret string, resolver ActorResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("access_token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					respondErrorJSON(w, http.StatusUnauthorized, "invalid authorization header format")
					return
				}
				token = parts[1]
			}
			if token == "" {
				respondErrorJSON(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			claims, err := utils.ValidateJWT(token, jwtSecret)
			if err != nil {
				respondErrorJSON(w, http.StatusUnauthorized, "invalid token")
				return
			}

			actor, _, err := resolver.ResolveActor(r.Context(), claims.UserID, claims.Email)
			if err != nil {
				if errors.Is(err, services.ErrUserNotFound) {
					respondErrorJSON(w, http.StatusUnauthorized, "user not found")
					return
				}
				respondServiceError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), userClaimsKey, claims)
			ctx = context.WithValue(ctx, actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserClaims(r *http.Request) *utils.Claims {
	claims, ok := r.Context().Value(userClaimsKey).(*utils.Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetActor returns the caller loaded by AuthMiddleware.
func GetActor(r *http.Request) (models.Actor, bool) {
	actor, ok := r.Context().Value(actorKey).(models.Actor)
	return actor, ok
}

// ApprovedMiddleware stops pending, rejected and suspended accounts.
func ApprovedMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r)
		if !ok {
			respondErrorJSON(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !actor.Approved() {
			respondErrorJSON(w, http.StatusForbidden, services.ErrNotApproved.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RoleMiddleware admits approved actors with one of roles. Platform admins
// always pass.
func RoleMiddleware(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActor(r)
			if !ok {
				respondErrorJSON(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if actor.PlatformAdmin {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if actor.Role == role && actor.Approved() {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondErrorJSON(w, http.StatusForbidden, "insufficient role")
		})
	}
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
