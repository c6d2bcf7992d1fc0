package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/utils"
)

const testSecret = "test-secret"

type stubResolver map[string]models.Actor

func (s stubResolver) ResolveActor(ctx context.Context, userID, email string) (models.Actor, *models.User, error) {
	actor, ok := s[userID]
	if !ok {
		return models.Actor{}, nil, services.ErrUserNotFound
	}
	return actor, nil, nil
}

func mustToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := utils.GenerateJWT(userID, userID+"@example.com", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	return token
}

func withActor(r *http.Request, actor models.Actor) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), actorKey, actor))
}

func TestAuthMiddleware_RejectsMissingAndMalformed(t *testing.T) {
	handler := AuthMiddleware(testSecret, stubResolver{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	}))

	for name, header := range map[string]string{
		"missing":   "",
		"no bearer": "Token abc",
		"garbage":   "Bearer not-a-jwt",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestAuthMiddleware_LoadsActor(t *testing.T) {
	resolver := stubResolver{"res1": {UserID: "res1", Role: models.RoleResident, Status: models.UserApproved}}

	var got models.Actor
	handler := AuthMiddleware(testSecret, resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetActor(r)
		if GetUserClaims(r) == nil {
			t.Error("expected claims in context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, "res1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got.UserID != "res1" || got.Role != models.RoleResident {
		t.Errorf("unexpected actor: %+v", got)
	}
}

func TestAuthMiddleware_AcceptsQueryToken(t *testing.T) {
	resolver := stubResolver{"res1": {UserID: "res1", Status: models.UserApproved}}
	called := false
	handler := AuthMiddleware(testSecret, resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/households/h/messages/stream?access_token="+mustToken(t, "res1"), nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatal("expected query token to be accepted")
	}
}

func TestAuthMiddleware_UnknownUser(t *testing.T) {
	handler := AuthMiddleware(testSecret, stubResolver{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, "ghost"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", rec.Code)
	}
}

func TestApprovedMiddleware(t *testing.T) {
	handler := ApprovedMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		actor models.Actor
		want  int
	}{
		{models.Actor{UserID: "a", Status: models.UserApproved}, http.StatusNoContent},
		{models.Actor{UserID: "b", Status: models.UserPending}, http.StatusForbidden},
		{models.Actor{UserID: "c", Status: models.UserSuspended}, http.StatusForbidden},
		{models.Actor{UserID: "root", PlatformAdmin: true}, http.StatusNoContent},
	}
	for _, tt := range tests {
		req := withActor(httptest.NewRequest(http.MethodGet, "/api/notifications", nil), tt.actor)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.actor.UserID, tt.want, rec.Code)
		}
	}
}

func TestRoleMiddleware(t *testing.T) {
	handler := RoleMiddleware(models.RoleGuard, models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		actor models.Actor
		want  int
	}{
		{models.Actor{UserID: "guard", Role: models.RoleGuard, Status: models.UserApproved}, http.StatusNoContent},
		{models.Actor{UserID: "resident", Role: models.RoleResident, Status: models.UserApproved}, http.StatusForbidden},
		{models.Actor{UserID: "pending-guard", Role: models.RoleGuard, Status: models.UserPending}, http.StatusForbidden},
		{models.Actor{UserID: "root", Role: models.RoleResident, PlatformAdmin: true}, http.StatusNoContent},
	}
	for _, tt := range tests {
		req := withActor(httptest.NewRequest(http.MethodPost, "/api/verify", nil), tt.actor)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.actor.UserID, tt.want, rec.Code)
		}
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/access-codes", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
