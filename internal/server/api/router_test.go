package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/kamikazebr/musa-estate/internal/server/outbox"
	"github.com/kamikazebr/musa-estate/internal/server/rtdb"
	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/version"
)

type stubVerifier map[string]string

func (s stubVerifier) VerifyIDToken(ctx context.Context, idToken string) (string, string, error) {
	email, ok := s[idToken]
	if !ok {
		return "", "", fmt.Errorf("bad token")
	}
	return strings.SplitN(email, "@", 2)[0], email, nil
}

type testServer struct {
	handler http.Handler
	tree    *rtdb.MemoryTree
	tokens  map[string]string
}

// newTestServer serves one estate with a household, a resident, a guard, an
// estate admin and a pending resident.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	tree := rtdb.NewMemoryTree()
	queue := outbox.NewMemoryQueue()

	audit := services.NewSecurityLogService(nil)
	policy := services.NewPolicy(audit)
	audit.SetPolicy(policy)

	directory := services.NewDirectoryService(tree, policy, queue, []string{"root@musa.estate"})
	codes := services.NewAccessCodeService(tree, policy, queue)
	activity := services.NewGuardActivityService(tree, policy)
	notifications := services.NewNotificationService(tree, policy)
	messages := services.NewGuestMessageService(tree, policy)
	gate := services.NewVerificationService(codes, activity, policy, queue)
	auth := services.NewAuthService(stubVerifier{"newbie-token": "newbie@example.com"}, directory, testSecret, time.Hour)

	seed := map[string]interface{}{
		"estates/estate1":                  models.Estate{ID: "estate1", Name: "Palm Grove", AdminIDs: map[string]bool{"admin1": true}},
		"households/house1":                models.Household{ID: "house1", EstateID: "estate1", Name: "No. 4", Members: map[string]bool{"res1": true}},
		"householdsByEstate/estate1/house1": true,
	}
	users := []models.User{
		{ID: "res1", Role: models.RoleResident, Status: models.UserApproved, EstateID: "estate1", HouseholdID: "house1"},
		{ID: "guard1", Role: models.RoleGuard, Status: models.UserApproved, EstateID: "estate1"},
		{ID: "admin1", Role: models.RoleAdmin, Status: models.UserApproved, EstateID: "estate1"},
		{ID: "pending1", Role: models.RoleResident, Status: models.UserPending, EstateID: "estate1"},
	}
	for _, u := range users {
		u.Email = u.ID + "@example.com"
		u.DisplayName = "User " + u.ID
		seed["users/"+u.ID] = u
		seed["usersByEstate/estate1/"+u.ID] = true
	}
	if err := tree.Update(ctx, "", seed); err != nil {
		t.Fatalf("Failed to seed tree: %v", err)
	}

	s := &testServer{
		tree:   tree,
		tokens: make(map[string]string),
		handler: NewRouter(Handlers{
			Auth:          NewAuthHandler(auth, directory),
			AccessCodes:   NewAccessCodeHandler(codes, gate),
			Activity:      NewActivityHandler(activity),
			Notifications: NewNotificationHandler(notifications),
			GuestMessages: NewGuestMessageHandler(messages, []string{"*"}),
			Admin:         NewAdminHandler(directory, audit),
		}, testSecret, directory),
	}
	for _, u := range users {
		s.tokens[u.ID] = mustToken(t, u.ID)
	}
	return s
}

func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[user])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestVersionAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/version", "", nil)
	var info version.Info
	decodeBody(t, rec, &info)
	if info.Name != "musa-server" || info.GoVersion == "" {
		t.Errorf("unexpected version info: %+v", info)
	}

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics endpoint not serving the default registry: %d", rec.Code)
	}
}

func TestLoginRegistersPendingUser(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without firebase_token, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{FirebaseToken: "forged"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for rejected token, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{FirebaseToken: "newbie-token", EstateID: "estate1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.LoginResponse
	decodeBody(t, rec, &resp)
	if resp.Token == "" || resp.User == nil || resp.User.Status != models.UserPending {
		t.Fatalf("unexpected login response: %+v", resp)
	}
}

func TestPendingUserOnlyReachesProfile(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/me", "pending1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for /api/me, got %d", rec.Code)
	}
	var user models.User
	decodeBody(t, rec, &user)
	if user.Status != models.UserPending {
		t.Errorf("status = %s, want pending", user.Status)
	}

	rec = s.do(t, http.MethodGet, "/api/notifications", "pending1", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for pending user, got %d", rec.Code)
	}
}

func TestAccessCodeRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/access-codes", "res1", models.CreateAccessCodeRequest{
		Description:     "Plumber",
		ValidForMinutes: 60,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var code models.AccessCode
	decodeBody(t, rec, &code)
	if code.HouseholdID != "house1" || code.ExpiresAt == nil {
		t.Fatalf("unexpected code: %+v", code)
	}

	rec = s.do(t, http.MethodGet, "/api/access-codes", "res1", nil)
	var list models.ListAccessCodesResponse
	decodeBody(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("expected 1 code, got %d", list.Count)
	}

	rec = s.do(t, http.MethodGet, "/api/access-codes/"+code.ID+"/qr", "res1", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("unexpected QR response: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = s.do(t, http.MethodPost, "/api/verify", "res1", models.VerifyCodeRequest{Code: code.Code})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for resident at the gate, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/verify", "guard1", models.VerifyCodeRequest{Code: strings.ToLower(code.Code)})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result models.VerificationResult
	decodeBody(t, rec, &result)
	if !result.IsValid || result.AccessCode == nil || result.AccessCode.QRCode != "" {
		t.Fatalf("unexpected verification: %+v", result)
	}

	rec = s.do(t, http.MethodGet, "/api/guards/guard1/history", "admin1", nil)
	var history models.HistoryResponse
	decodeBody(t, rec, &history)
	if history.Count != 1 || !history.Verifications[0].IsValid {
		t.Errorf("unexpected history: %+v", history)
	}

	rec = s.do(t, http.MethodPost, "/api/access-codes/"+code.ID+"/deactivate", "guard1", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner deactivate, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/access-codes/"+code.ID+"/deactivate", "res1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner deactivate, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/verify", "guard1", models.VerifyCodeRequest{Code: code.Code})
	decodeBody(t, rec, &result)
	if result.IsValid {
		t.Error("deactivated code verified")
	}
}

func TestServiceErrorMapping(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		want   int
	}{
		{"unknown code", http.MethodGet, "/api/access-codes/nope", "res1", nil, http.StatusNotFound},
		{"bad body", http.MethodPost, "/api/access-codes", "res1", "not an object", http.StatusBadRequest},
		{"past expiry", http.MethodPost, "/api/access-codes", "res1", models.CreateAccessCodeRequest{HouseholdID: "house1", ExpiresAt: new(int64)}, http.StatusBadRequest},
		{"foreign household", http.MethodPost, "/api/access-codes", "guard1", models.CreateAccessCodeRequest{HouseholdID: "house1"}, http.StatusForbidden},
		{"admin only", http.MethodGet, "/api/admin/users/pending", "res1", nil, http.StatusForbidden},
		{"unknown user", http.MethodPost, "/api/admin/users/ghost/approve", "admin1", nil, http.StatusNotFound},
		{"no auth", http.MethodGet, "/api/notifications", "", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.user, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			var resp models.ErrorResponse
			decodeBody(t, rec, &resp)
			if resp.Error != http.StatusText(tt.want) {
				t.Errorf("error = %q", resp.Error)
			}
		})
	}
}

func TestAdminApprovesPendingUser(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/admin/users/pending", "admin1", nil)
	var pending []models.User
	decodeBody(t, rec, &pending)
	if len(pending) != 1 || pending[0].ID != "pending1" {
		t.Fatalf("unexpected pending list: %+v", pending)
	}

	rec = s.do(t, http.MethodPost, "/api/admin/users/pending1/approve", "admin1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/notifications", "pending1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected approved user to pass, got %d", rec.Code)
	}
}

func TestGuestMessageRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/guest-messages", "", models.SendGuestMessageInput{
		HouseholdID: "house1",
		GuestName:   "Ada",
		Message:     "At the gate",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var msg models.GuestMessage
	decodeBody(t, rec, &msg)

	rec = s.do(t, http.MethodGet, "/api/households/house1/messages", "res1", nil)
	var list models.ListGuestMessagesResponse
	decodeBody(t, rec, &list)
	if list.Count != 1 || list.Messages[0].Status != models.GuestMessageSent {
		t.Fatalf("unexpected list: %+v", list)
	}

	rec = s.do(t, http.MethodPost, "/api/guest-messages/"+msg.ID+"/status", "res1", models.UpdateMessageStatusRequest{Status: models.GuestMessageRead})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/api/guest-messages/"+msg.ID+"/status", "res1", models.UpdateMessageStatusRequest{Status: models.GuestMessageDelivered})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for backwards status, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/households/house1/messages", "guard1", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", rec.Code)
	}
}

func TestGuestMessageStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/households/house1/messages/stream?access_token=" + s.tokens["res1"]
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Failed to dial stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first models.ListGuestMessagesResponse
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("Failed to read initial list: %v", err)
	}
	if first.Count != 0 {
		t.Fatalf("expected empty initial list, got %+v", first)
	}

	rec := s.do(t, http.MethodPost, "/api/guest-messages", "", models.SendGuestMessageInput{
		HouseholdID: "house1",
		GuestName:   "Ada",
		Message:     "Delivery for you",
		Type:        models.GuestMessageTypeDelivery,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	for {
		var update models.ListGuestMessagesResponse
		if err := wsjson.Read(ctx, conn, &update); err != nil {
			t.Fatalf("Failed to read update: %v", err)
		}
		if update.Count == 1 {
			if update.Messages[0].Status != models.GuestMessageDelivered {
				t.Errorf("status = %s, want delivered", update.Messages[0].Status)
			}
			return
		}
	}
}

func TestGuestMessageStreamFailedUpgradeKeepsStatus(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/guest-messages", "", models.SendGuestMessageInput{
		HouseholdID: "house1",
		GuestName:   "Ada",
		Message:     "At the gate",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var msg models.GuestMessage
	decodeBody(t, rec, &msg)

	rec = s.do(t, http.MethodGet, "/api/households/house1/messages/stream", "res1", nil)
	if rec.Code == http.StatusSwitchingProtocols || rec.Code < 400 {
		t.Fatalf("expected plain GET to be refused, got %d", rec.Code)
	}

	var stored models.GuestMessage
	if _, err := s.tree.Get(context.Background(), "guestMessages/"+msg.ID, &stored); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if stored.Status != models.GuestMessageSent {
		t.Errorf("status = %s, want sent", stored.Status)
	}
}

func TestGuestMessageStreamRejectsOutsider(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/households/house1/messages/stream?access_token=" + s.tokens["guard1"]
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 response, got %+v", resp)
	}
}
