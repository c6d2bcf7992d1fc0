package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/utils"
)

type stubVerifier struct {
	uid, email string
	err        error
}

func (s stubVerifier) VerifyIDToken(ctx context.Context, idToken string) (string, string, error) {
	return s.uid, s.email, s.err
}

func TestLoginRegistersAndIssuesToken(t *testing.T) {
	f := newFixture(t)
	auth := NewAuthService(stubVerifier{uid: "fresh1", email: "fresh@example.com"}, f.directory, "test-secret-key-for-testing", time.Hour)

	resp, err := auth.Login(f.ctx, models.LoginRequest{FirebaseToken: "id-token", DisplayName: "Fresh", EstateID: "estate1"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.User.ID != "fresh1" || resp.User.Status != models.UserPending {
		t.Errorf("Unexpected user: %+v", resp.User)
	}

	claims, err := utils.ValidateJWT(resp.Token, "test-secret-key-for-testing")
	if err != nil {
		t.Fatalf("Token should validate: %v", err)
	}
	if claims.UserID != "fresh1" || claims.Email != "fresh@example.com" {
		t.Errorf("Unexpected claims: %+v", claims)
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Errorf("ExpiresAt should be RFC3339: %v", err)
	}
}

func TestLoginRejectsBadTokens(t *testing.T) {
	f := newFixture(t)

	auth := NewAuthService(stubVerifier{err: errors.New("expired")}, f.directory, "secret", time.Hour)
	if _, err := auth.Login(f.ctx, models.LoginRequest{FirebaseToken: "x"}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
	if _, err := auth.Login(f.ctx, models.LoginRequest{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}

	noEmail := NewAuthService(stubVerifier{uid: "u"}, f.directory, "secret", time.Hour)
	if _, err := noEmail.Login(f.ctx, models.LoginRequest{FirebaseToken: "x"}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken without email, got %v", err)
	}

	noSecret := NewAuthService(stubVerifier{uid: "res1", email: "res1@example.com"}, f.directory, "", time.Hour)
	if _, err := noSecret.Login(f.ctx, models.LoginRequest{FirebaseToken: "x"}); err == nil {
		t.Error("Expected an error without a JWT secret")
	}
}

func TestSecurityLogScopes(t *testing.T) {
	f := newFixture(t)

	f.audit.Record(f.ctx, models.SecurityLogEntry{EstateID: "estate1", ActorID: "admin1", Action: models.SecurityActionUserApproved, TargetID: "res1"})
	f.audit.Record(f.ctx, models.SecurityLogEntry{EstateID: "estate2", ActorID: "x", Action: models.SecurityActionUserApproved})
	f.audit.Record(f.ctx, models.SecurityLogEntry{ActorID: "res1", Action: models.SecurityActionDeviceApproved})

	entries, err := f.audit.List(f.ctx, f.admin, "", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].TargetID != "res1" || entries[0].ID == "" || entries[0].CreatedAt.IsZero() {
		t.Errorf("Expected one estate1 entry, got %+v", entries)
	}

	if _, err := f.audit.List(f.ctx, f.admin, "estate2", 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for another estate, got %v", err)
	}
	if _, err := f.audit.List(f.ctx, f.resident, "", 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for resident, got %v", err)
	}

	platform, err := f.audit.List(f.ctx, f.platform, "", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(platform) != 1 || platform[0].Action != models.SecurityActionDeviceApproved {
		t.Errorf("Expected the platform-level entry, got %+v", platform)
	}
}

func TestEmailDeliverSkipsWhenDisabled(t *testing.T) {
	email := NewEmailService("", "noreply@musa.estate", true)

	for _, job := range []EmailJob{
		{Template: EmailApprovalRequest, To: "admin@example.com", Data: map[string]string{"name": "<b>Ada</b>"}},
		{Template: EmailAccountApproved, To: "ada@example.com"},
		{Template: EmailDeviceApproval, To: "ada@example.com", Data: map[string]string{"link": "https://x/approve/t"}},
	} {
		if err := email.Deliver(job); err != nil {
			t.Errorf("Deliver(%s) failed: %v", job.Template, err)
		}
	}
	if err := email.Deliver(EmailJob{Template: "newsletter", To: "a@example.com"}); err == nil {
		t.Error("Expected an error for an unknown template")
	}
	if err := email.Deliver(EmailJob{Template: EmailAccountApproved}); err == nil {
		t.Error("Expected an error without a recipient")
	}
}
