package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/utils"
)

// ErrInvalidToken is returned when the identity provider rejects a token.
var ErrInvalidToken = errors.New("invalid identity token")

// TokenVerifier checks an identity token and returns the user's UID and
// email. FirebaseService satisfies it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (uid, email string, err error)
}

type AuthService struct {
	verifier   TokenVerifier
	directory  *DirectoryService
	jwtSecret  string
	expiration time.Duration
}

func NewAuthService(verifier TokenVerifier, directory *DirectoryService, jwtSecret string, expiration time.Duration) *AuthService {
	return &AuthService{
		verifier:   verifier,
		directory:  directory,
		jwtSecret:  jwtSecret,
		expiration: expiration,
	}
}

// Login exchanges an identity token for an API token, registering the user on
// first sign-in. New accounts start pending.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if s.verifier == nil {
		return nil, fmt.Errorf("identity provider not configured")
	}
	if req.FirebaseToken == "" {
		return nil, fmt.Errorf("%w: firebase_token is required", ErrInvalidInput)
	}

	uid, email, err := s.verifier.VerifyIDToken(ctx, req.FirebaseToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if email == "" {
		return nil, fmt.Errorf("%w: token has no email", ErrInvalidToken)
	}

	user, _, err := s.directory.Register(ctx, uid, email, RegisterInput{
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
		Role:        req.Role,
		EstateID:    req.EstateID,
		HouseholdID: req.HouseholdID,
	})
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &models.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		User:      user,
	}, nil
}

// GenerateToken issues an API token for a user.
func (s *AuthService) GenerateToken(userID, email string) (string, time.Time, error) {
	if s.jwtSecret == "" {
		return "", time.Time{}, fmt.Errorf("JWT_SECRET not configured")
	}
	token, err := utils.GenerateJWT(userID, email, s.jwtSecret, s.expiration)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate JWT: %w", err)
	}
	return token, time.Now().UTC().Add(s.expiration), nil
}
