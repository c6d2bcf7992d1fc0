package services

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

type FirebaseService struct {
	app        *firebase.App
	authClient *auth.Client
}

// NewFirebaseService initializes the Firebase Admin SDK. databaseURL points
// at the Realtime Database instance.
func NewFirebaseService(ctx context.Context, credentialsPath, databaseURL string) (*FirebaseService, error) {
	if credentialsPath == "" {
		return nil, fmt.Errorf("FIREBASE_CREDENTIALS_PATH not set")
	}

	opt := option.WithCredentialsFile(credentialsPath)
	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firebase Auth client: %w", err)
	}

	return &FirebaseService{app: app, authClient: authClient}, nil
}

// VerifyIDToken verifies a Firebase ID token and returns the caller's UID
// and email.
func (s *FirebaseService) VerifyIDToken(ctx context.Context, idToken string) (string, string, error) {
	token, err := s.authClient.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to verify Firebase ID token: %w", err)
	}
	email, _ := token.Claims["email"].(string)
	return token.UID, email, nil
}

func (s *FirebaseService) Database(ctx context.Context) (*db.Client, error) {
	client, err := s.app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Realtime Database client: %w", err)
	}
	return client, nil
}

func (s *FirebaseService) Firestore(ctx context.Context) (*firestore.Client, error) {
	client, err := s.app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firestore client: %w", err)
	}
	return client, nil
}
