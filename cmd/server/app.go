package main

import (
	"context"
	"fmt"
	"log"

	"cloud.google.com/go/firestore"
	"github.com/kamikazebr/musa-estate/internal/server/config"
	"github.com/kamikazebr/musa-estate/internal/server/outbox"
	"github.com/kamikazebr/musa-estate/internal/server/rtdb"
	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/internal/server/storage"
)

// app holds the backends and services shared by the serve and admin
// commands.
type app struct {
	cfg *config.Config

	tree      rtdb.Tree
	queue     outbox.Queue
	db        *storage.DB
	outboxDB  *storage.OutboxRepository
	firebase  *services.FirebaseService
	firestore *firestore.Client

	security      *services.SecurityLogService
	policy        *services.Policy
	directory     *services.DirectoryService
	codes         *services.AccessCodeService
	activity      *services.GuardActivityService
	notifications *services.NotificationService
	messages      *services.GuestMessageService
	gate          *services.VerificationService
	email         *services.EmailService
	devices       *services.DeviceApprovalService
	auth          *services.AuthService
}

// newApp connects to Firebase and Postgres when configured and falls back to
// in-process stores otherwise.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.FirebaseEnabled() {
		log.Println("Connecting to Firebase...")
		fb, err := services.NewFirebaseService(ctx, cfg.FirebaseCredentialsPath, cfg.FirebaseDatabaseURL)
		if err != nil {
			return nil, err
		}
		a.firebase = fb

		client, err := fb.Database(ctx)
		if err != nil {
			return nil, err
		}
		a.tree = rtdb.NewFirebaseTree(client, cfg.WatchPollInterval)

		fs, err := fb.Firestore(ctx)
		if err != nil {
			log.Printf("Warning: Firestore unavailable, security logs stay in memory: %v", err)
		} else {
			a.firestore = fs
		}
	} else {
		log.Println("Warning: FIREBASE_CREDENTIALS_PATH not set, using in-memory tree (data is lost on restart)")
		a.tree = rtdb.NewMemoryTree()
	}

	if cfg.DatabaseURL != "" {
		log.Println("Connecting to database...")
		db, err := storage.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db

		log.Println("Running database migrations...")
		if err := runEmbeddedMigrations(db.DB.DB); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		a.outboxDB = storage.NewOutboxRepository(db)
		a.queue = a.outboxDB
	} else {
		log.Println("Warning: DATABASE_URL not set, using in-memory outbox; device approval is disabled")
		a.queue = outbox.NewMemoryQueue()
	}

	a.security = services.NewSecurityLogService(a.firestore)
	a.policy = services.NewPolicy(a.security)
	a.security.SetPolicy(a.policy)

	a.directory = services.NewDirectoryService(a.tree, a.policy, a.queue, cfg.PlatformAdminEmails)
	a.codes = services.NewAccessCodeService(a.tree, a.policy, a.queue)
	a.activity = services.NewGuardActivityService(a.tree, a.policy)
	a.notifications = services.NewNotificationService(a.tree, a.policy)
	a.messages = services.NewGuestMessageService(a.tree, a.policy)
	a.gate = services.NewVerificationService(a.codes, a.activity, a.policy, a.queue)
	a.email = services.NewEmailService(cfg.ResendAPIKey, cfg.FromEmail, cfg.SkipEmailSend)

	if a.db != nil {
		a.devices = services.NewDeviceApprovalService(storage.NewDeviceRepository(a.db), a.policy, a.queue, cfg.PublicURL)
	}

	var verifier services.TokenVerifier
	if a.firebase != nil {
		verifier = a.firebase
	} else {
		log.Println("Warning: no identity provider configured, /api/auth/login is unavailable")
	}
	a.auth = services.NewAuthService(verifier, a.directory, cfg.JWTSecret, cfg.JWTExpiration)

	return a, nil
}

// dispatcher wires the outbox handlers for this app.
func (a *app) dispatcher() *outbox.Dispatcher {
	d := outbox.NewDispatcher(a.queue, a.cfg.OutboxInterval)
	services.RegisterOutboxHandlers(d, a.codes, a.notifications, a.email)
	return d
}

func (a *app) Close() {
	if a.firestore != nil {
		if err := a.firestore.Close(); err != nil {
			log.Printf("Warning: failed to close Firestore client: %v", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
