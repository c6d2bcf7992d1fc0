package main

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kamikazebr/musa-estate/internal/server/api"
	"github.com/kamikazebr/musa-estate/internal/server/config"
	"github.com/kamikazebr/musa-estate/internal/server/metrics"
	"github.com/kamikazebr/musa-estate/internal/server/outbox"
	"github.com/kamikazebr/musa-estate/pkg/version"
	"github.com/spf13/cobra"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Completed outbox events are kept this long for inspection.
const outboxRetention = 7 * 24 * time.Hour

var rootCmd = &cobra.Command{
	Use:   "musa-server",
	Short: "Musa estate access server",
	Long:  "API server for estate gate access: visitor codes, guard verification, notifications and guest messages",
	// Default to serve command if no subcommand provided
	Run: func(cmd *cobra.Command, args []string) {
		runServe(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Run:   runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersion("musa-server"))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, adminCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}
	return config.Load()
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	log.Printf("=== Musa Estate Server ===")
	log.Printf("%s", version.GetVersion("musa-server"))

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	go a.dispatcher().Run(ctx)
	go a.runCleanup(ctx)

	var devices *api.DeviceHandler
	if a.devices != nil {
		devices = api.NewDeviceHandler(a.devices)
	}
	router := api.NewRouter(api.Handlers{
		Auth:          api.NewAuthHandler(a.auth, a.directory),
		AccessCodes:   api.NewAccessCodeHandler(a.codes, a.gate),
		Activity:      api.NewActivityHandler(a.activity),
		Notifications: api.NewNotificationHandler(a.notifications),
		GuestMessages: api.NewGuestMessageHandler(a.messages, cfg.StreamOrigins),
		Devices:       devices,
		Admin:         api.NewAdminHandler(a.directory, a.security),
	}, cfg.JWTSecret, a.directory)

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	// No WriteTimeout: guest message streams are long-lived.
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// runCleanup expires lapsed device approvals and prunes finished outbox
// events until ctx is cancelled.
func (a *app) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if a.devices != nil {
			if n, err := a.devices.CleanupExpired(ctx); err != nil {
				log.Printf("Failed to expire device approvals: %v", err)
			} else if n > 0 {
				log.Printf("Expired %d device approval requests", n)
			}
		}
		if a.outboxDB != nil {
			if n, err := a.outboxDB.DeleteCompletedBefore(ctx, time.Now().Add(-outboxRetention)); err != nil {
				log.Printf("Failed to prune outbox: %v", err)
			} else if n > 0 {
				log.Printf("Pruned %d completed outbox events", n)
			}
			a.sampleOutboxDepth(ctx)
		}
	}
}

func (a *app) sampleOutboxDepth(ctx context.Context) {
	counts, err := a.outboxDB.CountByStatus(ctx)
	if err != nil {
		log.Printf("Warning: failed to count outbox events: %v", err)
		return
	}
	for _, status := range []string{outbox.StatusPending, outbox.StatusProcessing, outbox.StatusDone, outbox.StatusDead} {
		metrics.OutboxDepth.WithLabelValues(status).Set(float64(counts[status]))
	}
}

func runEmbeddedMigrations(db *sql.DB) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	// Sort migrations by filename to ensure correct order
	var migrations []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".sql" {
			migrations = append(migrations, entry.Name())
		}
	}
	sort.Strings(migrations)

	for _, migration := range migrations {
		log.Printf("Applying migration: %s", migration)

		content, err := migrationsFS.ReadFile("migrations/" + migration)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", migration, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("migration %s: %w", migration, err)
		}
	}

	return nil
}
