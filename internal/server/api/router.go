package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kamikazebr/musa-estate/internal/server/metrics"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/version"
)

// Handlers groups everything NewRouter mounts. Devices may be nil when no
// Postgres database is configured.
type Handlers struct {
	Auth          *AuthHandler
	AccessCodes   *AccessCodeHandler
	Activity      *ActivityHandler
	Notifications *NotificationHandler
	GuestMessages *GuestMessageHandler
	Devices       *DeviceHandler
	Admin         *AdminHandler
}

func NewRouter(h Handlers, jwtSecret string, resolver ActorResolver) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, version.Get("musa-server"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.Auth.Login)
	})

	r.Post("/api/guest-messages", h.GuestMessages.Send)
	if h.Devices != nil {
		r.Get("/api/devices/approve/{token}", h.Devices.Approve)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret, resolver))

		r.Get("/me", h.Auth.Me)

		r.Group(func(r chi.Router) {
			r.Use(ApprovedMiddleware)

			r.Route("/access-codes", func(r chi.Router) {
				r.Post("/", h.AccessCodes.Create)
				r.Get("/", h.AccessCodes.List)
				r.Get("/{code_id}", h.AccessCodes.Get)
				r.Post("/{code_id}/deactivate", h.AccessCodes.Deactivate)
				r.Get("/{code_id}/qr", h.AccessCodes.QR)
			})

			r.With(RoleMiddleware(models.RoleGuard, models.RoleAdmin)).Post("/verify", h.AccessCodes.Verify)

			r.Route("/guards/{guard_id}", func(r chi.Router) {
				r.Get("/history", h.Activity.GuardHistory)
				r.Get("/stats", h.Activity.GuardStats)
			})
			r.Get("/estate/activity", h.Activity.EstateActivity)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.Notifications.List)
				r.Get("/unread-count", h.Notifications.UnreadCount)
				r.Post("/read-all", h.Notifications.MarkAllRead)
				r.Post("/{notification_id}/read", h.Notifications.MarkRead)
			})

			r.Route("/households/{household_id}/messages", func(r chi.Router) {
				r.Get("/", h.GuestMessages.List)
				r.Get("/stream", h.GuestMessages.Stream)
			})
			r.Post("/guest-messages/{message_id}/status", h.GuestMessages.UpdateStatus)

			if h.Devices != nil {
				r.Route("/devices", func(r chi.Router) {
					r.Get("/", h.Devices.List)
					r.Post("/check", h.Devices.Check)
					r.Post("/request-approval", h.Devices.RequestApproval)
					r.Delete("/{device_id}", h.Devices.Remove)
				})
			}

			r.Route("/admin", func(r chi.Router) {
				r.Use(RoleMiddleware(models.RoleAdmin))

				r.Route("/users", func(r chi.Router) {
					r.Get("/pending", h.Admin.ListPendingUsers)
					r.Post("/{user_id}/approve", h.Admin.ApproveUser)
					r.Post("/{user_id}/reject", h.Admin.RejectUser)
					r.Post("/{user_id}/suspend", h.Admin.SuspendUser)
				})
				r.Route("/estates", func(r chi.Router) {
					r.Get("/", h.Admin.ListEstates)
					r.Post("/", h.Admin.CreateEstate)
					r.Get("/{estate_id}", h.Admin.GetEstate)
					r.Post("/{estate_id}/admins", h.Admin.AddEstateAdmin)
					r.Delete("/{estate_id}/admins/{user_id}", h.Admin.RemoveEstateAdmin)
				})
				r.Route("/households", func(r chi.Router) {
					r.Get("/", h.Admin.ListHouseholds)
					r.Post("/", h.Admin.CreateHousehold)
					r.Post("/{household_id}/members", h.Admin.AddMember)
					r.Delete("/{household_id}/members/{user_id}", h.Admin.RemoveMember)
				})
				r.Get("/security-logs", h.Admin.SecurityLogs)
			})
		})
	})

	return r
}
