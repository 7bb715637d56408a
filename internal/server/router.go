package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter wires the portal API surface.
func NewRouter(h *Handlers, health *Health, secret string, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/health/live", health.Live)
	r.Get("/health/ready", health.Ready)
	r.Post("/auth/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(secret))

		r.Get("/auth/me", h.handleMe)
		r.Get("/profile/me", h.handleMyProfile)

		r.Get("/facilities", h.handleListFacilities)
		r.Get("/users/providers", h.handleListProviders)
		r.Get("/users", h.handleListUsers)

		r.Get("/appointments", h.handleListAppointments)
		r.Post("/appointments", h.handleCreateAppointment)
		r.Put("/appointments/{id}", h.handleUpdateAppointment)
		r.Delete("/appointments/{id}", h.handleCancelAppointment)

		r.Get("/appointments/availability/check", h.handleCheckAvailability)
		r.Get("/appointments/availability/slots", h.handleDaySlots)

		r.Get("/notifications", h.handleListNotifications)
		r.Put("/notifications/{id}/read", h.handleMarkNotificationRead)
		r.Get("/notifications/stream", h.hub.ServeWS)
	})

	return r
}
