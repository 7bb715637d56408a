// Package server is the reference implementation of the remote portal API
// surface, used for local development and integration testing of the
// scheduling core.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/api"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/availability"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/notification"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrNotificationMissing = errors.New("notification not found")
	ErrWindowConflict      = errors.New("the requested time is no longer available")
	ErrNotEditable         = errors.New("appointment can no longer be changed")
)

// Scope restricts an appointment listing to the acting user's view.
type Scope struct {
	PatientID  *int64
	ProviderID *int64
}

// Transition records one server-driven status change made by the sweep.
type Transition struct {
	Appointment appointment.Appointment
	From        appointment.Status
}

// Store contains all storage interactions the handlers and the status
// worker need.
type Store interface {
	GetUser(ctx context.Context, userID int64) (*api.User, error)
	GetPatientIDForUser(ctx context.Context, userID int64) (int64, error)
	UserIDForPatient(ctx context.Context, patientID int64) (int64, error)

	ListFacilities(ctx context.Context) ([]api.Facility, error)
	ListProviders(ctx context.Context) ([]api.Provider, error)
	ListUsers(ctx context.Context) ([]api.Provider, error)

	ListAppointments(ctx context.Context, scope Scope) ([]appointment.Appointment, error)
	GetAppointment(ctx context.Context, id int64) (*appointment.Appointment, error)
	CreateAppointment(ctx context.Context, req appointment.Request) (*appointment.Appointment, error)
	UpdateAppointment(ctx context.Context, id int64, req appointment.Request) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id int64, reason string) (*appointment.Appointment, error)

	// FindConflicts returns active appointments overlapping the window at
	// the facility (and provider, when given), excluding excludeID.
	FindConflicts(ctx context.Context, facilityID int64, providerID *int64, start, end time.Time, excludeID int64) ([]appointment.Appointment, error)
	DaySlots(ctx context.Context, facilityID int64, providerID *int64, date string) ([]availability.Slot, error)

	ListNotifications(ctx context.Context, userID int64) ([]notification.Envelope, error)
	MarkNotificationRead(ctx context.Context, userID int64, messageID string) error
	InsertNotification(ctx context.Context, userID int64, env notification.Envelope) error

	// SweepPastAppointments applies the server-driven transitions: past
	// confirmed appointments complete, past scheduled ones become no_show.
	SweepPastAppointments(ctx context.Context, now time.Time) ([]Transition, error)
}
