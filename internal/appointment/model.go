package appointment

import (
	"time"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/calendar"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Editable reports whether the end user may still edit or cancel an
// appointment in this status. Completed, cancelled and no_show are terminal
// from the client's point of view.
func (s Status) Editable() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

type Type string

const (
	TypeInitial    Type = "initial"
	TypeFollowUp   Type = "follow_up"
	TypeARTPickup  Type = "art_pickup"
	TypeLabTest    Type = "lab_test"
	TypeCounseling Type = "counseling"
	TypeGeneral    Type = "general"
)

// Appointment mirrors the remote system of record's representation.
// ProviderID is nullable: an unassigned provider is valid.
type Appointment struct {
	ID              int64     `json:"appointment_id"`
	PatientID       int64     `json:"patient_id"`
	ProviderID      *int64    `json:"provider_id"`
	FacilityID      int64     `json:"facility_id"`
	ScheduledStart  time.Time `json:"scheduled_start"`
	ScheduledEnd    time.Time `json:"scheduled_end"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            Type      `json:"appointment_type"`
	Status          Status    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

// Day returns the civil date of the appointment's start in local time.
func (a Appointment) Day() string {
	return calendar.DateOf(a.ScheduledStart.Local())
}

// Active reports whether the appointment still occupies its window for
// conflict purposes.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// Overlaps reports whether the appointment's window intersects
// [start, end) at the same facility, and for the same provider when both
// sides have one assigned.
func (a Appointment) Overlaps(facilityID int64, providerID *int64, start, end time.Time) bool {
	if !a.Active() || a.FacilityID != facilityID {
		return false
	}
	if providerID != nil && a.ProviderID != nil && *providerID != *a.ProviderID {
		return false
	}
	return a.ScheduledStart.Before(end) && start.Before(a.ScheduledEnd)
}

// Input carries the booking form fields for create and update. PatientID and
// ProviderID are filled by the session according to the acting role before
// the store sees the input.
type Input struct {
	PatientID       int64  `json:"patient_id" validate:"required"`
	ProviderID      *int64 `json:"provider_id"`
	FacilityID      int64  `json:"facility_id" validate:"required"`
	Type            Type   `json:"appointment_type" validate:"required,oneof=initial follow_up art_pickup lab_test counseling general"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	Time            string `json:"time" validate:"required,datetime=15:04"`
	DurationMinutes int    `json:"duration_minutes" validate:"omitempty,min=15,max=240"`
	Reason          string `json:"reason"`
	Notes           string `json:"notes"`
}

// Request is the wire body submitted to the system of record for create and
// update.
type Request struct {
	PatientID       int64     `json:"patient_id"`
	ProviderID      *int64    `json:"provider_id,omitempty"`
	FacilityID      int64     `json:"facility_id"`
	Type            Type      `json:"appointment_type"`
	ScheduledStart  time.Time `json:"scheduled_start"`
	ScheduledEnd    time.Time `json:"scheduled_end"`
	DurationMinutes int       `json:"duration_minutes"`
	Reason          string    `json:"reason,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

// DefaultDuration is applied when the form leaves duration empty.
const DefaultDuration = 30

// Window computes the scheduled start and end from the form's date, time and
// duration, in the given location.
func (in Input) Window(loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.Local
	}
	start, err = time.ParseInLocation(calendar.DateLayout+" 15:04", in.Date+" "+in.Time, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	minutes := in.DurationMinutes
	if minutes == 0 {
		minutes = DefaultDuration
	}
	return start, start.Add(time.Duration(minutes) * time.Minute), nil
}
