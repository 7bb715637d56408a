// Package availability decides whether a booking window looks bookable.
//
// The client-side check is advisory: on conflicts it says unavailable, on
// clean slot data it says available, and on any failure it fails open and
// leaves the final word to the booking call itself.
package availability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/calendar"
)

// Status is the three-valued availability outcome. Unknown is distinct from
// Unavailable so callers cannot mistake an inconclusive check for a real
// negative.
type Status string

const (
	Available   Status = "available"
	Unavailable Status = "unavailable"
	Unknown     Status = "unknown"
)

// Result is the outcome of a window check. Advisory is set when the check
// could not be completed and the Available status is only a fail-open
// default; the caller should warn that server-side validation decides.
type Result struct {
	Status   Status
	Advisory bool
}

// Bookable reports whether the caller may proceed with a booking attempt.
// Unknown counts as bookable: the server rejects if it disagrees.
func (r Result) Bookable() bool {
	return r.Status != Unavailable
}

// Slot is a server-defined bookable window.
type Slot struct {
	Start     time.Time `json:"start_time"`
	End       time.Time `json:"end_time"`
	Available bool      `json:"available"`
}

// Data is the remote availability-check payload. AvailableSlots is a pointer
// so that "no slot data" and "slot data present but empty" stay
// distinguishable: only the latter is evidence of unavailability.
type Data struct {
	Available      bool              `json:"available"`
	AvailableSlots *[]Slot           `json:"available_slots"`
	Conflicts      []json.RawMessage `json:"conflicts"`
}

// Backend is the remote surface the resolver consults.
type Backend interface {
	CheckAvailability(ctx context.Context, facilityID int64, providerID *int64, start, end time.Time) (*Data, error)
	DaySlots(ctx context.Context, facilityID int64, providerID *int64, date string) ([]Slot, error)
}

type Resolver struct {
	backend Backend
	log     zerolog.Logger
}

func NewResolver(backend Backend, log zerolog.Logger) *Resolver {
	return &Resolver{backend: backend, log: log}
}

// CheckWindow resolves a single booking window.
//
// Precedence: reported conflicts win outright; an explicitly empty slot list
// means unavailable; otherwise available. Transport or resolution failure
// fails open with Advisory set.
func (r *Resolver) CheckWindow(ctx context.Context, facilityID int64, providerID *int64, start, end time.Time) Result {
	data, err := r.backend.CheckAvailability(ctx, facilityID, providerID, start, end)
	if err != nil {
		r.log.Warn().Err(err).Int64("facility_id", facilityID).
			Msg("availability check failed, falling back to server-side validation")
		return Result{Status: Available, Advisory: true}
	}

	if len(data.Conflicts) > 0 {
		return Result{Status: Unavailable}
	}
	if data.AvailableSlots != nil && len(*data.AvailableSlots) == 0 {
		return Result{Status: Unavailable}
	}
	return Result{Status: Available}
}

// CheckDay resolves bookability for a whole civil date. Local non-cancelled
// appointments covering the date short-circuit to Unavailable without a
// network call; otherwise the slots endpoint decides. Inconclusive lookups
// return Unknown rather than a false negative.
func (r *Resolver) CheckDay(ctx context.Context, facilityID int64, providerID *int64, date string, local []appointment.Appointment) Status {
	for _, appt := range local {
		if !appt.Active() {
			continue
		}
		if appt.FacilityID != facilityID {
			continue
		}
		if providerID != nil && appt.ProviderID != nil && *providerID != *appt.ProviderID {
			continue
		}
		if calendar.DateOf(appt.ScheduledStart.Local()) == date {
			return Unavailable
		}
	}

	slots, err := r.backend.DaySlots(ctx, facilityID, providerID, date)
	if err != nil {
		r.log.Warn().Err(err).Str("date", date).Msg("day slot lookup failed")
		return Unknown
	}
	if slots == nil {
		// Absence of defined slots is not evidence of unavailability.
		return Available
	}
	for _, slot := range slots {
		if slot.Available {
			return Available
		}
	}
	// Slot data exists but nothing in it is bookable.
	return Unavailable
}
