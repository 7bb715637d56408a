package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/calendar"
)

var (
	ErrNotFound            = errors.New("appointment not found")
	ErrNotEditable         = errors.New("appointment can no longer be changed")
	ErrReasonRequired      = errors.New("a cancellation reason is required")
	ErrConfirmationMissing = errors.New("cancellation was not confirmed")
)

// Backend is the slice of the remote system of record the store mutates
// through. Mutations only touch local state after a confirmed success.
type Backend interface {
	ListAppointments(ctx context.Context) ([]Appointment, error)
	CreateAppointment(ctx context.Context, req Request) (*Appointment, error)
	UpdateAppointment(ctx context.Context, id int64, req Request) (*Appointment, error)
	CancelAppointment(ctx context.Context, id int64, reason string) error
}

// PrecheckFunc reports whether a booking window looks bookable. advisory
// means the check itself failed and server validation is the final word.
// The pre-check never blocks submission.
type PrecheckFunc func(ctx context.Context, facilityID int64, providerID *int64, start, end time.Time) (ok bool, advisory bool)

// ConfirmFunc asks the user to confirm a destructive action. A nil func
// confirms everything, which only makes sense in tests and scripts.
type ConfirmFunc func(prompt string) bool

// Outcome is what a successful mutation hands back to the UI. Warning is a
// non-blocking note from the advisory availability pre-check.
type Outcome struct {
	Appointment *Appointment
	Warning     string
}

// Store is the in-memory working set of the session's appointments with a
// by-day index derived on every mutation.
type Store struct {
	backend  Backend
	precheck PrecheckFunc
	confirm  ConfirmFunc
	validate *validator.Validate
	log      zerolog.Logger
	loc      *time.Location

	mu    sync.RWMutex
	items []Appointment
	byDay map[string][]Appointment
}

func NewStore(backend Backend, precheck PrecheckFunc, confirm ConfirmFunc, log zerolog.Logger) *Store {
	return &Store{
		backend:  backend,
		precheck: precheck,
		confirm:  confirm,
		validate: validator.New(),
		log:      log,
		loc:      time.Local,
		byDay:    map[string][]Appointment{},
	}
}

// SetLocation overrides the civil-date zone, mainly for tests.
func (s *Store) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// Refresh replaces the working set from the system of record. The list and
// its by-day index swap in together; callers never observe one without the
// other.
func (s *Store) Refresh(ctx context.Context) error {
	items, err := s.backend.ListAppointments(ctx)
	if err != nil {
		return fmt.Errorf("refresh appointments: %w", err)
	}

	s.mu.Lock()
	s.items = items
	s.byDay = s.index(items)
	s.mu.Unlock()
	return nil
}

func (s *Store) index(items []Appointment) map[string][]Appointment {
	byDay := make(map[string][]Appointment, len(items))
	for _, a := range items {
		day := calendar.DateOf(a.ScheduledStart.In(s.loc))
		byDay[day] = append(byDay[day], a)
	}
	return byDay
}

// List returns the full working set.
func (s *Store) List() []Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Appointment, len(s.items))
	copy(out, s.items)
	return out
}

// ByDay returns the appointments whose start falls on the given civil date.
func (s *Store) ByDay(date string) []Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := s.byDay[date]
	out := make([]Appointment, len(day))
	copy(out, day)
	return out
}

// Upcoming returns active appointments starting at or after now, soonest
// first.
func (s *Store) Upcoming(now time.Time) []Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Appointment
	for _, a := range s.items {
		if a.Active() && !a.ScheduledStart.Before(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledStart.Before(out[j].ScheduledStart)
	})
	return out
}

// Get looks up one appointment in the working set.
func (s *Store) Get(id int64) (Appointment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.items {
		if a.ID == id {
			return a, true
		}
	}
	return Appointment{}, false
}

// DaySummaries feeds the calendar grid: per-date appointment counts and
// type summaries.
func (s *Store) DaySummaries() map[string]calendar.DaySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]calendar.DaySummary, len(s.byDay))
	for day, appts := range s.byDay {
		summary := calendar.DaySummary{Count: len(appts)}
		seen := map[Type]bool{}
		for _, a := range appts {
			if !seen[a.Type] {
				seen[a.Type] = true
				summary.Types = append(summary.Types, string(a.Type))
			}
		}
		out[day] = summary
	}
	return out
}

func (s *Store) buildRequest(in Input) (Request, error) {
	if err := s.validate.Struct(in); err != nil {
		return Request{}, fmt.Errorf("invalid booking input: %w", err)
	}
	if in.DurationMinutes != 0 && in.DurationMinutes%15 != 0 {
		return Request{}, errors.New("invalid booking input: duration must be a multiple of 15 minutes")
	}

	start, end, err := in.Window(s.loc)
	if err != nil {
		return Request{}, fmt.Errorf("invalid booking input: %w", err)
	}

	minutes := in.DurationMinutes
	if minutes == 0 {
		minutes = DefaultDuration
	}

	return Request{
		PatientID:       in.PatientID,
		ProviderID:      in.ProviderID,
		FacilityID:      in.FacilityID,
		Type:            in.Type,
		ScheduledStart:  start,
		ScheduledEnd:    end,
		DurationMinutes: minutes,
		Reason:          in.Reason,
		Notes:           in.Notes,
	}, nil
}

func (s *Store) runPrecheck(ctx context.Context, req Request) string {
	if s.precheck == nil {
		return ""
	}
	ok, advisory := s.precheck(ctx, req.FacilityID, req.ProviderID, req.ScheduledStart, req.ScheduledEnd)
	switch {
	case advisory:
		return "Availability could not be verified; the server will make the final check."
	case !ok:
		return "This time may already be taken; the server will make the final check."
	}
	return ""
}

// Create validates the booking form, runs the advisory availability
// pre-check and submits. Local state changes only on a confirmed success.
func (s *Store) Create(ctx context.Context, in Input) (Outcome, error) {
	req, err := s.buildRequest(in)
	if err != nil {
		return Outcome{}, err
	}

	warning := s.runPrecheck(ctx, req)

	created, err := s.backend.CreateAppointment(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	if created == nil {
		// Backend acknowledged without echoing the record.
		if err := s.Refresh(ctx); err != nil {
			s.log.Warn().Err(err).Msg("post-create refresh failed")
		}
		return Outcome{Warning: warning}, nil
	}

	s.mu.Lock()
	s.items = append(s.items, *created)
	s.byDay = s.index(s.items)
	s.mu.Unlock()

	return Outcome{Appointment: created, Warning: warning}, nil
}

// Update rewrites one editable appointment with the same field assembly as
// Create. Terminal-state appointments are rejected before any network call.
func (s *Store) Update(ctx context.Context, id int64, in Input) (Outcome, error) {
	existing, ok := s.Get(id)
	if !ok {
		return Outcome{}, ErrNotFound
	}
	if !existing.Status.Editable() {
		return Outcome{}, fmt.Errorf("%w: status is %s", ErrNotEditable, existing.Status)
	}

	req, err := s.buildRequest(in)
	if err != nil {
		return Outcome{}, err
	}

	warning := s.runPrecheck(ctx, req)

	updated, err := s.backend.UpdateAppointment(ctx, id, req)
	if err != nil {
		return Outcome{}, err
	}

	if updated == nil {
		if err := s.Refresh(ctx); err != nil {
			s.log.Warn().Err(err).Msg("post-update refresh failed")
		}
		return Outcome{Warning: warning}, nil
	}

	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i] = *updated
		}
	}
	s.byDay = s.index(s.items)
	s.mu.Unlock()

	return Outcome{Appointment: updated, Warning: warning}, nil
}

// Cancel asks for user confirmation, then submits the cancellation with its
// mandatory reason. The status flips to cancelled only on server
// acknowledgment; declining the prompt issues no request at all.
func (s *Store) Cancel(ctx context.Context, id int64, reason string) error {
	existing, ok := s.Get(id)
	if !ok {
		return ErrNotFound
	}
	if !existing.Status.Editable() {
		return fmt.Errorf("%w: status is %s", ErrNotEditable, existing.Status)
	}
	if reason == "" {
		return ErrReasonRequired
	}

	if s.confirm != nil {
		prompt := fmt.Sprintf("Cancel the %s appointment on %s?", existing.Type, existing.Day())
		if !s.confirm(prompt) {
			return ErrConfirmationMissing
		}
	}

	if err := s.backend.CancelAppointment(ctx, id, reason); err != nil {
		return err
	}

	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Status = StatusCancelled
			s.items[i].Reason = reason
		}
	}
	s.byDay = s.index(s.items)
	s.mu.Unlock()
	return nil
}
