// Package session orchestrates the scheduling core: it binds the acting
// user's identity to booking defaults, drives the booking workflow and owns
// the per-day availability cache behind the calendar annotations.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/api"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/availability"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/calendar"
)

type Role string

const (
	RolePatient   Role = "patient"
	RolePhysician Role = "physician"
)

// Context carries the ambient authentication state, injected at
// construction instead of being read from storage all over the core. It is
// populated at login and cleared at logout.
type Context struct {
	mu         sync.RWMutex
	token      string
	cachedUser *api.User
}

func NewContext(token string, cachedUser *api.User) *Context {
	return &Context{token: token, cachedUser: cachedUser}
}

// Token returns the current bearer token; usable as an api.TokenFunc.
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// CachedUser returns the cached identity blob, if any.
func (c *Context) CachedUser() *api.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cachedUser
}

// Clear wipes the state at logout.
func (c *Context) Clear() {
	c.mu.Lock()
	c.token = ""
	c.cachedUser = nil
	c.mu.Unlock()
}

// Modal is the booking workflow state. Only one modal is open at a time.
type Modal string

const (
	ModalClosed Modal = "closed"
	ModalAdd    Modal = "add"
	ModalEdit   Modal = "edit"
)

// Backend is the identity and reference-data surface the session needs at
// startup.
type Backend interface {
	Me(ctx context.Context) (*api.User, error)
	MyProfile(ctx context.Context) (*api.Profile, error)
	ListFacilities(ctx context.Context) ([]api.Facility, error)
	ListProviders(ctx context.Context) ([]api.Provider, error)
}

// Session wires the calendar view, appointment store, availability resolver
// and the acting identity together. It is single-actor: UI events and
// network completions are the only entry points.
type Session struct {
	sctx     *Context
	backend  Backend
	store    *appointment.Store
	resolver *availability.Resolver
	view     *calendar.View
	log      zerolog.Logger

	role       Role
	userID     int64
	patientID  *int64
	providerID *int64
	facilities []api.Facility
	providers  []api.Provider

	// Booking form facility filter; defaults to the first facility.
	facilityID int64

	modal     Modal
	modalErr  string
	editingID int64

	// Per-civil-date availability annotations. Append-only except for the
	// per-date invalidation after a successful booking or cancellation.
	dayAvailability map[string]availability.Status
}

func New(sctx *Context, backend Backend, store *appointment.Store, resolver *availability.Resolver, view *calendar.View, log zerolog.Logger) *Session {
	return &Session{
		sctx:            sctx,
		backend:         backend,
		store:           store,
		resolver:        resolver,
		view:            view,
		log:             log,
		modal:           ModalClosed,
		dayAvailability: map[string]availability.Status{},
	}
}

// Start resolves identity once and loads the read-mostly reference lists.
// Reference-data failures degrade to empty lists; identity failure falls
// back to the cached user blob before giving up.
func (s *Session) Start(ctx context.Context) error {
	user, err := s.backend.Me(ctx)
	if err != nil {
		if cached := s.sctx.CachedUser(); cached != nil {
			s.log.Warn().Err(err).Msg("auth/me failed, using cached identity")
			user = cached
		} else {
			return fmt.Errorf("resolve identity: %w", err)
		}
	}

	s.role = Role(user.Role)
	s.userID = user.UserID

	switch s.role {
	case RolePatient:
		if err := s.resolvePatientID(ctx, user); err != nil {
			return err
		}
	case RolePhysician:
		id := user.UserID
		s.providerID = &id
	}

	if facilities, err := s.backend.ListFacilities(ctx); err != nil {
		s.log.Warn().Err(err).Msg("facility list unavailable")
	} else {
		s.facilities = facilities
		if len(facilities) > 0 {
			s.facilityID = facilities[0].ID
		}
	}

	if providers, err := s.backend.ListProviders(ctx); err != nil {
		s.log.Warn().Err(err).Msg("provider list unavailable")
	} else {
		s.providers = providers
	}

	if err := s.store.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

// resolvePatientID checks the primary identity record and falls back to the
// secondary profile lookup.
func (s *Session) resolvePatientID(ctx context.Context, user *api.User) error {
	switch {
	case user.PatientID != nil:
		s.patientID = user.PatientID
	case user.Patient != nil:
		id := user.Patient.PatientID
		s.patientID = &id
	default:
		profile, err := s.backend.MyProfile(ctx)
		if err != nil {
			return fmt.Errorf("resolve patient id: %w", err)
		}
		id := profile.PatientID
		s.patientID = &id
	}
	return nil
}

func (s *Session) Role() Role { return s.role }
func (s *Session) PatientID() *int64 { return s.patientID }
func (s *Session) ProviderID() *int64 { return s.providerID }
func (s *Session) Facilities() []api.Facility { return s.facilities }
func (s *Session) Providers() []api.Provider { return s.providers }
func (s *Session) Modal() Modal { return s.modal }
func (s *Session) ModalError() string { return s.modalErr }
func (s *Session) View() *calendar.View { return s.view }
func (s *Session) Store() *appointment.Store { return s.store }

// SetFacility changes the booking form's facility filter.
func (s *Session) SetFacility(id int64) {
	s.facilityID = id
}

// applyDefaults forces the role-bound identity fields onto the booking
// input. A patient always books for themselves; a physician is always the
// assigned provider. Other staff choose both explicitly.
func (s *Session) applyDefaults(in appointment.Input) appointment.Input {
	switch s.role {
	case RolePatient:
		if s.patientID != nil {
			in.PatientID = *s.patientID
		}
	case RolePhysician:
		in.ProviderID = s.providerID
	}
	return in
}

// OpenAdd opens the booking modal. A no-op when another modal is open.
func (s *Session) OpenAdd() {
	if s.modal != ModalClosed {
		return
	}
	s.modal = ModalAdd
	s.modalErr = ""
}

// OpenEdit opens the edit modal for one editable appointment.
func (s *Session) OpenEdit(id int64) error {
	if s.modal != ModalClosed {
		return fmt.Errorf("another dialog is already open")
	}
	appt, ok := s.store.Get(id)
	if !ok {
		return appointment.ErrNotFound
	}
	if !appt.Status.Editable() {
		return fmt.Errorf("%w: status is %s", appointment.ErrNotEditable, appt.Status)
	}
	s.modal = ModalEdit
	s.editingID = id
	s.modalErr = ""
	return nil
}

// CloseModal abandons the open workflow.
func (s *Session) CloseModal() {
	s.modal = ModalClosed
	s.editingID = 0
	s.modalErr = ""
}

// SubmitAdd drives the add workflow: success closes the modal, failure
// keeps it open with a user-facing error.
func (s *Session) SubmitAdd(ctx context.Context, in appointment.Input) (appointment.Outcome, error) {
	in = s.applyDefaults(in)

	outcome, err := s.store.Create(ctx, in)
	if err != nil {
		s.modalErr = api.UserMessage(err)
		return appointment.Outcome{}, err
	}

	s.invalidateDay(in.Date)
	s.CloseModal()
	return outcome, nil
}

// SubmitEdit mirrors SubmitAdd for the edit workflow.
func (s *Session) SubmitEdit(ctx context.Context, in appointment.Input) (appointment.Outcome, error) {
	if s.modal != ModalEdit {
		return appointment.Outcome{}, fmt.Errorf("no appointment is being edited")
	}
	in = s.applyDefaults(in)

	outcome, err := s.store.Update(ctx, s.editingID, in)
	if err != nil {
		s.modalErr = api.UserMessage(err)
		return appointment.Outcome{}, err
	}

	s.invalidateDay(in.Date)
	s.CloseModal()
	return outcome, nil
}

// Cancel runs the cancellation workflow for one appointment.
func (s *Session) Cancel(ctx context.Context, id int64, reason string) error {
	appt, ok := s.store.Get(id)
	if !ok {
		return appointment.ErrNotFound
	}

	if err := s.store.Cancel(ctx, id, reason); err != nil {
		return err
	}

	s.invalidateDay(appt.Day())
	return nil
}

func (s *Session) invalidateDay(date string) {
	delete(s.dayAvailability, date)
}

// SelectDay selects a day in the shown month. For patient sessions a cache
// miss triggers a day-availability resolution that populates the calendar
// annotation; cache hits and other roles cost nothing.
func (s *Session) SelectDay(ctx context.Context, day int) {
	s.view.Select(day)

	if s.role != RolePatient {
		return
	}
	date := s.view.Selected()
	if date == "" || s.facilityID == 0 {
		return
	}
	if _, ok := s.dayAvailability[date]; ok {
		return
	}

	status := s.resolver.CheckDay(ctx, s.facilityID, s.providerID, date, s.store.List())
	s.dayAvailability[date] = status
}

// Navigate moves the calendar one month. The availability cache is keyed by
// civil date and survives navigation.
func (s *Session) Navigate(direction int) {
	s.view.Navigate(direction)
}

// Grid renders the shown month with appointment summaries and resolved
// availability tags. Unknown resolutions carry no tag.
func (s *Session) Grid() []calendar.DayCell {
	tags := make(map[string]string, len(s.dayAvailability))
	for date, status := range s.dayAvailability {
		if status == availability.Available || status == availability.Unavailable {
			tags[date] = string(status)
		}
	}
	return s.view.Grid(s.store.DaySummaries(), tags)
}

// DayAvailability exposes the cached resolution for one date, Unknown when
// never resolved.
func (s *Session) DayAvailability(date string) availability.Status {
	if status, ok := s.dayAvailability[date]; ok {
		return status
	}
	return availability.Unknown
}

// Precheck adapts the resolver into the store's advisory pre-check.
func Precheck(resolver *availability.Resolver) appointment.PrecheckFunc {
	return func(ctx context.Context, facilityID int64, providerID *int64, start, end time.Time) (bool, bool) {
		result := resolver.CheckWindow(ctx, facilityID, providerID, start, end)
		return result.Bookable(), result.Advisory
	}
}
