package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/api"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/availability"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/calendar"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/notification"
)

type memUser struct {
	user      api.User
	patientID *int64
}

// MemStore is the dependency-free Store used by the dev server and tests.
type MemStore struct {
	mu            sync.RWMutex
	users         map[int64]memUser
	facilities    []api.Facility
	appointments  map[int64]appointment.Appointment
	notifications map[int64][]notification.Envelope
	nextID        int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:         map[int64]memUser{},
		appointments:  map[int64]appointment.Appointment{},
		notifications: map[int64][]notification.Envelope{},
		nextID:        1,
	}
}

// Seed fills the store with demo data: facilities, physicians and patients.
func (s *MemStore) Seed(facilities, physicians, patients int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < facilities; i++ {
		s.facilities = append(s.facilities, api.Facility{
			ID:      s.nextIDLocked(),
			Name:    gofakeit.Company() + " Clinic",
			Address: gofakeit.Street(),
		})
	}
	for i := 0; i < physicians; i++ {
		id := s.nextIDLocked()
		s.users[id] = memUser{user: api.User{
			UserID: id,
			Name:   "Dr. " + gofakeit.Name(),
			Role:   "physician",
		}}
	}
	for i := 0; i < patients; i++ {
		id := s.nextIDLocked()
		patientID := s.nextIDLocked()
		s.users[id] = memUser{
			user: api.User{
				UserID:    id,
				Name:      gofakeit.Name(),
				Role:      "patient",
				PatientID: &patientID,
			},
			patientID: &patientID,
		}
	}
}

// AddUser registers a user directly; tests use this for precise shapes.
func (s *MemStore) AddUser(user api.User, patientID *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = memUser{user: user, patientID: patientID}
}

// AddFacility registers a facility directly.
func (s *MemStore) AddFacility(f api.Facility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facilities = append(s.facilities, f)
}

func (s *MemStore) nextIDLocked() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *MemStore) GetUser(ctx context.Context, userID int64) (*api.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	user := u.user
	return &user, nil
}

func (s *MemStore) GetPatientIDForUser(ctx context.Context, userID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok || u.patientID == nil {
		return 0, ErrUserNotFound
	}
	return *u.patientID, nil
}

func (s *MemStore) ListFacilities(ctx context.Context) ([]api.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Facility, len(s.facilities))
	copy(out, s.facilities)
	return out, nil
}

func (s *MemStore) ListProviders(ctx context.Context) ([]api.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []api.Provider
	for _, u := range s.users {
		if u.user.Role == "physician" {
			out = append(out, api.Provider{ID: u.user.UserID, Name: u.user.Name, Role: u.user.Role})
		}
	}
	return out, nil
}

func (s *MemStore) ListUsers(ctx context.Context) ([]api.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []api.Provider
	for _, u := range s.users {
		out = append(out, api.Provider{ID: u.user.UserID, Name: u.user.Name, Role: u.user.Role})
	}
	return out, nil
}

func (s *MemStore) ListAppointments(ctx context.Context, scope Scope) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []appointment.Appointment
	for _, a := range s.appointments {
		if scope.PatientID != nil && a.PatientID != *scope.PatientID {
			continue
		}
		if scope.ProviderID != nil && (a.ProviderID == nil || *a.ProviderID != *scope.ProviderID) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *MemStore) GetAppointment(ctx context.Context, id int64) (*appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *MemStore) CreateAppointment(ctx context.Context, req appointment.Request) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := appointment.Appointment{
		ID:              s.nextIDLocked(),
		PatientID:       req.PatientID,
		ProviderID:      req.ProviderID,
		FacilityID:      req.FacilityID,
		ScheduledStart:  req.ScheduledStart,
		ScheduledEnd:    req.ScheduledEnd,
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		Status:          appointment.StatusScheduled,
		Reason:          req.Reason,
		Notes:           req.Notes,
	}
	s.appointments[a.ID] = a
	return &a, nil
}

func (s *MemStore) UpdateAppointment(ctx context.Context, id int64, req appointment.Request) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !a.Status.Editable() {
		return nil, ErrNotEditable
	}

	a.ProviderID = req.ProviderID
	a.FacilityID = req.FacilityID
	a.ScheduledStart = req.ScheduledStart
	a.ScheduledEnd = req.ScheduledEnd
	a.DurationMinutes = req.DurationMinutes
	a.Type = req.Type
	a.Reason = req.Reason
	a.Notes = req.Notes
	s.appointments[id] = a
	return &a, nil
}

func (s *MemStore) CancelAppointment(ctx context.Context, id int64, reason string) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !a.Status.Editable() {
		return nil, ErrNotEditable
	}
	a.Status = appointment.StatusCancelled
	a.Reason = reason
	s.appointments[id] = a
	return &a, nil
}

func (s *MemStore) FindConflicts(ctx context.Context, facilityID int64, providerID *int64, start, end time.Time, excludeID int64) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []appointment.Appointment
	for _, a := range s.appointments {
		if a.ID == excludeID {
			continue
		}
		if a.Overlaps(facilityID, providerID, start, end) {
			out = append(out, a)
		}
	}
	return out, nil
}

// DaySlots exposes a fixed clinic day (09:00-16:00, 30 minute slots) with
// booked windows marked unavailable. Weekends define no slots at all.
func (s *MemStore) DaySlots(ctx context.Context, facilityID int64, providerID *int64, date string) ([]availability.Slot, error) {
	day, err := time.ParseInLocation(calendar.DateLayout, date, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	slots := make([]availability.Slot, 0, 14)
	for h := 9; h < 16; h++ {
		for _, m := range []int{0, 30} {
			start := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, time.Local)
			end := start.Add(30 * time.Minute)
			free := true
			for _, a := range s.appointments {
				if a.Overlaps(facilityID, providerID, start, end) {
					free = false
					break
				}
			}
			slots = append(slots, availability.Slot{Start: start, End: end, Available: free})
		}
	}
	return slots, nil
}

func (s *MemStore) ListNotifications(ctx context.Context, userID int64) ([]notification.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.notifications[userID]
	out := make([]notification.Envelope, len(list))
	copy(out, list)
	return out, nil
}

func (s *MemStore) MarkNotificationRead(ctx context.Context, userID int64, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications[userID] {
		if s.notifications[userID][i].MessageID == messageID {
			// Re-acknowledging an already-read message is a no-op.
			s.notifications[userID][i].IsRead = true
			return nil
		}
	}
	return ErrNotificationMissing
}

func (s *MemStore) InsertNotification(ctx context.Context, userID int64, env notification.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	if env.SentAt == nil && env.CreatedAt == nil {
		now := time.Now()
		env.SentAt = &now
	}
	s.notifications[userID] = append(s.notifications[userID], env)
	return nil
}

func (s *MemStore) SweepPastAppointments(ctx context.Context, now time.Time) ([]Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Transition
	for id, a := range s.appointments {
		if !a.ScheduledEnd.Before(now) {
			continue
		}
		from := a.Status
		switch a.Status {
		case appointment.StatusConfirmed:
			a.Status = appointment.StatusCompleted
		case appointment.StatusScheduled:
			a.Status = appointment.StatusNoShow
		default:
			continue
		}
		s.appointments[id] = a
		out = append(out, Transition{Appointment: a, From: from})
	}
	return out, nil
}

// UserIDForPatient finds the portal user owning a patient record, for
// notification fan-out.
func (s *MemStore) UserIDForPatient(ctx context.Context, patientID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, u := range s.users {
		if u.patientID != nil && *u.patientID == patientID {
			return id, nil
		}
	}
	return 0, ErrUserNotFound
}
