package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/api"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/availability"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/calendar"
)

type fakeIdentity struct {
	user       *api.User
	meErr      error
	profile    *api.Profile
	profileErr error
	facilities []api.Facility
	providers  []api.Provider
	profileN   int
}

func (f *fakeIdentity) Me(ctx context.Context) (*api.User, error) {
	return f.user, f.meErr
}

func (f *fakeIdentity) MyProfile(ctx context.Context) (*api.Profile, error) {
	f.profileN++
	return f.profile, f.profileErr
}

func (f *fakeIdentity) ListFacilities(ctx context.Context) ([]api.Facility, error) {
	return f.facilities, nil
}

func (f *fakeIdentity) ListProviders(ctx context.Context) ([]api.Provider, error) {
	return f.providers, nil
}

type fakeAppointments struct {
	list    []appointment.Appointment
	created *appointment.Appointment
	lastReq appointment.Request
	fail    error
}

func (f *fakeAppointments) ListAppointments(ctx context.Context) ([]appointment.Appointment, error) {
	return f.list, nil
}

func (f *fakeAppointments) CreateAppointment(ctx context.Context, req appointment.Request) (*appointment.Appointment, error) {
	f.lastReq = req
	return f.created, f.fail
}

func (f *fakeAppointments) UpdateAppointment(ctx context.Context, id int64, req appointment.Request) (*appointment.Appointment, error) {
	f.lastReq = req
	return nil, f.fail
}

func (f *fakeAppointments) CancelAppointment(ctx context.Context, id int64, reason string) error {
	return f.fail
}

type fakeSlots struct {
	slots []availability.Slot
	err   error
	calls int
}

func (f *fakeSlots) CheckAvailability(ctx context.Context, facilityID int64, providerID *int64, start, end time.Time) (*availability.Data, error) {
	return &availability.Data{Available: true}, nil
}

func (f *fakeSlots) DaySlots(ctx context.Context, facilityID int64, providerID *int64, date string) ([]availability.Slot, error) {
	f.calls++
	return f.slots, f.err
}

func patientUser(patientID *int64) *api.User {
	return &api.User{UserID: 7, Name: "Pat", Role: "patient", PatientID: patientID}
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
}

func newTestSession(t *testing.T, identity *fakeIdentity, backend *fakeAppointments, slots *fakeSlots) *Session {
	t.Helper()
	log := zerolog.Nop()
	store := appointment.NewStore(backend, nil, nil, log)
	store.SetLocation(time.UTC)
	resolver := availability.NewResolver(slots, log)
	view := calendar.NewView(fixedNow)
	return New(NewContext("tok", nil), identity, store, resolver, view, log)
}

func TestStartResolvesPatientID(t *testing.T) {
	id := int64(42)

	t.Run("from the identity record", func(t *testing.T) {
		identity := &fakeIdentity{user: patientUser(&id)}
		s := newTestSession(t, identity, &fakeAppointments{}, &fakeSlots{})
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if s.PatientID() == nil || *s.PatientID() != 42 {
			t.Errorf("PatientID = %v, want 42", s.PatientID())
		}
		if identity.profileN != 0 {
			t.Error("profile fallback used although patient_id was present")
		}
	})

	t.Run("from the nested patient ref", func(t *testing.T) {
		user := patientUser(nil)
		user.Patient = &api.PatientRef{PatientID: 42}
		s := newTestSession(t, &fakeIdentity{user: user}, &fakeAppointments{}, &fakeSlots{})
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if s.PatientID() == nil || *s.PatientID() != 42 {
			t.Errorf("PatientID = %v, want 42", s.PatientID())
		}
	})

	t.Run("falls back to the profile lookup", func(t *testing.T) {
		identity := &fakeIdentity{user: patientUser(nil), profile: &api.Profile{PatientID: 42}}
		s := newTestSession(t, identity, &fakeAppointments{}, &fakeSlots{})
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if s.PatientID() == nil || *s.PatientID() != 42 {
			t.Errorf("PatientID = %v, want 42", s.PatientID())
		}
		if identity.profileN != 1 {
			t.Errorf("profileN = %d, want 1", identity.profileN)
		}
	})

	t.Run("fails when nothing resolves", func(t *testing.T) {
		identity := &fakeIdentity{user: patientUser(nil), profileErr: errors.New("404")}
		s := newTestSession(t, identity, &fakeAppointments{}, &fakeSlots{})
		if err := s.Start(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestStartCachedIdentityFallback(t *testing.T) {
	id := int64(42)
	identity := &fakeIdentity{meErr: errors.New("network down")}

	log := zerolog.Nop()
	store := appointment.NewStore(&fakeAppointments{}, nil, nil, log)
	view := calendar.NewView(fixedNow)
	resolver := availability.NewResolver(&fakeSlots{}, log)

	s := New(NewContext("tok", patientUser(&id)), identity, store, resolver, view, log)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start with cached identity: %v", err)
	}
	if s.Role() != RolePatient {
		t.Errorf("Role = %v, want patient", s.Role())
	}

	s2 := New(NewContext("tok", nil), identity, store, resolver, view, log)
	if err := s2.Start(context.Background()); err == nil {
		t.Fatal("expected error without a cached identity")
	}
}

func TestPatientIdentityForcedOntoBooking(t *testing.T) {
	id := int64(42)
	backend := &fakeAppointments{}
	s := newTestSession(t, &fakeIdentity{user: patientUser(&id)}, backend, &fakeSlots{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.OpenAdd()
	_, err := s.SubmitAdd(context.Background(), appointment.Input{
		PatientID:  999,
		FacilityID: 1,
		Type:       appointment.TypeFollowUp,
		Date:       "2025-06-16",
		Time:       "09:30",
	})
	if err != nil {
		t.Fatalf("SubmitAdd: %v", err)
	}
	if backend.lastReq.PatientID != 42 {
		t.Errorf("submitted patient_id = %d, the session identity must win", backend.lastReq.PatientID)
	}
}

func TestPhysicianBindsProvider(t *testing.T) {
	backend := &fakeAppointments{}
	identity := &fakeIdentity{user: &api.User{UserID: 9, Name: "Dr. X", Role: "physician"}}
	s := newTestSession(t, identity, backend, &fakeSlots{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.ProviderID() == nil || *s.ProviderID() != 9 {
		t.Fatalf("ProviderID = %v, want 9", s.ProviderID())
	}

	s.OpenAdd()
	_, err := s.SubmitAdd(context.Background(), appointment.Input{
		PatientID:  42,
		FacilityID: 1,
		Type:       appointment.TypeInitial,
		Date:       "2025-06-16",
		Time:       "09:30",
	})
	if err != nil {
		t.Fatalf("SubmitAdd: %v", err)
	}
	if backend.lastReq.ProviderID == nil || *backend.lastReq.ProviderID != 9 {
		t.Errorf("submitted provider_id = %v, want the acting physician", backend.lastReq.ProviderID)
	}
}

func TestModalWorkflow(t *testing.T) {
	id := int64(42)
	backend := &fakeAppointments{list: []appointment.Appointment{
		{ID: 1, PatientID: 42, Status: appointment.StatusScheduled,
			ScheduledStart: time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)},
		{ID: 2, PatientID: 42, Status: appointment.StatusCompleted,
			ScheduledStart: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)},
	}}
	s := newTestSession(t, &fakeIdentity{user: patientUser(&id)}, backend, &fakeSlots{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	t.Run("only one modal at a time", func(t *testing.T) {
		s.OpenAdd()
		if s.Modal() != ModalAdd {
			t.Fatalf("Modal = %v", s.Modal())
		}
		if err := s.OpenEdit(1); err == nil {
			t.Error("expected OpenEdit to fail while add modal is open")
		}
		s.CloseModal()
	})

	t.Run("terminal appointments cannot be edited", func(t *testing.T) {
		if err := s.OpenEdit(2); !errors.Is(err, appointment.ErrNotEditable) {
			t.Errorf("err = %v, want ErrNotEditable", err)
		}
		if s.Modal() != ModalClosed {
			t.Errorf("Modal = %v, want closed", s.Modal())
		}
	})

	t.Run("failed submit keeps the modal open with a message", func(t *testing.T) {
		backend.fail = &api.Error{Kind: api.KindConflict, Status: 409, Message: "the requested time is no longer available"}
		s.OpenAdd()
		_, err := s.SubmitAdd(context.Background(), appointment.Input{
			PatientID: 42, FacilityID: 1, Type: appointment.TypeFollowUp,
			Date: "2025-06-16", Time: "09:30",
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if s.Modal() != ModalAdd {
			t.Errorf("Modal = %v, want still open", s.Modal())
		}
		if s.ModalError() != "the requested time is no longer available" {
			t.Errorf("ModalError = %q", s.ModalError())
		}

		backend.fail = nil
		_, err = s.SubmitAdd(context.Background(), appointment.Input{
			PatientID: 42, FacilityID: 1, Type: appointment.TypeFollowUp,
			Date: "2025-06-16", Time: "09:30",
		})
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if s.Modal() != ModalClosed || s.ModalError() != "" {
			t.Errorf("Modal = %v err = %q, want closed and clear", s.Modal(), s.ModalError())
		}
	})

	t.Run("edit without an open modal fails", func(t *testing.T) {
		if _, err := s.SubmitEdit(context.Background(), appointment.Input{}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestSelectDayCaching(t *testing.T) {
	id := int64(42)
	slots := &fakeSlots{slots: []availability.Slot{{Available: true}}}
	identity := &fakeIdentity{
		user:       patientUser(&id),
		facilities: []api.Facility{{ID: 3, Name: "Main Clinic"}},
	}
	s := newTestSession(t, identity, &fakeAppointments{}, slots)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.SelectDay(context.Background(), 16)
	if slots.calls != 1 {
		t.Fatalf("calls = %d, want 1", slots.calls)
	}
	if s.DayAvailability("2025-06-16") != availability.Available {
		t.Errorf("DayAvailability = %v", s.DayAvailability("2025-06-16"))
	}

	// Cache hit: same day again costs nothing.
	s.SelectDay(context.Background(), 16)
	if slots.calls != 1 {
		t.Errorf("calls = %d, cache hit should not refetch", slots.calls)
	}

	// The cache is keyed by civil date and survives navigation.
	s.Navigate(1)
	s.Navigate(-1)
	s.SelectDay(context.Background(), 16)
	if slots.calls != 1 {
		t.Errorf("calls = %d, navigation must not invalidate the cache", slots.calls)
	}

	if s.DayAvailability("2025-06-17") != availability.Unknown {
		t.Errorf("unresolved date should be Unknown")
	}
}

func TestSelectDayPhysicianNoResolution(t *testing.T) {
	slots := &fakeSlots{}
	identity := &fakeIdentity{
		user:       &api.User{UserID: 9, Role: "physician"},
		facilities: []api.Facility{{ID: 3}},
	}
	s := newTestSession(t, identity, &fakeAppointments{}, slots)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.SelectDay(context.Background(), 16)
	if slots.calls != 0 {
		t.Errorf("calls = %d, physician sessions resolve nothing", slots.calls)
	}
}

func TestGridTagsOnlyDefiniteStatuses(t *testing.T) {
	id := int64(42)
	slots := &fakeSlots{err: errors.New("boom")}
	identity := &fakeIdentity{
		user:       patientUser(&id),
		facilities: []api.Facility{{ID: 3}},
	}
	s := newTestSession(t, identity, &fakeAppointments{}, slots)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Resolution fails, so the cache holds Unknown for the day.
	s.SelectDay(context.Background(), 16)
	if s.DayAvailability("2025-06-16") != availability.Unknown {
		t.Fatalf("DayAvailability = %v, want Unknown", s.DayAvailability("2025-06-16"))
	}

	for _, cell := range s.Grid() {
		if cell.Date == "2025-06-16" && cell.Availability != "" {
			t.Errorf("unknown resolution rendered a tag %q", cell.Availability)
		}
	}
}

func TestCancelInvalidatesDayCache(t *testing.T) {
	id := int64(42)
	slots := &fakeSlots{slots: []availability.Slot{{Available: true}}}
	backend := &fakeAppointments{list: []appointment.Appointment{
		{ID: 1, PatientID: 42, FacilityID: 3, Status: appointment.StatusScheduled,
			ScheduledStart: time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)},
	}}
	identity := &fakeIdentity{
		user:       patientUser(&id),
		facilities: []api.Facility{{ID: 3}},
	}
	s := newTestSession(t, identity, backend, slots)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.SelectDay(context.Background(), 16)
	if s.DayAvailability("2025-06-16") != availability.Unavailable {
		t.Fatalf("DayAvailability = %v, local appointment should make it unavailable", s.DayAvailability("2025-06-16"))
	}

	if err := s.Cancel(context.Background(), 1, "conflict"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if s.DayAvailability("2025-06-16") != availability.Unknown {
		t.Error("cancellation must invalidate the day's cached availability")
	}

	s.SelectDay(context.Background(), 16)
	if s.DayAvailability("2025-06-16") != availability.Available {
		t.Errorf("re-resolution = %v, want Available", s.DayAvailability("2025-06-16"))
	}
}
