package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/api"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
	redisclient "github.com/TrixieAM/MyHubCares---90-sub003/internal/redis"
)

const testSecret = "test-secret"

type testEnv struct {
	store *MemStore
	srv   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()

	store := NewMemStore()
	patientID := int64(42)
	store.AddUser(api.User{UserID: 7, Name: "Pat", Role: "patient", PatientID: &patientID}, &patientID)
	store.AddUser(api.User{UserID: 9, Name: "Dr. X", Role: "physician"}, nil)
	store.AddFacility(api.Facility{ID: 3, Name: "Main Clinic"})

	hub := NewHub(log)
	handlers := NewHandlers(store, redisclient.NewLocalWindowLocker(), hub, testSecret, log)
	router := NewRouter(handlers, &Health{}, testSecret, log)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{store: store, srv: srv}
}

// clientFor builds the typed portal client authenticated as the given user.
func (e *testEnv) clientFor(t *testing.T, userID int64, role string) *api.Client {
	t.Helper()
	token, err := IssueToken(testSecret, userID, role, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return api.NewClient(e.srv.URL, func() string { return token }, time.Second, zerolog.Nop())
}

func bookingRequest(start time.Time) appointment.Request {
	return appointment.Request{
		PatientID:       42,
		FacilityID:      3,
		Type:            appointment.TypeFollowUp,
		ScheduledStart:  start,
		ScheduledEnd:    start.Add(30 * time.Minute),
		DurationMinutes: 30,
		Reason:          "checkup",
	}
}

func nextMonday(hour int) time.Time {
	t := time.Now().AddDate(0, 0, 7)
	for t.Weekday() != time.Monday {
		t = t.AddDate(0, 0, 1)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.Local)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/appointments")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLoginAndMe(t *testing.T) {
	env := newTestEnv(t)
	anon := api.NewClient(env.srv.URL, nil, time.Second, zerolog.Nop())

	token, err := anon.Login(context.Background(), 7)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	authed := api.NewClient(env.srv.URL, func() string { return token }, time.Second, zerolog.Nop())
	user, err := authed.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user.UserID != 7 || user.Role != "patient" {
		t.Errorf("user = %+v", user)
	}

	if _, err := anon.Login(context.Background(), 12345); !api.IsNotFound(err) {
		t.Errorf("unknown user login err = %v, want not found", err)
	}
}

func TestBookingConflict(t *testing.T) {
	env := newTestEnv(t)
	client := env.clientFor(t, 7, "patient")
	start := nextMonday(10)

	created, err := client.CreateAppointment(context.Background(), bookingRequest(start))
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if created == nil || created.Status != appointment.StatusScheduled {
		t.Fatalf("created = %+v", created)
	}

	// Same window again: the server must reject with a conflict.
	_, err = client.CreateAppointment(context.Background(), bookingRequest(start.Add(15*time.Minute)))
	if !api.IsConflict(err) {
		t.Fatalf("overlapping booking err = %v, want conflict", err)
	}
	if err.Error() != "the requested time is no longer available" {
		t.Errorf("conflict message = %q", err.Error())
	}

	// A disjoint window is fine.
	if _, err := client.CreateAppointment(context.Background(), bookingRequest(start.Add(2*time.Hour))); err != nil {
		t.Errorf("disjoint booking: %v", err)
	}
}

func TestPatientCannotBookForOthers(t *testing.T) {
	env := newTestEnv(t)
	client := env.clientFor(t, 7, "patient")

	req := bookingRequest(nextMonday(10))
	req.PatientID = 99
	_, err := client.CreateAppointment(context.Background(), req)
	if !api.IsAuth(err) {
		t.Errorf("err = %v, want auth failure", err)
	}
}

func TestPhysicianMustBeTheProvider(t *testing.T) {
	env := newTestEnv(t)
	client := env.clientFor(t, 9, "physician")

	req := bookingRequest(nextMonday(10))
	other := int64(11)
	req.ProviderID = &other
	if _, err := client.CreateAppointment(context.Background(), req); !api.IsAuth(err) {
		t.Errorf("err = %v, want auth failure", err)
	}

	self := int64(9)
	req.ProviderID = &self
	if _, err := client.CreateAppointment(context.Background(), req); err != nil {
		t.Errorf("booking as the provider: %v", err)
	}
}

func TestValidationMessages(t *testing.T) {
	env := newTestEnv(t)
	client := env.clientFor(t, 7, "patient")

	req := bookingRequest(nextMonday(10))
	req.FacilityID = 0
	_, err := client.CreateAppointment(context.Background(), req)
	if !api.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
	if err.Error() != "facility_id is required" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestCancelFlow(t *testing.T) {
	env := newTestEnv(t)
	client := env.clientFor(t, 7, "patient")

	created, err := client.CreateAppointment(context.Background(), bookingRequest(nextMonday(10)))
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	if err := client.CancelAppointment(context.Background(), created.ID, "schedule conflict"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := env.store.GetAppointment(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if got.Status != appointment.StatusCancelled || got.Reason != "schedule conflict" {
		t.Errorf("appointment = %+v", got)
	}

	// Terminal now: a second cancel must fail before any state change.
	err = client.CancelAppointment(context.Background(), created.ID, "again")
	if !api.IsValidation(err) {
		t.Errorf("second cancel err = %v, want validation", err)
	}
}

func TestCancelRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	client := env.clientFor(t, 7, "patient")

	created, err := client.CreateAppointment(context.Background(), bookingRequest(nextMonday(10)))
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if err := client.CancelAppointment(context.Background(), created.ID, ""); !api.IsValidation(err) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestUpdateFlow(t *testing.T) {
	env := newTestEnv(t)
	client := env.clientFor(t, 7, "patient")
	start := nextMonday(10)

	created, err := client.CreateAppointment(context.Background(), bookingRequest(start))
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	moved := bookingRequest(start.Add(3 * time.Hour))
	updated, err := client.UpdateAppointment(context.Background(), created.ID, moved)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.ScheduledStart.Equal(moved.ScheduledStart) {
		t.Errorf("start = %v, want %v", updated.ScheduledStart, moved.ScheduledStart)
	}

	// An update may keep its own window without conflicting with itself.
	if _, err := client.UpdateAppointment(context.Background(), created.ID, moved); err != nil {
		t.Errorf("self-overlap update: %v", err)
	}

	if _, err := client.UpdateAppointment(context.Background(), 9999, moved); !api.IsNotFound(err) {
		t.Errorf("unknown id err = %v, want not found", err)
	}
}

func TestBookingCreatesNotification(t *testing.T) {
	env := newTestEnv(t)
	client := env.clientFor(t, 7, "patient")

	if _, err := client.CreateAppointment(context.Background(), bookingRequest(nextMonday(10))); err != nil {
		t.Fatalf("booking: %v", err)
	}

	envs, err := client.ListNotifications(context.Background())
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(envs) != 1 || envs[0].Subject != "Appointment Booked" {
		t.Fatalf("envelopes = %+v", envs)
	}
	if envs[0].IsRead {
		t.Error("new notification must be unread")
	}

	if err := client.MarkNotificationRead(context.Background(), envs[0].MessageID); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	// Re-acknowledging is a no-op, not an error.
	if err := client.MarkNotificationRead(context.Background(), envs[0].MessageID); err != nil {
		t.Errorf("re-ack: %v", err)
	}
	if err := client.MarkNotificationRead(context.Background(), "nope"); !api.IsNotFound(err) {
		t.Errorf("unknown id err = %v, want not found", err)
	}
}

func TestAvailabilityEndpoints(t *testing.T) {
	env := newTestEnv(t)
	client := env.clientFor(t, 7, "patient")
	start := nextMonday(10)

	t.Run("check reports conflicts", func(t *testing.T) {
		data, err := client.CheckAvailability(context.Background(), 3, nil, start, start.Add(30*time.Minute))
		if err != nil {
			t.Fatalf("CheckAvailability: %v", err)
		}
		if !data.Available || len(data.Conflicts) != 0 {
			t.Errorf("data = %+v, want clean", data)
		}

		if _, err := client.CreateAppointment(context.Background(), bookingRequest(start)); err != nil {
			t.Fatalf("booking: %v", err)
		}

		data, err = client.CheckAvailability(context.Background(), 3, nil, start, start.Add(30*time.Minute))
		if err != nil {
			t.Fatalf("CheckAvailability: %v", err)
		}
		if data.Available || len(data.Conflicts) == 0 {
			t.Errorf("data = %+v, want conflicts", data)
		}
	})

	t.Run("weekday slots", func(t *testing.T) {
		date := start.Format("2006-01-02")
		slots, err := client.DaySlots(context.Background(), 3, nil, date)
		if err != nil {
			t.Fatalf("DaySlots: %v", err)
		}
		if len(slots) != 14 {
			t.Fatalf("len(slots) = %d, want 14", len(slots))
		}
		var blocked int
		for _, s := range slots {
			if !s.Available {
				blocked++
			}
		}
		if blocked != 1 {
			t.Errorf("blocked slots = %d, want the booked window only", blocked)
		}
	})

	t.Run("weekend defines no slots", func(t *testing.T) {
		sunday := start.AddDate(0, 0, -1).Format("2006-01-02")
		slots, err := client.DaySlots(context.Background(), 3, nil, sunday)
		if err != nil {
			t.Fatalf("DaySlots: %v", err)
		}
		if slots != nil {
			t.Errorf("slots = %+v, want nil on weekends", slots)
		}
	})
}

func TestSweepPastAppointments(t *testing.T) {
	store := NewMemStore()
	now := time.Now()

	past := func(status appointment.Status) int64 {
		a, _ := store.CreateAppointment(context.Background(), appointment.Request{
			PatientID: 42, FacilityID: 3, Type: appointment.TypeFollowUp,
			ScheduledStart: now.Add(-2 * time.Hour), ScheduledEnd: now.Add(-time.Hour),
		})
		if status != appointment.StatusScheduled {
			store.mu.Lock()
			rec := store.appointments[a.ID]
			rec.Status = status
			store.appointments[a.ID] = rec
			store.mu.Unlock()
		}
		return a.ID
	}

	confirmed := past(appointment.StatusConfirmed)
	scheduled := past(appointment.StatusScheduled)
	cancelled := past(appointment.StatusCancelled)

	future, _ := store.CreateAppointment(context.Background(), appointment.Request{
		PatientID: 42, FacilityID: 3, Type: appointment.TypeFollowUp,
		ScheduledStart: now.Add(time.Hour), ScheduledEnd: now.Add(2 * time.Hour),
	})

	transitions, err := store.SweepPastAppointments(context.Background(), now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(transitions) != 2 {
		t.Fatalf("transitions = %d, want 2", len(transitions))
	}

	want := map[int64]appointment.Status{
		confirmed: appointment.StatusCompleted,
		scheduled: appointment.StatusNoShow,
		cancelled: appointment.StatusCancelled,
		future.ID: appointment.StatusScheduled,
	}
	for id, status := range want {
		got, err := store.GetAppointment(context.Background(), id)
		if err != nil {
			t.Fatalf("GetAppointment(%d): %v", id, err)
		}
		if got.Status != status {
			t.Errorf("appointment %d status = %v, want %v", id, got.Status, status)
		}
	}

	// A second sweep finds nothing left to do.
	transitions, err = store.SweepPastAppointments(context.Background(), now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(transitions) != 0 {
		t.Errorf("second sweep transitions = %d, want 0", len(transitions))
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(env.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
