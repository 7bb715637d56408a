package availability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
)

type fakeBackend struct {
	data      *Data
	checkErr  error
	slots     []Slot
	slotsErr  error
	dayCalls  int
	lastStart time.Time
}

func (f *fakeBackend) CheckAvailability(ctx context.Context, facilityID int64, providerID *int64, start, end time.Time) (*Data, error) {
	f.lastStart = start
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.data, nil
}

func (f *fakeBackend) DaySlots(ctx context.Context, facilityID int64, providerID *int64, date string) ([]Slot, error) {
	f.dayCalls++
	if f.slotsErr != nil {
		return nil, f.slotsErr
	}
	return f.slots, nil
}

func window() (time.Time, time.Time) {
	start := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	return start, start.Add(30 * time.Minute)
}

func TestCheckWindow(t *testing.T) {
	empty := []Slot{}
	one := []Slot{{Available: true}}

	tests := []struct {
		name    string
		backend fakeBackend
		want    Result
	}{
		{
			name:    "clean data is available",
			backend: fakeBackend{data: &Data{Available: true}},
			want:    Result{Status: Available},
		},
		{
			name: "conflicts win over available flag and slots",
			backend: fakeBackend{data: &Data{
				Available:      true,
				AvailableSlots: &one,
				Conflicts:      []json.RawMessage{json.RawMessage(`{}`)},
			}},
			want: Result{Status: Unavailable},
		},
		{
			name:    "explicitly empty slot list is unavailable",
			backend: fakeBackend{data: &Data{Available: true, AvailableSlots: &empty}},
			want:    Result{Status: Unavailable},
		},
		{
			name:    "absent slot data is not evidence",
			backend: fakeBackend{data: &Data{Available: false}},
			want:    Result{Status: Available},
		},
		{
			name:    "failure fails open with advisory",
			backend: fakeBackend{checkErr: errors.New("boom")},
			want:    Result{Status: Available, Advisory: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(&tt.backend, zerolog.Nop())
			start, end := window()
			got := r.CheckWindow(context.Background(), 1, nil, start, end)
			if got != tt.want {
				t.Errorf("CheckWindow = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResultBookable(t *testing.T) {
	if !(Result{Status: Available}).Bookable() {
		t.Error("available should be bookable")
	}
	if !(Result{Status: Unknown}).Bookable() {
		t.Error("unknown should be bookable, the server decides")
	}
	if (Result{Status: Unavailable}).Bookable() {
		t.Error("unavailable should not be bookable")
	}
}

func TestCheckDayLocalShortCircuit(t *testing.T) {
	start, end := window()
	local := []appointment.Appointment{{
		ID:             1,
		FacilityID:     1,
		ScheduledStart: start,
		ScheduledEnd:   end,
		Status:         appointment.StatusScheduled,
	}}

	backend := &fakeBackend{}
	r := NewResolver(backend, zerolog.Nop())

	got := r.CheckDay(context.Background(), 1, nil, "2025-06-16", local)
	if got != Unavailable {
		t.Errorf("CheckDay = %v, want Unavailable", got)
	}
	if backend.dayCalls != 0 {
		t.Errorf("local conflict should not reach the network, got %d calls", backend.dayCalls)
	}
}

func TestCheckDayCancelledLocalIgnored(t *testing.T) {
	start, end := window()
	local := []appointment.Appointment{{
		ID:             1,
		FacilityID:     1,
		ScheduledStart: start,
		ScheduledEnd:   end,
		Status:         appointment.StatusCancelled,
	}}

	backend := &fakeBackend{slots: []Slot{{Available: true}}}
	r := NewResolver(backend, zerolog.Nop())

	if got := r.CheckDay(context.Background(), 1, nil, "2025-06-16", local); got != Available {
		t.Errorf("CheckDay = %v, want Available", got)
	}
	if backend.dayCalls != 1 {
		t.Errorf("expected slot lookup, got %d calls", backend.dayCalls)
	}
}

func TestCheckDaySlots(t *testing.T) {
	tests := []struct {
		name    string
		backend fakeBackend
		want    Status
	}{
		{"lookup failure is unknown", fakeBackend{slotsErr: errors.New("boom")}, Unknown},
		{"no defined slots is available", fakeBackend{slots: nil}, Available},
		{"all slots taken is unavailable", fakeBackend{slots: []Slot{{Available: false}, {Available: false}}}, Unavailable},
		{"one free slot is available", fakeBackend{slots: []Slot{{Available: false}, {Available: true}}}, Available},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(&tt.backend, zerolog.Nop())
			if got := r.CheckDay(context.Background(), 1, nil, "2025-06-16", nil); got != tt.want {
				t.Errorf("CheckDay = %v, want %v", got, tt.want)
			}
		})
	}
}
