package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/api"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/availability"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/calendar"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/notification"
)

// PgStore is the Postgres-backed Store.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func scanAppointment(row pgx.Row) (*appointment.Appointment, error) {
	var a appointment.Appointment
	var providerID *int64
	var reason, notes *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&providerID,
		&a.FacilityID,
		&a.ScheduledStart,
		&a.ScheduledEnd,
		&a.DurationMinutes,
		&a.Type,
		&a.Status,
		&reason,
		&notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ProviderID = providerID
	if reason != nil {
		a.Reason = *reason
	}
	if notes != nil {
		a.Notes = *notes
	}
	return &a, nil
}

const appointmentColumns = `
	id, patient_id, provider_id, facility_id, scheduled_start, scheduled_end,
	duration_minutes, appointment_type, status, reason, notes
`

func (s *PgStore) GetUser(ctx context.Context, userID int64) (*api.User, error) {
	var u api.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, role, patient_id FROM users WHERE id = $1
	`, userID).Scan(&u.UserID, &u.Name, &u.Role, &u.PatientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *PgStore) GetPatientIDForUser(ctx context.Context, userID int64) (int64, error) {
	var patientID *int64
	err := s.pool.QueryRow(ctx, `
		SELECT patient_id FROM users WHERE id = $1
	`, userID).Scan(&patientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	if patientID == nil {
		return 0, ErrUserNotFound
	}
	return *patientID, nil
}

func (s *PgStore) UserIDForPatient(ctx context.Context, patientID int64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM users WHERE patient_id = $1
	`, patientID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return id, nil
}

func (s *PgStore) ListFacilities(ctx context.Context) ([]api.Facility, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, address FROM facilities ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Facility
	for rows.Next() {
		var f api.Facility
		var address *string
		if err := rows.Scan(&f.ID, &f.Name, &address); err != nil {
			return nil, err
		}
		if address != nil {
			f.Address = *address
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PgStore) listUsers(ctx context.Context, where string, args ...any) ([]api.Provider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, role FROM users `+where+` ORDER BY id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Provider
	for rows.Next() {
		var p api.Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.Role); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PgStore) ListProviders(ctx context.Context) ([]api.Provider, error) {
	return s.listUsers(ctx, `WHERE role = 'physician'`)
}

func (s *PgStore) ListUsers(ctx context.Context) ([]api.Provider, error) {
	return s.listUsers(ctx, ``)
}

func (s *PgStore) ListAppointments(ctx context.Context, scope Scope) ([]appointment.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	var args []any
	switch {
	case scope.PatientID != nil:
		query += ` WHERE patient_id = $1`
		args = append(args, *scope.PatientID)
	case scope.ProviderID != nil:
		query += ` WHERE provider_id = $1`
		args = append(args, *scope.ProviderID)
	}
	query += ` ORDER BY scheduled_start`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []appointment.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PgStore) GetAppointment(ctx context.Context, id int64) (*appointment.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+` FROM appointments WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) CreateAppointment(ctx context.Context, req appointment.Request) (*appointment.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(patient_id, provider_id, facility_id, scheduled_start, scheduled_end,
			 duration_minutes, appointment_type, status, reason, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'scheduled', $8, $9)
		RETURNING `+appointmentColumns+`
	`, req.PatientID, req.ProviderID, req.FacilityID, req.ScheduledStart, req.ScheduledEnd,
		req.DurationMinutes, req.Type, req.Reason, req.Notes)
	return scanAppointment(row)
}

func (s *PgStore) UpdateAppointment(ctx context.Context, id int64, req appointment.Request) (*appointment.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments SET
			provider_id = $2, facility_id = $3, scheduled_start = $4,
			scheduled_end = $5, duration_minutes = $6, appointment_type = $7,
			reason = $8, notes = $9
		WHERE id = $1 AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, id, req.ProviderID, req.FacilityID, req.ScheduledStart, req.ScheduledEnd,
		req.DurationMinutes, req.Type, req.Reason, req.Notes)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Distinguish a missing row from a terminal status.
		if _, getErr := s.GetAppointment(ctx, id); getErr == nil {
			return nil, ErrNotEditable
		}
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (s *PgStore) CancelAppointment(ctx context.Context, id int64, reason string) (*appointment.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments SET status = 'cancelled', reason = $2
		WHERE id = $1 AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, id, reason)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		if _, getErr := s.GetAppointment(ctx, id); getErr == nil {
			return nil, ErrNotEditable
		}
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (s *PgStore) FindConflicts(ctx context.Context, facilityID int64, providerID *int64, start, end time.Time, excludeID int64) ([]appointment.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + ` FROM appointments
		WHERE facility_id = $1
		  AND status <> 'cancelled'
		  AND scheduled_start < $2
		  AND scheduled_end > $3
		  AND id <> $4
	`
	args := []any{facilityID, end, start, excludeID}
	if providerID != nil {
		query += ` AND (provider_id IS NULL OR provider_id = $5)`
		args = append(args, *providerID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []appointment.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DaySlots mirrors the in-memory clinic day: fixed 30 minute slots between
// 09:00 and 16:00 on weekdays, marked against booked windows.
func (s *PgStore) DaySlots(ctx context.Context, facilityID int64, providerID *int64, date string) ([]availability.Slot, error) {
	day, err := time.ParseInLocation(calendar.DateLayout, date, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return nil, nil
	}

	dayStart := day
	dayEnd := day.AddDate(0, 0, 1)
	booked, err := s.FindConflicts(ctx, facilityID, providerID, dayStart, dayEnd, 0)
	if err != nil {
		return nil, err
	}

	slots := make([]availability.Slot, 0, 14)
	for h := 9; h < 16; h++ {
		for _, m := range []int{0, 30} {
			start := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, time.Local)
			end := start.Add(30 * time.Minute)
			free := true
			for _, a := range booked {
				if a.ScheduledStart.Before(end) && start.Before(a.ScheduledEnd) {
					free = false
					break
				}
			}
			slots = append(slots, availability.Slot{Start: start, End: end, Available: free})
		}
	}
	return slots, nil
}

func (s *PgStore) ListNotifications(ctx context.Context, userID int64) ([]notification.Envelope, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, subject, body, type, appointment_id, decline_reason, is_read, sent_at
		FROM notifications WHERE user_id = $1 ORDER BY sent_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notification.Envelope
	for rows.Next() {
		var env notification.Envelope
		var declineReason *string
		if err := rows.Scan(&env.MessageID, &env.Subject, &env.Body, &env.Type,
			&env.AppointmentID, &declineReason, &env.IsRead, &env.SentAt); err != nil {
			return nil, err
		}
		if declineReason != nil {
			env.DeclineReason = *declineReason
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func (s *PgStore) MarkNotificationRead(ctx context.Context, userID int64, messageID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE user_id = $1 AND message_id = $2
	`, userID, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationMissing
	}
	return nil
}

func (s *PgStore) InsertNotification(ctx context.Context, userID int64, env notification.Envelope) error {
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	sentAt := time.Now()
	if env.SentAt != nil {
		sentAt = *env.SentAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications
			(message_id, user_id, subject, body, type, appointment_id, decline_reason, is_read, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
	`, env.MessageID, userID, env.Subject, env.Body, env.Type, env.AppointmentID, env.DeclineReason, sentAt)
	return err
}

func (s *PgStore) SweepPastAppointments(ctx context.Context, now time.Time) ([]Transition, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE appointments SET status = CASE status
			WHEN 'confirmed' THEN 'completed'
			WHEN 'scheduled' THEN 'no_show'
		END
		WHERE scheduled_end < $1 AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns+`, (CASE status
			WHEN 'completed' THEN 'confirmed'
			WHEN 'no_show' THEN 'scheduled'
		END)
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var a appointment.Appointment
		var providerID *int64
		var reason, notes *string
		var from appointment.Status
		if err := rows.Scan(&a.ID, &a.PatientID, &providerID, &a.FacilityID,
			&a.ScheduledStart, &a.ScheduledEnd, &a.DurationMinutes, &a.Type,
			&a.Status, &reason, &notes, &from); err != nil {
			return nil, err
		}
		a.ProviderID = providerID
		if reason != nil {
			a.Reason = *reason
		}
		if notes != nil {
			a.Notes = *notes
		}
		out = append(out, Transition{Appointment: a, From: from})
	}
	return out, rows.Err()
}
