package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/calendar"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/notification"
	redisclient "github.com/TrixieAM/MyHubCares---90-sub003/internal/redis"
)

const tokenTTL = 24 * time.Hour

// Handlers carries the dependencies of the HTTP surface.
type Handlers struct {
	store  Store
	locker redisclient.Locker
	hub    *Hub
	secret string
	log    zerolog.Logger
}

func NewHandlers(store Store, locker redisclient.Locker, hub *Hub, secret string, log zerolog.Logger) *Handlers {
	return &Handlers{store: store, locker: locker, hub: hub, secret: secret, log: log}
}

// handleLogin issues a bearer token for a known user. This is the dev
// login; it trusts the caller to name themselves.
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	user, err := h.store.GetUser(r.Context(), body.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.internalError(w, err)
		return
	}

	token, err := IssueToken(h.secret, user.UserID, user.Role, tokenTTL)
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"token": token},
		"user": user,
	})
}

func (h *Handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), callerID(r.Context()))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handlers) handleMyProfile(w http.ResponseWriter, r *http.Request) {
	patientID, err := h.store.GetPatientIDForUser(r.Context(), callerID(r.Context()))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "no patient profile")
			return
		}
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patient": map[string]any{"patient_id": patientID},
	})
}

func (h *Handlers) handleListFacilities(w http.ResponseWriter, r *http.Request) {
	facilities, err := h.store.ListFacilities(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": facilities})
}

func (h *Handlers) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListProviders(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": providers})
}

func (h *Handlers) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": users})
}

// scopeFor narrows appointment visibility to the caller's own records.
func (h *Handlers) scopeFor(r *http.Request) (Scope, error) {
	ctx := r.Context()
	switch callerRole(ctx) {
	case "patient":
		patientID, err := h.store.GetPatientIDForUser(ctx, callerID(ctx))
		if err != nil {
			return Scope{}, err
		}
		return Scope{PatientID: &patientID}, nil
	case "physician":
		providerID := callerID(ctx)
		return Scope{ProviderID: &providerID}, nil
	default:
		return Scope{}, nil
	}
}

func (h *Handlers) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	scope, err := h.scopeFor(r)
	if err != nil {
		h.internalError(w, err)
		return
	}
	appts, err := h.store.ListAppointments(r.Context(), scope)
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": appts})
}

// authorizeRequest verifies the booking body against the caller's role:
// patients book only for themselves, physicians only for their own panel.
func (h *Handlers) authorizeRequest(r *http.Request, req *appointment.Request) (int, string) {
	ctx := r.Context()
	switch callerRole(ctx) {
	case "patient":
		patientID, err := h.store.GetPatientIDForUser(ctx, callerID(ctx))
		if err != nil {
			return http.StatusForbidden, "no patient record for this account"
		}
		if req.PatientID != patientID {
			return http.StatusForbidden, "patients may only book their own appointments"
		}
	case "physician":
		providerID := callerID(ctx)
		if req.ProviderID == nil || *req.ProviderID != providerID {
			return http.StatusForbidden, "physicians may only book appointments they provide"
		}
	}
	return 0, ""
}

func validateRequest(req *appointment.Request) string {
	switch {
	case req.PatientID == 0:
		return "patient_id is required"
	case req.FacilityID == 0:
		return "facility_id is required"
	case req.Type == "":
		return "appointment_type is required"
	case req.ScheduledStart.IsZero() || req.ScheduledEnd.IsZero():
		return "scheduled_start and scheduled_end are required"
	case !req.ScheduledStart.Before(req.ScheduledEnd):
		return "scheduled_end must be after scheduled_start"
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = int(req.ScheduledEnd.Sub(req.ScheduledStart) / time.Minute)
	}
	return ""
}

func (h *Handlers) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointment.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateRequest(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if status, msg := h.authorizeRequest(r, &req); status != 0 {
		writeError(w, status, msg)
		return
	}

	var created *appointment.Appointment
	day := calendar.DateOf(req.ScheduledStart.Local())
	err := h.locker.WithWindowLock(r.Context(), req.FacilityID, req.ProviderID, day, func(ctx context.Context) error {
		conflicts, err := h.store.FindConflicts(ctx, req.FacilityID, req.ProviderID, req.ScheduledStart, req.ScheduledEnd, 0)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return ErrWindowConflict
		}
		created, err = h.store.CreateAppointment(ctx, req)
		return err
	})
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	h.notifyPatient(r.Context(), created, "Appointment Booked",
		fmt.Sprintf("Your %s appointment on %s has been scheduled.", created.Type, created.Day()))
	writeJSON(w, http.StatusCreated, map[string]any{"data": created})
}

func (h *Handlers) handleUpdateAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	var req appointment.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateRequest(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if status, msg := h.authorizeRequest(r, &req); status != 0 {
		writeError(w, status, msg)
		return
	}
	if status, msg := h.authorizeExisting(r, id); status != 0 {
		writeError(w, status, msg)
		return
	}

	var updated *appointment.Appointment
	day := calendar.DateOf(req.ScheduledStart.Local())
	err = h.locker.WithWindowLock(r.Context(), req.FacilityID, req.ProviderID, day, func(ctx context.Context) error {
		conflicts, err := h.store.FindConflicts(ctx, req.FacilityID, req.ProviderID, req.ScheduledStart, req.ScheduledEnd, id)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return ErrWindowConflict
		}
		updated, err = h.store.UpdateAppointment(ctx, id, req)
		return err
	})
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	h.notifyPatient(r.Context(), updated, "Appointment Updated",
		fmt.Sprintf("Your %s appointment has been moved to %s.", updated.Type, updated.Day()))
	writeJSON(w, http.StatusOK, map[string]any{"data": updated})
}

func (h *Handlers) handleCancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	var body struct {
		CancellationReason string `json:"cancellation_reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CancellationReason == "" {
		writeError(w, http.StatusBadRequest, "cancellation_reason is required")
		return
	}
	if status, msg := h.authorizeExisting(r, id); status != 0 {
		writeError(w, status, msg)
		return
	}

	cancelled, err := h.store.CancelAppointment(r.Context(), id, body.CancellationReason)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	h.notifyPatient(r.Context(), cancelled, "Appointment Cancelled",
		fmt.Sprintf("Your %s appointment on %s was cancelled: %s.", cancelled.Type, cancelled.Day(), body.CancellationReason))
	writeJSON(w, http.StatusOK, map[string]any{"data": cancelled})
}

// authorizeExisting checks the caller owns the appointment they are
// touching.
func (h *Handlers) authorizeExisting(r *http.Request, id int64) (int, string) {
	ctx := r.Context()
	a, err := h.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return http.StatusNotFound, "appointment not found"
		}
		return http.StatusInternalServerError, "internal error"
	}

	switch callerRole(ctx) {
	case "patient":
		patientID, err := h.store.GetPatientIDForUser(ctx, callerID(ctx))
		if err != nil || a.PatientID != patientID {
			return http.StatusForbidden, "not your appointment"
		}
	case "physician":
		if a.ProviderID == nil || *a.ProviderID != callerID(ctx) {
			return http.StatusForbidden, "not your appointment"
		}
	}
	return 0, ""
}

func (h *Handlers) writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrWindowConflict), errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, ErrWindowConflict.Error())
	case errors.Is(err, ErrNotEditable):
		writeError(w, http.StatusBadRequest, ErrNotEditable.Error())
	case errors.Is(err, ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
	default:
		h.internalError(w, err)
	}
}

func (h *Handlers) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	facilityID, err := strconv.ParseInt(q.Get("facility_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "facility_id is required")
		return
	}
	var providerID *int64
	if raw := q.Get("provider_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid provider_id")
			return
		}
		providerID = &id
	}
	start, err := time.Parse(time.RFC3339, q.Get("scheduled_start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scheduled_start")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("scheduled_end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scheduled_end")
		return
	}

	conflicts, err := h.store.FindConflicts(r.Context(), facilityID, providerID, start, end, 0)
	if err != nil {
		h.internalError(w, err)
		return
	}

	data := map[string]any{"available": len(conflicts) == 0}
	if len(conflicts) > 0 {
		data["conflicts"] = conflicts
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (h *Handlers) handleDaySlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	facilityID, err := strconv.ParseInt(q.Get("facility_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "facility_id is required")
		return
	}
	var providerID *int64
	if raw := q.Get("provider_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid provider_id")
			return
		}
		providerID = &id
	}
	date := q.Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}

	slots, err := h.store.DaySlots(r.Context(), facilityID, providerID, date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// A nil slice encodes as null: the day defines no slots at all, which
	// clients treat differently from an empty defined list.
	var data any
	if slots != nil {
		data = slots
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (h *Handlers) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	envs, err := h.store.ListNotifications(r.Context(), callerID(r.Context()))
	if err != nil {
		h.internalError(w, err)
		return
	}
	if envs == nil {
		envs = []notification.Envelope{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"in_app_messages": envs},
	})
}

func (h *Handlers) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.store.MarkNotificationRead(r.Context(), callerID(r.Context()), id)
	if err != nil {
		if errors.Is(err, ErrNotificationMissing) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// notifyPatient records an in-app message for the appointment's patient and
// pushes the live event. Delivery problems are logged, never surfaced to
// the booking caller.
func (h *Handlers) notifyPatient(ctx context.Context, a *appointment.Appointment, subject, body string) {
	if a == nil {
		return
	}
	userID, err := h.store.UserIDForPatient(ctx, a.PatientID)
	if err != nil {
		h.log.Warn().Err(err).Int64("patient_id", a.PatientID).Msg("no portal user for patient, skipping notification")
		return
	}
	env := notification.Envelope{
		Subject:       subject,
		Body:          body,
		Type:          "appointment",
		AppointmentID: &a.ID,
	}
	if err := h.store.InsertNotification(ctx, userID, env); err != nil {
		h.log.Error().Err(err).Msg("insert notification")
		return
	}
	h.hub.NotifyUser(userID)
}

func (h *Handlers) internalError(w http.ResponseWriter, err error) {
	h.log.Error().Err(err).Msg("handler failure")
	writeError(w, http.StatusInternalServerError, "internal error")
}
