package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/availability"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/notification"
)

// User is the authenticated identity from /auth/me. PatientID may be absent
// even for patient-role users; some deployments nest it under Patient.
type User struct {
	UserID    int64       `json:"user_id"`
	Name      string      `json:"name"`
	Role      string      `json:"role"`
	PatientID *int64      `json:"patient_id"`
	Patient   *PatientRef `json:"patient"`
}

type PatientRef struct {
	PatientID int64 `json:"patient_id"`
}

// Profile is the secondary identity record from /profile/me.
type Profile struct {
	PatientID int64 `json:"patient_id"`
}

type Facility struct {
	ID      int64  `json:"facility_id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

type Provider struct {
	ID        int64  `json:"user_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Specialty string `json:"specialty,omitempty"`
}

// Login exchanges a user id for a bearer token on deployments that expose
// the dev login endpoint.
func (c *Client) Login(ctx context.Context, userID int64) (string, error) {
	body := map[string]int64{"user_id": userID}
	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &resp); err != nil {
		return "", err
	}
	if resp.Data.Token == "" {
		return "", &Error{Kind: KindTransport, Message: "login returned no token"}
	}
	return resp.Data.Token, nil
}

// Me fetches the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp struct {
		User *User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, &Error{Kind: KindTransport, Message: "auth/me returned no user"}
	}
	return resp.User, nil
}

// MyProfile fetches the fallback identity record.
func (c *Client) MyProfile(ctx context.Context) (*Profile, error) {
	var resp struct {
		Patient *Profile `json:"patient"`
	}
	if err := c.do(ctx, http.MethodGet, "/profile/me", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Patient == nil {
		return nil, &Error{Kind: KindNotFound, Message: "no patient profile"}
	}
	return resp.Patient, nil
}

// ListAppointments returns the session's working set.
func (c *Client) ListAppointments(ctx context.Context) ([]appointment.Appointment, error) {
	var resp struct {
		Data []appointment.Appointment `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/appointments", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CreateAppointment books a new appointment. The returned record may be nil
// when the backend acknowledges without echoing it.
func (c *Client) CreateAppointment(ctx context.Context, req appointment.Request) (*appointment.Appointment, error) {
	var resp struct {
		Data *appointment.Appointment `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/appointments", nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UpdateAppointment rewrites an existing appointment.
func (c *Client) UpdateAppointment(ctx context.Context, id int64, req appointment.Request) (*appointment.Appointment, error) {
	var resp struct {
		Data *appointment.Appointment `json:"data"`
	}
	path := "/appointments/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodPut, path, nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CancelAppointment cancels with a mandatory reason.
func (c *Client) CancelAppointment(ctx context.Context, id int64, reason string) error {
	body := map[string]string{"cancellation_reason": reason}
	path := "/appointments/" + strconv.FormatInt(id, 10)
	return c.do(ctx, http.MethodDelete, path, nil, body, nil)
}

// CheckAvailability asks the system of record about one booking window.
func (c *Client) CheckAvailability(ctx context.Context, facilityID int64, providerID *int64, start, end time.Time) (*availability.Data, error) {
	q := url.Values{}
	q.Set("facility_id", strconv.FormatInt(facilityID, 10))
	if providerID != nil {
		q.Set("provider_id", strconv.FormatInt(*providerID, 10))
	}
	q.Set("scheduled_start", start.Format(time.RFC3339))
	q.Set("scheduled_end", end.Format(time.RFC3339))

	var resp struct {
		Data *availability.Data `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/appointments/availability/check", q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, &Error{Kind: KindTransport, Message: "availability check returned no data"}
	}
	return resp.Data, nil
}

// DaySlots lists the server-defined slots for one civil date. A nil slice
// means the backend defines no slots for that day, which is not the same as
// an empty defined list.
func (c *Client) DaySlots(ctx context.Context, facilityID int64, providerID *int64, date string) ([]availability.Slot, error) {
	q := url.Values{}
	q.Set("facility_id", strconv.FormatInt(facilityID, 10))
	if providerID != nil {
		q.Set("provider_id", strconv.FormatInt(*providerID, 10))
	}
	q.Set("date", date)

	var resp struct {
		Data []availability.Slot `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/appointments/availability/slots", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListFacilities returns the clinical sites reference list.
func (c *Client) ListFacilities(ctx context.Context) ([]Facility, error) {
	var resp struct {
		Data []Facility `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/facilities", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListProviders returns the assignable physicians. When the dedicated
// endpoint is unavailable it silently falls back to the generic user list
// filtered to the physician role.
func (c *Client) ListProviders(ctx context.Context) ([]Provider, error) {
	var resp struct {
		Data []Provider `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/users/providers", nil, nil, &resp)
	if err == nil {
		return resp.Data, nil
	}
	if !IsNotFound(err) && !IsAuth(err) {
		return nil, err
	}

	var fallback struct {
		Data []Provider `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/users", nil, nil, &fallback); err != nil {
		return nil, err
	}
	providers := fallback.Data[:0:0]
	for _, u := range fallback.Data {
		if u.Role == "physician" {
			providers = append(providers, u)
		}
	}
	return providers, nil
}

// ListNotifications pulls the in-app message list.
func (c *Client) ListNotifications(ctx context.Context) ([]notification.Envelope, error) {
	q := url.Values{}
	q.Set("type", "in_app")

	var resp struct {
		Data struct {
			InAppMessages []notification.Envelope `json:"in_app_messages"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.InAppMessages, nil
}

// MarkNotificationRead acknowledges one notification. The server treats
// re-acknowledgment as a no-op, so callers may retry freely.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/notifications/"+id+"/read", nil, nil, nil)
}
