// Package notification maintains the in-app notification feed: pull
// refresh, live-push ingestion and read-state acknowledgment.
package notification

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Payload is the nested message body some notification envelopes carry.
type Payload struct {
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	Type          string `json:"type"`
	AppointmentID *int64 `json:"appointment_id"`
	DeclineReason string `json:"decline_reason"`
}

// Envelope is the wire shape of one in-app message. The backend delivers
// two variants: a message envelope with a nested payload, or a flat record.
// Both decode into this struct; normalize collapses them.
type Envelope struct {
	MessageID     string     `json:"message_id"`
	Subject       string     `json:"subject"`
	Body          string     `json:"body"`
	Type          string     `json:"type"`
	AppointmentID *int64     `json:"appointment_id"`
	DeclineReason string     `json:"decline_reason"`
	IsRead        bool       `json:"is_read"`
	SentAt        *time.Time `json:"sent_at"`
	CreatedAt     *time.Time `json:"created_at"`
	Payload       *Payload   `json:"payload"`
}

// Notification is the one canonical shape the rest of the portal sees.
type Notification struct {
	ID            string
	Subject       string
	Body          string
	Type          string
	AppointmentID *int64
	DeclineReason string
	Read          bool
	SentAt        time.Time
}

// normalize collapses both envelope variants into the canonical shape.
// Nested payload fields win over flat ones when both are present.
func normalize(env Envelope) Notification {
	n := Notification{
		ID:            env.MessageID,
		Subject:       env.Subject,
		Body:          env.Body,
		Type:          env.Type,
		AppointmentID: env.AppointmentID,
		DeclineReason: env.DeclineReason,
		Read:          env.IsRead,
	}
	if p := env.Payload; p != nil {
		if p.Subject != "" {
			n.Subject = p.Subject
		}
		if p.Body != "" {
			n.Body = p.Body
		}
		if p.Type != "" {
			n.Type = p.Type
		}
		if p.AppointmentID != nil {
			n.AppointmentID = p.AppointmentID
		}
		if p.DeclineReason != "" {
			n.DeclineReason = p.DeclineReason
		}
	}
	switch {
	case env.SentAt != nil:
		n.SentAt = *env.SentAt
	case env.CreatedAt != nil:
		n.SentAt = *env.CreatedAt
	}
	return n
}

// Backend is the remote surface the feed pulls from.
type Backend interface {
	ListNotifications(ctx context.Context) ([]Envelope, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// BadgeCap is the display ceiling for the unread badge.
const BadgeCap = 9

// Feed holds the ordered notification list and its unread counter.
// Refresh replaces the list atomically; push events trigger a refresh
// rather than a local merge so pull and push can never diverge.
type Feed struct {
	backend Backend
	log     zerolog.Logger

	mu     sync.RWMutex
	items  []Notification
	unread int
}

func NewFeed(backend Backend, log zerolog.Logger) *Feed {
	return &Feed{backend: backend, log: log}
}

// Refresh pulls the current list, normalizes it, sorts newest first (ties
// keep arrival order) and recomputes the exact unread count. A failed pull
// keeps the last-known list rather than blocking the caller.
func (f *Feed) Refresh(ctx context.Context) error {
	envelopes, err := f.backend.ListNotifications(ctx)
	if err != nil {
		f.log.Warn().Err(err).Msg("notification refresh failed, keeping last-known list")
		return fmt.Errorf("refresh notifications: %w", err)
	}

	items := make([]Notification, 0, len(envelopes))
	for _, env := range envelopes {
		items = append(items, normalize(env))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].SentAt.After(items[j].SentAt)
	})

	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}

	f.mu.Lock()
	f.items = items
	f.unread = unread
	f.mu.Unlock()
	return nil
}

// OnPush handles a live-delivered event. The event itself is the trigger;
// its payload is ignored and the list is re-pulled.
func (f *Feed) OnPush(ctx context.Context) {
	if err := f.Refresh(ctx); err != nil {
		f.log.Warn().Err(err).Msg("push-triggered refresh failed")
	}
}

// MarkRead acknowledges a notification. Marking an already-read one is a
// no-op. Local state flips only after the server ack, then the list is
// re-pulled.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	f.mu.RLock()
	var target *Notification
	for i := range f.items {
		if f.items[i].ID == id {
			target = &f.items[i]
			break
		}
	}
	alreadyRead := target != nil && target.Read
	f.mu.RUnlock()

	if alreadyRead {
		return nil
	}

	if err := f.backend.MarkNotificationRead(ctx, id); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}

	f.mu.Lock()
	for i := range f.items {
		if f.items[i].ID == id && !f.items[i].Read {
			f.items[i].Read = true
			f.unread--
		}
	}
	f.mu.Unlock()

	return f.Refresh(ctx)
}

// List returns the current notifications, newest first.
func (f *Feed) List() []Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Unread returns the exact unread count.
func (f *Feed) Unread() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.unread
}

// BadgeText renders the unread counter for display, capped at "9+".
func (f *Feed) BadgeText() string {
	n := f.Unread()
	if n > BadgeCap {
		return strconv.Itoa(BadgeCap) + "+"
	}
	return strconv.Itoa(n)
}
