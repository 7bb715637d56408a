package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventNewNotification is the push event name that triggers a feed refresh.
const EventNewNotification = "newNotification"

// pushEvent is the frame the push channel delivers. No payload is required;
// the event name alone is the trigger.
type pushEvent struct {
	Event string `json:"event"`
}

// Listener subscribes to the live push channel and turns every
// newNotification event into a feed refresh.
type Listener struct {
	url     string
	token   func() string
	feed    *Feed
	log     zerolog.Logger
	backoff time.Duration
}

func NewListener(url string, token func() string, feed *Feed, log zerolog.Logger) *Listener {
	return &Listener{
		url:     url,
		token:   token,
		feed:    feed,
		log:     log,
		backoff: 2 * time.Second,
	}
}

// Run dials the push channel and pumps events until ctx is cancelled,
// redialing on connection loss.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.pump(ctx); err != nil && ctx.Err() == nil {
			l.log.Warn().Err(err).Dur("retry_in", l.backoff).Msg("push channel lost")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) pump(ctx context.Context) error {
	header := http.Header{}
	if l.token != nil {
		if t := l.token(); t != "" {
			header.Set("Authorization", "Bearer "+t)
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	l.log.Info().Str("url", l.url).Msg("push channel connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev pushEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			l.log.Debug().Err(err).Msg("ignoring malformed push frame")
			continue
		}
		if ev.Event == EventNewNotification {
			l.feed.OnPush(ctx)
		}
	}
}
