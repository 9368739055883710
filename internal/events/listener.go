package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WSListener connects to a hub's websocket endpoint and republishes every
// RouteUpdated it receives to a local publisher, reconnecting until its
// context ends.
type WSListener struct {
	URL       string
	Target    Publisher
	Reconnect time.Duration
	Dialer    *websocket.Dialer
	Logger    log.FieldLogger
}

// NewWSListener builds a listener for GET <baseURL>/ws/routes. A non-zero
// vehicleID narrows the stream to that vehicle.
func NewWSListener(baseURL string, vehicleID int64, target Publisher, logger log.FieldLogger) (*WSListener, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/routes"
	if vehicleID != 0 {
		u.RawQuery = url.Values{"vehicleId": {strconv.FormatInt(vehicleID, 10)}}.Encode()
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &WSListener{
		URL:       u.String(),
		Target:    target,
		Reconnect: 2 * time.Second,
		Dialer:    websocket.DefaultDialer,
		Logger:    logger,
	}, nil
}

// Run blocks until ctx is done.
func (l *WSListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.Logger.WithError(err).WithField("url", l.URL).Warn("Route event stream lost, reconnecting")
		select {
		case <-time.After(l.Reconnect):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *WSListener) listen(ctx context.Context) error {
	conn, _, err := l.Dialer.DialContext(ctx, l.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	l.Logger.WithField("url", l.URL).Info("Subscribed to route events")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.Logger.WithError(err).Warn("Ignoring malformed websocket message")
			continue
		}
		if msg.Type != MessageRouteUpdated {
			continue
		}
		var ev RouteUpdated
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			l.Logger.WithError(err).Warn("Ignoring malformed route event")
			continue
		}
		if err := l.Target.Publish(ctx, ev); err != nil {
			l.Logger.WithError(err).Warn("Failed to forward route event")
		}
	}
}
