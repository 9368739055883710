package events

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// MessageRouteUpdated is the websocket message type carrying a RouteUpdated.
const MessageRouteUpdated = "route_updated"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// WSMessage is the envelope of every websocket frame.
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client is one websocket subscriber. VehicleID zero receives every event,
// which is what dashboards want; drivers pass their own vehicle.
type Client struct {
	VehicleID int64
	Conn      *websocket.Conn
	Send      chan []byte
	hub       *Hub
}

// Hub pushes route events to websocket clients.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan RouteUpdated
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     log.FieldLogger
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(logger log.FieldLogger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan RouteUpdated, 64),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run owns the client map until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.Send)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.WithField("vehicle_id", c.VehicleID).Debug("Websocket client registered")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.Send)
				h.logger.WithField("vehicle_id", c.VehicleID).Debug("Websocket client unregistered")
			}

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev RouteUpdated) {
	data, err := encodeMessage(ev)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal route event")
		return
	}
	for c := range h.clients {
		if c.VehicleID != 0 && c.VehicleID != ev.VehicleID {
			continue
		}
		select {
		case c.Send <- data:
		default:
			close(c.Send)
			delete(h.clients, c)
		}
	}
}

// Publish queues ev for delivery to connected clients.
func (h *Hub) Publish(ctx context.Context, ev RouteUpdated) error {
	select {
	case h.broadcast <- ev:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades GET /ws/routes[?vehicleId=] to a websocket.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var vehicleID int64
	if v := r.URL.Query().Get("vehicleId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "Invalid vehicleId", http.StatusBadRequest)
			return
		}
		vehicleID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &Client{VehicleID: vehicleID, Conn: conn, Send: make(chan []byte, sendBuffer), hub: h}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func encodeMessage(ev RouteUpdated) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{Type: MessageRouteUpdated, Payload: payload, Timestamp: time.Now().UTC()})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to process control frames and notice disconnects.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Debug("Websocket read error")
			}
			return
		}
	}
}
