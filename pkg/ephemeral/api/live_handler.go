package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tendant/ephemeral/pkg/ephemeral"
	"github.com/tendant/ephemeral/pkg/ephemeral/broadcast"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 60 * time.Second
	defaultWriteWait    = 10 * time.Second

	// expiryRecheck spaces store lookups once a hub has outlived its local deadline
	expiryRecheck = time.Second

	// envelopeOverhead allows for the {type, payload} wrapper around a relayed payload
	envelopeOverhead = 256
)

// Frame is the wire format of every live message in both directions
type Frame struct {
	Type    ephemeral.EventType `json:"type"`
	Payload json.RawMessage     `json:"payload,omitempty"`
}

// ConnectionTracker observes open live connections
type ConnectionTracker interface {
	ConnectionOpened()
	ConnectionClosed()
}

// LiveHandler serves the per-hub WebSocket event stream
type LiveHandler struct {
	service      ephemeral.Service
	broadcaster  *broadcast.Broadcaster
	tracker      ConnectionTracker
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
}

// NewLiveHandler creates a live handler. pingInterval must be shorter than pongWait.
func NewLiveHandler(service ephemeral.Service, broadcaster *broadcast.Broadcaster, logger *slog.Logger) *LiveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveHandler{
		service:     service,
		broadcaster: broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Hubs are anonymous and origin policy belongs to the proxy in front
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pingInterval: DefaultPingInterval,
		pongWait:     DefaultPongWait,
		writeWait:    defaultWriteWait,
	}
}

// ServeHTTP upgrades the connection and streams the hub's events until the
// client leaves, stops answering pings, or the hub expires.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !ephemeral.ValidID(id) {
		writeNotFound(w, r)
		return
	}
	hub, err := h.service.GetHub(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.Debug("WebSocket upgrade failed", "hub_id", id, "err", err)
		return
	}
	defer conn.Close()

	sub := h.broadcaster.Subscribe(id)
	defer sub.Close()

	if h.tracker != nil {
		h.tracker.ConnectionOpened()
		defer h.tracker.ConnectionClosed()
	}
	h.logger.Debug("Viewer connected", "hub_id", id, "viewers", h.broadcaster.Subscribers(id))

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readLoop(ctx, conn, id)
	}()

	h.writeLoop(ctx, conn, sub, hub.ExpiresAt, readDone)
	h.logger.Debug("Viewer disconnected", "hub_id", id, "dropped", sub.Dropped())
}

// writeLoop is the connection's only writer of data frames
func (h *LiveHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscription, expiresAt time.Time, readDone <-chan struct{}) {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	expiry := time.NewTimer(time.Until(expiresAt))
	defer expiry.Stop()

	for {
		select {
		case <-readDone:
			return

		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteJSON(Frame{Type: event.Type, Payload: event.Payload}); err != nil {
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeWait)); err != nil {
				return
			}

		case <-expiry.C:
			// The store decides expiry; a local timer only prompts the check
			_, err := h.service.GetHub(ctx, sub.HubID())
			if errors.Is(err, ephemeral.ErrHubNotFound) {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "hub expired")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeWait))
				return
			}
			expiry.Reset(expiryRecheck)
		}
	}
}

// readLoop relays client events and keeps the read deadline moving while pongs arrive
func (h *LiveHandler) readLoop(ctx context.Context, conn *websocket.Conn, id string) {
	limits := h.service.Limits()
	conn.SetReadLimit(int64(limits.MaxRelayBytes) + envelopeOverhead)
	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Live connection read failed", "hub_id", id, "err", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || !frame.Type.IsRelayable() {
			continue
		}
		if err := h.service.Relay(ctx, id, frame.Type, frame.Payload); err != nil {
			if errors.Is(err, ephemeral.ErrHubNotFound) {
				return
			}
			h.logger.Debug("Client event not relayed", "hub_id", id, "err", err)
		}
	}
}
