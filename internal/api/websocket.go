package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/battery"
	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/infrastructure/config"
	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypeGetAll      = "get_all_batteries"
	WSTypeGetLow      = "get_low_batteries"
	WSTypeSubscribe   = "subscribe_updates"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 64
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub manages WebSocket connections.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
//
// A client that sends subscribe_updates becomes a subscriber on the
// active tracking session; SendEvent pushes update payloads into its
// outbound buffer without blocking.
type WSClient struct {
	hub    *Hub
	server *Server
	conn   *websocket.Conn
	send   chan []byte

	// clientID identifies this connection's session subscription.
	clientID string
	// unsubscribe detaches this client from the session; nil when
	// not subscribed.
	unsubscribe func()
	mu          sync.Mutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and detaches it from the
// tracking session.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		client.detach()
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.detach()
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:      s.hub,
		server:   s,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		clientID: uuid.NewString(),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeGetAll:
		c.handleGetAll(msg)
	case WSTypeGetLow:
		c.handleGetLow(msg)
	case WSTypeSubscribe:
		c.handleSubscribeUpdates(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleGetAll returns all tracked batteries with the active threshold.
func (c *WSClient) handleGetAll(msg WSMessage) {
	sess := c.server.session()
	if sess == nil {
		c.sendError(msg.ID, "not_configured")
		return
	}
	snap := sess.Snapshot()
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"batteries": snap.AllBatteries,
		"threshold": snap.Threshold,
	})
}

// handleGetLow returns the low-battery subset with the active threshold.
func (c *WSClient) handleGetLow(msg WSMessage) {
	sess := c.server.session()
	if sess == nil {
		c.sendError(msg.ID, "not_configured")
		return
	}
	snap := sess.Snapshot()
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"batteries": snap.LowBatteries,
		"threshold": snap.Threshold,
	})
}

// handleSubscribeUpdates attaches this client to the tracking session
// so it receives a payload after every accepted change. The response
// carries a full snapshot so the client starts from current state.
func (c *WSClient) handleSubscribeUpdates(msg WSMessage) {
	sess := c.server.session()
	if sess == nil {
		c.sendError(msg.ID, "not_configured")
		return
	}

	c.mu.Lock()
	alreadySubscribed := c.unsubscribe != nil
	c.mu.Unlock()
	if alreadySubscribed {
		c.sendError(msg.ID, "already subscribed")
		return
	}

	unsub, err := sess.Subscribe(c, c.clientID)
	if err != nil {
		c.sendError(msg.ID, "not_configured")
		return
	}

	c.mu.Lock()
	c.unsubscribe = unsub
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed to updates", "client_id", c.clientID)
	c.sendResponse(msg.ID, WSTypeResponse, sess.Snapshot())
}

// handleUnsubscribe detaches this client from the tracking session.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	c.detach()
	c.sendResponse(msg.ID, WSTypeResponse, map[string]bool{"unsubscribed": true})
}

// SendEvent implements battery.Subscriber. It must not block: a full
// outbound buffer or a closed connection reports the client as stale so
// the session prunes it.
func (c *WSClient) SendEvent(payload battery.UpdatePayload) error {
	msg := WSMessage{
		Type:      WSTypeEvent,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if !c.trySend(data) {
		return battery.ErrSubscriberStale
	}
	return nil
}

// detach removes the client's session subscription, if any.
func (c *WSClient) detach() {
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// trySend attempts to send data to the client's send channel.
// It reports failure on closed channels (client disconnected during
// broadcast) and full buffers (slow client).
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		// Client buffer full, skip
		return false
	}
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
