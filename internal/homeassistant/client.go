package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/battery"
)

// Connection constants.
const (
	// defaultDialTimeout is the maximum time to wait for the websocket
	// handshake plus authentication.
	defaultDialTimeout = 10 * time.Second

	// defaultCommandTimeout is the maximum time to wait for a command result.
	defaultCommandTimeout = 10 * time.Second

	// writeWait is the per-message write deadline.
	writeWait = 10 * time.Second
)

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds connection settings for the host websocket API.
type Config struct {
	// URL is the host base URL (http:// or https://); the websocket
	// endpoint /api/websocket is derived from it.
	URL string

	// Token is a long-lived access token.
	Token string
}

// Client is a websocket client for the Home Assistant API.
//
// It maintains a client-side cache of all entity states, primed via
// get_states and kept current by state_changed events, and dispatches
// host events to registered handlers from a single read goroutine so
// per-entity ordering follows event arrival order.
//
// Client implements battery.StateSource and battery.EventBus.
type Client struct {
	conn *websocket.Conn

	// logger is read from the read pump; loggerMu lets SetLogger be
	// called after Dial has started it.
	logger   Logger
	loggerMu sync.RWMutex

	// writeMu serialises writes to the websocket connection.
	writeMu sync.Mutex

	// nextID is the command id counter; every command carries a unique id.
	nextID int64
	// pending maps command ids to result channels.
	pending   map[int64]chan serverMessage
	pendingMu sync.Mutex

	// states caches the last known snapshot of every host entity.
	states   map[string]battery.StateSnapshot
	statesMu sync.RWMutex

	// Event handlers keyed by registration id for exact unsubscribe.
	stateHandlers    map[int64]func(entityID string, oldState, newState *battery.StateSnapshot)
	registryHandlers map[int64]func(action battery.RegistryAction, entityID string)
	nextHandlerID    int64
	handlerMu        sync.Mutex

	// onDisconnect is invoked once when the read pump exits.
	onDisconnect func(err error)
	callbackMu   sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the host websocket API and authenticates.
//
// It performs the auth handshake (auth_required, auth, auth_ok)
// synchronously, subscribes to state_changed and
// entity_registry_updated events, primes the state cache via
// get_states, and starts the read pump.
//
// Parameters:
//   - ctx: Context for connection timeout/cancellation
//   - cfg: Host URL and access token
//
// Returns:
//   - *Client: Connected, authenticated client
//   - error: If connection, auth, or the initial state fetch fails
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	wsURL, err := websocketURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		conn:             conn,
		logger:           noopLogger{},
		pending:          make(map[int64]chan serverMessage),
		states:           make(map[string]battery.StateSnapshot),
		stateHandlers:    make(map[int64]func(string, *battery.StateSnapshot, *battery.StateSnapshot)),
		registryHandlers: make(map[int64]func(battery.RegistryAction, string)),
		done:             make(chan struct{}),
	}

	if err := c.authenticate(cfg.Token); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readPump()

	// Subscribe to host events before priming so no change is missed
	// between the snapshot and the first event.
	if err := c.subscribeEvents(ctx, eventStateChanged); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.subscribeEvents(ctx, eventRegistryUpdated); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.primeStates(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// SetLogger sets a logger for connection and dispatch logging.
// Safe to call while the read pump is running.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

// log returns the current logger.
func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// SetOnDisconnect sets a callback invoked once when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = fn
	c.callbackMu.Unlock()
}

// Close shuts down the connection and releases all pending commands.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})
	return nil
}

// websocketURL derives the websocket endpoint from a host base URL.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"
	return u.String(), nil
}

// authenticate performs the token handshake. The host speaks first with
// auth_required; anything else is a protocol error.
func (c *Client) authenticate(token string) error {
	var hello serverMessage
	if err := c.conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("%w: reading auth challenge: %w", ErrConnectionFailed, err)
	}
	if hello.Type != msgTypeAuthRequired {
		return fmt.Errorf("%w: unexpected first message %q", ErrConnectionFailed, hello.Type)
	}

	if err := c.writeJSON(map[string]string{
		"type":         msgTypeAuth,
		"access_token": token,
	}); err != nil {
		return fmt.Errorf("%w: sending auth: %w", ErrConnectionFailed, err)
	}

	var reply serverMessage
	if err := c.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("%w: reading auth reply: %w", ErrConnectionFailed, err)
	}
	switch reply.Type {
	case msgTypeAuthOK:
		return nil
	case msgTypeAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthFailed, reply.Message)
	default:
		return fmt.Errorf("%w: unexpected auth reply %q", ErrConnectionFailed, reply.Type)
	}
}

// writeJSON marshals and writes one message under the write lock.
func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	//nolint:errcheck // Best-effort deadline; write error caught below
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// command sends an id-correlated command and waits for its result.
func (c *Client) command(ctx context.Context, payload map[string]any) (serverMessage, error) {
	select {
	case <-c.done:
		return serverMessage{}, ErrNotConnected
	default:
	}

	ch := make(chan serverMessage, 1)

	c.pendingMu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.pendingMu.Unlock()

	payload["id"] = id
	if err := c.writeJSON(payload); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return serverMessage{}, fmt.Errorf("sending command: %w", err)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	select {
	case msg, ok := <-ch:
		if !ok {
			return serverMessage{}, ErrNotConnected
		}
		if !msg.Success {
			if msg.Error != nil {
				return serverMessage{}, fmt.Errorf("%w: %s: %s", ErrCommandFailed, msg.Error.Code, msg.Error.Message)
			}
			return serverMessage{}, ErrCommandFailed
		}
		return msg, nil
	case <-cmdCtx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return serverMessage{}, fmt.Errorf("waiting for command result: %w", cmdCtx.Err())
	}
}

// subscribeEvents registers a host-side event subscription.
func (c *Client) subscribeEvents(ctx context.Context, eventType string) error {
	_, err := c.command(ctx, map[string]any{
		"type":       msgTypeSubscribeEvents,
		"event_type": eventType,
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", eventType, err)
	}
	return nil
}

// primeStates fetches all current entity states into the cache.
func (c *Client) primeStates(ctx context.Context) error {
	msg, err := c.command(ctx, map[string]any{"type": msgTypeGetStates})
	if err != nil {
		return fmt.Errorf("fetching states: %w", err)
	}

	var entities []Entity
	if err := json.Unmarshal(msg.Result, &entities); err != nil {
		return fmt.Errorf("parsing states: %w", err)
	}

	c.statesMu.Lock()
	c.states = make(map[string]battery.StateSnapshot, len(entities))
	for i := range entities {
		snap := entities[i].Snapshot()
		c.states[snap.EntityID] = *snap
	}
	c.statesMu.Unlock()

	c.log().Info("entity state cache primed", "entities", len(entities))
	return nil
}

// readPump reads host messages until the connection drops, routing
// results to pending commands and events to registered handlers.
// Handler dispatch happens on this single goroutine, preserving
// per-entity event arrival order.
func (c *Client) readPump() {
	var readErr error
	defer func() {
		c.callbackMu.Lock()
		callback := c.onDisconnect
		c.callbackMu.Unlock()
		if callback != nil {
			callback(readErr)
		}
		c.Close()
	}()

	for {
		var msg serverMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
				// Deliberate close; not an error.
			default:
				c.log().Warn("host connection read error", "error", err)
				readErr = err
			}
			return
		}

		switch msg.Type {
		case msgTypeResult:
			c.resolvePending(msg)
		case msgTypeEvent:
			c.dispatchEvent(msg)
		default:
			c.log().Debug("unhandled host message", "type", msg.Type)
		}
	}
}

// resolvePending delivers a command result to its waiting caller.
func (c *Client) resolvePending(msg serverMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		ch <- msg
	}
}

// dispatchEvent routes one host event to the registered handlers,
// updating the state cache first so GetState agrees with the event.
func (c *Client) dispatchEvent(msg serverMessage) {
	if msg.Event == nil {
		return
	}

	switch msg.Event.EventType {
	case eventStateChanged:
		var data stateChangedData
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
			c.log().Warn("failed to parse state_changed event", "error", err)
			return
		}

		newSnap := data.NewState.Snapshot()
		c.statesMu.Lock()
		if newSnap != nil {
			c.states[data.EntityID] = *newSnap
		} else {
			delete(c.states, data.EntityID)
		}
		c.statesMu.Unlock()

		oldSnap := data.OldState.Snapshot()
		for _, fn := range c.stateHandlerList() {
			fn(data.EntityID, oldSnap, newSnap)
		}

	case eventRegistryUpdated:
		var data registryUpdatedData
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
			c.log().Warn("failed to parse entity_registry_updated event", "error", err)
			return
		}
		for _, fn := range c.registryHandlerList() {
			fn(battery.RegistryAction(data.Action), data.EntityID)
		}
	}
}

// stateHandlerList snapshots registered state handlers for dispatch.
func (c *Client) stateHandlerList() []func(string, *battery.StateSnapshot, *battery.StateSnapshot) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(string, *battery.StateSnapshot, *battery.StateSnapshot), 0, len(c.stateHandlers))
	for _, fn := range c.stateHandlers {
		out = append(out, fn)
	}
	return out
}

// registryHandlerList snapshots registered registry handlers for dispatch.
func (c *Client) registryHandlerList() []func(battery.RegistryAction, string) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(battery.RegistryAction, string), 0, len(c.registryHandlers))
	for _, fn := range c.registryHandlers {
		out = append(out, fn)
	}
	return out
}

// GetState implements battery.StateSource.
func (c *Client) GetState(entityID string) (*battery.StateSnapshot, bool) {
	c.statesMu.RLock()
	defer c.statesMu.RUnlock()

	snap, ok := c.states[entityID]
	if !ok {
		return nil, false
	}
	out := snap
	return &out, true
}

// AllStates implements battery.StateSource.
func (c *Client) AllStates() []battery.StateSnapshot {
	c.statesMu.RLock()
	defer c.statesMu.RUnlock()

	out := make([]battery.StateSnapshot, 0, len(c.states))
	for _, snap := range c.states {
		out = append(out, snap)
	}
	return out
}

// OnStateChanged implements battery.EventBus. The handler is invoked
// from the read pump for every host state change; the returned function
// unregisters exactly this handler.
func (c *Client) OnStateChanged(fn func(entityID string, oldState, newState *battery.StateSnapshot)) (func(), error) {
	select {
	case <-c.done:
		return nil, ErrNotConnected
	default:
	}

	c.handlerMu.Lock()
	c.nextHandlerID++
	id := c.nextHandlerID
	c.stateHandlers[id] = fn
	c.handlerMu.Unlock()

	return func() {
		c.handlerMu.Lock()
		delete(c.stateHandlers, id)
		c.handlerMu.Unlock()
	}, nil
}

// OnRegistryUpdated implements battery.EventBus.
func (c *Client) OnRegistryUpdated(fn func(action battery.RegistryAction, entityID string)) (func(), error) {
	select {
	case <-c.done:
		return nil, ErrNotConnected
	default:
	}

	c.handlerMu.Lock()
	c.nextHandlerID++
	id := c.nextHandlerID
	c.registryHandlers[id] = fn
	c.handlerMu.Unlock()

	return func() {
		c.handlerMu.Lock()
		delete(c.registryHandlers, id)
		c.handlerMu.Unlock()
	}, nil
}
