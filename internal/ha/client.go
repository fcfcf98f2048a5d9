// Package ha is a client for the Home Assistant websocket API. It
// authenticates with a long-lived access token, reads and subscribes to
// entity states, calls services and reconnects with exponential backoff when
// the connection drops.
package ha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned for requests made while disconnected.
	ErrNotConnected = errors.New("home assistant: not connected")
	// ErrAuthInvalid is returned when the access token is rejected.
	ErrAuthInvalid = errors.New("home assistant: invalid access token")
)

const (
	requestTimeout = 10 * time.Second
	minBackoff     = time.Second
	maxBackoff     = 30 * time.Second
)

// Client is a Home Assistant websocket client.
type Client struct {
	url    string
	token  string
	logger *zap.Logger

	// onConnect runs after every successful (re)connect, outside any lock.
	onConnect func()
	onChange  StateChangeHandler

	// writeMu serialises writes on conn.
	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	msgID     int
	pending   map[int]chan Message
	// connDone is closed when the current connection's reader exits.
	connDone chan struct{}
	// stop is closed by Close.
	stop chan struct{}
}

// NewClient creates a client for the websocket endpoint at url, e.g.
// ws://homeassistant.local:8123/api/websocket. onChange receives every
// state change; onConnect runs after each successful connect. Either may be
// nil.
func NewClient(url, token string, logger *zap.Logger, onChange StateChangeHandler, onConnect func()) *Client {
	return &Client{
		url:       url,
		token:     token,
		logger:    logger.Named("ha"),
		onChange:  onChange,
		onConnect: onConnect,
		pending:   make(map[int]chan Message),
		stop:      make(chan struct{}),
	}
}

// Connect dials, authenticates and subscribes to state changes. When the
// connection is later lost the client reconnects on its own until Close is
// called.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("home assistant: client closed")
	}
	if c.connected {
		c.mu.Unlock()
		return errors.New("home assistant: already connected")
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return errors.New("home assistant: client closed")
	}
	c.conn = conn
	c.connected = true
	c.connDone = done
	c.mu.Unlock()

	go c.readLoop(conn, done)

	if _, err := c.request(ctx, command{Type: "subscribe_events", EventType: "state_changed"}); err != nil {
		c.logger.Warn("Failed to subscribe to state changes", zap.Error(err))
	}

	c.logger.Info("Connected to Home Assistant", zap.String("url", c.url))
	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", msg.Type)
	}
	if err := conn.WriteJSON(authMessage{Type: "auth", AccessToken: c.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	switch msg.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return ErrAuthInvalid
	default:
		return fmt.Errorf("expected auth_ok, got %s", msg.Type)
	}
}

// IsConnected reports whether the client currently has a connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close disconnects and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	conn := c.conn
	done := c.connDone
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := conn.Close()
	<-done

	c.logger.Info("Disconnected from Home Assistant")
	return err
}

// States returns the states of all entities.
func (c *Client) States(ctx context.Context) ([]*State, error) {
	resp, err := c.request(ctx, command{Type: "get_states"})
	if err != nil {
		return nil, err
	}
	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to decode states: %w", err)
	}
	return states, nil
}

// CallService calls domain.service with data.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	_, err := c.request(ctx, command{
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
	return err
}

// Turn switches an entity on or off through its domain's turn_on/turn_off
// service.
func (c *Client) Turn(ctx context.Context, entityID string, on bool) error {
	domain := (&State{EntityID: entityID}).Domain()
	service := "turn_off"
	if on {
		service = "turn_on"
	}
	return c.CallService(ctx, domain, service, map[string]any{"entity_id": entityID})
}

func (c *Client) request(ctx context.Context, cmd command) (*Message, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.msgID++
	cmd.ID = c.msgID
	conn := c.conn
	done := c.connDone
	ch := make(chan Message, 1)
	c.pending[cmd.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(cmd)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", cmd.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, resp.Error
			}
			return nil, fmt.Errorf("home assistant: %s failed", cmd.Type)
		}
		return &resp, nil
	case <-done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.connectionLost(conn, err)
			return
		}

		if msg.Type == "event" {
			c.dispatch(msg.Event)
			continue
		}
		if msg.ID == 0 {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

func (c *Client) dispatch(ev *Event) {
	if ev == nil || ev.EventType != "state_changed" || c.onChange == nil {
		return
	}
	var data StateChangedEvent
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		c.logger.Error("Failed to decode state_changed event", zap.Error(err))
		return
	}
	c.onChange(data.EntityID, data.OldState, data.NewState)
}

func (c *Client) connectionLost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	closed := c.closed
	c.mu.Unlock()
	conn.Close()

	if closed {
		return
	}
	c.logger.Warn("Connection to Home Assistant lost", zap.Error(err))
	go c.reconnect()
}

func (c *Client) reconnect() {
	backoff := minBackoff
	for {
		select {
		case <-c.stop:
			return
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, ErrAuthInvalid) {
			c.logger.Error("Home Assistant rejected the access token, giving up", zap.Error(err))
			return
		}

		c.logger.Warn("Reconnect failed", zap.Duration("backoff", backoff), zap.Error(err))
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
