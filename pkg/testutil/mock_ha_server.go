package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"homebridge/internal/ha"

	"github.com/gorilla/websocket"
)

var haUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// haConn is one client connection with its write lock.
type haConn struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	subscribed bool
}

func (c *haConn) send(msg ha.Message) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteJSON(msg)
}

// ServiceCall is a call_service request received by the mock server.
type ServiceCall struct {
	Timestamp   time.Time
	Domain      string
	Service     string
	ServiceData map[string]any
}

// MockHAServer simulates the Home Assistant websocket API on a local test
// server. turn_on/turn_off service calls update the targeted entity and
// broadcast the change like the real server does.
type MockHAServer struct {
	server *httptest.Server
	token  string

	statesMu sync.RWMutex
	states   map[string]*ha.State

	connsMu sync.Mutex
	conns   []*haConn
	authed  int

	callsMu sync.Mutex
	calls   []ServiceCall
}

// NewMockHAServer starts a mock server accepting token.
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:  token,
		states: make(map[string]*ha.State),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the websocket endpoint.
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// Close drops all connections and stops the server.
func (s *MockHAServer) Close() {
	s.DropConnections()
	s.server.Close()
}

// DropConnections closes every client connection, as a restart of Home
// Assistant would.
func (s *MockHAServer) DropConnections() {
	s.connsMu.Lock()
	conns := s.conns
	s.conns = nil
	s.connsMu.Unlock()
	for _, c := range conns {
		c.conn.Close()
	}
}

// Authenticated returns how many connections have authenticated so far.
func (s *MockHAServer) Authenticated() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return s.authed
}

// SetState sets an entity state and broadcasts a state_changed event.
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]any) {
	now := time.Now()
	next := &ha.State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}

	s.statesMu.Lock()
	prev := s.states[entityID]
	if attributes == nil && prev != nil {
		next.Attributes = prev.Attributes
	}
	s.states[entityID] = next
	s.statesMu.Unlock()

	s.broadcast(entityID, prev, next)
}

// RemoveState deletes an entity and broadcasts its removal.
func (s *MockHAServer) RemoveState(entityID string) {
	s.statesMu.Lock()
	prev := s.states[entityID]
	delete(s.states, entityID)
	s.statesMu.Unlock()

	if prev != nil {
		s.broadcast(entityID, prev, nil)
	}
}

// State returns the current state of an entity, or nil.
func (s *MockHAServer) State(entityID string) *ha.State {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// ServiceCalls returns the service calls received so far.
func (s *MockHAServer) ServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	return append([]ServiceCall(nil), s.calls...)
}

func (s *MockHAServer) broadcast(entityID string, prev, next *ha.State) {
	data, _ := json.Marshal(ha.StateChangedEvent{EntityID: entityID, OldState: prev, NewState: next})
	msg := ha.Message{
		Type: "event",
		Event: &ha.Event{
			EventType: "state_changed",
			Data:      data,
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	var subscribed []*haConn
	for _, c := range s.conns {
		if c.subscribed {
			subscribed = append(subscribed, c)
		}
	}
	s.connsMu.Unlock()
	for _, c := range subscribed {
		c.send(msg)
	}
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := haUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &haConn{conn: conn}
	defer conn.Close()

	c.send(ha.Message{Type: "auth_required"})
	var auth struct {
		AccessToken string `json:"access_token"`
	}
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		c.send(ha.Message{Type: "auth_invalid"})
		return
	}

	s.connsMu.Lock()
	s.conns = append(s.conns, c)
	s.authed++
	s.connsMu.Unlock()
	defer s.removeConn(c)

	c.send(ha.Message{Type: "auth_ok"})

	for {
		var req struct {
			ID          int            `json:"id"`
			Type        string         `json:"type"`
			Domain      string         `json:"domain"`
			Service     string         `json:"service"`
			ServiceData map[string]any `json:"service_data"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Type {
		case "subscribe_events":
			s.connsMu.Lock()
			c.subscribed = true
			s.connsMu.Unlock()
			c.send(result(req.ID, nil))
		case "get_states":
			s.statesMu.RLock()
			states := make([]*ha.State, 0, len(s.states))
			for _, st := range s.states {
				states = append(states, st)
			}
			s.statesMu.RUnlock()
			data, _ := json.Marshal(states)
			c.send(result(req.ID, data))
		case "call_service":
			s.callsMu.Lock()
			s.calls = append(s.calls, ServiceCall{
				Timestamp:   time.Now(),
				Domain:      req.Domain,
				Service:     req.Service,
				ServiceData: req.ServiceData,
			})
			s.callsMu.Unlock()

			entityID, _ := req.ServiceData["entity_id"].(string)
			if s.State(entityID) == nil {
				failed := false
				c.send(ha.Message{
					ID:      req.ID,
					Type:    "result",
					Success: &failed,
					Error:   &ha.Error{Code: "not_found", Message: "Entity " + entityID + " not found"},
				})
				continue
			}
			c.send(result(req.ID, nil))

			switch req.Service {
			case "turn_on":
				s.SetState(entityID, "on", nil)
			case "turn_off":
				s.SetState(entityID, "off", nil)
			}
		default:
			c.send(result(req.ID, nil))
		}
	}
}

func (s *MockHAServer) removeConn(c *haConn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for i, other := range s.conns {
		if other == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

func result(id int, data json.RawMessage) ha.Message {
	ok := true
	return ha.Message{ID: id, Type: "result", Success: &ok, Result: data}
}
