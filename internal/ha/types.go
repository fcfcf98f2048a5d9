package ha

import (
	"encoding/json"
	"strings"
	"time"
)

// Message is a frame of the Home Assistant websocket API, in either
// direction.
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error is the error member of a failed result.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return "home assistant: " + e.Code + ": " + e.Message
}

// Event is a bus event delivered to a subscription.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin,omitempty"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent is the data of a state_changed event. NewState is nil
// when the entity was removed.
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State is the state of one entity.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Domain returns the part of the entity ID before the dot.
func (s *State) Domain() string {
	domain, _, _ := strings.Cut(s.EntityID, ".")
	return domain
}

// FriendlyName returns the friendly_name attribute, or the entity ID when
// there is none.
func (s *State) FriendlyName() string {
	if name, ok := s.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return s.EntityID
}

// IsOn reports whether the state is "on".
func (s *State) IsOn() bool {
	return s.State == "on"
}

// authMessage is sent in reply to auth_required.
type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// command is a request carrying an ID. Only the members of its type are set.
type command struct {
	ID          int            `json:"id"`
	Type        string         `json:"type"`
	EventType   string         `json:"event_type,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	Service     string         `json:"service,omitempty"`
	ServiceData map[string]any `json:"service_data,omitempty"`
}

// StateChangeHandler receives state changes of all entities.
type StateChangeHandler func(entityID string, oldState, newState *State)
