// internal/domain/websocket/types.go
package websocket

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType represents different real-time event types
type EventType string

const (
	// Connection events
	EventTypePing         EventType = "ping"
	EventTypePong         EventType = "pong"
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"

	// Session events
	EventTypeForceLogout   EventType = "session:force_logout"
	EventTypeSecurityAlert EventType = "security:alert"

	// Clock events
	EventTypeClockRecorded EventType = "clock:recorded"

	// Subscription events
	EventTypeSubscribe   EventType = "subscribe"
	EventTypeUnsubscribe EventType = "unsubscribe"
)

// WSMessage is the universal message format
type WSMessage struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	ID        string      `json:"id,omitempty"`
}

// ChannelType names a stream a client can subscribe to
type ChannelType string

const (
	// ChannelSession carries force-logout and security alerts. Every client
	// is subscribed on connect and cannot leave it.
	ChannelSession ChannelType = "session"
	ChannelClock   ChannelType = "clock"
)

type SubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

type UnsubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SessionEventData for force-logout events
type SessionEventData struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// SecurityAlertData is sent when a refresh credential family was revoked
// after reuse.
type SecurityAlertData struct {
	Severity     string `json:"severity"`
	RootFamilyID string `json:"root_family_id"`
	Message      string `json:"message"`
}

// ClockEventData confirms a scanned action token to its owner.
type ClockEventData struct {
	Purpose   string    `json:"purpose"`
	StationID string    `json:"station_id,omitempty"`
	At        time.Time `json:"at"`
}

func NewMessage(eventType EventType, data interface{}) *WSMessage {
	return &WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		ID:        ulid.Make().String(),
	}
}

func (m *WSMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ParseMessage(data []byte) (*WSMessage, error) {
	var msg WSMessage
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeData re-decodes the loosely typed Data field into target.
func (m *WSMessage) DecodeData(target interface{}) error {
	raw, err := json.Marshal(m.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
