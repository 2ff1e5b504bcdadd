package upstream

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hieudt/vnrelay/internal/tick"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrTimeout         = errors.New("operation timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrHandshake       = errors.New("broker rejected connect")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// EventType identifies a session event.
type EventType string

const (
	EventConnected EventType = "connected"
	EventTick      EventType = "tick"
	EventError     EventType = "error"
	EventClosed    EventType = "closed"
)

// Event is one entry in a session's event sequence.
type Event struct {
	Type EventType
	Tick tick.Tick // set for EventTick
	Err  error     // set for EventError
}

// State is the session lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStreaming
	StateErroring
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateErroring:
		return "erroring"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Source is the consumer-facing view of a session.
type Source interface {
	// Events returns the session's event sequence. The channel is closed
	// after EventClosed is delivered.
	Events() <-chan Event

	// Close tears the session down. Idempotent; disables reconnection
	// before closing the transport.
	Close() error

	// State returns the current lifecycle state.
	State() State
}

// connectCmd is the broker handshake frame. The password carries the
// short-lived upstream token, never the account password.
type connectCmd struct {
	Type     string `json:"type"` // "connect"
	ClientID string `json:"clientId"`
	Username string `json:"username"` // investor id
	Password string `json:"password"` // upstream token
}

// subscribeCmd subscribes one topic at the given QoS.
type subscribeCmd struct {
	Type  string `json:"type"` // "subscribe"
	Topic string `json:"topic"`
	QoS   int    `json:"qos"`
}

// controlMsg is a broker control frame (handshake/subscription acks and
// broker errors). Tick payloads carry no "type" field.
type controlMsg struct {
	Type    string `json:"type"` // "connack", "suback", "error"
	Code    int    `json:"code"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// isControl reports whether data looks like a control frame, and decodes it
// if so.
func isControl(data []byte) (controlMsg, bool) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Type == "" {
		return controlMsg{}, false
	}

	var msg controlMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return controlMsg{}, false
	}
	return msg, true
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL               string        // Broker URL (e.g. wss://broker.example.com:443/wss)
	HeartbeatInterval time.Duration // Interval between keepalive pings and stale checks
	PingTimeout       time.Duration // Max time without ping before considering connection stale
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HeartbeatInterval: 30 * time.Second,
		PingTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        1024,
	}
}

// SessionConfig configures a Session.
type SessionConfig struct {
	URL         string   // Broker URL
	ClientID    string   // Unique broker client id; generated when empty
	InvestorID  string   // Broker username
	Token       string   // Upstream token (broker password)
	Symbols     []string // Symbols to subscribe
	TopicPrefix string   // Topic is TopicPrefix + symbol

	HandshakeTimeout  time.Duration // Wait for connack/suback
	ReconnectDelay    time.Duration // Fixed backoff between reconnect attempts
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	WriteTimeout      time.Duration
	EventBufferSize   int
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TopicPrefix:       "quotes/tick/",
		HandshakeTimeout:  10 * time.Second,
		ReconnectDelay:    1 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		PingTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		EventBufferSize:   256,
	}
}
