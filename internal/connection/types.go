package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrOpenTimeout     = errors.New("timed out waiting for connection open")
	ErrLoginRequired   = errors.New("login client required for private connection")
)

// Key identifies one of the two logical WebSocket sessions.
type Key string

const (
	Public  Key = "public"
	Private Key = "private"
)

// CloseSessionEnd is the venue's close code for an intentionally ended
// session. No reconnection is attempted for it.
const CloseSessionEnd = 4000

// EventType discriminates transport events.
type EventType int

const (
	EventOpen EventType = iota
	EventMessage
	EventClose
	EventError
	EventPing
	EventPong
)

// Event is one transport-level occurrence. Exactly one of Data, Code, Err is
// meaningful, selected by Type. Events for one connection are delivered
// strictly in network order on a single channel.
type Event struct {
	Type       EventType
	Data       []byte    // EventMessage
	Code       int       // EventClose (0 when the peer sent no close frame)
	Err        error     // EventError
	ReceivedAt time.Time // EventMessage receive timestamp
}

// Control message methods.
const (
	MethodSubscribe         = "SUBSCRIBE"
	MethodUnsubscribe       = "UNSUBSCRIBE"
	MethodLogin             = "LOGIN"
	MethodListSubscriptions = "LIST_SUBSCRIPTIONS"
)

// Request is an outbound control message. ID is stamped from the handle's
// request counter just before sending.
type Request struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
	ID     int64  `json:"id"`
}

// LoginParams carries the access token for the private session login.
type LoginParams struct {
	AccessToken string `json:"accessToken"`
}

// LoginClient supplies credentials for the private connection. The
// venue-specific credential exchange lives behind this interface.
type LoginClient interface {
	// IsLoginSuccess reports whether credentials are usable.
	IsLoginSuccess() bool

	// AccessToken returns the opaque token sent in the LOGIN message.
	AccessToken() string

	// AccountAddress returns the account identity the venue echoes back to
	// confirm the login.
	AccountAddress() string
}

// ClientConfig configures a single WebSocket transport.
type ClientConfig struct {
	URL          string        // WebSocket URL
	PingInterval time.Duration // Keepalive ping period
	PingTimeout  time.Duration // Grace beyond the interval before declaring the connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Event channel buffer size
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL                  string        // WebSocket URL
	ReconnectInterval    time.Duration // Forced-reconnect period (session-age limit avoidance)
	AutoReconnectRetries int           // Consecutive reconnect budget; 0 disables auto-reconnect
	OpenTimeout          time.Duration // Max wait for a connection to report open
	PingInterval         time.Duration
	PingTimeout          time.Duration
	WriteTimeout         time.Duration
	BufferSize           int
}

// DefaultManagerConfig returns the venue's documented defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectInterval:    86400 * time.Second,
		AutoReconnectRetries: 0,
		OpenTimeout:          30 * time.Second,
		PingInterval:         60 * time.Second,
		PingTimeout:          30 * time.Second,
		WriteTimeout:         5 * time.Second,
		BufferSize:           1000,
	}
}

func (c ManagerConfig) clientConfig() ClientConfig {
	return ClientConfig{
		URL:          c.URL,
		PingInterval: c.PingInterval,
		PingTimeout:  c.PingTimeout,
		WriteTimeout: c.WriteTimeout,
		BufferSize:   c.BufferSize,
	}
}
