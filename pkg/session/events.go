package session

import (
	"time"
)

// DisconnectCause classifies why a connection closed.
type DisconnectCause string

const (
	CauseNone             DisconnectCause = ""
	CauseLoggedOut        DisconnectCause = "logged_out"
	CauseConnectionLost   DisconnectCause = "connection_lost"
	CauseStreamReplaced   DisconnectCause = "stream_replaced"
	CausePairingTimeout   DisconnectCause = "pairing_timeout"
	CauseConnectFailure   DisconnectCause = "connect_failure"
	CauseKeepAliveTimeout DisconnectCause = "keepalive_timeout"
	CauseRetryExhausted   DisconnectCause = "retry_exhausted"
)

// Terminal reports whether the cause ends the session instead of triggering a reconnect.
func (c DisconnectCause) Terminal() bool {
	return c == CauseLoggedOut
}

// EventHandler receives the events below from a Client.
type EventHandler func(evt interface{})

type ConnectionOpened struct{}

type ConnectionClosed struct {
	Cause DisconnectCause
	Err   error
}

// CredentialsUpdated is emitted after pairing or any change of the
// persisted authentication state. Account is the paired account address.
type CredentialsUpdated struct {
	Account string
}

type QRCode struct {
	Code    string        `json:"code"`
	Timeout time.Duration `json:"-"`
}

type MessageReceived struct {
	Chat    string
	Sender  string
	Text    string
	FromMe  bool
	IsGroup bool
}

// Transition describes one status change of a session.
type Transition struct {
	UserID string          `json:"user_id"`
	From   Status          `json:"from"`
	To     Status          `json:"to"`
	Cause  DisconnectCause `json:"cause,omitempty"`
	At     time.Time       `json:"at"`
}

// Observer is notified of every transition. It must not block.
type Observer func(Transition)
