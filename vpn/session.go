// Package vpn provides OpenVPN session management for ovpnctl.
// This file contains the session state model and the event types emitted
// by the management protocol parser.
package vpn

// SessionState represents the state of the single active VPN session.
type SessionState int

const (
	// StateDisconnected indicates no active session.
	StateDisconnected SessionState = iota
	// StateConnecting indicates the tunnel is being established.
	StateConnecting
	// StateWaiting indicates OpenVPN is held or waiting for credentials.
	StateWaiting
	// StateConnected indicates an established tunnel.
	StateConnected
	// StateReconnecting indicates the tunnel is being re-established.
	StateReconnecting
	// StateExiting indicates OpenVPN is shutting down.
	StateExiting
	// StateUnknown carries a state token this version does not recognize.
	// The raw token is preserved on the event so newer OpenVPN releases
	// do not break the state machine.
	StateUnknown
)

// String returns a human-readable representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting..."
	case StateWaiting:
		return "Waiting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting..."
	case StateExiting:
		return "Exiting"
	default:
		return "Unknown"
	}
}

// mapStateToken maps an OpenVPN management state token to a SessionState.
// Unrecognized tokens map to StateUnknown rather than failing.
func mapStateToken(token string) SessionState {
	switch token {
	case "CONNECTING", "RESOLVE", "TCP_CONNECT", "GET_CONFIG", "ASSIGN_IP", "ADD_ROUTES":
		return StateConnecting
	case "WAIT", "AUTH":
		return StateWaiting
	case "CONNECTED":
		return StateConnected
	case "RECONNECTING":
		return StateReconnecting
	case "EXITING":
		return StateExiting
	default:
		return StateUnknown
	}
}

// PeerInfo holds the tunnel endpoint addresses reported by OpenVPN.
// It is present only while the session state is StateConnected.
type PeerInfo struct {
	// RemoteAddress is the VPN server address.
	RemoteAddress string
	// LocalAddress is the address assigned to the local tunnel interface.
	LocalAddress string
}

// EventKind identifies the kind of a parsed management protocol event.
type EventKind int

const (
	// EventStateChanged is a state transition notification.
	EventStateChanged EventKind = iota
	// EventLogLine is a human-readable log message from OpenVPN.
	EventLogLine
	// EventCredentialRequested is a request for authentication credentials.
	EventCredentialRequested
)

// Event is a parsed management protocol message.
// Kind selects which of the remaining fields are meaningful:
// State/Token/Peer for EventStateChanged, Text for EventLogLine.
type Event struct {
	Kind  EventKind
	State SessionState
	Token string
	Peer  *PeerInfo
	Text  string
}

// SessionListener receives session events from the Controller.
// Callbacks are invoked sequentially from a single goroutine in the exact
// order the underlying protocol messages arrived; implementations must not
// block for long or they will stall event delivery.
type SessionListener interface {
	// StateChanged reports a session state transition. peer is non-nil
	// only when state is StateConnected. token is the raw management
	// state token, preserved even when it maps to StateUnknown.
	StateChanged(state SessionState, token string, peer *PeerInfo)
	// LogLine reports a log message from OpenVPN.
	LogLine(text string)
	// CredentialRequested reports that OpenVPN is waiting for
	// authentication credentials; respond with SubmitCredentials.
	CredentialRequested()
}
