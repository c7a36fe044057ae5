// Package vpn provides OpenVPN session management for ovpnctl.
// This file contains the management protocol line parser.
package vpn

import (
	"strings"

	"github.com/yllada/ovpnctl/common"
)

// Asynchronous message prefixes of the OpenVPN management interface.
const (
	statePrefix    = ">STATE:"
	logPrefix      = ">LOG:"
	passwordPrefix = ">PASSWORD:"
)

// ParseLine interprets a single trimmed management interface line.
// It returns the parsed event and true, or false when the line carries no
// event: unknown message types are discarded silently so newer OpenVPN
// releases cannot crash the session, and malformed known messages are
// dropped with a debug log.
func ParseLine(line string) (Event, bool) {
	switch {
	case strings.HasPrefix(line, statePrefix):
		return parseState(strings.TrimPrefix(line, statePrefix))
	case strings.HasPrefix(line, logPrefix):
		return parseLog(strings.TrimPrefix(line, logPrefix))
	case strings.HasPrefix(line, passwordPrefix):
		// Any suffix (realm, challenge text) is ignored; the listener
		// decides how to collect credentials.
		return Event{Kind: EventCredentialRequested}, true
	default:
		return Event{}, false
	}
}

// parseState parses the comma-separated remainder of a >STATE: message:
// <timestamp>,<token>,<description>,<local_ip>,<remote_ip>,...
// Short field lists are a parse error, never an out-of-range index.
func parseState(rest string) (Event, bool) {
	parts := strings.Split(rest, ",")
	if len(parts) < 2 {
		common.LogDebug("dropping malformed state message: %q", rest)
		return Event{}, false
	}

	token := parts[1]
	ev := Event{
		Kind:  EventStateChanged,
		State: mapStateToken(token),
		Token: token,
	}

	if ev.State == StateConnected {
		if len(parts) < 5 {
			common.LogDebug("dropping CONNECTED state with short field list: %q", rest)
			return Event{}, false
		}
		ev.Peer = &PeerInfo{
			LocalAddress:  parts[3],
			RemoteAddress: parts[4],
		}
	}

	return ev, true
}

// parseLog parses the remainder of a >LOG: message:
// <timestamp>,<flags>,<text>. The text may itself contain commas, so the
// split is bounded at three parts.
func parseLog(rest string) (Event, bool) {
	parts := strings.SplitN(rest, ",", 3)
	if len(parts) < 3 {
		common.LogDebug("dropping malformed log message: %q", rest)
		return Event{}, false
	}
	return Event{Kind: EventLogLine, Text: parts[2]}, true
}
