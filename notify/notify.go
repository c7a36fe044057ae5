// Package notify sends desktop notifications for connection events over
// D-Bus (org.freedesktop.Notifications). Notification failures are logged
// and never propagate; a missing notification daemon must not break a
// VPN session.
package notify

import (
	"github.com/godbus/dbus/v5"

	"github.com/yllada/ovpnctl/common"
)

const (
	dbusService   = "org.freedesktop.Notifications"
	dbusPath      = "/org/freedesktop/Notifications"
	dbusInterface = "org.freedesktop.Notifications.Notify"

	// expireTimeout is the notification display time in milliseconds.
	expireTimeout = 5000
)

// DesktopNotifier sends notifications via the session bus.
// Implements common.Notifier.
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier returns a notifier. When enabled is false every
// Notify call is a no-op, so callers never need to branch on the setting.
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Notify sends one desktop notification.
func (n *DesktopNotifier) Notify(title, message string) error {
	if !n.enabled {
		return nil
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		common.LogWarn("notification skipped, no session bus: %v", err)
		return nil
	}

	obj := conn.Object(dbusService, dbus.ObjectPath(dbusPath))
	call := obj.Call(dbusInterface, 0,
		common.AppName,            // app_name
		uint32(0),                 // replaces_id
		"network-vpn",             // app_icon
		title,                     // summary
		message,                   // body
		[]string{},                // actions
		map[string]dbus.Variant{}, // hints
		int32(expireTimeout),
	)
	if call.Err != nil {
		common.LogWarn("notification failed: %v", call.Err)
	}
	return nil
}

// NotifyConnected announces an established tunnel.
func (n *DesktopNotifier) NotifyConnected(configName, remoteAddr string) {
	message := "Connected to " + configName
	if remoteAddr != "" {
		message += " via " + remoteAddr
	}
	n.Notify("VPN Connected", message)
}

// NotifyDisconnected announces a closed session.
func (n *DesktopNotifier) NotifyDisconnected(configName string) {
	n.Notify("VPN Disconnected", "Disconnected from "+configName)
}

// NotifyError announces a session failure.
func (n *DesktopNotifier) NotifyError(message string) {
	n.Notify("VPN Error", message)
}

// NotifyAuthRequired announces that OpenVPN is waiting for credentials.
func (n *DesktopNotifier) NotifyAuthRequired(configName string) {
	n.Notify("VPN Authentication", configName+" requires a username and password")
}
