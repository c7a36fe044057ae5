// Package common provides shared constants, types, and utilities
// used across ovpnctl.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "ovpnctl"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "ovpnctl"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	HistoryFileName     = "history.db"
	LogFileName         = "ovpnctl.log"
	// ConfigStoreDirName is the subdirectory holding imported OpenVPN bundles.
	ConfigStoreDirName = "configs"
)

// Management interface defaults.
const (
	// ManagementHost is the loopback address the OpenVPN management
	// interface is bound to.
	ManagementHost = "127.0.0.1"
	// ManagementPort is the fixed local port for the management interface.
	ManagementPort = 7505
)

// Default timeouts. Each bounded wait in the session controller reports a
// failure on expiry rather than hanging.
const (
	// SpawnTimeout is the maximum time to wait for the OpenVPN process
	// to confirm startup.
	SpawnTimeout = 2 * time.Second
	// ManagementTimeout is the maximum time to wait for the management
	// channel to become reachable.
	ManagementTimeout = 2 * time.Second
	// StopTimeout is the maximum time to wait for the OpenVPN process to
	// exit after SIGTERM before forcing channel teardown.
	StopTimeout = 2 * time.Second
)

// Process launch defaults.
const (
	// DefaultElevationCommand is the privilege-escalation wrapper used to
	// start OpenVPN.
	DefaultElevationCommand = "pkexec"
	// DefaultOpenVPNBinary is the VPN client binary name.
	DefaultOpenVPNBinary = "openvpn"
)
