// Package vpn provides OpenVPN session management for ovpnctl.
// This file contains the Controller, which owns the OpenVPN process and
// management channel for the single active session.
package vpn

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/yllada/ovpnctl/common"
)

// Management commands sent by the controller. The handshake order matters:
// state and log subscriptions must be active before the initial hold is
// released or early notifications would be lost.
const (
	cmdStateOn     = "state on"
	cmdLogOn       = "log on"
	cmdHoldRelease = "hold release"
	cmdSigterm     = "signal SIGTERM"

	// authRealm is the credential realm OpenVPN uses for user/password
	// authentication.
	authRealm = "Auth"
)

// Options configures a Controller. Zero-valued fields fall back to the
// defaults in the common package.
type Options struct {
	// Launcher starts and supervises the OpenVPN process.
	Launcher Launcher
	// ManagementHost is the loopback address of the management interface.
	ManagementHost string
	// ManagementPort is the local management port.
	ManagementPort int
	// ElevationCommand is the privilege-escalation wrapper.
	ElevationCommand string
	// OpenVPNBinary is the VPN client binary name.
	OpenVPNBinary string
}

// Controller drives the lifecycle of the single VPN session: it spawns the
// elevated OpenVPN process, connects the management channel, performs the
// startup handshake, and re-exposes parsed protocol events through a
// SessionListener while tracking current state and peer addresses.
//
// All event handling runs on the management client's single reader
// goroutine, so state updates and listener callbacks are strictly
// sequential.
type Controller struct {
	mu       sync.Mutex
	launcher Launcher
	mgmt     *ManagementClient
	listener SessionListener

	state    SessionState
	peer     *PeerInfo
	active   bool
	stopping bool

	host      string
	port      int
	elevation string
	binary    string
}

// NewController creates a session controller in the Disconnected state.
func NewController(opts Options) *Controller {
	c := &Controller{
		launcher:  opts.Launcher,
		mgmt:      NewManagementClient(),
		state:     StateDisconnected,
		host:      opts.ManagementHost,
		port:      opts.ManagementPort,
		elevation: opts.ElevationCommand,
		binary:    opts.OpenVPNBinary,
	}
	if c.launcher == nil {
		c.launcher = NewExecLauncher()
	}
	if c.host == "" {
		c.host = common.ManagementHost
	}
	if c.port == 0 {
		c.port = common.ManagementPort
	}
	if c.elevation == "" {
		c.elevation = common.DefaultElevationCommand
	}
	if c.binary == "" {
		c.binary = common.DefaultOpenVPNBinary
	}

	c.mgmt.SetOnLine(c.handleLine)
	c.mgmt.SetOnDisconnect(c.handleChannelLost)
	return c
}

// SetListener registers the single event listener. Must be called before
// Start; replacing the listener mid-session is not supported.
func (c *Controller) SetListener(l SessionListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// Active reports whether a session attempt is in progress or established.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Status returns a snapshot of the session state and, when connected, the
// tunnel peer addresses.
func (c *Controller) Status() (SessionState, *PeerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var peer *PeerInfo
	if c.peer != nil {
		p := *c.peer
		peer = &p
	}
	return c.state, peer
}

// Start spawns OpenVPN with elevation for the given configuration file,
// connects the management channel, and performs the startup handshake.
// Returns ErrAlreadyConnected if a session is already active; the existing
// session is left untouched. Both the process spawn and the channel connect
// are bounded waits; expiry is reported, never retried.
func (c *Controller) Start(configPath string) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return common.ErrAlreadyConnected
	}
	c.active = true
	c.stopping = false
	c.mu.Unlock()

	args := []string{
		c.binary,
		"--config", configPath,
		"--management", c.host, strconv.Itoa(c.port),
	}
	common.LogInfo("starting session: %s %s", c.elevation, strings.Join(args, " "))

	if err := c.launcher.Start(c.elevation, args...); err != nil {
		c.failStart("OpenVPN failed to start: %v", err)
		return err
	}

	if err := c.launcher.WaitStarted(common.SpawnTimeout); err != nil {
		c.failStart("OpenVPN did not confirm startup: %v", err)
		return err
	}

	if err := c.mgmt.Connect(c.host, c.port, common.ManagementTimeout); err != nil {
		_ = c.launcher.Kill()
		c.failStart("could not connect to the management interface: %v", err)
		return err
	}

	for _, cmd := range []string{cmdStateOn, cmdLogOn, cmdHoldRelease} {
		if err := c.mgmt.Send(cmd); err != nil {
			c.mgmt.Disconnect()
			_ = c.launcher.Kill()
			c.failStart("handshake command %q failed: %v", cmd, err)
			return err
		}
	}

	return nil
}

// failStart rolls a failed start attempt back to Disconnected and surfaces
// the reason to the listener as a log event.
func (c *Controller) failStart(format string, args ...interface{}) {
	c.mu.Lock()
	c.active = false
	c.state = StateDisconnected
	c.peer = nil
	listener := c.listener
	c.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	common.LogError("%s", msg)
	if listener != nil {
		listener.LogLine("Error: " + msg)
	}
}

// Stop terminates the session: it sends SIGTERM through the management
// interface, waits a bounded time for the process to exit, then tears down
// the channel regardless. A process that ignores the termination signal is
// surfaced as a warning, not an error.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return common.ErrNotConnected
	}
	// The process closing the socket on SIGTERM is part of a clean stop,
	// not a channel loss; suppress loss reporting for the stop window.
	c.stopping = true
	c.mu.Unlock()

	if err := c.mgmt.Send(cmdSigterm); err != nil {
		common.LogWarn("could not send termination signal: %v", err)
	}

	var warn string
	if err := c.launcher.WaitExited(common.StopTimeout); err != nil {
		warn = fmt.Sprintf("Warning: OpenVPN did not exit within %v", common.StopTimeout)
		common.LogWarn("%s", warn)
	}

	c.mgmt.Disconnect()

	c.mu.Lock()
	c.active = false
	c.stopping = false
	c.state = StateDisconnected
	c.peer = nil
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		if warn != "" {
			listener.LogLine(warn)
		}
		listener.StateChanged(StateDisconnected, "", nil)
	}

	common.LogInfo("session stopped")
	return nil
}

// SubmitCredentials answers a CredentialRequested event by sending the
// username and password, in that order, for the fixed auth realm. The
// contents are not validated locally; authentication failures surface as
// subsequent protocol events.
func (c *Controller) SubmitCredentials(username, password string) error {
	if err := c.mgmt.Send(fmt.Sprintf("username %q %s", authRealm, username)); err != nil {
		return err
	}
	return c.mgmt.Send(fmt.Sprintf("password %q %s", authRealm, password))
}

// handleLine processes one framed management line. It runs on the
// management client's reader goroutine.
func (c *Controller) handleLine(line string) {
	ev, ok := ParseLine(line)
	if !ok {
		return
	}

	c.mu.Lock()
	if ev.Kind == EventStateChanged {
		c.state = ev.State
		c.peer = ev.Peer
	}
	listener := c.listener
	c.mu.Unlock()

	if listener == nil {
		return
	}
	switch ev.Kind {
	case EventStateChanged:
		listener.StateChanged(ev.State, ev.Token, ev.Peer)
	case EventLogLine:
		listener.LogLine(ev.Text)
	case EventCredentialRequested:
		listener.CredentialRequested()
	}
}

// handleChannelLost reacts to the management channel dropping mid-session:
// the state transitions to Disconnected and the loss is surfaced as a log
// event. Deliberate disconnects never reach this path, and a socket that
// closes while Stop is shutting the process down is part of the clean
// teardown, not a loss.
func (c *Controller) handleChannelLost(err error) {
	c.mu.Lock()
	if !c.active || c.stopping {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.state = StateDisconnected
	c.peer = nil
	listener := c.listener
	c.mu.Unlock()

	common.LogWarn("management channel lost: %v", err)
	if listener != nil {
		listener.LogLine(fmt.Sprintf("Error: management channel lost: %v", err))
		listener.StateChanged(StateDisconnected, "", nil)
	}
}
