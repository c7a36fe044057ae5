// Package cli provides command-line interface functionality for ovpnctl.
// This allows users to manage configurations and run VPN sessions from
// the terminal without the interactive UI.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/yllada/ovpnctl/common"
	"github.com/yllada/ovpnctl/config"
	"github.com/yllada/ovpnctl/history"
	"github.com/yllada/ovpnctl/notify"
	"github.com/yllada/ovpnctl/vpn"
)

// CLI represents the command-line interface.
type CLI struct {
	cfg      *config.Config
	store    *vpn.ConfigStore
	creds    common.CredentialStore
	recorder *history.Recorder
	notifier *notify.DesktopNotifier
}

// New creates a new CLI instance.
func New(cfg *config.Config, store *vpn.ConfigStore, creds common.CredentialStore, recorder *history.Recorder) *CLI {
	return &CLI{
		cfg:      cfg,
		store:    store,
		creds:    creds,
		recorder: recorder,
		notifier: notify.NewDesktopNotifier(cfg.ShowNotifications),
	}
}

// List prints all stored configurations.
func (c *CLI) List() error {
	names, err := c.store.List()
	if err != nil {
		return err
	}

	if len(names) == 0 {
		fmt.Println("No configurations imported.")
		fmt.Println("Import one with: ovpnctl --import /path/to/client.ovpn")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCREDENTIALS")
	fmt.Fprintln(w, "----\t-----------")
	for _, name := range names {
		saved := "none"
		if _, _, err := c.creds.Get(name); err == nil {
			saved = "saved"
		}
		fmt.Fprintf(w, "%s\t%s\n", name, saved)
	}
	w.Flush()
	return nil
}

// Import copies a config file and its referenced files into the store.
func (c *CLI) Import(path string) error {
	name, err := c.store.Import(path)
	if err != nil {
		return err
	}
	fmt.Printf("Imported configuration %q\n", name)
	return nil
}

// Remove deletes a stored configuration and its saved credentials.
func (c *CLI) Remove(name string) error {
	if err := c.store.Remove(name); err != nil {
		return err
	}
	if err := c.creds.Delete(name); err != nil {
		common.LogWarn("failed to delete credentials for %s: %v", name, err)
	}
	fmt.Printf("Removed configuration %q\n", name)
	return nil
}

// History prints the most recent connection sessions.
func (c *CLI) History(limit int) error {
	sessions, err := c.recorder.Recent(limit)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No connection history.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tCONFIG\tDURATION\tREMOTE\tOUTCOME")
	fmt.Fprintln(w, "-------\t------\t--------\t------\t-------")
	for _, s := range sessions {
		duration := "-"
		if d := s.Duration(); d > 0 {
			duration = formatDuration(d)
		}
		remote := s.RemoteAddr
		if remote == "" {
			remote = "-"
		}
		outcome := s.Outcome
		if outcome == "" {
			outcome = "open"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.StartedAt.Format("2006-01-02 15:04:05"), s.ConfigName, duration, remote, outcome)
	}
	w.Flush()
	return nil
}

// sessionEvents adapts vpn.SessionListener onto channels consumed by the
// Connect loop, keeping all terminal output on one goroutine.
type sessionEvents struct {
	states chan stateChange
	logs   chan string
	creds  chan struct{}
}

type stateChange struct {
	state vpn.SessionState
	token string
	peer  *vpn.PeerInfo
}

func newSessionEvents() *sessionEvents {
	return &sessionEvents{
		states: make(chan stateChange, 16),
		logs:   make(chan string, 64),
		creds:  make(chan struct{}, 1),
	}
}

func (e *sessionEvents) StateChanged(state vpn.SessionState, token string, peer *vpn.PeerInfo) {
	e.states <- stateChange{state, token, peer}
}

func (e *sessionEvents) LogLine(text string) {
	select {
	case e.logs <- text:
	default:
		// Drop rather than block the reader on a slow terminal.
	}
}

func (e *sessionEvents) CredentialRequested() {
	select {
	case e.creds <- struct{}{}:
	default:
	}
}

// Connect runs a VPN session in the foreground, streaming session events
// to the terminal until the session ends or ctx is cancelled.
func (c *CLI) Connect(ctx context.Context, name string) error {
	configPath, err := c.store.PrimaryFile(name)
	if err != nil {
		return err
	}

	events := newSessionEvents()
	controller := vpn.NewController(vpn.Options{
		ManagementHost:   c.cfg.ManagementHost,
		ManagementPort:   c.cfg.ManagementPort,
		ElevationCommand: c.cfg.ElevationCommand,
		OpenVPNBinary:    c.cfg.OpenVPNBinary,
	})
	controller.SetListener(events)

	var sessionID string
	if c.cfg.HistoryEnabled {
		if sessionID, err = c.recorder.Begin(name); err != nil {
			common.LogWarn("history disabled for this session: %v", err)
			sessionID = ""
		}
	}

	fmt.Printf("Connecting to %s...\n", name)
	if err := controller.Start(configPath); err != nil {
		c.endSession(sessionID, history.OutcomeFailed)
		return err
	}

	connected := false
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nDisconnecting...")
			if err := controller.Stop(); err != nil && !errors.Is(err, common.ErrNotConnected) {
				common.LogWarn("stop failed: %v", err)
			}
			c.endSession(sessionID, disconnectOutcome(connected))
			c.notifier.NotifyDisconnected(name)
			return nil

		case change := <-events.states:
			c.printState(change)
			switch change.state {
			case vpn.StateConnected:
				connected = true
				if change.peer != nil {
					c.markConnected(sessionID, change.peer)
					c.notifier.NotifyConnected(name, change.peer.RemoteAddress)
				}
			case vpn.StateDisconnected:
				// The session ended without our Stop: process exit or
				// channel loss.
				outcome := history.OutcomeLost
				if !connected {
					outcome = history.OutcomeFailed
				}
				c.endSession(sessionID, outcome)
				if connected {
					c.notifier.NotifyDisconnected(name)
				} else {
					c.notifier.NotifyError("Connection to " + name + " failed")
				}
				return nil
			}

		case text := <-events.logs:
			fmt.Println("  " + text)

		case <-events.creds:
			c.notifier.NotifyAuthRequired(name)
			username, password, err := c.resolveCredentials(name)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				controller.Stop()
				c.endSession(sessionID, history.OutcomeFailed)
				return err
			}
			if err := controller.SubmitCredentials(username, password); err != nil {
				common.LogWarn("failed to submit credentials: %v", err)
			}
		}
	}
}

// disconnectOutcome classifies a user-initiated disconnect: a session
// that never came up still counts as failed, not completed.
func disconnectOutcome(connected bool) string {
	if connected {
		return history.OutcomeCompleted
	}
	return history.OutcomeFailed
}

// resolveCredentials returns saved credentials or prompts for them.
func (c *CLI) resolveCredentials(name string) (string, string, error) {
	if username, password, err := c.creds.Get(name); err == nil {
		fmt.Println("Using saved credentials.")
		return username, password, nil
	}

	username, password, err := promptCredentials()
	if err != nil {
		return "", "", err
	}

	if askYesNo("Save credentials for next time?") {
		if err := c.creds.Set(name, username, password); err != nil {
			common.LogWarn("failed to save credentials: %v", err)
		}
	}
	return username, password, nil
}

func promptCredentials() (string, string, error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return "", "", common.WrapError(err, "failed to read username")
	}
	username = strings.TrimSpace(username)

	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", "", common.WrapError(err, "failed to read password")
	}
	return username, string(passwordBytes), nil
}

func askYesNo(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func (c *CLI) printState(change stateChange) {
	label := change.state.String()
	if change.state == vpn.StateUnknown && change.token != "" {
		label = change.token
	}
	if change.state == vpn.StateConnected && change.peer != nil {
		fmt.Printf("✓ %s (remote %s, local %s)\n",
			label, change.peer.RemoteAddress, change.peer.LocalAddress)
		return
	}
	fmt.Println(label)
}

func (c *CLI) markConnected(sessionID string, peer *vpn.PeerInfo) {
	if sessionID == "" {
		return
	}
	if err := c.recorder.MarkConnected(sessionID, peer.RemoteAddress, peer.LocalAddress); err != nil {
		common.LogWarn("failed to record connection: %v", err)
	}
}

func (c *CLI) endSession(sessionID, outcome string) {
	if sessionID == "" {
		return
	}
	if err := c.recorder.End(sessionID, outcome); err != nil {
		common.LogWarn("failed to record session end: %v", err)
	}
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`ovpnctl - OpenVPN session controller

Usage:
  ovpnctl [OPTIONS]

Options:
  --version         Show version and exit
  --verbose         Enable verbose logging
  --list            List imported configurations
  --import PATH     Import an OpenVPN config file (.ovpn or .conf)
  --remove NAME     Remove an imported configuration
  --connect NAME    Connect in the foreground (Ctrl+C to disconnect)
  --history         Show recent connection sessions
  --help            Show this help message

Examples:
  ovpnctl --import ~/Downloads/work.ovpn
  ovpnctl --list
  ovpnctl --connect work
  ovpnctl --history

Notes:
  - Run without options to launch the interactive UI
  - OpenVPN is started with elevated privileges via pkexec`)
}
