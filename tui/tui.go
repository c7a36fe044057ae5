// Package tui provides the interactive terminal interface for ovpnctl.
// It presents the imported configurations, streams session events while
// connected, and collects credentials when OpenVPN asks for them.
package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/ovpnctl/common"
	"github.com/yllada/ovpnctl/config"
	"github.com/yllada/ovpnctl/history"
	"github.com/yllada/ovpnctl/notify"
	"github.com/yllada/ovpnctl/vpn"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	stateStyle = map[vpn.SessionState]lipgloss.Style{
		vpn.StateConnected:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		vpn.StateConnecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		vpn.StateWaiting:      lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		vpn.StateReconnecting: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		vpn.StateDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Messages delivered from the session listener goroutine via program.Send.
type (
	stateMsg struct {
		state vpn.SessionState
		token string
		peer  *vpn.PeerInfo
	}
	logMsg  struct{ text string }
	credMsg struct{}
)

// programListener forwards session events into the bubbletea program.
// Send is safe from any goroutine, so the reader goroutine posts directly.
type programListener struct {
	program *tea.Program
}

func (l *programListener) StateChanged(state vpn.SessionState, token string, peer *vpn.PeerInfo) {
	l.program.Send(stateMsg{state, token, peer})
}

func (l *programListener) LogLine(text string) {
	l.program.Send(logMsg{text})
}

func (l *programListener) CredentialRequested() {
	l.program.Send(credMsg{})
}

// focus identifies which input area receives key events.
type focus int

const (
	focusList focus = iota
	focusUsername
	focusPassword
)

// Model is the bubbletea model for the interactive interface.
type Model struct {
	cfg      *config.Config
	store    *vpn.ConfigStore
	creds    common.CredentialStore
	recorder *history.Recorder
	notifier *notify.DesktopNotifier

	controller *vpn.Controller
	program    *tea.Program

	configs   []string
	cursor    int
	active    string // name of the running configuration
	state     vpn.SessionState
	token     string
	peer      *vpn.PeerInfo
	lastErr   string
	sessionID string
	wasUp     bool

	logs     []string
	logView  viewport.Model
	username textinput.Model
	password textinput.Model
	focus    focus
	ready    bool
}

// NewModel builds the initial model with the stored configurations loaded.
func NewModel(cfg *config.Config, store *vpn.ConfigStore, creds common.CredentialStore, recorder *history.Recorder) (*Model, error) {
	configs, err := store.List()
	if err != nil {
		return nil, err
	}

	username := textinput.New()
	username.Placeholder = "username"
	username.CharLimit = 128

	password := textinput.New()
	password.Placeholder = "password"
	password.CharLimit = 128
	password.EchoMode = textinput.EchoPassword

	m := &Model{
		cfg:      cfg,
		store:    store,
		creds:    creds,
		recorder: recorder,
		notifier: notify.NewDesktopNotifier(cfg.ShowNotifications),
		configs:  configs,
		state:    vpn.StateDisconnected,
		username: username,
		password: password,
	}
	m.controller = vpn.NewController(vpn.Options{
		ManagementHost:   cfg.ManagementHost,
		ManagementPort:   cfg.ManagementPort,
		ElevationCommand: cfg.ElevationCommand,
		OpenVPNBinary:    cfg.OpenVPNBinary,
	})
	return m, nil
}

// Run starts the interactive interface and blocks until it exits.
func Run(cfg *config.Config, store *vpn.ConfigStore, creds common.CredentialStore, recorder *history.Recorder) error {
	model, err := NewModel(cfg, store, creds, recorder)
	if err != nil {
		return err
	}

	program := tea.NewProgram(model, tea.WithAltScreen())
	model.program = program
	model.controller.SetListener(&programListener{program: program})

	stopWatch, err := store.Watch(func() {
		program.Send(configsChangedMsg{})
	})
	if err != nil {
		common.LogWarn("config store watcher unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	_, err = program.Run()
	return err
}

type configsChangedMsg struct{}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 6
		footerHeight := 2
		m.logView = viewport.New(msg.Width, max(msg.Height-headerHeight-footerHeight, 3))
		m.logView.SetContent(strings.Join(m.logs, "\n"))
		m.logView.GotoBottom()
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case stateMsg:
		return m.handleState(msg)

	case logMsg:
		m.appendLog(msg.text)
		return m, nil

	case credMsg:
		return m.handleCredentialRequest()

	case configsChangedMsg:
		if configs, err := m.store.List(); err == nil {
			m.configs = configs
			if m.cursor >= len(configs) {
				m.cursor = max(len(configs)-1, 0)
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.logView, cmd = m.logView.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Credential form intercepts everything except Ctrl+C.
	if m.focus != focusList {
		return m.handleCredentialKey(msg)
	}

	switch msg.String() {
	case "ctrl+c", "q":
		m.shutdown()
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.configs)-1 {
			m.cursor++
		}

	case "enter":
		if m.active == "" && len(m.configs) > 0 {
			m.connect(m.configs[m.cursor])
		}

	case "d":
		if m.active != "" {
			m.disconnect()
		}

	default:
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleCredentialKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.shutdown()
		return m, tea.Quit

	case "esc":
		m.focus = focusList
		m.username.Blur()
		m.password.Blur()
		return m, nil

	case "enter", "tab":
		if m.focus == focusUsername {
			m.focus = focusPassword
			m.username.Blur()
			m.password.Focus()
			return m, nil
		}
		if msg.String() == "enter" {
			m.submitCredentials()
			return m, nil
		}
		m.focus = focusUsername
		m.password.Blur()
		m.username.Focus()
		return m, nil
	}

	var cmd tea.Cmd
	if m.focus == focusUsername {
		m.username, cmd = m.username.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m *Model) handleState(msg stateMsg) (tea.Model, tea.Cmd) {
	m.state = msg.state
	m.token = msg.token
	m.peer = msg.peer

	switch msg.state {
	case vpn.StateConnected:
		m.wasUp = true
		if msg.peer != nil {
			if m.sessionID != "" {
				if err := m.recorder.MarkConnected(m.sessionID, msg.peer.RemoteAddress, msg.peer.LocalAddress); err != nil {
					common.LogWarn("failed to record connection: %v", err)
				}
			}
			m.notifier.NotifyConnected(m.active, msg.peer.RemoteAddress)
		}

	case vpn.StateDisconnected:
		// Session ended on its own: process exit or channel loss.
		if m.active != "" {
			outcome := history.OutcomeLost
			if !m.wasUp {
				outcome = history.OutcomeFailed
			}
			m.endSession(outcome)
			if m.wasUp {
				m.notifier.NotifyDisconnected(m.active)
			} else {
				m.notifier.NotifyError("Connection to " + m.active + " failed")
			}
			m.active = ""
			m.focus = focusList
		}
	}
	return m, nil
}

func (m *Model) handleCredentialRequest() (tea.Model, tea.Cmd) {
	// Saved credentials are submitted without interrupting the user.
	if username, password, err := m.creds.Get(m.active); err == nil {
		m.appendLog("Using saved credentials")
		if err := m.controller.SubmitCredentials(username, password); err != nil {
			common.LogWarn("failed to submit credentials: %v", err)
		}
		return m, nil
	}

	m.notifier.NotifyAuthRequired(m.active)
	m.username.SetValue("")
	m.password.SetValue("")
	m.focus = focusUsername
	m.username.Focus()
	return m, textinput.Blink
}

func (m *Model) submitCredentials() {
	username := strings.TrimSpace(m.username.Value())
	password := m.password.Value()
	if username == "" || password == "" {
		return
	}

	m.focus = focusList
	m.username.Blur()
	m.password.Blur()

	if err := m.controller.SubmitCredentials(username, password); err != nil {
		m.lastErr = err.Error()
		return
	}
	if err := m.creds.Set(m.active, username, password); err != nil {
		common.LogWarn("failed to save credentials: %v", err)
	}
}

func (m *Model) connect(name string) {
	configPath, err := m.store.PrimaryFile(name)
	if err != nil {
		m.lastErr = err.Error()
		return
	}

	m.lastErr = ""
	m.logs = nil
	m.wasUp = false
	m.sessionID = ""
	if m.cfg.HistoryEnabled {
		if id, err := m.recorder.Begin(name); err == nil {
			m.sessionID = id
		} else {
			common.LogWarn("history disabled for this session: %v", err)
		}
	}

	if err := m.controller.Start(configPath); err != nil {
		m.lastErr = err.Error()
		m.endSession(history.OutcomeFailed)
		return
	}
	m.active = name
}

func (m *Model) disconnect() {
	if err := m.controller.Stop(); err != nil && !errors.Is(err, common.ErrNotConnected) {
		m.lastErr = err.Error()
	}
	outcome := history.OutcomeCompleted
	if !m.wasUp {
		outcome = history.OutcomeFailed
	}
	m.endSession(outcome)
	if m.active != "" {
		m.notifier.NotifyDisconnected(m.active)
	}
	m.active = ""
	m.focus = focusList
}

func (m *Model) shutdown() {
	if m.active != "" {
		m.disconnect()
	}
}

func (m *Model) endSession(outcome string) {
	if m.sessionID == "" {
		return
	}
	if err := m.recorder.End(m.sessionID, outcome); err != nil {
		common.LogWarn("failed to record session end: %v", err)
	}
	m.sessionID = ""
}

func (m *Model) appendLog(text string) {
	m.logs = append(m.logs, text)
	// Keep the scrollback bounded.
	if len(m.logs) > 500 {
		m.logs = m.logs[len(m.logs)-500:]
	}
	if m.ready {
		m.logView.SetContent(strings.Join(m.logs, "\n"))
		m.logView.GotoBottom()
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ovpnctl"))
	b.WriteString("  ")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	if m.focus != focusList {
		b.WriteString("Authentication required\n")
		b.WriteString("  " + m.username.View() + "\n")
		b.WriteString("  " + m.password.View() + "\n")
		b.WriteString(helpStyle.Render("enter submit · esc cancel") + "\n")
		return b.String()
	}

	if len(m.configs) == 0 {
		b.WriteString("No configurations imported.\n")
		b.WriteString(helpStyle.Render("Import one with: ovpnctl --import /path/to/client.ovpn") + "\n")
	} else {
		for i, name := range m.configs {
			line := "  " + name
			if name == m.active {
				line += " *"
			}
			if i == m.cursor {
				line = selectedStyle.Render("> " + strings.TrimLeft(line, " "))
			}
			b.WriteString(line + "\n")
		}
	}
	b.WriteString("\n")

	if m.ready && len(m.logs) > 0 {
		b.WriteString(m.logView.View())
		b.WriteString("\n")
	}

	if m.lastErr != "" {
		b.WriteString(errorStyle.Render("Error: "+m.lastErr) + "\n")
	}

	b.WriteString(helpStyle.Render("enter connect · d disconnect · j/k move · q quit"))
	return b.String()
}

func (m *Model) statusLine() string {
	label := m.state.String()
	if m.state == vpn.StateUnknown && m.token != "" {
		label = m.token
	}
	style, ok := stateStyle[m.state]
	if !ok {
		style = helpStyle
	}
	line := style.Render(label)
	if m.state == vpn.StateConnected && m.peer != nil {
		line += helpStyle.Render(fmt.Sprintf("  remote %s · local %s",
			m.peer.RemoteAddress, m.peer.LocalAddress))
	}
	return line
}
