package vpn

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yllada/ovpnctl/common"
)

// fakeLauncher is a Launcher that records the launch and simulates the
// configured outcomes without spawning a process.
type fakeLauncher struct {
	mu              sync.Mutex
	program         string
	args            []string
	startErr        error
	waitStartedErr  error
	waitExitedErr   error
	waitExitedDelay time.Duration
	killed          bool
	running         bool
}

func (f *fakeLauncher) Start(program string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.program = program
	f.args = args
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeLauncher) WaitStarted(timeout time.Duration) error {
	return f.waitStartedErr
}

func (f *fakeLauncher) WaitExited(timeout time.Duration) error {
	if f.waitExitedErr != nil {
		return f.waitExitedErr
	}
	if f.waitExitedDelay > 0 {
		time.Sleep(f.waitExitedDelay)
	}
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakeLauncher) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeLauncher) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	f.running = false
	return nil
}

// stateEvent captures one StateChanged callback.
type stateEvent struct {
	state SessionState
	token string
	peer  *PeerInfo
}

// chanListener forwards session events onto channels for test assertions.
type chanListener struct {
	states chan stateEvent
	logs   chan string
	creds  chan struct{}
}

func newChanListener() *chanListener {
	return &chanListener{
		states: make(chan stateEvent, 16),
		logs:   make(chan string, 16),
		creds:  make(chan struct{}, 16),
	}
}

func (l *chanListener) StateChanged(state SessionState, token string, peer *PeerInfo) {
	l.states <- stateEvent{state, token, peer}
}

func (l *chanListener) LogLine(text string)  { l.logs <- text }
func (l *chanListener) CredentialRequested() { l.creds <- struct{}{} }

// mgmtServer is a fake OpenVPN management endpoint.
type mgmtServer struct {
	ln    net.Listener
	conns chan net.Conn
	lines chan string
}

func newMgmtServer(t *testing.T) *mgmtServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &mgmtServer{
		ln:    ln,
		conns: make(chan net.Conn, 1),
		lines: make(chan string, 32),
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.conns <- conn
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			s.lines <- scanner.Text()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *mgmtServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *mgmtServer) conn(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		s.conns <- conn
		return conn
	case <-time.After(time.Second):
		t.Fatal("controller never connected to the management endpoint")
		return nil
	}
}

func (s *mgmtServer) send(t *testing.T, line string) {
	t.Helper()
	if _, err := s.conn(t).Write([]byte(line + "\n")); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

func newTestController(t *testing.T, launcher *fakeLauncher, port int) (*Controller, *chanListener) {
	t.Helper()
	c := NewController(Options{
		Launcher:       launcher,
		ManagementPort: port,
	})
	listener := newChanListener()
	c.SetListener(listener)
	return c, listener
}

func TestController_StartHandshakeOrder(t *testing.T) {
	server := newMgmtServer(t)
	launcher := &fakeLauncher{}
	c, _ := newTestController(t, launcher, server.port())

	if err := c.Start("/etc/ovpnctl/work.ovpn"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	// Subscriptions precede the hold release.
	for _, want := range []string{"state on", "log on", "hold release"} {
		expectRecv(t, server.lines, want)
	}

	// The spawn carried the config and the fixed management endpoint.
	if launcher.program != common.DefaultElevationCommand {
		t.Errorf("program = %q, want %q", launcher.program, common.DefaultElevationCommand)
	}
	joined := strings.Join(launcher.args, " ")
	if !strings.Contains(joined, "--config /etc/ovpnctl/work.ovpn") {
		t.Errorf("args = %q, missing --config", joined)
	}
	if !strings.Contains(joined, "--management 127.0.0.1") {
		t.Errorf("args = %q, missing --management", joined)
	}
}

func TestController_EventForwarding(t *testing.T) {
	server := newMgmtServer(t)
	c, listener := newTestController(t, &fakeLauncher{}, server.port())

	if err := c.Start("work.ovpn"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	server.send(t, ">STATE:0,CONNECTING,,,")
	ev := expectState(t, listener)
	if ev.state != StateConnecting {
		t.Errorf("state = %v, want StateConnecting", ev.state)
	}

	server.send(t, ">STATE:0,CONNECTED,SUCCESS,10.0.0.2,203.0.113.5")
	ev = expectState(t, listener)
	if ev.state != StateConnected {
		t.Errorf("state = %v, want StateConnected", ev.state)
	}
	if ev.peer == nil || ev.peer.RemoteAddress != "203.0.113.5" || ev.peer.LocalAddress != "10.0.0.2" {
		t.Errorf("peer = %+v, want local 10.0.0.2 remote 203.0.113.5", ev.peer)
	}

	state, peer := c.Status()
	if state != StateConnected || peer == nil || peer.RemoteAddress != "203.0.113.5" {
		t.Errorf("Status() = %v, %+v after CONNECTED", state, peer)
	}

	server.send(t, ">LOG:1700000000,1,TLS handshake initiated")
	expectRecv(t, listener.logs, "TLS handshake initiated")

	server.send(t, ">PASSWORD:Need 'Auth' username/password")
	select {
	case <-listener.creds:
	case <-time.After(time.Second):
		t.Fatal("CredentialRequested not forwarded")
	}

	// Peer info is cleared on any non-connected state.
	server.send(t, ">STATE:0,RECONNECTING,,,")
	expectState(t, listener)
	state, peer = c.Status()
	if state != StateReconnecting || peer != nil {
		t.Errorf("Status() = %v, %+v, want Reconnecting with no peer", state, peer)
	}
}

func TestController_StartTwice(t *testing.T) {
	server := newMgmtServer(t)
	launcher := &fakeLauncher{}
	c, listener := newTestController(t, launcher, server.port())

	if err := c.Start("work.ovpn"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	server.send(t, ">STATE:0,CONNECTED,SUCCESS,10.0.0.2,203.0.113.5")
	expectState(t, listener)

	if err := c.Start("other.ovpn"); !errors.Is(err, common.ErrAlreadyConnected) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyConnected", err)
	}

	// The first session is untouched.
	state, peer := c.Status()
	if state != StateConnected || peer == nil {
		t.Errorf("Status() = %v, %+v, first session must be untouched", state, peer)
	}
	if launcher.killed {
		t.Error("rejected Start must not kill the running process")
	}
}

func TestController_SpawnFailure(t *testing.T) {
	launcher := &fakeLauncher{startErr: common.ErrProcessSpawn}
	c, listener := newTestController(t, launcher, 1)

	err := c.Start("work.ovpn")
	if !errors.Is(err, common.ErrProcessSpawn) {
		t.Fatalf("Start() error = %v, want ErrProcessSpawn", err)
	}

	// The failure is explained to the listener and the state machine
	// stays at Disconnected.
	msg := expectRecv2(t, listener.logs)
	if !strings.HasPrefix(msg, "Error:") {
		t.Errorf("log event = %q, want Error: prefix", msg)
	}
	if state, _ := c.Status(); state != StateDisconnected {
		t.Errorf("Status() = %v, want StateDisconnected", state)
	}
	if c.Active() {
		t.Error("Active() should be false after a failed start")
	}
}

func TestController_ManagementUnreachable(t *testing.T) {
	// Nothing listens on this port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	launcher := &fakeLauncher{}
	c, listener := newTestController(t, launcher, port)

	startErr := c.Start("work.ovpn")
	if !errors.Is(startErr, common.ErrConnectionFailed) {
		t.Fatalf("Start() error = %v, want ErrConnectionFailed", startErr)
	}
	if !launcher.killed {
		t.Error("spawned process must be cleaned up when the channel is unreachable")
	}
	msg := expectRecv2(t, listener.logs)
	if !strings.HasPrefix(msg, "Error:") {
		t.Errorf("log event = %q, want Error: prefix", msg)
	}
	if state, _ := c.Status(); state != StateDisconnected {
		t.Errorf("Status() = %v, want StateDisconnected", state)
	}
}

func TestController_Stop(t *testing.T) {
	server := newMgmtServer(t)
	c, listener := newTestController(t, &fakeLauncher{}, server.port())

	if err := c.Start("work.ovpn"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		expectRecv2(t, server.lines) // drain handshake
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	expectRecv(t, server.lines, "signal SIGTERM")

	if state, peer := c.Status(); state != StateDisconnected || peer != nil {
		t.Errorf("Status() after Stop = %v, %+v, want Disconnected with no peer", state, peer)
	}
	if c.Active() {
		t.Error("Active() should be false after Stop")
	}
	ev := expectState(t, listener)
	if ev.state != StateDisconnected {
		t.Errorf("listener state = %v, want StateDisconnected", ev.state)
	}

	if err := c.Stop(); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("second Stop() error = %v, want ErrNotConnected", err)
	}
}

func TestController_StopWithHungProcess(t *testing.T) {
	server := newMgmtServer(t)
	launcher := &fakeLauncher{waitExitedErr: common.ErrTimeout}
	c, listener := newTestController(t, launcher, server.port())

	if err := c.Start("work.ovpn"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// A process that ignores SIGTERM is a warning, not a Stop failure,
	// and the channel still comes down.
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v, want nil despite hung process", err)
	}
	msg := expectRecv2(t, listener.logs)
	if !strings.HasPrefix(msg, "Warning:") {
		t.Errorf("log event = %q, want Warning: prefix", msg)
	}
	if state, _ := c.Status(); state != StateDisconnected {
		t.Errorf("Status() = %v, want StateDisconnected", state)
	}
}

func TestController_CleanStopWhenProcessClosesChannel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	// OpenVPN exits on SIGTERM and takes the management socket with it
	// before the controller tears the channel down itself.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			if scanner.Text() == cmdSigterm {
				conn.Close()
				return
			}
		}
	}()

	launcher := &fakeLauncher{waitExitedDelay: 200 * time.Millisecond}
	c, listener := newTestController(t, launcher, port)

	if err := c.Start("work.ovpn"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	ev := expectState(t, listener)
	if ev.state != StateDisconnected {
		t.Errorf("state = %v, want StateDisconnected", ev.state)
	}

	// A clean stop surfaces no errors and exactly one state transition.
	select {
	case msg := <-listener.logs:
		t.Errorf("unexpected log event on clean stop: %q", msg)
	case <-time.After(200 * time.Millisecond):
	}
	select {
	case ev := <-listener.states:
		t.Errorf("duplicate state event on clean stop: %v", ev.state)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestController_SubmitCredentials(t *testing.T) {
	server := newMgmtServer(t)
	c, _ := newTestController(t, &fakeLauncher{}, server.port())

	if err := c.Start("work.ovpn"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()
	for i := 0; i < 3; i++ {
		expectRecv2(t, server.lines) // drain handshake
	}

	if err := c.SubmitCredentials("alice", "s3cret"); err != nil {
		t.Fatalf("SubmitCredentials() error = %v", err)
	}
	expectRecv(t, server.lines, `username "Auth" alice`)
	expectRecv(t, server.lines, `password "Auth" s3cret`)
}

func TestController_SubmitCredentialsNotConnected(t *testing.T) {
	c, _ := newTestController(t, &fakeLauncher{}, 1)
	if err := c.SubmitCredentials("alice", "s3cret"); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("SubmitCredentials() error = %v, want ErrNotConnected", err)
	}
}

func TestController_ChannelLostMidSession(t *testing.T) {
	server := newMgmtServer(t)
	c, listener := newTestController(t, &fakeLauncher{}, server.port())

	if err := c.Start("work.ovpn"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	server.send(t, ">STATE:0,CONNECTED,SUCCESS,10.0.0.2,203.0.113.5")
	expectState(t, listener)

	// The management endpoint drops: state heads to Disconnected and the
	// loss is surfaced as a log event.
	server.conn(t).Close()

	msg := expectRecv2(t, listener.logs)
	if !strings.Contains(msg, "management channel lost") {
		t.Errorf("log event = %q, want channel loss report", msg)
	}
	ev := expectState(t, listener)
	if ev.state != StateDisconnected {
		t.Errorf("state = %v, want StateDisconnected", ev.state)
	}
	if c.Active() {
		t.Error("Active() should be false after channel loss")
	}
}

// expectState waits for the next StateChanged callback.
func expectState(t *testing.T, l *chanListener) stateEvent {
	t.Helper()
	select {
	case ev := <-l.states:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for StateChanged")
		return stateEvent{}
	}
}

// expectRecv2 waits for the next string on ch and returns it.
func expectRecv2(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}
