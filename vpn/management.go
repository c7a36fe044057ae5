// Package vpn provides OpenVPN session management for ovpnctl.
// This file contains the ManagementClient, the TCP client for the OpenVPN
// management interface.
package vpn

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yllada/ovpnctl/common"
)

// ManagementClient maintains the byte stream connection to the OpenVPN
// management interface. It frames inbound bytes into newline-delimited
// messages and delivers them, in arrival order, to the line callback from a
// single reader goroutine. Outgoing commands are written with Send.
type ManagementClient struct {
	mu           sync.Mutex
	conn         net.Conn
	buf          []byte // unconsumed tail of the most recent read
	onLine       func(string)
	onDisconnect func(error)
}

// NewManagementClient creates a disconnected management client.
func NewManagementClient() *ManagementClient {
	return &ManagementClient{}
}

// SetOnLine sets the callback receiving each complete protocol line.
// Must be set before Connect.
func (c *ManagementClient) SetOnLine(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLine = fn
}

// SetOnDisconnect sets the callback invoked when the channel is lost
// mid-session. It is not invoked for a deliberate Disconnect.
// Must be set before Connect.
func (c *ManagementClient) SetOnDisconnect(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// Connect establishes the TCP connection to the management endpoint and
// starts the reader goroutine. Returns ErrConnectionFailed when the
// endpoint is unreachable within the timeout.
func (c *ManagementClient) Connect(host string, port int, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return common.ErrAlreadyConnected
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConnectionFailed, err)
	}

	c.conn = conn
	c.buf = nil
	go c.readLoop(conn)

	return nil
}

// Connected reports whether the channel is currently established.
func (c *ManagementClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes a command to the management interface, appending the newline
// terminator. Returns ErrNotConnected when no channel is established.
func (c *ManagementClient) Send(command string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return common.ErrNotConnected
	}

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// Disconnect closes the channel and discards any buffered partial line.
// Idempotent.
func (c *ManagementClient) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.buf = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// readLoop reads from the connection until it fails or is closed. All
// framing and line delivery happens on this one goroutine, so event
// handling downstream is strictly sequential and non-reentrant.
func (c *ManagementClient) readLoop(conn net.Conn) {
	readBuf := make([]byte, 4096)
	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			c.feed(readBuf[:n])
		}
		if err != nil {
			c.mu.Lock()
			// conn == nil means Disconnect already tore the channel
			// down deliberately; anything else is a mid-session loss.
			lost := c.conn == conn
			if lost {
				c.conn = nil
				c.buf = nil
			}
			onDisconnect := c.onDisconnect
			c.mu.Unlock()

			conn.Close()
			if lost && onDisconnect != nil {
				onDisconnect(err)
			}
			return
		}
	}
}

// feed appends data to the frame buffer, extracts every complete
// newline-terminated line (trimming a trailing carriage return), and
// delivers them in order. Any trailing partial line is retained for the
// next call, so the framing result is independent of how the byte stream
// was split into reads. After feed returns the buffer never contains a
// complete line.
func (c *ManagementClient) feed(data []byte) {
	c.mu.Lock()
	c.buf = append(c.buf, data...)

	var lines []string
	for {
		idx := bytes.IndexByte(c.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(string(c.buf[:idx]), "\r")
		lines = append(lines, line)
		c.buf = c.buf[idx+1:]
	}
	onLine := c.onLine
	c.mu.Unlock()

	// Deliver outside the lock so a callback may call Send without
	// deadlocking. Ordering is preserved: feed only runs on the single
	// reader goroutine.
	if onLine == nil {
		return
	}
	for _, line := range lines {
		onLine(line)
	}
}
