package server

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lagoon-server/lagoon/internal/protocol"
)

// Connection is one live transport endpoint. The polling worker is the only
// reader; writes may come from any goroutine and are serialized by writeMu so
// frame bytes never interleave on the wire.
type Connection struct {
	// ID is the opaque token generated at accept time.
	ID uuid.UUID

	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	// Identity fields change together under mu, only on authentication.
	mu            sync.Mutex
	authenticated bool
	steamID       uint64
	displayName   string

	closed atomic.Bool
}

// NewConnection wraps an accepted transport stream.
func NewConnection(conn net.Conn) *Connection {
	return &Connection{
		ID:     uuid.New(),
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// RemoteAddr returns the peer's address for log lines.
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Authenticate binds the identity token and display name to the connection.
// Both fields change together; re-authentication overwrites both.
func (c *Connection) Authenticate(steamID uint64, displayName string) {
	c.mu.Lock()
	c.authenticated = true
	c.steamID = steamID
	c.displayName = displayName
	c.mu.Unlock()
}

// Authenticated reports whether an identity is bound to the connection.
func (c *Connection) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// SteamID returns the bound identity token, zero until authenticated.
func (c *Connection) SteamID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steamID
}

// DisplayName returns the bound display name, empty until authenticated.
func (c *Connection) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayName
}

// SendFrame writes one frame to the peer. A write failure closes the
// connection; the polling worker tears it down on the next sweep.
func (c *Connection) SendFrame(marker protocol.Marker, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return protocol.ErrConnectionClosed
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := protocol.WriteFrame(c.conn, marker, payload); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

// HasData reports whether at least one byte is ready to read without
// blocking. A closed or half-closed peer surfaces as an error.
func (c *Connection) HasData() (bool, error) {
	if c.reader.Buffered() > 0 {
		return true, nil
	}

	c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := c.reader.Peek(1)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ReadFrame reads one frame, allowing up to timeout for a partially arrived
// body to complete.
func (c *Connection) ReadFrame(timeout time.Duration) (protocol.Frame, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	return protocol.ReadFrame(c.reader)
}

// Buffered returns the number of bytes already read off the wire but not yet
// consumed as frames.
func (c *Connection) Buffered() int {
	return c.reader.Buffered()
}

// Close shuts the transport down. Safe to call more than once.
func (c *Connection) Close() {
	c.closed.Store(true)
	c.conn.Close()
}

// Closed reports whether the connection has been closed locally.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}
