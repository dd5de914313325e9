/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * net.Conn adapter over a *mux.Connection
 *
 * Grounded on yarpc-go's tlsmux listener, which runs
 * tls.Server(conn, tlsConfig) over a plain net.Conn it already has;
 * here the roles are reversed (tls.Client dialing a Mux-backed peer)
 * but the shape is the same: something satisfying net.Conn is all
 * crypto/tls needs, and a MuxConnection doesn't do that natively, so
 * this adapter is the connective tissue SPEC_FULL.md §4.5 names
 * directly.
 */

package lockdown

import (
	"net"
	"time"

	"github.com/go-imobiledevice/usbmuxd/mux"
)

// defaultIOTimeout bounds a single Read call when the caller
// (crypto/tls, or plist framing) hasn't set an explicit deadline.
// Write applies no timeout of its own.
const defaultIOTimeout = 30 * time.Second

// muxNetConn adapts a *mux.Connection to net.Conn so stdlib
// crypto/tls can run a handshake and subsequent record traffic over
// it without knowing anything about USB muxing.
type muxNetConn struct {
	conn     *mux.Connection
	deadline time.Time
}

func newMuxNetConn(c *mux.Connection) *muxNetConn {
	return &muxNetConn{conn: c}
}

func (c *muxNetConn) Read(b []byte) (int, error) {
	timeout := c.timeoutUntilDeadline()
	n, err := c.conn.Recv(b, timeout)
	if err != nil {
		return n, translateConnErr(err)
	}
	return n, nil
}

func (c *muxNetConn) Write(b []byte) (int, error) {
	if err := c.conn.Send(b); err != nil {
		return 0, translateConnErr(err)
	}
	return len(b), nil
}

func (c *muxNetConn) timeoutUntilDeadline() time.Duration {
	if c.deadline.IsZero() {
		return defaultIOTimeout
	}
	remain := time.Until(c.deadline)
	if remain <= 0 {
		return 0
	}
	return remain
}

func (c *muxNetConn) Close() error {
	return c.conn.Close()
}

func (c *muxNetConn) LocalAddr() net.Addr  { return muxAddr{} }
func (c *muxNetConn) RemoteAddr() net.Addr { return muxAddr{port: c.conn.DstPort} }

func (c *muxNetConn) SetDeadline(t time.Time) error {
	c.deadline = t
	return nil
}

func (c *muxNetConn) SetReadDeadline(t time.Time) error  { return c.SetDeadline(t) }
func (c *muxNetConn) SetWriteDeadline(t time.Time) error { return c.SetDeadline(t) }

// muxAddr is a trivial net.Addr so muxNetConn satisfies net.Conn; the
// mux transport has no concept of host/IP addressing
type muxAddr struct {
	port uint16
}

func (a muxAddr) Network() string { return "usbmux" }
func (a muxAddr) String() string  { return "usbmux:" + portString(a.port) }

func portString(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}
