/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Minimal Apple File Conduit (AFC) client: just enough to send
 * AFC_OP_GET_DEVINFO and parse the reply, as a smoke-test consumer of
 * the Mux/lockdown core. Not a general AFC client -- see the package
 * doc comment.
 *
 * Grounded on the service-client boundary described for NP/MobileSync
 * style clients in the lockdown package (conn.Send/Recv over a
 * service port reached via StartService), adapted to AFC's own
 * fixed-header framing instead of plist framing.
 */

// Package afc is a minimal, read-only client for Apple's File Conduit
// protocol. It implements only AFC_OP_GET_DEVINFO, enough to prove the
// Mux Transport and lockdown service-start handshake work end to end;
// it is not a file-transfer client.
package afc

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
	"github.com/go-imobiledevice/usbmuxd/mux"
)

const magic = "CFA6LPAA"

const headerLen = 40

// Operation codes. Only the two this client speaks are named; the
// protocol defines many more (open/read/write/remove/...).
const (
	opStatus     uint64 = 0x00000001
	opGetDevInfo uint64 = 0x0000000a
)

const defaultTimeout = 10 * time.Second

// stream is the capability this client needs from its transport --
// satisfied by *mux.Connection in production and a fake in tests,
// mirroring the lockdown package's ioStream split.
type stream interface {
	Send(b []byte) error
	Recv(buf []byte, timeout time.Duration) (int, error)
}

// Client speaks the AFC wire protocol over an already-open service
// connection (the port and SSL-ness come from
// lockdown.Client.StartService("com.apple.afc")).
type Client struct {
	mu      sync.Mutex
	conn    stream
	nextPkt uint64
}

// New wraps an open connection to the AFC service port
func New(conn *mux.Connection) *Client {
	return &Client{conn: conn}
}

// GetDeviceInfo issues AFC_OP_GET_DEVINFO and returns the key/value
// pairs the device reports (e.g. "Model", "FSTotalBytes",
// "FSFreeBytes")
func (c *Client) GetDeviceInfo() (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pkt := c.nextPkt
	c.nextPkt++

	if err := c.sendPacket(pkt, opGetDevInfo, nil); err != nil {
		return nil, err
	}

	op, payload, err := c.recvPacket()
	if err != nil {
		return nil, err
	}
	if op == opStatus {
		return nil, muxerr.New(muxerr.InvalidService, "afc: device returned status error for GET_DEVINFO")
	}

	return parseDevInfo(payload), nil
}

func (c *Client) sendPacket(pktNum, operation uint64, payload []byte) error {
	total := uint64(headerLen + len(payload))

	buf := make([]byte, headerLen, int(total))
	copy(buf[0:8], magic)
	binary.LittleEndian.PutUint64(buf[8:16], total)
	binary.LittleEndian.PutUint64(buf[16:24], total)
	binary.LittleEndian.PutUint64(buf[24:32], pktNum)
	binary.LittleEndian.PutUint64(buf[32:40], operation)
	buf = append(buf, payload...)

	return c.conn.Send(buf)
}

// recvPacket reads one full AFC packet, handling the chunked delivery
// Recv may hand back
func (c *Client) recvPacket() (operation uint64, payload []byte, err error) {
	header, err := c.readFull(headerLen)
	if err != nil {
		return 0, nil, err
	}
	if !bytes.Equal(header[0:8], []byte(magic)) {
		return 0, nil, muxerr.New(muxerr.BadHeader, "afc: bad magic in response header")
	}

	total := binary.LittleEndian.Uint64(header[8:16])
	thisLen := binary.LittleEndian.Uint64(header[16:24])
	operation = binary.LittleEndian.Uint64(header[32:40])

	if total < headerLen || thisLen < headerLen || total > 64*1024*1024 {
		return 0, nil, muxerr.New(muxerr.BadHeader, "afc: implausible packet length %d/%d", thisLen, total)
	}

	payloadLen := total - headerLen
	if payloadLen == 0 {
		return operation, nil, nil
	}

	payload, err = c.readFull(int(payloadLen))
	if err != nil {
		return 0, nil, err
	}
	return operation, payload, nil
}

// readFull accumulates exactly n bytes, since Connection.Recv may
// return fewer than requested per call
func (c *Client) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := c.conn.Recv(buf[got:], defaultTimeout)
		if err != nil {
			return nil, err
		}
		got += m
	}
	return buf, nil
}

// parseDevInfo splits a NUL-separated, alternating key/value payload
// into a map, ignoring a dangling trailing empty element
func parseDevInfo(payload []byte) map[string]string {
	parts := bytes.Split(payload, []byte{0})
	out := make(map[string]string, len(parts)/2)
	for i := 0; i+1 < len(parts); i += 2 {
		if len(parts[i]) == 0 && len(parts[i+1]) == 0 {
			continue
		}
		out[string(parts[i])] = string(parts[i+1])
	}
	return out
}
