/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Big-endian length-prefixed plist message framing, shared by the
 * lockdown control channel and every service client (AFC, Notification
 * Proxy, MobileSync) built on top of it
 */

package plist

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single framed message. Apple's own lockdownd
// rejects anything larger; this keeps a corrupt length prefix from
// driving an unbounded read/allocation.
const MaxMessageSize = 16 * 1024 * 1024

// WriteMessage frames v as a 4-byte big-endian length prefix followed
// by its XML plist encoding, and writes it to w in a single call.
func WriteMessage(w io.Writer, v Value) error {
	body, err := Marshal(v)
	if err != nil {
		return err
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(body)))
	copy(frame[4:], body)

	_, err = w.Write(frame)
	return err
}

// ReadMessage reads one framed message from r, blocking until the
// length prefix and full body have arrived -- r.Read may return fewer
// bytes than requested per call, which io.ReadFull absorbs.
func ReadMessage(r io.Reader) (Value, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Value{}, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxMessageSize {
		return Value{}, fmt.Errorf("plist: framed message too large (%d bytes)", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Value{}, err
	}

	return Unmarshal(body)
}
