/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Mux packet wire format
 */

package mux

import (
	"encoding/binary"
	"strings"

	"github.com/go-imobiledevice/usbmuxd/internal/muxerr"
)

// headerSize is the fixed size of a MuxPacket header, in bytes
const headerSize = 28

// protoTCP is the only protocol value this mux implementation speaks:
// a TCP-like stream of SYN/ACK/RST/FIN framed packets
const protoTCP = 6

// Flag bits, the TCP-like SYN/ACK/RST/FIN subset this protocol uses
type Flag uint8

const (
	FlagFIN Flag = 0x01
	FlagSYN Flag = 0x02
	FlagRST Flag = 0x04
	FlagACK Flag = 0x10
)

// String renders the set flags for packet tracing, e.g. "SYN,ACK"
func (f Flag) String() string {
	if f == 0 {
		return "-"
	}

	var names []string
	if f&FlagSYN != 0 {
		names = append(names, "SYN")
	}
	if f&FlagACK != 0 {
		names = append(names, "ACK")
	}
	if f&FlagFIN != 0 {
		names = append(names, "FIN")
	}
	if f&FlagRST != 0 {
		names = append(names, "RST")
	}
	return strings.Join(names, ",")
}

// maxPayload bounds a single packet's payload so a corrupt length field
// can never trigger an unbounded allocation. Per the resolved Open
// Question in SPEC_FULL.md §9(b), every length is unsigned and any
// value whose top bit would be set is rejected before this check runs.
const maxPayload = 1 << 20

// packet is the decoded form of a wire MuxPacket
type packet struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   Flag
	Window  uint16
	Payload []byte
}

// marshal encodes a packet into its 28-byte-header wire form
func (p *packet) marshal() []byte {
	total := headerSize + len(p.Payload)
	buf := make([]byte, total)

	binary.BigEndian.PutUint32(buf[0:4], protoTCP)
	binary.BigEndian.PutUint16(buf[4:6], p.SrcPort)
	binary.BigEndian.PutUint16(buf[6:8], p.DstPort)
	binary.BigEndian.PutUint32(buf[8:12], p.Seq)
	binary.BigEndian.PutUint32(buf[12:16], p.Ack)

	// data_offset_and_flags: two bytes, teacher-agnostic layout not
	// specified beyond "TCP-like"; byte 0 carries the flags this
	// protocol actually uses, byte 1 is reserved (data offset, unused
	// since there are no TCP options here)
	buf[16] = byte(p.Flags)
	buf[17] = 0

	binary.BigEndian.PutUint16(buf[18:20], p.Window)
	binary.BigEndian.PutUint16(buf[20:22], uint16(total))
	binary.BigEndian.PutUint16(buf[22:24], uint16(total))
	// Bytes [24:28] are reserved/padding to reach the fixed 28-byte
	// header; kept zero.

	copy(buf[headerSize:], p.Payload)
	return buf
}

// parsePacket decodes a wire MuxPacket. raw must contain the full
// packet (header + payload); use readPacket to pull exactly that many
// bytes off a streaming reader first.
func parsePacket(raw []byte) (*packet, error) {
	if len(raw) < headerSize {
		return nil, muxerr.New(muxerr.NotEnoughData,
			"mux packet shorter than header (%d < %d)", len(raw), headerSize)
	}

	proto := binary.BigEndian.Uint32(raw[0:4])
	if proto != protoTCP {
		return nil, muxerr.New(muxerr.BadHeader, "unexpected mux protocol %d", proto)
	}

	length := binary.BigEndian.Uint16(raw[22:24])
	if int(length) >= 1<<31 {
		return nil, muxerr.New(muxerr.MuxError, "mux packet length %d rejected defensively", length)
	}

	payloadLen := len(raw) - headerSize
	if payloadLen < 0 || payloadLen > maxPayload {
		return nil, muxerr.New(muxerr.MuxError, "mux packet payload length %d out of bounds", payloadLen)
	}

	p := &packet{
		SrcPort: binary.BigEndian.Uint16(raw[4:6]),
		DstPort: binary.BigEndian.Uint16(raw[6:8]),
		Seq:     binary.BigEndian.Uint32(raw[8:12]),
		Ack:     binary.BigEndian.Uint32(raw[12:16]),
		Flags:   Flag(raw[16]),
		Window:  binary.BigEndian.Uint16(raw[18:20]),
	}

	if payloadLen > 0 {
		p.Payload = append([]byte(nil), raw[headerSize:]...)
	}

	return p, nil
}
