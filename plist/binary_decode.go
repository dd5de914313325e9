/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * bplist00 decoder
 */

package plist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf16"
)

// UnmarshalBinary parses a bplist00 document
func UnmarshalBinary(data []byte) (Value, error) {
	if len(data) < 8+32 || !bytes.Equal(data[:8], bplistMagic) {
		return Value{}, fmt.Errorf("plist: not a bplist00 document")
	}

	trailer := data[len(data)-32:]
	offsetSize := int(trailer[6])
	refSize := int(trailer[7])
	numObjects := int(binary.BigEndian.Uint64(trailer[8:16]))
	topObject := int(binary.BigEndian.Uint64(trailer[16:24]))
	offsetTableOffset := int(binary.BigEndian.Uint64(trailer[24:32]))

	if offsetSize <= 0 || refSize <= 0 || numObjects < 0 {
		return Value{}, fmt.Errorf("plist: malformed trailer")
	}

	d := &binaryDecoder{
		data:       data,
		offsetSize: offsetSize,
		refSize:    refSize,
	}

	d.offsets = make([]int, numObjects)
	for i := 0; i < numObjects; i++ {
		off := offsetTableOffset + i*offsetSize
		if off+offsetSize > len(data) {
			return Value{}, fmt.Errorf("plist: offset table out of range")
		}
		d.offsets[i] = int(readUintBE(data[off : off+offsetSize]))
	}

	if topObject < 0 || topObject >= numObjects {
		return Value{}, fmt.Errorf("plist: invalid top object index %d", topObject)
	}

	return d.readObject(topObject, 0)
}

type binaryDecoder struct {
	data       []byte
	offsets    []int
	offsetSize int
	refSize    int
}

const maxBinaryDepth = 64

func (d *binaryDecoder) readObject(idx, depth int) (Value, error) {
	if depth > maxBinaryDepth {
		return Value{}, fmt.Errorf("plist: object graph too deep")
	}
	if idx < 0 || idx >= len(d.offsets) {
		return Value{}, fmt.Errorf("plist: object index %d out of range", idx)
	}

	off := d.offsets[idx]
	if off >= len(d.data) {
		return Value{}, fmt.Errorf("plist: object offset %d out of range", off)
	}

	marker := d.data[off]
	highNibble := marker >> 4
	lowNibble := marker & 0x0F

	switch highNibble {
	case 0x0:
		switch marker {
		case 0x00:
			return Value{Kind: KindNull}, nil
		case 0x08:
			return Bool(false), nil
		case 0x09:
			return Bool(true), nil
		}
		return Value{}, fmt.Errorf("plist: unknown singleton marker 0x%02x", marker)

	case 0x1:
		width := 1 << lowNibble
		raw, err := d.slice(off+1, width)
		if err != nil {
			return Value{}, err
		}
		return Integer(decodeSignedBE(raw)), nil

	case 0x2:
		width := 4
		if lowNibble == 3 {
			width = 8
		}
		raw, err := d.slice(off+1, width)
		if err != nil {
			return Value{}, err
		}
		if width == 4 {
			bits := binary.BigEndian.Uint32(raw)
			return Real(float64(math.Float32frombits(bits))), nil
		}
		bits := binary.BigEndian.Uint64(raw)
		return Real(math.Float64frombits(bits)), nil

	case 0x3:
		raw, err := d.slice(off+1, 8)
		if err != nil {
			return Value{}, err
		}
		secs := math.Float64frombits(binary.BigEndian.Uint64(raw))
		return Date(appleEpoch.Add(time.Duration(secs * float64(time.Second)))), nil

	case 0x4:
		count, body, err := d.readCounted(off, lowNibble)
		if err != nil {
			return Value{}, err
		}
		raw, err := d.slice(body, count)
		if err != nil {
			return Value{}, err
		}
		return Data(append([]byte(nil), raw...)), nil

	case 0x5:
		count, body, err := d.readCounted(off, lowNibble)
		if err != nil {
			return Value{}, err
		}
		raw, err := d.slice(body, count)
		if err != nil {
			return Value{}, err
		}
		return String(string(raw)), nil

	case 0x6:
		count, body, err := d.readCounted(off, lowNibble)
		if err != nil {
			return Value{}, err
		}
		raw, err := d.slice(body, count*2)
		if err != nil {
			return Value{}, err
		}
		units := make([]uint16, count)
		for i := 0; i < count; i++ {
			units[i] = binary.BigEndian.Uint16(raw[i*2 : i*2+2])
		}
		return String(string(utf16.Decode(units))), nil

	case 0x8:
		width := int(lowNibble) + 1
		raw, err := d.slice(off+1, width)
		if err != nil {
			return Value{}, err
		}
		return UID(readUintBE(raw)), nil

	case 0xA:
		count, body, err := d.readCounted(off, lowNibble)
		if err != nil {
			return Value{}, err
		}
		refs, err := d.readRefs(body, count)
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, count)
		for i, r := range refs {
			v, err := d.readObject(r, depth+1)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{Kind: KindArray, Array: items}, nil

	case 0xD:
		count, body, err := d.readCounted(off, lowNibble)
		if err != nil {
			return Value{}, err
		}
		keyRefs, err := d.readRefs(body, count)
		if err != nil {
			return Value{}, err
		}
		valRefs, err := d.readRefs(body+count*d.refSize, count)
		if err != nil {
			return Value{}, err
		}
		m := make(map[string]Value, count)
		for i := 0; i < count; i++ {
			kv, err := d.readObject(keyRefs[i], depth+1)
			if err != nil {
				return Value{}, err
			}
			vv, err := d.readObject(valRefs[i], depth+1)
			if err != nil {
				return Value{}, err
			}
			m[kv.String] = vv
		}
		return Value{Kind: KindDict, Dict: m}, nil
	}

	return Value{}, fmt.Errorf("plist: unsupported marker 0x%02x", marker)
}

// readCounted reads the object-length encoding at off+1: either the
// low nibble itself (count < 15), or a spilled integer object when the
// low nibble is 0xF. Returns the count and the offset the object body
// starts at.
func (d *binaryDecoder) readCounted(off int, lowNibble byte) (count int, bodyOffset int, err error) {
	if lowNibble != 0x0F {
		return int(lowNibble), off + 1, nil
	}

	intMarker, err := d.slice(off+1, 1)
	if err != nil {
		return 0, 0, err
	}
	width := 1 << (intMarker[0] & 0x0F)
	raw, err := d.slice(off+2, width)
	if err != nil {
		return 0, 0, err
	}
	return int(decodeSignedBE(raw)), off + 2 + width, nil
}

func (d *binaryDecoder) readRefs(off, count int) ([]int, error) {
	raw, err := d.slice(off, count*d.refSize)
	if err != nil {
		return nil, err
	}
	refs := make([]int, count)
	for i := 0; i < count; i++ {
		refs[i] = int(readUintBE(raw[i*d.refSize : (i+1)*d.refSize]))
	}
	return refs, nil
}

func (d *binaryDecoder) slice(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(d.data) {
		return nil, fmt.Errorf("plist: object body out of range (off=%d n=%d len=%d)", off, n, len(d.data))
	}
	return d.data[off : off+n], nil
}

func readUintBE(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func decodeSignedBE(b []byte) int64 {
	v := readUintBE(b)
	switch len(b) {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	default:
		return int64(v)
	}
}
