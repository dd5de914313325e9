/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Apple "bplist00" binary property list codec
 *
 * Layout (big-endian throughout):
 *   header   "bplist00"                      8 bytes
 *   objects  each object encoded per its marker byte
 *   offset table  one entry per object, offsetSize bytes each
 *   trailer  32 bytes: unused(5) sortVersion(1) offsetSize(1)
 *            objectRefSize(1) numObjects(8) topObject(8) offsetTableOffset(8)
 */

package plist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

var bplistMagic = []byte("bplist00")

// appleEpoch is the reference date bplist stores date offsets against:
// 2001-01-01T00:00:00Z
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// MarshalBinary renders v as a bplist00 document
func MarshalBinary(v Value) ([]byte, error) {
	e := &binaryEncoder{
		uniq: make(map[string]int),
	}
	e.addObject(v)

	offsets := make([]int, len(e.objects))
	var body bytes.Buffer
	body.Write(bplistMagic)

	for i, obj := range e.objects {
		offsets[i] = body.Len()
		body.Write(obj)
	}

	offsetTableOffset := body.Len()
	objectRefSize := refSizeFor(len(e.objects))
	offsetSize := offsetSizeFor(offsetTableOffset)

	for _, off := range offsets {
		writeUintBE(&body, uint64(off), offsetSize)
	}

	trailer := buildTrailer(offsetSize, objectRefSize, len(e.objects), e.topObject, offsetTableOffset)
	body.Write(trailer[:])

	return body.Bytes(), nil
}

// buildTrailer lays out the 32-byte bplist trailer per Apple's
// CFBinaryPlist format:
//
//	byte 0-4   unused
//	byte 5     sortVersion (0 = unsorted)
//	byte 6     offsetIntSize
//	byte 7     objectRefSize
//	byte 8-15  numObjects            (big-endian uint64)
//	byte 16-23 topObject             (big-endian uint64)
//	byte 24-31 offsetTableOffset     (big-endian uint64)
func buildTrailer(offsetSize, refSize, numObjects, topObject, offsetTableOffset int) [32]byte {
	var t [32]byte
	t[5] = 0
	t[6] = byte(offsetSize)
	t[7] = byte(refSize)
	binary.BigEndian.PutUint64(t[8:16], uint64(numObjects))
	binary.BigEndian.PutUint64(t[16:24], uint64(topObject))
	binary.BigEndian.PutUint64(t[24:32], uint64(offsetTableOffset))
	return t
}

type binaryEncoder struct {
	objects   [][]byte
	uniq      map[string]int // dedup key -> object index, for strings/ints
	topObject int
}

func (e *binaryEncoder) addObject(v Value) int {
	switch v.Kind {
	case KindString:
		key := "s:" + v.String
		if i, ok := e.uniq[key]; ok {
			return i
		}
		idx := e.append(encodeString(v.String))
		e.uniq[key] = idx
		return idx

	case KindInteger:
		key := fmt.Sprintf("i:%d", v.Integer)
		if i, ok := e.uniq[key]; ok {
			return i
		}
		idx := e.append(encodeInt(v.Integer))
		e.uniq[key] = idx
		return idx

	case KindNull:
		return e.append([]byte{0x00})

	case KindBool:
		if v.Bool {
			return e.append([]byte{0x09})
		}
		return e.append([]byte{0x08})

	case KindReal:
		return e.append(encodeReal(v.Real))

	case KindData:
		return e.append(encodeData(v.Data))

	case KindDate:
		return e.append(encodeDate(v.Date))

	case KindUID:
		return e.append(encodeUID(v.UID))

	case KindArray:
		return e.addArray(v.Array)

	case KindDict:
		return e.addDict(v.Dict)
	}

	return e.append([]byte{0x00})
}

func (e *binaryEncoder) append(obj []byte) int {
	e.objects = append(e.objects, obj)
	idx := len(e.objects) - 1
	if idx == 0 {
		e.topObject = 0
	}
	return idx
}

func (e *binaryEncoder) addArray(items []Value) int {
	// Reserve a slot so nested objects are appended after it, then
	// patch it in place -- matches how CFBinaryPlist interleaves
	// container and leaf objects.
	idx := e.append(nil)
	refs := make([]int, len(items))
	for i, item := range items {
		refs[i] = e.addObject(item)
	}
	e.objects[idx] = encodeArray(refs)
	if idx == 0 {
		e.topObject = idx
	}
	return idx
}

func (e *binaryEncoder) addDict(m map[string]Value) int {
	idx := e.append(nil)
	keys := sortedKeys(m)
	keyRefs := make([]int, len(keys))
	valRefs := make([]int, len(keys))
	for i, k := range keys {
		keyRefs[i] = e.addObject(String(k))
	}
	for i, k := range keys {
		valRefs[i] = e.addObject(m[k])
	}
	e.objects[idx] = encodeDict(keyRefs, valRefs)
	return idx
}

func encodeString(s string) []byte {
	// ASCII subset uses marker 0x5; anything outside ASCII is stored
	// as UTF-16BE with marker 0x6, matching Apple's encoder.
	ascii := true
	for _, r := range s {
		if r > 127 {
			ascii = false
			break
		}
	}

	var buf bytes.Buffer
	if ascii {
		writeMarker(&buf, 0x5, len(s))
		buf.WriteString(s)
		return buf.Bytes()
	}

	u16 := utf16Encode(s)
	writeMarker(&buf, 0x6, len(u16))
	for _, c := range u16 {
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], c)
		buf.Write(tmp[:])
	}
	return buf.Bytes()
}

func utf16Encode(s string) []uint16 {
	var out []uint16
	for _, r := range s {
		if r <= 0xFFFF {
			out = append(out, uint16(r))
			continue
		}
		r -= 0x10000
		out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return out
}

func encodeInt(v int64) []byte {
	var buf bytes.Buffer
	u := uint64(v)
	switch {
	case v >= -128 && v <= 127:
		buf.WriteByte(0x10)
		buf.WriteByte(byte(u))
	case v >= -32768 && v <= 32767:
		buf.WriteByte(0x11)
		writeUintBE(&buf, u, 2)
	case v >= -(1<<31) && v <= (1<<31)-1:
		buf.WriteByte(0x12)
		writeUintBE(&buf, u, 4)
	default:
		buf.WriteByte(0x13)
		writeUintBE(&buf, u, 8)
	}
	return buf.Bytes()
}

func encodeReal(f float64) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0x23)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(f))
	buf.Write(tmp[:])
	return buf.Bytes()
}

func encodeData(b []byte) []byte {
	var buf bytes.Buffer
	writeMarker(&buf, 0x4, len(b))
	buf.Write(b)
	return buf.Bytes()
}

func encodeDate(t time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0x33)
	secs := t.UTC().Sub(appleEpoch).Seconds()
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(secs))
	buf.Write(tmp[:])
	return buf.Bytes()
}

func encodeUID(v uint64) []byte {
	var buf bytes.Buffer
	w := byteWidth(v)
	buf.WriteByte(0x80 | byte(w-1))
	writeUintBE(&buf, v, w)
	return buf.Bytes()
}

func encodeArray(refs []int) []byte {
	var buf bytes.Buffer
	writeMarker(&buf, 0xA, len(refs))
	refSize := refSizeFor(len(refs) + 1)
	for _, r := range refs {
		writeUintBE(&buf, uint64(r), refSize)
	}
	return buf.Bytes()
}

func encodeDict(keyRefs, valRefs []int) []byte {
	var buf bytes.Buffer
	writeMarker(&buf, 0xD, len(keyRefs))
	refSize := refSizeFor(len(keyRefs) + len(valRefs) + 1)
	for _, r := range keyRefs {
		writeUintBE(&buf, uint64(r), refSize)
	}
	for _, r := range valRefs {
		writeUintBE(&buf, uint64(r), refSize)
	}
	return buf.Bytes()
}

// writeMarker writes a single-byte (high nibble, low nibble=count) or
// extended ("high nibble, 0xF, int object, count") marker, per the
// bplist object-length encoding rule: counts >= 15 spill into a
// trailing integer object header.
func writeMarker(buf *bytes.Buffer, highNibble byte, count int) {
	if count < 15 {
		buf.WriteByte(highNibble<<4 | byte(count))
		return
	}
	buf.WriteByte(highNibble<<4 | 0x0F)
	buf.Write(encodeInt(int64(count)))
}

func writeUintBE(buf *bytes.Buffer, v uint64, width int) {
	tmp := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		tmp[i] = byte(v)
		v >>= 8
	}
	buf.Write(tmp)
}

func byteWidth(v uint64) int {
	switch {
	case v <= 0xFF:
		return 1
	case v <= 0xFFFF:
		return 2
	case v <= 0xFFFFFFFF:
		return 4
	default:
		return 8
	}
}

func refSizeFor(count int) int {
	switch {
	case count <= 0xFF:
		return 1
	case count <= 0xFFFF:
		return 2
	default:
		return 4
	}
}

func offsetSizeFor(maxOffset int) int {
	return refSizeFor(maxOffset + 1)
}
