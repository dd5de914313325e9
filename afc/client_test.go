package afc

import (
	"encoding/binary"
	"testing"
	"time"
)

// fakeStream is a stream backed by two byte slices, standing in for a
// mux.Connection without any USB/mux machinery
type fakeStream struct {
	sent  [][]byte
	reply []byte
}

func (f *fakeStream) Send(b []byte) error {
	f.sent = append(f.sent, append([]byte(nil), b...))
	return nil
}

func (f *fakeStream) Recv(buf []byte, timeout time.Duration) (int, error) {
	n := copy(buf, f.reply)
	f.reply = f.reply[n:]
	return n, nil
}

func buildDevInfoReply(pairs ...string) []byte {
	var payload []byte
	for _, s := range pairs {
		payload = append(payload, s...)
		payload = append(payload, 0)
	}

	total := uint64(headerLen + len(payload))
	header := make([]byte, headerLen)
	copy(header[0:8], magic)
	binary.LittleEndian.PutUint64(header[8:16], total)
	binary.LittleEndian.PutUint64(header[16:24], total)
	binary.LittleEndian.PutUint64(header[24:32], 0)
	binary.LittleEndian.PutUint64(header[32:40], opGetDevInfo)

	return append(header, payload...)
}

func TestClientGetDeviceInfo(t *testing.T) {
	fs := &fakeStream{reply: buildDevInfoReply("Model", "iPhone12,1", "FSFreeBytes", "123456")}
	c := &Client{conn: fs}

	info, err := c.GetDeviceInfo()
	if err != nil {
		t.Fatalf("GetDeviceInfo: %v", err)
	}
	if info["Model"] != "iPhone12,1" || info["FSFreeBytes"] != "123456" {
		t.Fatalf("unexpected info: %+v", info)
	}

	if len(fs.sent) != 1 {
		t.Fatalf("expected 1 request sent, got %d", len(fs.sent))
	}
	req := fs.sent[0]
	if len(req) != headerLen {
		t.Fatalf("expected bare %d-byte header for GET_DEVINFO request, got %d bytes", headerLen, len(req))
	}
	if string(req[0:8]) != magic {
		t.Fatalf("request missing magic, got %q", req[0:8])
	}
	if op := binary.LittleEndian.Uint64(req[32:40]); op != opGetDevInfo {
		t.Fatalf("expected opGetDevInfo, got %d", op)
	}
}

func TestClientGetDeviceInfoBadMagic(t *testing.T) {
	reply := buildDevInfoReply("k", "v")
	reply[0] = 'X'
	fs := &fakeStream{reply: reply}
	c := &Client{conn: fs}

	if _, err := c.GetDeviceInfo(); err == nil {
		t.Fatal("expected error for corrupted magic")
	}
}

func TestClientGetDeviceInfoStatusError(t *testing.T) {
	total := uint64(headerLen)
	header := make([]byte, headerLen)
	copy(header[0:8], magic)
	binary.LittleEndian.PutUint64(header[8:16], total)
	binary.LittleEndian.PutUint64(header[16:24], total)
	binary.LittleEndian.PutUint64(header[32:40], opStatus)

	fs := &fakeStream{reply: header}
	c := &Client{conn: fs}

	if _, err := c.GetDeviceInfo(); err == nil {
		t.Fatal("expected error for AFC_OP_STATUS reply")
	}
}

func TestParseDevInfoEmpty(t *testing.T) {
	if got := parseDevInfo(nil); len(got) != 0 {
		t.Fatalf("expected empty map, got %+v", got)
	}
}
