package mux

import (
	"bytes"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	p := &packet{
		SrcPort: 0x1234,
		DstPort: 62078,
		Seq:     42,
		Ack:     7,
		Flags:   FlagSYN | FlagACK,
		Window:  0xFFFF,
		Payload: []byte("hello lockdown"),
	}

	raw := p.marshal()

	got, err := parsePacket(raw)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}

	if got.SrcPort != p.SrcPort || got.DstPort != p.DstPort {
		t.Fatalf("port mismatch: got %+v", got)
	}
	if got.Seq != p.Seq || got.Ack != p.Ack {
		t.Fatalf("seq/ack mismatch: got %+v", got)
	}
	if got.Flags != p.Flags {
		t.Fatalf("flags mismatch: got %v want %v", got.Flags, p.Flags)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("payload mismatch: got %q want %q", got.Payload, p.Payload)
	}
}

func TestPacketEmptyPayload(t *testing.T) {
	p := &packet{SrcPort: 1, DstPort: 2, Flags: FlagFIN | FlagACK}
	raw := p.marshal()

	got, err := parsePacket(raw)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(got.Payload))
	}
}

func TestParsePacketShort(t *testing.T) {
	_, err := parsePacket(make([]byte, headerSize-1))
	if err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestParsePacketBadProto(t *testing.T) {
	raw := make([]byte, headerSize)
	raw[3] = 9 // protocol field, little bits of big-endian 9 != protoTCP
	_, err := parsePacket(raw)
	if err == nil {
		t.Fatal("expected error for bad protocol")
	}
}
