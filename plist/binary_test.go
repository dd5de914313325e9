package plist

import (
	"testing"
	"time"
)

func TestBinaryRoundTripScalars(t *testing.T) {
	cases := []Value{
		Bool(true),
		Bool(false),
		Integer(0),
		Integer(-1),
		Integer(200),
		Integer(70000),
		Integer(5_000_000_000),
		Real(2.71828),
		String("ASCII only"),
		String("unicode éè 中文"),
		Data([]byte{1, 2, 3, 4, 5}),
		Date(time.Date(2001, 1, 1, 0, 0, 1, 0, time.UTC)),
		UID(42),
	}

	for _, v := range cases {
		raw, err := MarshalBinary(v)
		if err != nil {
			t.Fatalf("MarshalBinary(%v): %v", v, err)
		}
		got, err := UnmarshalBinary(raw)
		if err != nil {
			t.Fatalf("UnmarshalBinary: %v", err)
		}
		if !Equal(got, v) {
			t.Fatalf("round trip mismatch for %+v: got %+v", v, got)
		}
	}
}

func TestBinaryRoundTripContainers(t *testing.T) {
	v := NewDict()
	v.Set("HostID", String("11111111-2222-3333-4444-555555555555"))
	v.Set("SystemBUID", String("AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE"))
	v.Set("RootCertificate", Data([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
	v.Set("EscrowBag", Data(make([]byte, 300))) // exercise the spilled-length marker path
	v.Set("Ports", Array(Integer(1), Integer(2), Integer(3)))

	raw, err := MarshalBinary(v)
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	got, err := UnmarshalBinary(raw)
	if err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}

	if !Equal(got, v) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, v)
	}
}

func TestBinaryRejectsNonBplist(t *testing.T) {
	_, err := UnmarshalBinary([]byte("<plist></plist>"))
	if err == nil {
		t.Fatal("expected error for non-bplist input")
	}
}

func TestCodecAutoDetect(t *testing.T) {
	v := NewDict()
	v.Set("Request", String("QueryType"))

	xmlBytes, err := MarshalXML(v)
	if err != nil {
		t.Fatalf("MarshalXML: %v", err)
	}
	got, err := Unmarshal(xmlBytes)
	if err != nil {
		t.Fatalf("Unmarshal(xml): %v", err)
	}
	if !Equal(got, v) {
		t.Fatalf("xml auto-detect mismatch")
	}

	binBytes, err := MarshalBinary(v)
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got, err = Unmarshal(binBytes)
	if err != nil {
		t.Fatalf("Unmarshal(binary): %v", err)
	}
	if !Equal(got, v) {
		t.Fatalf("binary auto-detect mismatch")
	}
}
