package plist

import (
	"testing"
	"time"
)

func TestXMLRoundTripScalars(t *testing.T) {
	cases := []Value{
		Bool(true),
		Bool(false),
		Integer(-12345),
		Real(3.14159),
		String("hello, \"world\" <tag>"),
		Data([]byte{0x00, 0x01, 0xFF, 0xFE}),
		Date(time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)),
	}

	for _, v := range cases {
		raw, err := MarshalXML(v)
		if err != nil {
			t.Fatalf("MarshalXML(%v): %v", v, err)
		}
		got, err := UnmarshalXML(raw)
		if err != nil {
			t.Fatalf("UnmarshalXML: %v\n%s", err, raw)
		}
		if !Equal(got, v) {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, v)
		}
	}
}

func TestXMLRoundTripDict(t *testing.T) {
	v := NewDict()
	v.Set("DeviceName", String("iPhone"))
	v.Set("ProductVersion", String("17.0"))
	v.Set("PasswordProtected", Bool(false))
	v.Set("Ports", Array(Integer(62078), Integer(22)))

	raw, err := MarshalXML(v)
	if err != nil {
		t.Fatalf("MarshalXML: %v", err)
	}

	got, err := UnmarshalXML(raw)
	if err != nil {
		t.Fatalf("UnmarshalXML: %v\n%s", err, raw)
	}

	if !Equal(got, v) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, v)
	}
}

func TestXMLEmptyContainers(t *testing.T) {
	v := NewDict()
	v.Set("Empty", Array())
	v.Set("Also", Value{Kind: KindDict, Dict: map[string]Value{}})

	raw, err := MarshalXML(v)
	if err != nil {
		t.Fatalf("MarshalXML: %v", err)
	}
	got, err := UnmarshalXML(raw)
	if err != nil {
		t.Fatalf("UnmarshalXML: %v\n%s", err, raw)
	}
	if !Equal(got, v) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, v)
	}
}
