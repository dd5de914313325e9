package status

import (
	"strings"
	"testing"

	"github.com/go-imobiledevice/usbmuxd/usb"
)

func TestSetGetDel(t *testing.T) {
	addr := usb.Addr{Bus: 1, Address: 5}
	Set(addr, Entry{UUID: "abc", Product: 0x1290, Paired: true})

	snap := Snapshot()
	found := false
	for _, e := range snap {
		if e.Addr == addr {
			found = true
			if e.UUID != "abc" || !e.Paired {
				t.Fatalf("unexpected entry: %+v", e)
			}
		}
	}
	if !found {
		t.Fatal("expected entry to be present after Set")
	}

	Del(addr)
	for _, e := range Snapshot() {
		if e.Addr == addr {
			t.Fatal("expected entry to be gone after Del")
		}
	}
}

func TestFormatEmptyAndNonEmpty(t *testing.T) {
	for _, e := range Snapshot() {
		Del(e.Addr)
	}

	out := string(Format())
	if !strings.Contains(out, "not found") {
		t.Fatalf("expected 'not found' with no devices, got %q", out)
	}

	addr := usb.Addr{Bus: 2, Address: 1}
	Set(addr, Entry{UUID: "uuid-xyz", Product: 0x1291})
	defer Del(addr)

	out = string(Format())
	if !strings.Contains(out, "uuid-xyz") {
		t.Fatalf("expected uuid in formatted output, got %q", out)
	}
}
